package engine

import (
	"context"
	"fmt"
	"strings"

	"timeanchor/internal/anchor"
	"timeanchor/internal/eventbus"
	logx "timeanchor/pkg/logx"
)

// AddContext registers c, overwriting any context with the same id in place.
// The first registered context becomes active.
func (e *Engine) AddContext(ctx context.Context, c anchor.Context) error {
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		return ErrInvalidContext
	}
	c = c.Clone()

	e.mu.Lock()
	if _, exists := e.contexts[c.ID]; !exists {
		e.order = append(e.order, c.ID)
	}
	e.contexts[c.ID] = c
	if e.activeID == "" {
		e.activeID = c.ID
	}
	active := e.activeID
	e.mu.Unlock()

	e.log.Debug("context registered", logx.String("id", c.ID), logx.String("active", active))
	e.bus.Emit(eventbus.ContextChanged{ActiveContextID: active})
	return e.Refresh(ctx)
}

func (e *Engine) SetActiveContext(ctx context.Context, id string) error {
	e.mu.Lock()
	if _, ok := e.contexts[id]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownContext, id)
	}
	e.activeID = id
	e.mu.Unlock()

	e.log.Debug("active context changed", logx.String("id", id))
	e.bus.Emit(eventbus.ContextChanged{ActiveContextID: id})
	return e.Refresh(ctx)
}

// RemoveContext drops a context and all of its buckets. When the active
// context is removed, the earliest remaining registration becomes active.
func (e *Engine) RemoveContext(ctx context.Context, id string) error {
	e.mu.Lock()
	if _, ok := e.contexts[id]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownContext, id)
	}
	delete(e.contexts, id)
	n := 0
	for _, v := range e.order {
		if v != id {
			e.order[n] = v
			n++
		}
	}
	e.order = e.order[:n]
	for k := range e.buckets {
		if k.contextID == id {
			delete(e.buckets, k)
		}
	}
	wasActive := e.activeID == id
	if wasActive {
		e.activeID = ""
		if len(e.order) > 0 {
			e.activeID = e.order[0]
		}
	}
	active := e.activeID
	e.mu.Unlock()

	if !wasActive {
		return nil
	}
	e.bus.Emit(eventbus.ContextChanged{ActiveContextID: active})
	return e.Refresh(ctx)
}

// ListContexts returns a snapshot in registration order.
func (e *Engine) ListContexts() []anchor.Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]anchor.Context, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.contexts[id].Clone())
	}
	return out
}

// ActiveContext returns the active context, if any.
func (e *Engine) ActiveContext() (anchor.Context, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.contexts[e.activeID]
	if !ok {
		return anchor.Context{}, false
	}
	return c.Clone(), true
}
