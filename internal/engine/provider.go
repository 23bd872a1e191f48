package engine

import (
	"context"
	"strings"

	"timeanchor/internal/anchor"
	"timeanchor/internal/eventbus"
	logx "timeanchor/pkg/logx"
)

// Provider computes anchors for a {context, frame, cursor} query.
//
// Returning a nil slice means "no anchors this refresh" and leaves the
// provider's previous anchors in place; a non-nil empty slice clears them.
type Provider interface {
	Name() string
	Provide(ctx context.Context, q anchor.Query) ([]anchor.Anchor, error)
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, q anchor.Query) ([]anchor.Anchor, error)
}

func (p ProviderFunc) Name() string { return p.ProviderName }

func (p ProviderFunc) Provide(ctx context.Context, q anchor.Query) ([]anchor.Anchor, error) {
	return p.Fn(ctx, q)
}

func validProvider(p Provider) bool {
	if p == nil || strings.TrimSpace(p.Name()) == "" {
		return false
	}
	if f, ok := p.(ProviderFunc); ok && f.Fn == nil {
		return false
	}
	return true
}

// RegisterProvider adds p (replacing a provider with the same name) and
// refreshes immediately so its anchors appear without waiting for a
// cursor or frame change.
func (e *Engine) RegisterProvider(ctx context.Context, p Provider) error {
	if !validProvider(p) {
		return ErrInvalidProvider
	}
	name := p.Name()

	e.mu.Lock()
	replaced := false
	for i, cur := range e.providers {
		if cur.Name() == name {
			e.providers[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		e.providers = append(e.providers, p)
	}
	e.mu.Unlock()

	e.throttle.Forget(name)
	e.log.Debug("provider registered", logx.String("provider", name), logx.Bool("replaced", replaced))
	return e.Refresh(ctx)
}

// UnregisterProvider removes the named provider and its anchors from every
// bucket. It reports whether the provider was registered.
func (e *Engine) UnregisterProvider(name string) bool {
	e.mu.Lock()
	idx := -1
	for i, p := range e.providers {
		if p.Name() == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return false
	}
	e.providers = append(e.providers[:idx:idx], e.providers[idx+1:]...)

	var updates []eventbus.BlendUpdated
	for k, list := range e.buckets {
		kept := withoutSource(list, name)
		if len(kept) == len(list) {
			continue
		}
		e.buckets[k] = kept
		updates = append(updates, eventbus.BlendUpdated{ContextID: k.contextID, Frame: k.frame, Anchors: anchor.Clone(kept)})
	}
	e.mu.Unlock()

	for _, u := range updates {
		e.bus.Emit(u)
	}
	e.log.Debug("provider unregistered", logx.String("provider", name))
	return true
}

// Providers returns registered provider names in registration order.
func (e *Engine) Providers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.providers))
	for _, p := range e.providers {
		out = append(out, p.Name())
	}
	return out
}
