package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"timeanchor/internal/anchor"
	"timeanchor/internal/eventbus"
	logx "timeanchor/pkg/logx"
)

// AnchorQuery selects a bucket; empty fields mean the active context / current frame.
type AnchorQuery struct {
	ContextID string
	Frame     anchor.Frame
}

// UpsertAnchors replaces the (contextID, frame) bucket wholesale with list
// sorted ascending by time and emits blend-updated.
func (e *Engine) UpsertAnchors(contextID string, frame anchor.Frame, list []anchor.Anchor) {
	sorted := anchor.Clone(list)
	if sorted == nil {
		sorted = []anchor.Anchor{}
	}
	for i := range sorted {
		if sorted[i].ContextID == "" {
			sorted[i].ContextID = contextID
		}
		if sorted[i].Frame == "" {
			sorted[i].Frame = frame
		}
	}
	anchor.Sort(sorted)

	e.mu.Lock()
	e.buckets[bucketKey{contextID, frame}] = sorted
	e.mu.Unlock()

	e.bus.Emit(eventbus.BlendUpdated{ContextID: contextID, Frame: frame, Anchors: anchor.Clone(sorted)})
}

// GetAnchors returns a sorted snapshot of the selected bucket, or an empty
// slice when nothing has been stored for it.
func (e *Engine) GetAnchors(q AnchorQuery) []anchor.Anchor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if q.ContextID == "" {
		q.ContextID = e.activeID
	}
	if q.Frame == "" {
		q.Frame = e.frame
	}
	out := anchor.Clone(e.buckets[bucketKey{q.ContextID, q.Frame}])
	if out == nil {
		out = []anchor.Anchor{}
	}
	return out
}

// Refresh asks every provider for anchors for the active context, frame and
// cursor. It is a no-op without an active context. Providers run
// concurrently and each result is stored as soon as it arrives; Refresh
// returns once every provider has finished and its blend-updated event has
// been delivered.
//
// A provider's result replaces only the anchors whose Source is that
// provider's name; anchors from other sources in the bucket are kept. This
// differs from UpsertAnchors, which replaces the whole bucket.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.RLock()
	c, ok := e.contexts[e.activeID]
	q := anchor.Query{Context: c.Clone(), Frame: e.frame, Cursor: e.cursor}
	providers := append([]Provider(nil), e.providers...)
	limit := e.cfg.MaxConcurrentProviders
	e.mu.RUnlock()

	if !ok || len(providers) == 0 {
		return nil
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	start := time.Now()
	for _, p := range providers {
		p := p
		g.Go(func() error {
			e.runProvider(ctx, p, q)
			return nil
		})
	}
	err := g.Wait()
	e.log.Trace("refresh done",
		logx.String("context", q.Context.ID),
		logx.String("frame", q.Frame.String()),
		logx.Int("providers", len(providers)),
		logx.Duration("took", time.Since(start)),
	)
	return err
}

func (e *Engine) runProvider(ctx context.Context, p Provider, q anchor.Query) {
	name := p.Name()
	if timeout := e.config().ProviderTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	list, err := safeProvide(ctx, p, q)
	if err != nil {
		e.throttle.Warn(e.log, name, "provider failed", logx.String("provider", name), logx.String("context", q.Context.ID), logx.Err(err))
		e.bus.Emit(eventbus.ProviderError{Provider: name, Message: err.Error()})
		return
	}
	if list == nil {
		return
	}
	e.publishSource(q.Context.ID, q.Frame, name, list)
}

func safeProvide(ctx context.Context, p Provider, q anchor.Query) (list []anchor.Anchor, err error) {
	defer func() {
		if r := recover(); r != nil {
			list = nil
			err = fmt.Errorf("panic in provider: %v", r)
		}
	}()
	return p.Provide(ctx, q)
}

// publishSource replaces the anchors carrying source within the bucket,
// keeping every other source's anchors, and emits blend-updated.
func (e *Engine) publishSource(contextID string, frame anchor.Frame, source string, list []anchor.Anchor) {
	fresh := anchor.Clone(list)
	for i := range fresh {
		fresh[i].Source = source
		if fresh[i].ContextID == "" {
			fresh[i].ContextID = contextID
		}
		if fresh[i].Frame == "" {
			fresh[i].Frame = frame
		}
	}

	key := bucketKey{contextID, frame}
	e.mu.Lock()
	merged := append(withoutSource(e.buckets[key], source), fresh...)
	anchor.Sort(merged)
	e.buckets[key] = merged
	snap := anchor.Clone(merged)
	e.mu.Unlock()

	e.bus.Emit(eventbus.BlendUpdated{ContextID: contextID, Frame: frame, Anchors: snap})
}

func withoutSource(list []anchor.Anchor, source string) []anchor.Anchor {
	out := make([]anchor.Anchor, 0, len(list))
	for _, a := range list {
		if a.Source != source {
			out = append(out, a)
		}
	}
	return out
}
