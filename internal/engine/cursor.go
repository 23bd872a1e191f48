package engine

import (
	"context"
	"time"

	"timeanchor/internal/anchor"
	"timeanchor/internal/eventbus"
)

// normalizeCursor strips the monotonic reading and truncates to milliseconds,
// the resolution ETAs and synthetic anchor ids are computed at.
func normalizeCursor(t time.Time) time.Time {
	return t.Round(0).Truncate(time.Millisecond)
}

func (e *Engine) Frame() anchor.Frame {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.frame
}

func (e *Engine) Cursor() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cursor
}

func (e *Engine) SetFrame(ctx context.Context, f anchor.Frame) error {
	if !f.Valid() {
		return ErrInvalidFrame
	}
	e.mu.Lock()
	e.frame = f
	cur := e.cursor
	e.mu.Unlock()

	e.bus.Emit(eventbus.CursorChanged{Cursor: cur, Frame: f})
	return e.Refresh(ctx)
}

func (e *Engine) SetCursor(ctx context.Context, t time.Time) error {
	if t.IsZero() {
		return ErrInvalidCursor
	}
	cur := normalizeCursor(t)
	e.mu.Lock()
	e.cursor = cur
	f := e.frame
	e.mu.Unlock()

	e.bus.Emit(eventbus.CursorChanged{Cursor: cur, Frame: f})
	return e.Refresh(ctx)
}

// Jump moves the cursor by d using calendar arithmetic and returns the new
// cursor. Month and year overflow is not clamped: January 31 plus one month
// lands on March 2 (leap year) or March 3.
func (e *Engine) Jump(ctx context.Context, d anchor.Delta) (time.Time, error) {
	next := d.Apply(e.Cursor())
	if err := e.SetCursor(ctx, next); err != nil {
		return time.Time{}, err
	}
	return normalizeCursor(next), nil
}
