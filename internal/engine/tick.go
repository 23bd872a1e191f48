package engine

import (
	"context"
	"time"

	"timeanchor/internal/anchor"
	"timeanchor/internal/eventbus"
	"timeanchor/internal/runtime/supervisor"
	logx "timeanchor/pkg/logx"
)

// Start begins ticking. It emits one anchor-tick per anchor already stored
// for the active bucket before returning, kicks off a refresh without
// waiting for it, then ticks every TickInterval until Stop or ctx is done.
// Calling Start while running is a no-op. Handlers of the initial ticks may
// call Stop or Running.
func (e *Engine) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.tickMu.Lock()
	if e.tickSup != nil {
		e.tickMu.Unlock()
		return
	}
	sup := supervisor.New(ctx, supervisor.WithLogger(e.log))
	e.tickParent = ctx
	e.tickSup = sup
	e.tickMu.Unlock()

	e.EmitTicks()
	e.bg.Go("refresh.start", func(bctx context.Context) error {
		return e.Refresh(bctx)
	})

	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	if e.tickSup != sup {
		// Stopped by a handler of the initial ticks.
		return
	}
	sup.Go0("tick", e.tickLoop)
	e.log.Info("ticking started", logx.Duration("interval", e.config().TickInterval))
}

// Stop cancels the tick loop and waits (bounded by ctx) for it to exit.
// Called from an anchor-tick handler, it only cancels: no further tick is
// emitted, and the loop exits once the handler returns. In-flight provider
// calls are not canceled. Stop is idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	e.tickMu.Lock()
	sup := e.tickSup
	e.tickSup = nil
	e.tickMu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()
	e.log.Info("ticking stopped")
	if e.loopEmitting.Load() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return sup.Wait(ctx)
}

// Running reports whether the tick loop is active.
func (e *Engine) Running() bool {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	return e.tickSup != nil
}

func (e *Engine) restartTickLoop() {
	e.tickMu.Lock()
	old := e.tickSup
	if old == nil {
		e.tickMu.Unlock()
		return
	}
	old.Cancel()
	e.tickSup = supervisor.New(e.tickParent, supervisor.WithLogger(e.log))
	e.tickSup.Go0("tick", e.tickLoop)
	e.tickMu.Unlock()
	e.log.Debug("tick loop restarted", logx.Duration("interval", e.config().TickInterval))

	if e.loopEmitting.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), restartWait)
	defer cancel()
	_ = old.Wait(ctx)
}

func (e *Engine) tickLoop(ctx context.Context) {
	t := time.NewTicker(e.config().TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if e.config().FollowWallClock {
				e.followWallClock()
			}
			e.loopEmitting.Store(true)
			e.emitTicks(ctx)
			e.loopEmitting.Store(false)
		}
	}
}

// followWallClock moves the cursor to the wall clock. Within the same frame
// window the move is silent; crossing into a new window goes through
// SetCursor so listeners see cursor-changed and providers are re-run.
func (e *Engine) followWallClock() {
	now := normalizeCursor(e.now())

	e.mu.Lock()
	c := e.contexts[e.activeID]
	loc := c.Location()
	oldStart, _ := e.frame.Window(e.cursor, loc)
	newStart, _ := e.frame.Window(now, loc)
	sameWindow := oldStart.Equal(newStart)
	if sameWindow {
		e.cursor = now
	}
	e.mu.Unlock()

	if sameWindow {
		return
	}
	e.bg.Go("refresh.window", func(ctx context.Context) error {
		return e.SetCursor(ctx, now)
	})
}

// EmitTicks publishes one anchor-tick per anchor in the active bucket,
// measured against the cursor.
func (e *Engine) EmitTicks() {
	e.emitTicks(context.Background())
}

// emitTicks stops early once ctx is done, so a Stop issued by a handler
// suppresses the rest of the cycle.
func (e *Engine) emitTicks(ctx context.Context) {
	e.mu.RLock()
	contextID := e.activeID
	cursor := e.cursor
	list := e.buckets[bucketKey{contextID, e.frame}]
	ticks := make([]eventbus.AnchorTick, 0, len(list))
	for _, a := range list {
		ticks = append(ticks, tickFor(contextID, a, cursor))
	}
	e.mu.RUnlock()

	for _, t := range ticks {
		if ctx.Err() != nil {
			return
		}
		e.bus.Emit(t)
	}
}

const restartWait = time.Second

func tickFor(contextID string, a anchor.Anchor, cursor time.Time) eventbus.AnchorTick {
	eta := floorDiv(a.At.UnixMilli()-cursor.UnixMilli(), 1000)
	return eventbus.AnchorTick{
		ContextID:  contextID,
		AnchorID:   a.ID,
		Label:      a.Label,
		At:         a.At,
		ETASeconds: eta,
		IsPast:     eta < 0,
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
