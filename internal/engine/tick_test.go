package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeanchor/internal/anchor"
	"timeanchor/internal/eventbus"
	logx "timeanchor/pkg/logx"
)

func TestStartEmitsTicksBeforeReturning(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{TickInterval: time.Hour})
	require.NoError(t, e.AddContext(ctx, anchor.Context{ID: "cairo"}))
	e.UpsertAnchors("cairo", anchor.Daily, []anchor.Anchor{
		{ID: "fajr", Label: "Fajr", At: t0.Add(-time.Hour)},
		{ID: "dhuhr", Label: "Dhuhr", At: t0.Add(4 * time.Hour)},
	})
	rec := record(e, eventbus.KindAnchorTick)

	e.Start(ctx)
	defer func() { _ = e.Stop(ctx) }()

	evs := rec.all()
	require.Len(t, evs, 2)
	past := evs[0].(eventbus.AnchorTick)
	assert.Equal(t, "fajr", past.AnchorID)
	assert.Equal(t, "cairo", past.ContextID)
	assert.Equal(t, int64(-3600), past.ETASeconds)
	assert.True(t, past.IsPast)

	next := evs[1].(eventbus.AnchorTick)
	assert.Equal(t, "Dhuhr", next.Label)
	assert.Equal(t, int64(4*3600), next.ETASeconds)
	assert.False(t, next.IsPast)
}

func TestStartStopLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{TickInterval: time.Hour})
	assert.False(t, e.Running())

	e.Start(ctx)
	assert.True(t, e.Running())
	e.Start(ctx)
	assert.True(t, e.Running())

	require.NoError(t, e.Stop(ctx))
	assert.False(t, e.Running())
	require.NoError(t, e.Stop(ctx))
}

func TestTickLoopKeepsTicking(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{TickInterval: 10 * time.Millisecond})
	require.NoError(t, e.AddContext(ctx, anchor.Context{ID: "c"}))
	e.UpsertAnchors("c", anchor.Daily, []anchor.Anchor{{ID: "a", At: t0.Add(time.Minute)}})

	ch, unsubscribe := e.Bus().Subscribe(64, eventbus.KindAnchorTick)
	defer unsubscribe()

	e.Start(ctx)
	defer func() { _ = e.Stop(ctx) }()

	deadline := time.After(2 * time.Second)
	for seen := 0; seen < 3; {
		select {
		case ev := <-ch:
			assert.Equal(t, int64(60), ev.(eventbus.AnchorTick).ETASeconds)
			seen++
		case <-deadline:
			t.Fatalf("saw %d ticks before deadline", seen)
		}
	}
}

func TestStopDoesNotCancelStartupRefresh(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{TickInterval: time.Hour})
	require.NoError(t, e.AddContext(ctx, anchor.Context{ID: "c"}))

	release := make(chan struct{})
	var (
		mu      sync.Mutex
		blocked bool
	)
	require.NoError(t, e.RegisterProvider(ctx, ProviderFunc{ProviderName: "slow", Fn: func(pctx context.Context, _ anchor.Query) ([]anchor.Anchor, error) {
		mu.Lock()
		first := !blocked
		blocked = true
		mu.Unlock()
		if first {
			// Registration refresh returns immediately; the startup one waits.
			return nil, nil
		}
		select {
		case <-release:
		case <-pctx.Done():
			return nil, pctx.Err()
		}
		return []anchor.Anchor{{ID: "late", At: t0}}, nil
	}}))

	e.Start(ctx)
	require.NoError(t, e.Stop(ctx))
	close(release)

	assert.Eventually(t, func() bool {
		return len(e.GetAnchors(AnchorQuery{})) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFollowWallClockAdvancesCursorSilently(t *testing.T) {
	ctx := context.Background()
	var (
		mu  sync.Mutex
		now = t0.Add(30 * time.Minute)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	e := New(Config{Cursor: t0, TickInterval: 10 * time.Millisecond, FollowWallClock: true}, logx.Nop(), nil, WithWallClock(clock))
	t.Cleanup(func() { _ = e.Close(ctx) })
	require.NoError(t, e.AddContext(ctx, anchor.Context{ID: "c"}))
	rec := record(e, eventbus.KindCursorChanged)

	e.Start(ctx)
	defer func() { _ = e.Stop(ctx) }()

	assert.Eventually(t, func() bool {
		return e.Cursor().Equal(t0.Add(30 * time.Minute))
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.all(), "same-day moves do not emit cursor-changed")

	mu.Lock()
	now = t0.Add(24 * time.Hour)
	mu.Unlock()

	assert.Eventually(t, func() bool {
		return len(rec.all()) > 0 && e.Cursor().Equal(t0.Add(24*time.Hour))
	}, 2*time.Second, 5*time.Millisecond)
}

func TestApplyRestartsTickLoopOnIntervalChange(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{TickInterval: time.Hour})
	require.NoError(t, e.AddContext(ctx, anchor.Context{ID: "c"}))
	e.UpsertAnchors("c", anchor.Daily, []anchor.Anchor{{ID: "a", At: t0}})

	e.Start(ctx)
	defer func() { _ = e.Stop(ctx) }()

	ch, unsubscribe := e.Bus().Subscribe(16, eventbus.KindAnchorTick)
	defer unsubscribe()

	e.Apply(Config{TickInterval: 10 * time.Millisecond})
	assert.Equal(t, 10*time.Millisecond, e.config().TickInterval)

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no tick after shortening the interval")
	}
}

func TestTickForETA(t *testing.T) {
	cursor := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		at   time.Time
		eta  int64
		past bool
	}{
		{"future", cursor.Add(90 * time.Second), 90, false},
		{"now", cursor, 0, false},
		{"sub-second future floors", cursor.Add(1500 * time.Millisecond), 1, false},
		{"sub-second past floors", cursor.Add(-500 * time.Millisecond), -1, true},
		{"past", cursor.Add(-time.Hour), -3600, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tick := tickFor("c", anchor.Anchor{ID: "x", At: tt.at}, cursor)
			assert.Equal(t, tt.eta, tick.ETASeconds)
			assert.Equal(t, tt.past, tick.IsPast)
		})
	}
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, int64(2), floorDiv(2500, 1000))
	assert.Equal(t, int64(-3), floorDiv(-2500, 1000))
	assert.Equal(t, int64(-2), floorDiv(-2000, 1000))
	assert.Equal(t, int64(0), floorDiv(0, 1000))
}

func TestStopFromTickHandlerReturns(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{TickInterval: 10 * time.Millisecond})
	require.NoError(t, e.AddContext(ctx, anchor.Context{ID: "c"}))
	e.UpsertAnchors("c", anchor.Daily, []anchor.Anchor{{ID: "a", At: t0}, {ID: "b", At: t0.Add(time.Minute)}})

	var (
		started atomic.Bool
		ticks   atomic.Int32
	)
	stopped := make(chan error, 1)
	e.On(eventbus.KindAnchorTick, func(eventbus.Event) {
		if !started.Load() {
			return
		}
		if ticks.Add(1) == 1 {
			stopped <- e.Stop(context.Background())
		}
	})

	e.Start(ctx)
	started.Store(true)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop called from a tick handler did not return")
	}
	assert.False(t, e.Running())

	// The rest of the cycle is suppressed and no further cycle starts.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), ticks.Load())
}

func TestStopDuringInitialTicks(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{TickInterval: 10 * time.Millisecond})
	require.NoError(t, e.AddContext(ctx, anchor.Context{ID: "c"}))
	e.UpsertAnchors("c", anchor.Daily, []anchor.Anchor{{ID: "a", At: t0}})

	var sawRunning atomic.Bool
	ticks := record(e, eventbus.KindAnchorTick)
	unsubscribe := e.On(eventbus.KindAnchorTick, func(eventbus.Event) {
		sawRunning.Store(e.Running())
		_ = e.Stop(context.Background())
	})

	done := make(chan struct{})
	go func() {
		e.Start(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
	unsubscribe()

	assert.True(t, sawRunning.Load())
	assert.False(t, e.Running())
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, ticks.all(), 1, "the loop must not start after a handler stopped it")
}
