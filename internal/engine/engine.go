package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"timeanchor/internal/anchor"
	"timeanchor/internal/eventbus"
	"timeanchor/internal/runtime/supervisor"
	logx "timeanchor/pkg/logx"
)

// Config controls the engine.
//
// Defaults (when fields are omitted/zero):
//   - Frame: daily
//   - Cursor: wall clock at construction
//   - TickInterval: 1s
//   - ProviderTimeout: 0 (disabled)
//   - MaxConcurrentProviders: 0 (unbounded)
type Config struct {
	Frame                  anchor.Frame
	Cursor                 time.Time
	TickInterval           time.Duration
	ProviderTimeout        time.Duration
	MaxConcurrentProviders int

	// FollowWallClock advances the cursor to the wall clock before every tick.
	FollowWallClock bool
}

type bucketKey struct {
	contextID string
	frame     anchor.Frame
}

type Engine struct {
	mu  sync.RWMutex
	cfg Config

	log      logx.Logger
	bus      eventbus.Bus
	throttle *logx.Throttle
	now      func() time.Time

	contexts map[string]anchor.Context
	order    []string
	activeID string

	frame  anchor.Frame
	cursor time.Time

	providers []Provider
	buckets   map[bucketKey][]anchor.Anchor

	// bg owns refreshes that outlive a tick Stop (startup refresh, follow-clock refreshes).
	bg *supervisor.Supervisor

	tickMu     sync.Mutex
	tickSup    *supervisor.Supervisor
	tickParent context.Context
	// loopEmitting is set while the tick loop dispatches a cycle; Stop and
	// restarts issued from its handlers must not wait for the loop.
	loopEmitting atomic.Bool
}

type Option func(*Engine)

// WithWallClock replaces time.Now; used for the default cursor and FollowWallClock.
func WithWallClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New(log)
	}
	e := &Engine{
		log:      log,
		bus:      bus,
		throttle: logx.NewThrottle(time.Minute, 3),
		now:      time.Now,
		contexts: map[string]anchor.Context{},
		buckets:  map[bucketKey][]anchor.Anchor{},
	}
	for _, o := range opts {
		o(e)
	}
	e.cfg = normalizeConfig(cfg)
	e.frame = e.cfg.Frame
	if e.cfg.Cursor.IsZero() {
		e.cursor = normalizeCursor(e.now())
	} else {
		e.cursor = normalizeCursor(e.cfg.Cursor)
	}
	e.bg = supervisor.New(context.Background(), supervisor.WithLogger(log))
	return e
}

func normalizeConfig(cfg Config) Config {
	if !cfg.Frame.Valid() {
		cfg.Frame = anchor.Daily
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.ProviderTimeout < 0 {
		cfg.ProviderTimeout = 0
	}
	if cfg.MaxConcurrentProviders < 0 {
		cfg.MaxConcurrentProviders = 0
	}
	return cfg
}

// Bus returns the bus events are emitted on.
func (e *Engine) Bus() eventbus.Bus { return e.bus }

// On subscribes to one event kind.
func (e *Engine) On(kind eventbus.Kind, h eventbus.Handler) (unsubscribe func()) {
	return e.bus.On(kind, h)
}

// Apply swaps runtime knobs. Frame and Cursor are ignored; use SetFrame/SetCursor.
// A changed tick interval restarts a running tick loop.
func (e *Engine) Apply(cfg Config) {
	cfg = normalizeConfig(cfg)
	e.mu.Lock()
	old := e.cfg
	e.cfg.TickInterval = cfg.TickInterval
	e.cfg.ProviderTimeout = cfg.ProviderTimeout
	e.cfg.MaxConcurrentProviders = cfg.MaxConcurrentProviders
	e.cfg.FollowWallClock = cfg.FollowWallClock
	e.mu.Unlock()

	if old.TickInterval != cfg.TickInterval {
		e.restartTickLoop()
	}
}

func (e *Engine) config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Close stops ticking and waits (bounded by ctx) for background refreshes.
func (e *Engine) Close(ctx context.Context) error {
	_ = e.Stop(ctx)
	return e.bg.Stop(ctx)
}
