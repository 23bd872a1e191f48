package logx

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle rate-limits log lines per key so a component that fails on every
// cycle (a provider erroring each second, for example) does not flood sinks.
//
// Suppressed calls are counted and reported on the next allowed line as
// "suppressed".
type Throttle struct {
	mu    sync.Mutex
	every time.Duration
	burst int
	keys  map[string]*throttleKey
}

type throttleKey struct {
	lim        *rate.Limiter
	suppressed int
}

// NewThrottle allows burst lines per key, refilled once per every.
func NewThrottle(every time.Duration, burst int) *Throttle {
	if every <= 0 {
		every = time.Minute
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{every: every, burst: burst, keys: map[string]*throttleKey{}}
}

// Allow reports whether a line for key may be written now, plus how many lines
// were dropped since the last allowed one.
func (t *Throttle) Allow(key string) (bool, int) {
	if t == nil {
		return true, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	k := t.keys[key]
	if k == nil {
		k = &throttleKey{lim: rate.NewLimiter(rate.Every(t.every), t.burst)}
		t.keys[key] = k
	}
	if !k.lim.Allow() {
		k.suppressed++
		return false, 0
	}
	n := k.suppressed
	k.suppressed = 0
	return true, n
}

// Warn logs through l when key is not currently throttled.
func (t *Throttle) Warn(l Logger, key, msg string, fields ...Field) {
	ok, dropped := t.Allow(key)
	if !ok {
		return
	}
	if dropped > 0 {
		fields = append(fields, Int("suppressed", dropped))
	}
	l.Warn(msg, fields...)
}

// Forget drops the limiter state for key.
func (t *Throttle) Forget(key string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.keys, key)
	t.mu.Unlock()
}
