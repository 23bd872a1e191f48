package eventbus

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	logx "timeanchor/pkg/logx"
)

// Handler receives one event. A panic inside a handler is recovered and
// discarded; it never reaches the emitter or the remaining handlers.
type Handler func(Event)

// Bus is the engine's publish/subscribe primitive.
//
// Contract:
//   - Emit dispatches synchronously, in subscription order.
//   - Handlers never run concurrently. An Emit made while another dispatch is
//     in progress (from inside a handler, or from another goroutine) is
//     queued and delivered, in emission order, by the goroutine already
//     dispatching once the current event's handlers return.
//   - Handlers should not block: they hold up every queued event.
//   - Unsubscribe is idempotent.
type Bus interface {
	On(kind Kind, h Handler) (unsubscribe func())
	OnAll(h Handler) (unsubscribe func())
	Emit(e Event)
	Subscribe(buffer int, kinds ...Kind) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory synchronous bus.
//
// It intentionally does not own any background goroutines.
func New(log logx.Logger) Bus {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &memBus{log: log}
}

type subscription struct {
	id   uint64
	kind Kind // 0 = every kind
	h    Handler
}

type memBus struct {
	log logx.Logger

	mu   sync.RWMutex
	subs []subscription
	seq  atomic.Uint64

	qmu      sync.Mutex
	queue    []Event
	draining bool
}

func (b *memBus) On(kind Kind, h Handler) func() {
	return b.add(kind, h)
}

func (b *memBus) OnAll(h Handler) func() {
	return b.add(0, h)
}

func (b *memBus) add(kind Kind, h Handler) func() {
	if h == nil {
		return func() {}
	}
	id := b.seq.Add(1)
	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, kind: kind, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					// Preserve order: later subscribers keep their relative position.
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *memBus) Emit(e Event) {
	if e == nil {
		return
	}
	b.qmu.Lock()
	b.queue = append(b.queue, e)
	if b.draining {
		b.qmu.Unlock()
		return
	}
	b.draining = true
	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		b.qmu.Unlock()
		b.deliver(next)
		b.qmu.Lock()
	}
	b.queue = nil
	b.draining = false
	b.qmu.Unlock()
}

func (b *memBus) deliver(e Event) {
	kind := e.Kind()

	// Snapshot so handlers may subscribe/unsubscribe without deadlocking.
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kind == 0 || s.kind == kind {
			hs = append(hs, s.h)
		}
	}
	b.mu.RUnlock()

	for _, h := range hs {
		b.dispatch(kind, h, e)
	}
}

func (b *memBus) dispatch(kind Kind, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Debug("event handler panicked",
				logx.String("kind", kind.String()),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	h(e)
}

// Subscribe adapts the bus to a buffered channel for consumers that prefer
// to drain events on their own goroutine. Delivery is non-blocking: when
// the buffer is full the event is dropped. With no kinds, every kind is delivered.
func (b *memBus) Subscribe(buffer int, kinds ...Kind) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	var (
		mu     sync.Mutex
		closed bool
	)
	send := func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
		}
	}

	var unsubs []func()
	if len(kinds) == 0 {
		unsubs = append(unsubs, b.OnAll(send))
	} else {
		for _, k := range kinds {
			unsubs = append(unsubs, b.On(k, send))
		}
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			for _, u := range unsubs {
				u()
			}
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
}
