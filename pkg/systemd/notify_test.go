package systemd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	logx "timeanchor/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func TestNotifierStates(t *testing.T) {
	rec := &recorder{}
	n := NewNotifier(logx.Nop())
	n.notify = rec.notify

	n.Ready()
	n.Status("ticking %d anchors", 4)
	n.Reloading()
	n.Stopping()

	assert.Equal(t, []string{"READY=1", "STATUS=ticking 4 anchors", "RELOADING=1", "STOPPING=1"}, rec.all())
}

func TestNotifierOutsideSystemdIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	n := NewNotifier(logx.Nop())
	n.Ready()
	n.Watchdog(context.Background())
}

func TestWatchdogPings(t *testing.T) {
	rec := &recorder{}
	n := NewNotifier(logx.Nop())
	n.notify = rec.notify
	n.wdog = func() (time.Duration, error) { return 20 * time.Millisecond, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Watchdog(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(rec.all()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, "WATCHDOG=1", rec.all()[0])
}

func TestWatchdogDisabled(t *testing.T) {
	n := NewNotifier(logx.Nop())
	n.wdog = func() (time.Duration, error) { return 0, errors.New("no watchdog") }
	n.Watchdog(context.Background())
}
