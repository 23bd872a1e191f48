// Package systemd reports service state to systemd over the sd_notify socket.
// Outside systemd (NOTIFY_SOCKET unset) every call is a silent no-op.
package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "timeanchor/pkg/logx"
)

type Notifier struct {
	log    logx.Logger
	notify func(state string) (bool, error)
	wdog   func() (time.Duration, error)
}

func NewNotifier(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		log:    log.With(logx.String("comp", "systemd")),
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		wdog:   func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("sd_notify sent", logx.String("state", state))
	}
}

func (n *Notifier) Ready()     { n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping()  { n.send(daemon.SdNotifyStopping) }
func (n *Notifier) Reloading() { n.send(daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(format string, args ...any) {
	n.send("STATUS=" + fmt.Sprintf(format, args...))
}

// Watchdog pings the systemd watchdog at half the configured interval until
// ctx is done. It returns immediately when the unit has no WatchdogSec.
func (n *Notifier) Watchdog(ctx context.Context) {
	every, err := n.wdog()
	if err != nil || every <= 0 {
		return
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
