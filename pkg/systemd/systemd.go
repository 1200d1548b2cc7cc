// Package systemd speaks the sd_notify protocol: readiness, stopping, status
// and watchdog keep-alives. Outside systemd every call is a no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "naps/pkg/logx"
)

type Notifier struct {
	log logx.Logger

	send     func(state string) (bool, error)
	watchdog func() (time.Duration, error)
}

func NewNotifier(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		log:      log,
		send:     func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *Notifier) Ready() { n.notify(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

func (n *Notifier) Status(msg string) { n.notify("STATUS=" + msg) }

func (n *Notifier) notify(state string) {
	sent, err := n.send(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// Watchdog pings systemd at half the configured WatchdogSec until ctx is
// done. It returns immediately when the watchdog is not enabled.
func (n *Notifier) Watchdog(ctx context.Context) error {
	interval, err := n.watchdog()
	if err != nil {
		return err
	}
	if interval <= 0 {
		return nil
	}
	every := interval / 2
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
