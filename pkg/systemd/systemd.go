// Package systemd reports service state to the systemd manager through
// sd_notify. Every call is a no-op when NOTIFY_SOCKET is unset.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// notifyFunc matches daemon.SdNotify.
type notifyFunc func(unsetEnvironment bool, state string) (bool, error)

type Notifier struct {
	notify   notifyFunc
	interval func() (time.Duration, error)
}

func New() *Notifier {
	return &Notifier{
		notify:   daemon.SdNotify,
		interval: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

// Ready reports that startup finished. It returns false when no manager is
// listening.
func (n *Notifier) Ready() (bool, error) {
	return n.notify(false, daemon.SdNotifyReady)
}

func (n *Notifier) Stopping() (bool, error) {
	return n.notify(false, daemon.SdNotifyStopping)
}

func (n *Notifier) Reloading() (bool, error) {
	return n.notify(false, daemon.SdNotifyReloading)
}

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(msg string) (bool, error) {
	return n.notify(false, "STATUS="+msg)
}

// Watchdog pings the manager at half the configured WatchdogSec until ctx is
// done. It returns immediately when the watchdog is not enabled for the unit.
func (n *Notifier) Watchdog(ctx context.Context) error {
	every, err := n.interval()
	if err != nil {
		return err
	}
	if every <= 0 {
		return nil
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := n.notify(false, daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
