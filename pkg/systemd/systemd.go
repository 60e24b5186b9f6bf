// Package systemd speaks the sd_notify protocol. Every call is a no-op
// when the process was not started by systemd (NOTIFY_SOCKET unset).
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends state updates. The zero value uses daemon.SdNotify.
type Notifier struct {
	notify   func(unsetEnv bool, state string) (bool, error)
	watchdog func(unsetEnv bool) (time.Duration, error)
}

func (n Notifier) send(state string) (bool, error) {
	if n.notify == nil {
		return daemon.SdNotify(false, state)
	}
	return n.notify(false, state)
}

// Ready reports READY=1. The bool is false when no socket is configured.
func (n Notifier) Ready() (bool, error) { return n.send(daemon.SdNotifyReady) }

func (n Notifier) Stopping() (bool, error) { return n.send(daemon.SdNotifyStopping) }

// Status sets the free-form STATUS= line shown by systemctl status.
func (n Notifier) Status(s string) (bool, error) { return n.send("STATUS=" + s) }

// WatchdogInterval returns half of WATCHDOG_USEC, or 0 when the watchdog
// is off.
func (n Notifier) WatchdogInterval() time.Duration {
	fn := n.watchdog
	if fn == nil {
		fn = daemon.SdWatchdogEnabled
	}
	d, err := fn(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// Watchdog pings WATCHDOG=1 every interval until ctx is done. healthy is
// consulted before each ping; a false result skips it so systemd can
// restart a wedged process.
func (n Notifier) Watchdog(ctx context.Context, interval time.Duration, healthy func() bool) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if healthy != nil && !healthy() {
				continue
			}
			if _, err := n.send(daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
