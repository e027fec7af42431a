// Package systemd reports daemon state to the service manager through
// sd_notify. Every call is a no-op when NOTIFY_SOCKET is unset.
package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

func notify(state string) (bool, error) {
	return daemon.SdNotify(false, state)
}

// Ready signals that startup finished.
func Ready() (bool, error) { return notify(daemon.SdNotifyReady) }

// Stopping signals that shutdown began.
func Stopping() (bool, error) { return notify(daemon.SdNotifyStopping) }

// Reloading signals a config reload. Call Ready when it is applied.
func Reloading() (bool, error) { return notify(daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func Status(format string, args ...any) (bool, error) {
	return notify("STATUS=" + fmt.Sprintf(format, args...))
}

// WatchdogInterval returns how often the unit must ping, or 0 when the
// watchdog is off.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// Watchdog pings the service manager at half the configured interval until
// ctx is done. healthy is consulted before every ping; a false result skips
// the ping so systemd restarts the unit.
func Watchdog(ctx context.Context, healthy func() bool) error {
	iv := WatchdogInterval()
	if iv == 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(iv / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if healthy != nil && !healthy() {
				continue
			}
			if _, err := notify(daemon.SdNotifyWatchdog); err != nil {
				return fmt.Errorf("sd_notify watchdog: %w", err)
			}
		}
	}
}
