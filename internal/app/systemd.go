package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"foxq/pkg/logx"
)

const (
	sdReady    = daemon.SdNotifyReady
	sdStopping = daemon.SdNotifyStopping
)

// notifySystemd is a no-op outside a systemd unit (NOTIFY_SOCKET unset).
func (a *App) notifySystemd(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// startSystemd reports readiness and, when the unit sets WatchdogSec,
// pings the watchdog at half the interval while the app runs.
func (a *App) startSystemd() {
	a.notifySystemd(sdReady)

	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return
	}
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		t := time.NewTicker(every / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return nil
			case <-t.C:
				a.notifySystemd(daemon.SdNotifyWatchdog)
			}
		}
	})
}
