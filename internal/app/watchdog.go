package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "belltower/pkg/logx"
)

// notifyReady tells systemd the tower is up. A no-op outside systemd.
func notifyReady(log logx.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
		return
	}
	if sent {
		log.Debug("systemd notified: ready")
	}
}

func notifyStopping(log logx.Logger) {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	_ = log
}

// runWatchdog pets the systemd watchdog at half the configured
// interval. Returns immediately when WatchdogSec is not set.
func runWatchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("watchdog query failed", logx.Err(err))
		return
	}
	if interval == 0 {
		return
	}

	t := time.NewTicker(interval / 2)
	defer t.Stop()
	log.Info("systemd watchdog armed", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				log.Warn("watchdog notify failed", logx.Err(err))
			}
		}
	}
}
