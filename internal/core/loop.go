package core

import (
	"context"
	"time"

	"belltower/internal/bell"
	logx "belltower/pkg/logx"
)

// DefaultTickInterval bounds pulse-width jitter. Keep it well under the
// shortest valid pulse.
const DefaultTickInterval = 50 * time.Millisecond

// RunTickLoop drives the playback state machine until ctx is cancelled.
// On exit it forces an emergency stop so no relay stays energized
// through shutdown.
func RunTickLoop(ctx context.Context, ctl *bell.Controller, interval time.Duration, log logx.Logger) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	log.Debug("tick loop running", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			ctl.EmergencyStop()
			log.Debug("tick loop stopped")
			return
		case now := <-t.C:
			ctl.Tick(now)
		}
	}
}
