package coordinator

import (
	"log/slog"
	"time"

	"github.com/contactdir/contactdir-server/internal/config"
)

// defaultInterval is used when the configured interval is not usable
const defaultInterval = 60 * time.Minute

// schedule is the timer configuration of a coordinator
type schedule struct {
	interval      time.Duration
	syncOnStartup bool
	stopTimeout   time.Duration
}

// scheduleFromConfig extracts the schedule from the sync section
func scheduleFromConfig(cfg *config.SyncConfig) schedule {
	if cfg == nil {
		return schedule{
			interval:      defaultInterval,
			syncOnStartup: true,
			stopTimeout:   config.DefaultStopTimeout,
		}
	}

	interval := cfg.GetInterval()
	if interval <= 0 {
		slog.Warn("Invalid sync interval, using default",
			"interval_minutes", cfg.IntervalMinutes,
			"default", defaultInterval)
		interval = defaultInterval
	}

	return schedule{
		interval:      interval,
		syncOnStartup: cfg.IsSyncOnStartup(),
		stopTimeout:   cfg.GetStopTimeout(),
	}
}
