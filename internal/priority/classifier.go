// Package priority maps an event's proximity to its scheduled start onto a
// sync tier and interval. Pure computation, no I/O.
package priority

import (
	"sort"
	"time"

	"github.com/racehub/raceday-worker/internal/config"
)

type Tier string

const (
	TierHigh    Tier = "high"
	TierMedium  Tier = "medium"
	TierLow     Tier = "low"
	TierStopped Tier = "stopped" // Terminal: past the sync window, excluded until re-armed
)

// band is a resolved config.Band with plain durations.
type band struct {
	within   time.Duration
	tier     Tier
	interval time.Duration
}

type Classifier struct {
	bands           []band // sorted by within ascending
	postEventGrace  time.Duration
	defaultTier     Tier
	defaultInterval time.Duration
}

// NewClassifier builds a classifier from the configured band table. Bands
// are matched smallest window first, and Within is inclusive: an event
// starting exactly 24h from now falls into a 24h band.
func NewClassifier(cfg config.PriorityConfig) *Classifier {
	bands := make([]band, 0, len(cfg.Bands))
	for _, b := range cfg.Bands {
		bands = append(bands, band{
			within:   b.Within.Std(),
			tier:     Tier(b.Tier),
			interval: b.Interval.Std(),
		})
	}
	sort.Slice(bands, func(i, j int) bool { return bands[i].within < bands[j].within })

	defaultTier := Tier(cfg.DefaultTier)
	if defaultTier == "" {
		defaultTier = TierLow
	}
	defaultInterval := cfg.DefaultInterval.Std()
	if defaultInterval <= 0 {
		defaultInterval = time.Hour
	}

	return &Classifier{
		bands:           bands,
		postEventGrace:  cfg.PostEventGrace.Std(),
		defaultTier:     defaultTier,
		defaultInterval: defaultInterval,
	}
}

// Classify returns the tier and required sync interval for an event with the
// given scheduled start. A nil start means the date is unknown and the event
// syncs at the default (low) cadence. Once now passes start plus the
// post-event grace the event is stopped and its interval is zero.
func (c *Classifier) Classify(now time.Time, scheduledStart *time.Time) (Tier, time.Duration) {
	if scheduledStart == nil {
		return c.defaultTier, c.defaultInterval
	}

	if now.After(c.SyncWindowEnd(*scheduledStart)) {
		return TierStopped, 0
	}

	timeToStart := scheduledStart.Sub(now)
	for _, b := range c.bands {
		// A running event (negative timeToStart) matches the smallest band.
		if timeToStart <= b.within {
			return b.tier, b.interval
		}
	}
	return c.defaultTier, c.defaultInterval
}

// SyncWindowEnd returns the instant after which an event with the given
// start no longer syncs.
func (c *Classifier) SyncWindowEnd(scheduledStart time.Time) time.Time {
	return scheduledStart.Add(c.postEventGrace)
}
