package priority

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/racehub/raceday-worker/internal/config"
)

func testClassifier() *Classifier {
	return NewClassifier(config.PriorityConfig{
		PostEventGrace: config.Duration(time.Hour),
		Bands: []config.Band{
			{Within: config.Duration(24 * time.Hour), Tier: "medium", Interval: config.Duration(5 * time.Minute)},
			{Within: config.Duration(4 * time.Hour), Tier: "high", Interval: config.Duration(time.Minute)},
		},
		DefaultTier:     "low",
		DefaultInterval: config.Duration(time.Hour),
	})
}

func TestClassifier_Classify(t *testing.T) {
	c := testClassifier()
	now := time.Date(2026, 5, 16, 12, 0, 0, 0, time.UTC)

	ts := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}

	tests := []struct {
		name         string
		start        *time.Time
		wantTier     Tier
		wantInterval time.Duration
	}{
		{"far future", ts(72 * time.Hour), TierLow, time.Hour},
		{"just over 24h", ts(24*time.Hour + time.Second), TierLow, time.Hour},
		{"exactly 24h is inclusive", ts(24 * time.Hour), TierMedium, 5 * time.Minute},
		{"just under 24h", ts(24*time.Hour - time.Second), TierMedium, 5 * time.Minute},
		{"exactly 4h is inclusive", ts(4 * time.Hour), TierHigh, time.Minute},
		{"3h out", ts(3 * time.Hour), TierHigh, time.Minute},
		{"currently running", ts(-30 * time.Minute), TierHigh, time.Minute},
		{"inside post-event grace", ts(-time.Hour + time.Minute), TierHigh, time.Minute},
		{"past sync window end", ts(-time.Hour - time.Second), TierStopped, 0},
		{"long finished", ts(-48 * time.Hour), TierStopped, 0},
		{"unknown start", nil, TierLow, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, interval := c.Classify(now, tt.start)
			assert.Equal(t, tt.wantTier, tier)
			assert.Equal(t, tt.wantInterval, interval)
		})
	}
}

func TestClassifier_Deterministic(t *testing.T) {
	c := testClassifier()
	now := time.Now()
	start := now.Add(3 * time.Hour)

	t1, i1 := c.Classify(now, &start)
	t2, i2 := c.Classify(now, &start)
	assert.Equal(t, t1, t2)
	assert.Equal(t, i1, i2)
}

func TestClassifier_SyncWindowEnd(t *testing.T) {
	c := testClassifier()
	start := time.Date(2026, 5, 16, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, start.Add(time.Hour), c.SyncWindowEnd(start))
}
