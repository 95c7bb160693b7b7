// Package reconcile decides whether an externally discovered event already
// exists for the same partner under a different origin, so the same race
// never imports twice.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/racehub/raceday-worker/internal/config"
	"github.com/racehub/raceday-worker/internal/models"
)

// EventFinder is the single indexed lookup the reconciler needs: same
// partner, scheduled start inside a window, ordered by discovery time.
type EventFinder interface {
	FindByStartWindow(ctx context.Context, partnerID string, from, to time.Time) ([]models.RaceEvent, error)
}

type Reconciler struct {
	finder    EventFinder
	window    time.Duration
	threshold float64
	logger    *zap.Logger
}

func New(finder EventFinder, cfg config.ReconcileConfig, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		finder:    finder,
		window:    cfg.MatchWindow.Std(),
		threshold: cfg.NameThreshold,
		logger:    logger,
	}
}

// Match returns the canonical existing event a candidate duplicates, or nil
// when the candidate is genuinely new. The rule: same partner, a different
// (provider, data source) origin, start times within the match window, and
// names equal after normalization (or above the configured similarity
// threshold). Candidates without a start date never match.
func (r *Reconciler) Match(ctx context.Context, partnerID, name string, start *time.Time, providerName, dataSource string) (*models.RaceEvent, error) {
	if start == nil {
		return nil, nil
	}

	existing, err := r.finder.FindByStartWindow(ctx, partnerID, start.Add(-r.window), start.Add(r.window))
	if err != nil {
		return nil, fmt.Errorf("failed to look up nearby events: %w", err)
	}

	candidateName := normalizeName(name)
	for i := range existing {
		ev := &existing[i]
		if ev.Provider == providerName && ev.DataSource == dataSource {
			// Same origin: the unique provider-event key already covers it.
			continue
		}
		if ev.ScheduledStart == nil {
			continue
		}
		if absDuration(start.Sub(*ev.ScheduledStart)) >= r.window {
			continue
		}
		if !r.namesMatch(candidateName, normalizeName(ev.Name)) {
			continue
		}
		// Always link to the canonical identity, even when the matched row
		// is itself a linked duplicate.
		canonical := ev
		if ev.CanonicalID != nil && *ev.CanonicalID != "" {
			for j := range existing {
				if existing[j].ID == *ev.CanonicalID {
					canonical = &existing[j]
					break
				}
			}
		}
		r.logger.Info("reconciled duplicate event",
			zap.String("partner_id", partnerID),
			zap.String("candidate_name", name),
			zap.String("candidate_source", dataSource),
			zap.String("matched_event_id", canonical.ID),
			zap.String("matched_source", canonical.DataSource))
		return canonical, nil
	}
	return nil, nil
}

func (r *Reconciler) namesMatch(a, b string) bool {
	if r.threshold >= 1.0 {
		return a == b
	}
	return diceSimilarity(a, b) >= r.threshold
}

// normalizeName lowercases and collapses whitespace so "5K Fun Run" and
// "5k fun  run" compare equal.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// diceSimilarity is the Sorensen-Dice coefficient over character bigrams,
// in [0,1].
func diceSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if len(a) < 2 || len(b) < 2 {
		return 0
	}

	bigrams := make(map[string]int)
	for i := 0; i < len(a)-1; i++ {
		bigrams[a[i:i+2]]++
	}
	matches := 0
	for i := 0; i < len(b)-1; i++ {
		if bigrams[b[i:i+2]] > 0 {
			bigrams[b[i:i+2]]--
			matches++
		}
	}
	return 2 * float64(matches) / float64(len(a)-1+len(b)-1)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
