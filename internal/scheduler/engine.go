package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/racehub/raceday-worker/internal/config"
	"github.com/racehub/raceday-worker/internal/models"
	"github.com/racehub/raceday-worker/internal/priority"
	"github.com/racehub/raceday-worker/internal/service"
)

// candidateFetchFactor oversizes the due-candidate query relative to the tier
// caps so a flood of low-tier events cannot starve high-tier ones out of the
// fetch window.
const candidateFetchFactor = 4

type EventScheduleStore interface {
	ListDueCandidates(ctx context.Context, now time.Time, limit int) ([]models.RaceEvent, error)
	SetNextDue(ctx context.Context, eventID string, at time.Time) error
	MarkStopped(ctx context.Context, eventID string) error
	ClearForceSync(ctx context.Context, eventID string) error
}

type CredentialSource interface {
	ListEnabled(ctx context.Context) ([]models.ProviderCredential, error)
}

// ItemExecutor runs one work item to an outcome. Satisfied by the sync
// executor.
type ItemExecutor interface {
	Execute(ctx context.Context, item service.WorkItem) (*models.SyncOutcome, error)
}

// CycleStats summarizes one pass of the engine.
type CycleStats struct {
	Candidates int
	Dispatched int
	Stopped    int
	Skipped    int // circuit open
	Deferred   int // rate budget exhausted
	Overflow   int // due but beyond the tier cap, retried next cycle
}

// Engine is the repeating scheduler loop. Every cycle it re-derives the work
// list from store state, so a crash between cycles loses nothing: whatever
// was due stays due.
type Engine struct {
	events     EventScheduleStore
	creds      CredentialSource
	executor   ItemExecutor
	classifier *priority.Classifier
	breaker    *Breaker
	cfg        config.SchedulerConfig
	logger     *zap.Logger

	mu            sync.Mutex
	lastDiscovery map[string]time.Time
}

func NewEngine(
	events EventScheduleStore,
	creds CredentialSource,
	executor ItemExecutor,
	classifier *priority.Classifier,
	breaker *Breaker,
	cfg config.SchedulerConfig,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		events:        events,
		creds:         creds,
		executor:      executor,
		classifier:    classifier,
		breaker:       breaker,
		cfg:           cfg,
		logger:        logger,
		lastDiscovery: make(map[string]time.Time),
	}
}

// Run executes cycles until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("scheduler engine started",
		zap.Duration("cycle_sleep", e.cfg.CycleSleep.Std()),
		zap.Int("workers", e.cfg.Workers))

	for {
		stats, err := e.RunCycle(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error("cycle failed", zap.Error(err))
		} else if stats.Dispatched > 0 || stats.Stopped > 0 {
			e.logger.Info("cycle complete",
				zap.Int("candidates", stats.Candidates),
				zap.Int("dispatched", stats.Dispatched),
				zap.Int("stopped", stats.Stopped),
				zap.Int("skipped", stats.Skipped),
				zap.Int("deferred", stats.Deferred),
				zap.Int("overflow", stats.Overflow))
		}

		select {
		case <-ctx.Done():
			e.logger.Info("scheduler engine stopped")
			return
		case <-time.After(e.cfg.CycleSleep.Std()):
		}
	}
}

// RunCycle performs one scheduling pass: fetch due candidates, classify and
// rank them, then dispatch a capped batch tier by tier through the worker
// pool. Events past the cap keep their due time and win a slot in a later
// cycle.
func (e *Engine) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	now := time.Now()

	cycleCtx, cancel := context.WithTimeout(ctx, e.cfg.CycleTimeout.Std())
	defer cancel()

	caps := e.cfg.TierCaps
	fetchLimit := (caps.High + caps.Medium + caps.Low) * candidateFetchFactor
	candidates, err := e.events.ListDueCandidates(cycleCtx, now, fetchLimit)
	if err != nil {
		return stats, err
	}
	stats.Candidates = len(candidates)

	// The query returns candidates soonest-starting first, so truncating each
	// tier at its cap keeps the most urgent events.
	tiers := map[priority.Tier][]service.WorkItem{}
	for i := range candidates {
		ev := &candidates[i]

		tier, _ := e.classifier.Classify(now, ev.ScheduledStart)
		if ev.ForceSync {
			// A manual trigger outranks the band table, even for a stopped
			// event.
			tier = priority.TierHigh
		}
		if tier == priority.TierStopped {
			if err := e.events.MarkStopped(cycleCtx, ev.ID); err != nil {
				e.logger.Warn("failed to mark event stopped", zap.String("event_id", ev.ID), zap.Error(err))
				continue
			}
			stats.Stopped++
			continue
		}
		if !e.breaker.Allow(ev.PartnerID, ev.Provider) {
			stats.Skipped++
			continue
		}

		tiers[tier] = append(tiers[tier], service.WorkItem{
			PartnerID: ev.PartnerID,
			Provider:  ev.Provider,
			Operation: operationFor(ev, now),
			Event:     ev,
		})
	}

	batches := [][]service.WorkItem{
		capTier(tiers[priority.TierHigh], caps.High, &stats),
		capTier(tiers[priority.TierMedium], caps.Medium, &stats),
		capTier(tiers[priority.TierLow], caps.Low, &stats),
	}
	batches[0] = append(e.dueDiscoveries(cycleCtx, now), batches[0]...)

	counters := &cycleCounters{}
	for _, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		g, gctx := errgroup.WithContext(cycleCtx)
		g.SetLimit(e.cfg.Workers)
		for _, item := range batch {
			item := item
			g.Go(func() error {
				e.runItem(gctx, item, counters)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}
	}

	stats.Dispatched = counters.dispatched
	stats.Deferred = counters.deferred
	return stats, nil
}

// operationFor picks the sync operation for an event's current phase:
// registrations before the gun, results after.
func operationFor(ev *models.RaceEvent, now time.Time) string {
	if ev.ScheduledStart != nil && now.After(*ev.ScheduledStart) {
		return models.OperationSyncResults
	}
	return models.OperationSyncParticipants
}

func capTier(items []service.WorkItem, limit int, stats *CycleStats) []service.WorkItem {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	stats.Overflow += len(items) - limit
	return items[:limit]
}

// dueDiscoveries returns discovery items for credentials whose last discovery
// is older than the configured interval. Discovery state is in-memory; after
// a restart every credential rediscovers once, which is idempotent.
func (e *Engine) dueDiscoveries(ctx context.Context, now time.Time) []service.WorkItem {
	creds, err := e.creds.ListEnabled(ctx)
	if err != nil {
		e.logger.Warn("failed to list credentials for discovery", zap.Error(err))
		return nil
	}

	interval := e.cfg.DiscoveryInterval.Std()
	e.mu.Lock()
	defer e.mu.Unlock()

	var items []service.WorkItem
	for _, cred := range creds {
		key := cred.PartnerID + "/" + cred.Provider
		if last, ok := e.lastDiscovery[key]; ok && now.Sub(last) < interval {
			continue
		}
		if !e.breaker.Allow(cred.PartnerID, cred.Provider) {
			continue
		}
		items = append(items, service.WorkItem{
			PartnerID: cred.PartnerID,
			Provider:  cred.Provider,
			Operation: models.OperationDiscover,
		})
	}
	return items
}

type cycleCounters struct {
	mu         sync.Mutex
	dispatched int
	deferred   int
}

// runItem executes one work item under the per-item timeout and applies the
// aftermath: breaker accounting, force-flag clearing, rescheduling.
func (e *Engine) runItem(ctx context.Context, item service.WorkItem, counters *cycleCounters) {
	itemCtx, cancel := context.WithTimeout(ctx, e.cfg.ItemTimeout.Std())
	defer cancel()

	outcome, err := e.executor.Execute(itemCtx, item)
	if errors.Is(err, service.ErrDeferred) {
		// Due time untouched; the event competes again next cycle.
		counters.mu.Lock()
		counters.deferred++
		counters.mu.Unlock()
		return
	}
	if err != nil {
		e.logger.Error("work item failed to execute",
			zap.String("event_id", item.EventID()),
			zap.String("operation", item.Operation),
			zap.Error(err))
		return
	}

	counters.mu.Lock()
	counters.dispatched++
	counters.mu.Unlock()

	e.applyBreaker(item, outcome)

	if item.Operation == models.OperationDiscover {
		e.mu.Lock()
		e.lastDiscovery[item.PartnerID+"/"+item.Provider] = time.Now()
		e.mu.Unlock()
		return
	}

	writeCtx := context.WithoutCancel(ctx)
	if item.Event.ForceSync {
		if err := e.events.ClearForceSync(writeCtx, item.Event.ID); err != nil {
			e.logger.Warn("failed to clear force sync", zap.String("event_id", item.Event.ID), zap.Error(err))
		}
	}

	now := time.Now()
	tier, interval := e.classifier.Classify(now, item.Event.ScheduledStart)
	if tier == priority.TierStopped {
		if err := e.events.MarkStopped(writeCtx, item.Event.ID); err != nil {
			e.logger.Warn("failed to mark event stopped", zap.String("event_id", item.Event.ID), zap.Error(err))
		}
		return
	}
	if err := e.events.SetNextDue(writeCtx, item.Event.ID, now.Add(interval)); err != nil {
		e.logger.Warn("failed to set next due", zap.String("event_id", item.Event.ID), zap.Error(err))
	}
}

// applyBreaker feeds the outcome into the circuit breaker. Only failures a
// retry cannot fix count; transient and rate-limit trouble heals on its own.
func (e *Engine) applyBreaker(item service.WorkItem, outcome *models.SyncOutcome) {
	if outcome.Status != models.OutcomeFailed {
		e.breaker.Success(item.PartnerID, item.Provider)
		return
	}
	if outcome.ErrorKind == nil {
		return
	}
	switch *outcome.ErrorKind {
	case models.ErrKindAuth, models.ErrKindTimeout:
		e.breaker.Failure(item.PartnerID, item.Provider)
	}
}
