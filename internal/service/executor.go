package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/racehub/raceday-worker/internal/config"
	"github.com/racehub/raceday-worker/internal/models"
	"github.com/racehub/raceday-worker/internal/provider"
	"github.com/racehub/raceday-worker/internal/ratelimit"
	"github.com/racehub/raceday-worker/internal/repository"
)

// CredentialStore provides credential lookup for the executor
type CredentialStore interface {
	Get(ctx context.Context, partnerID, provider string) (*models.ProviderCredential, error)
}

// EventStore is the slice of the event repository the executor writes
type EventStore interface {
	GetByOrigin(ctx context.Context, partnerID, provider, providerEventID, dataSource string) (*models.RaceEvent, error)
	Create(ctx context.Context, event *models.RaceEvent) error
	UpdateSyncProgress(ctx context.Context, eventID, operation string, watermark *time.Time, cursor *string) error
}

type ParticipantStore interface {
	Upsert(ctx context.Context, participants []models.Participant) error
}

type ResultStore interface {
	Upsert(ctx context.Context, results []models.RaceResult) error
}

type OutcomeStore interface {
	Append(ctx context.Context, outcome *models.SyncOutcome) error
}

// AdapterRegistry resolves provider names to adapters
type AdapterRegistry interface {
	Adapter(name string) (provider.Adapter, error)
}

// BudgetLimiter is the rate limiter surface the executor needs
type BudgetLimiter interface {
	Acquire(cost int, keys ...string) bool
	SetBudget(key string, limit int, window time.Duration)
}

// DuplicateMatcher checks discovery candidates against existing events
type DuplicateMatcher interface {
	Match(ctx context.Context, partnerID, name string, start *time.Time, providerName, dataSource string) (*models.RaceEvent, error)
}

// SyncExecutor performs one sync operation for one work item: fetch the
// delta through the provider adapter under rate-limit control, upsert what
// arrives, advance the watermark, and append an outcome. Every error is
// absorbed into the outcome; only deferral surfaces as an error value.
type SyncExecutor struct {
	creds        CredentialStore
	events       EventStore
	participants ParticipantStore
	results      ResultStore
	outcomes     OutcomeStore
	registry     AdapterRegistry
	limiter      BudgetLimiter
	matcher      DuplicateMatcher
	rateCfg      config.RateLimitConfig
	maxPages     int
	pageSize     int
	logger       *zap.Logger
}

func NewSyncExecutor(
	creds CredentialStore,
	events EventStore,
	participants ParticipantStore,
	results ResultStore,
	outcomes OutcomeStore,
	registry AdapterRegistry,
	limiter BudgetLimiter,
	matcher DuplicateMatcher,
	cfg config.SchedulerConfig,
	logger *zap.Logger,
) *SyncExecutor {
	return &SyncExecutor{
		creds:        creds,
		events:       events,
		participants: participants,
		results:      results,
		outcomes:     outcomes,
		registry:     registry,
		limiter:      limiter,
		matcher:      matcher,
		rateCfg:      cfg.RateLimit,
		maxPages:     cfg.Executor.MaxPages,
		pageSize:     cfg.Executor.PageSize,
		logger:       logger,
	}
}

// runResult accumulates what one operation accomplished.
type runResult struct {
	records   int
	pages     int
	rowErrors int
	watermark *time.Time // nil leaves the stored watermark untouched
	cursor    *string    // nil clears the stored page cursor
	progress  bool       // whether UpdateSyncProgress applies (event-scoped ops)
}

// Execute runs one work item to an outcome. The returned error is non-nil
// only for ErrDeferred; all sync failures are reported through the outcome's
// status so callers branch on status, not on errors.
func (e *SyncExecutor) Execute(ctx context.Context, item WorkItem) (*models.SyncOutcome, error) {
	started := time.Now()
	log := e.logger.With(
		zap.String("partner_id", item.PartnerID),
		zap.String("provider", item.Provider),
		zap.String("operation", item.Operation),
		zap.String("event_id", item.EventID()),
	)

	cred, err := e.creds.Get(ctx, item.PartnerID, item.Provider)
	if err != nil {
		return e.finish(ctx, item, started, runResult{}, fmt.Errorf("failed to get credential: %w", &provider.AuthError{Provider: item.Provider, Err: err}), log)
	}
	e.applyBudget(cred)

	adapter, err := e.registry.Adapter(item.Provider)
	if err != nil {
		return e.finish(ctx, item, started, runResult{}, err, log)
	}

	sess, err := adapter.Authenticate(ctx, cred)
	if err != nil {
		return e.finish(ctx, item, started, runResult{}, err, log)
	}

	keys := []string{
		ratelimit.PartnerKey(item.PartnerID, item.Provider),
		ratelimit.ProviderKey(item.Provider),
	}

	var run runResult
	switch item.Operation {
	case models.OperationDiscover:
		run, err = e.discover(ctx, adapter, sess, item, keys, log)
	case models.OperationSyncParticipants:
		run, err = e.syncParticipants(ctx, adapter, sess, item.Event, keys)
	case models.OperationSyncResults:
		run, err = e.syncResults(ctx, adapter, sess, item.Event, keys)
	default:
		err = fmt.Errorf("unknown operation %q", item.Operation)
	}
	if errors.Is(err, ErrDeferred) {
		log.Debug("work item deferred, rate budget exhausted")
		return nil, ErrDeferred
	}

	return e.finish(ctx, item, started, run, err, log)
}

// finish persists progress, appends the outcome row, and maps the error (if
// any) onto the outcome taxonomy. Uses a non-cancellable context so a timed
// out item still leaves its audit trail.
func (e *SyncExecutor) finish(ctx context.Context, item WorkItem, started time.Time, run runResult, runErr error, log *zap.Logger) (*models.SyncOutcome, error) {
	writeCtx := context.WithoutCancel(ctx)

	if run.progress && item.Event != nil {
		if err := e.events.UpdateSyncProgress(writeCtx, item.Event.ID, item.Operation, run.watermark, run.cursor); err != nil {
			log.Warn("failed to persist sync progress", zap.Error(err))
		}
	}

	outcome := &models.SyncOutcome{
		ID:         uuid.New().String(),
		PartnerID:  item.PartnerID,
		EventID:    item.EventID(),
		Provider:   item.Provider,
		Operation:  item.Operation,
		Status:     models.OutcomeSuccess,
		Records:    run.records,
		Pages:      run.pages,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}

	switch {
	case runErr != nil:
		kind := errorKind(ctx, runErr)
		msg := runErr.Error()
		outcome.Status = models.OutcomeFailed
		outcome.ErrorKind = &kind
		outcome.Error = &msg
		log.Warn("sync failed", zap.String("kind", kind), zap.Error(runErr))
	case run.rowErrors > 0:
		kind := models.ErrKindData
		msg := fmt.Sprintf("%d malformed records, page held for retry", run.rowErrors)
		outcome.Status = models.OutcomePartial
		outcome.ErrorKind = &kind
		outcome.Error = &msg
		log.Warn("sync partial", zap.Int("row_errors", run.rowErrors), zap.Int("records", run.records))
	default:
		log.Info("sync complete", zap.Int("records", run.records), zap.Int("pages", run.pages))
	}

	if err := e.outcomes.Append(writeCtx, outcome); err != nil {
		log.Error("failed to append sync outcome", zap.Error(err))
	}
	return outcome, nil
}

// discover lists a credential's remote events and imports the unknown ones,
// running each candidate through the duplicate reconciler first.
func (e *SyncExecutor) discover(ctx context.Context, adapter provider.Adapter, sess provider.Session, item WorkItem, keys []string, log *zap.Logger) (runResult, error) {
	var run runResult
	source := adapter.DataSource()
	cursor := ""

	for run.pages < e.maxPages {
		if !e.limiter.Acquire(1, keys...) {
			if run.pages == 0 {
				return run, ErrDeferred
			}
			break
		}

		page, err := adapter.ListEvents(ctx, sess, cursor, e.pageSize)
		if err != nil {
			return run, err
		}
		run.pages++

		for _, remote := range page.Events {
			_, err := e.events.GetByOrigin(ctx, item.PartnerID, item.Provider, remote.ProviderEventID, source)
			if err == nil {
				continue // already known
			}
			if !errors.Is(err, repository.ErrEventNotFound) {
				return run, fmt.Errorf("failed to check existing event: %w", err)
			}

			match, err := e.matcher.Match(ctx, item.PartnerID, remote.Name, remote.ScheduledStart, item.Provider, source)
			if err != nil {
				return run, err
			}

			now := time.Now()
			ev := &models.RaceEvent{
				ID:              uuid.New().String(),
				PartnerID:       item.PartnerID,
				Provider:        item.Provider,
				ProviderEventID: remote.ProviderEventID,
				DataSource:      source,
				Name:            remote.Name,
				ScheduledStart:  remote.ScheduledStart,
				DiscoveredAt:    now,
				SyncStatus:      models.EventStatusActive,
				NextDueAt:       &now,
			}
			if match != nil {
				ev.CanonicalID = &match.ID
			}
			if err := e.events.Create(ctx, ev); err != nil {
				// Likely a concurrent import of the same origin; the unique
				// key holds the line either way.
				log.Warn("failed to create discovered event", zap.String("provider_event_id", remote.ProviderEventID), zap.Error(err))
				run.rowErrors++
				continue
			}
			run.records++
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return run, nil
}

func (e *SyncExecutor) syncParticipants(ctx context.Context, adapter provider.Adapter, sess provider.Session, ev *models.RaceEvent, keys []string) (runResult, error) {
	run := runResult{progress: true}
	if ev == nil {
		run.progress = false
		return run, fmt.Errorf("participant sync requires an event")
	}

	run.cursor = ev.ParticipantCursor
	cursor := strDeref(ev.ParticipantCursor)
	maxTS := ev.Watermark

	for run.pages < e.maxPages {
		if !e.limiter.Acquire(1, keys...) {
			if run.pages == 0 {
				return run, ErrDeferred
			}
			// Budget drained mid-run: keep the cursor and pick up next cycle.
			run.cursor = strPtr(cursor)
			return run, nil
		}

		page, err := adapter.ListParticipants(ctx, sess, ev.ProviderEventID, ev.Watermark, cursor, e.pageSize)
		if err != nil {
			run.cursor = strPtr(cursor)
			return run, err
		}
		run.pages++

		rows := make([]models.Participant, 0, len(page.Participants))
		for _, p := range page.Participants {
			rows = append(rows, models.Participant{
				ID:                    uuid.New().String(),
				EventID:               ev.CanonicalEventID(),
				DataSource:            ev.DataSource,
				ProviderParticipantID: p.ProviderParticipantID,
				PartnerID:             ev.PartnerID,
				Provider:              ev.Provider,
				Bib:                   p.Bib,
				FirstName:             p.FirstName,
				LastName:              p.LastName,
				Division:              p.Division,
				RegStatus:             p.RegStatus,
				SourceUpdatedAt:       p.UpdatedAt,
			})
			maxTS = laterOf(maxTS, p.UpdatedAt)
		}
		if err := e.participants.Upsert(ctx, rows); err != nil {
			run.cursor = strPtr(cursor)
			return run, fmt.Errorf("failed to upsert participants: %w", err)
		}
		run.records += len(rows)

		if len(page.RowErrors) > 0 {
			// Hold the cursor on the malformed page so it is refetched next
			// cycle; the watermark must not move past it.
			run.rowErrors += len(page.RowErrors)
			run.cursor = strPtr(cursor)
			return run, nil
		}

		if page.NextCursor == "" {
			run.watermark = maxTS
			run.cursor = nil
			return run, nil
		}
		cursor = page.NextCursor
		run.cursor = strPtr(cursor)
	}

	// Max-pages guard: one huge event never monopolizes a cycle slot.
	return run, nil
}

func (e *SyncExecutor) syncResults(ctx context.Context, adapter provider.Adapter, sess provider.Session, ev *models.RaceEvent, keys []string) (runResult, error) {
	run := runResult{progress: true}
	if ev == nil {
		run.progress = false
		return run, fmt.Errorf("result sync requires an event")
	}

	run.cursor = ev.ResultCursor
	cursor := strDeref(ev.ResultCursor)
	maxTS := ev.Watermark

	for run.pages < e.maxPages {
		if !e.limiter.Acquire(1, keys...) {
			if run.pages == 0 {
				return run, ErrDeferred
			}
			run.cursor = strPtr(cursor)
			return run, nil
		}

		page, err := adapter.ListResults(ctx, sess, ev.ProviderEventID, ev.Watermark, cursor, e.pageSize)
		if err != nil {
			run.cursor = strPtr(cursor)
			return run, err
		}
		run.pages++

		rows := make([]models.RaceResult, 0, len(page.Results))
		for _, res := range page.Results {
			rows = append(rows, models.RaceResult{
				ID:                    uuid.New().String(),
				EventID:               ev.CanonicalEventID(),
				DataSource:            ev.DataSource,
				ProviderParticipantID: res.ProviderParticipantID,
				PartnerID:             ev.PartnerID,
				Provider:              ev.Provider,
				Place:                 res.Place,
				ChipSeconds:           res.ChipSeconds,
				GunSeconds:            res.GunSeconds,
				FinishedAt:            res.FinishedAt,
				SourceUpdatedAt:       res.UpdatedAt,
			})
			maxTS = laterOf(maxTS, res.UpdatedAt)
		}
		if err := e.results.Upsert(ctx, rows); err != nil {
			run.cursor = strPtr(cursor)
			return run, fmt.Errorf("failed to upsert results: %w", err)
		}
		run.records += len(rows)

		if len(page.RowErrors) > 0 {
			run.rowErrors += len(page.RowErrors)
			run.cursor = strPtr(cursor)
			return run, nil
		}

		if page.NextCursor == "" {
			run.watermark = maxTS
			run.cursor = nil
			return run, nil
		}
		cursor = page.NextCursor
		run.cursor = strPtr(cursor)
	}

	return run, nil
}

// applyBudget registers the credential's own rate budget, falling back to
// the provider-wide settings from configuration.
func (e *SyncExecutor) applyBudget(cred *models.ProviderCredential) {
	window := e.rateCfg.Window.Std()
	budget := cred.RateBudget

	if pl, ok := e.rateCfg.Providers[cred.Provider]; ok {
		if budget == 0 {
			budget = pl.Budget
		}
		if pl.Window > 0 {
			window = pl.Window.Std()
		}
	}
	if budget > 0 {
		e.limiter.SetBudget(ratelimit.PartnerKey(cred.PartnerID, cred.Provider), budget, window)
	}
}

// errorKind maps a run error onto the outcome taxonomy, treating deadline
// expiry as a timeout regardless of how the adapter wrapped it.
func errorKind(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.ErrKindTimeout
	}
	return provider.ErrorKind(err)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func laterOf(current, candidate *time.Time) *time.Time {
	if candidate == nil {
		return current
	}
	if current == nil || candidate.After(*current) {
		return candidate
	}
	return current
}
