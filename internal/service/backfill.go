package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/racehub/raceday-worker/internal/config"
	"github.com/racehub/raceday-worker/internal/models"
)

const deferredRetryWait = 30 * time.Second

type PartnerStore interface {
	GetByID(ctx context.Context, partnerID string) (*models.TimingPartner, error)
	ListEnabled(ctx context.Context) ([]models.TimingPartner, error)
}

type CredentialLister interface {
	ListEnabledByPartner(ctx context.Context, partnerID string) ([]models.ProviderCredential, error)
}

type BackfillEventStore interface {
	ListBackfillTargets(ctx context.Context, partnerID string) ([]models.RaceEvent, error)
	SetInBackfill(ctx context.Context, eventID string, inBackfill bool) error
}

type CheckpointStore interface {
	Get(ctx context.Context, scope string) (*models.BackfillCheckpoint, error)
	Save(ctx context.Context, cp *models.BackfillCheckpoint) error
	Delete(ctx context.Context, scope string) error
}

// ItemExecutor runs one work item to an outcome. Satisfied by SyncExecutor.
type ItemExecutor interface {
	Execute(ctx context.Context, item WorkItem) (*models.SyncOutcome, error)
}

// BackfillOptions scopes one backfill run.
type BackfillOptions struct {
	// Partner limits the run to one partner; empty means every enabled one.
	Partner string
	// MaxEvents stops the run after that many events, checkpoint retained.
	// Zero means no cap.
	MaxEvents int
	// DryRun reports the planned work without touching providers or writing.
	DryRun bool
}

// BackfillStats summarizes what a run accomplished (or, dry, would have).
type BackfillStats struct {
	Partners int `json:"partners"`
	Events   int `json:"events"`
	Records  int `json:"records"`
	Skipped  int `json:"skipped"` // resumed past via checkpoint
}

// BackfillEngine bulk-imports historical data for onboarding partners. It
// runs each event's sync through the same executor the live cycle uses, but
// paced, checkpointed after every event, and resumable after interruption.
// Events being imported are parked behind the in_backfill flag so the live
// cycle never works them concurrently.
type BackfillEngine struct {
	partners    PartnerStore
	creds       CredentialLister
	events      BackfillEventStore
	checkpoints CheckpointStore
	executor    ItemExecutor
	pacer       *rate.Limiter
	logger      *zap.Logger
}

func NewBackfillEngine(
	partners PartnerStore,
	creds CredentialLister,
	events BackfillEventStore,
	checkpoints CheckpointStore,
	executor ItemExecutor,
	cfg config.BackfillConfig,
	logger *zap.Logger,
) *BackfillEngine {
	pace := cfg.Pace.Std()
	if pace <= 0 {
		pace = 2 * time.Second
	}
	return &BackfillEngine{
		partners:    partners,
		creds:       creds,
		events:      events,
		checkpoints: checkpoints,
		executor:    executor,
		pacer:       rate.NewLimiter(rate.Every(pace), 1),
		logger:      logger,
	}
}

// Run walks the scoped partners oldest-event first, importing each event's
// participants and, for past events, results. The checkpoint cursor is
// "partnerID/eventID" of the last completed event.
func (b *BackfillEngine) Run(ctx context.Context, opts BackfillOptions) (BackfillStats, error) {
	var stats BackfillStats
	scope := opts.Partner
	if scope == "" {
		scope = "all"
	}
	log := b.logger.With(zap.String("scope", scope), zap.Bool("dry_run", opts.DryRun))

	cp, err := b.checkpoints.Get(ctx, scope)
	if err != nil {
		return stats, err
	}
	resumeCursor := ""
	if cp != nil {
		resumeCursor = cp.Cursor
		log.Info("resuming backfill from checkpoint", zap.String("cursor", resumeCursor))
	}

	partners, err := b.scopedPartners(ctx, opts.Partner)
	if err != nil {
		return stats, err
	}

	skipping := resumeCursor != ""
	for _, partner := range partners {
		stats.Partners++

		if !skipping && !opts.DryRun {
			if err := b.discoverAll(ctx, partner.ID); err != nil {
				return stats, fmt.Errorf("discovery failed for partner %s: %w", partner.ID, err)
			}
		}

		targets, err := b.events.ListBackfillTargets(ctx, partner.ID)
		if err != nil {
			return stats, err
		}

		for i := range targets {
			ev := &targets[i]
			cursor := partner.ID + "/" + ev.ID

			if skipping {
				stats.Skipped++
				if cursor == resumeCursor {
					skipping = false
				}
				continue
			}
			if opts.MaxEvents > 0 && stats.Events >= opts.MaxEvents {
				log.Info("event cap reached, checkpoint retained", zap.Int("events", stats.Events))
				return stats, nil
			}

			if opts.DryRun {
				stats.Events++
				continue
			}

			records, err := b.importEvent(ctx, ev)
			if err != nil {
				return stats, err
			}
			stats.Events++
			stats.Records += records

			if err := b.checkpoints.Save(ctx, &models.BackfillCheckpoint{
				Scope:  scope,
				Cursor: cursor,
				Stats: models.JSONB{
					"events":  stats.Events,
					"records": stats.Records,
				},
			}); err != nil {
				return stats, err
			}
		}
	}

	if !opts.DryRun {
		if err := b.checkpoints.Delete(ctx, scope); err != nil {
			return stats, err
		}
	}
	log.Info("backfill complete",
		zap.Int("partners", stats.Partners),
		zap.Int("events", stats.Events),
		zap.Int("records", stats.Records),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

func (b *BackfillEngine) scopedPartners(ctx context.Context, partnerID string) ([]models.TimingPartner, error) {
	if partnerID != "" {
		partner, err := b.partners.GetByID(ctx, partnerID)
		if err != nil {
			return nil, err
		}
		return []models.TimingPartner{*partner}, nil
	}
	return b.partners.ListEnabled(ctx)
}

// discoverAll runs discovery on each of the partner's credentials so the
// event table holds everything the providers know before import starts.
func (b *BackfillEngine) discoverAll(ctx context.Context, partnerID string) error {
	creds, err := b.creds.ListEnabledByPartner(ctx, partnerID)
	if err != nil {
		return err
	}
	for _, cred := range creds {
		outcome, err := b.executePaced(ctx, WorkItem{
			PartnerID: partnerID,
			Provider:  cred.Provider,
			Operation: models.OperationDiscover,
		})
		if err != nil {
			return err
		}
		if outcome.Status == models.OutcomeFailed {
			return fmt.Errorf("discovery on %s failed: %s", cred.Provider, strDeref(outcome.Error))
		}
	}
	return nil
}

// importEvent syncs one event to completion, parked behind the backfill flag
// for the duration.
func (b *BackfillEngine) importEvent(ctx context.Context, ev *models.RaceEvent) (int, error) {
	if err := b.events.SetInBackfill(ctx, ev.ID, true); err != nil {
		return 0, err
	}
	defer func() {
		if err := b.events.SetInBackfill(context.WithoutCancel(ctx), ev.ID, false); err != nil {
			b.logger.Warn("failed to release backfill flag", zap.String("event_id", ev.ID), zap.Error(err))
		}
	}()

	operations := []string{models.OperationSyncParticipants}
	if ev.ScheduledStart != nil && ev.ScheduledStart.Before(time.Now()) {
		operations = append(operations, models.OperationSyncResults)
	}

	records := 0
	for _, op := range operations {
		outcome, err := b.executePaced(ctx, WorkItem{
			PartnerID: ev.PartnerID,
			Provider:  ev.Provider,
			Operation: op,
			Event:     ev,
		})
		if err != nil {
			return records, err
		}
		records += outcome.Records
		if outcome.Status == models.OutcomeFailed {
			return records, fmt.Errorf("backfill of event %s failed on %s: %s", ev.ID, op, strDeref(outcome.Error))
		}
	}
	return records, nil
}

// executePaced waits out the pace interval before each provider-touching
// item and retries deferred items after a pause instead of giving up.
func (b *BackfillEngine) executePaced(ctx context.Context, item WorkItem) (*models.SyncOutcome, error) {
	for {
		if err := b.pacer.Wait(ctx); err != nil {
			return nil, err
		}
		outcome, err := b.executor.Execute(ctx, item)
		if errors.Is(err, ErrDeferred) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(deferredRetryWait):
				continue
			}
		}
		if err != nil {
			return nil, err
		}
		return outcome, nil
	}
}
