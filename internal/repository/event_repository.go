package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/racehub/raceday-worker/internal/models"
)

var ErrEventNotFound = errors.New("race event not found")

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts a newly discovered event
func (r *EventRepository) Create(ctx context.Context, event *models.RaceEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// GetByID retrieves an event by ID
func (r *EventRepository) GetByID(ctx context.Context, eventID string) (*models.RaceEvent, error) {
	var event models.RaceEvent
	result := r.db.WithContext(ctx).First(&event, "id = ?", eventID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", result.Error)
	}
	return &event, nil
}

// GetByOrigin retrieves the event row for one provider-local id and source
func (r *EventRepository) GetByOrigin(ctx context.Context, partnerID, provider, providerEventID, dataSource string) (*models.RaceEvent, error) {
	var event models.RaceEvent
	result := r.db.WithContext(ctx).
		First(&event, "partner_id = ? AND provider = ? AND provider_event_id = ? AND data_source = ?",
			partnerID, provider, providerEventID, dataSource)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event by origin: %w", result.Error)
	}
	return &event, nil
}

// ListDueCandidates returns active events whose next due time has passed,
// soonest-starting first. One indexed scan regardless of partner count;
// events parked in backfill are excluded so the live cycle and the backfill
// never touch the same event concurrently.
func (r *EventRepository) ListDueCandidates(ctx context.Context, now time.Time, limit int) ([]models.RaceEvent, error) {
	var events []models.RaceEvent
	result := r.db.WithContext(ctx).
		Where("sync_status = ? AND in_backfill = ?", models.EventStatusActive, false).
		Where("next_due_at IS NULL OR next_due_at <= ?", now).
		Order("scheduled_start ASC").
		Limit(limit).
		Find(&events)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list due candidates: %w", result.Error)
	}
	return events, nil
}

// FindByStartWindow returns a partner's events starting inside [from, to],
// oldest discovery first. Backs the duplicate reconciler's indexed lookup.
func (r *EventRepository) FindByStartWindow(ctx context.Context, partnerID string, from, to time.Time) ([]models.RaceEvent, error) {
	var events []models.RaceEvent
	result := r.db.WithContext(ctx).
		Where("partner_id = ? AND scheduled_start >= ? AND scheduled_start <= ?", partnerID, from, to).
		Order("discovered_at ASC").
		Find(&events)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find events by start window: %w", result.Error)
	}
	return events, nil
}

// ListBackfillTargets returns a partner's events that have never completed a
// sync, earliest start first. These are what a historical import walks.
func (r *EventRepository) ListBackfillTargets(ctx context.Context, partnerID string) ([]models.RaceEvent, error) {
	var events []models.RaceEvent
	result := r.db.WithContext(ctx).
		Where("partner_id = ? AND last_synced_at IS NULL", partnerID).
		Order("scheduled_start ASC").
		Find(&events)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list backfill targets: %w", result.Error)
	}
	return events, nil
}

// UpdateSyncProgress advances the watermark and the operation's page cursor
// after a sync run. A nil watermark leaves the stored watermark untouched.
func (r *EventRepository) UpdateSyncProgress(ctx context.Context, eventID, operation string, watermark *time.Time, cursor *string) error {
	updates := map[string]interface{}{
		"last_synced_at": time.Now(),
		"updated_at":     time.Now(),
	}
	if watermark != nil {
		updates["watermark"] = *watermark
	}
	switch operation {
	case models.OperationSyncParticipants:
		updates["participant_cursor"] = cursor
	case models.OperationSyncResults:
		updates["result_cursor"] = cursor
	}

	result := r.db.WithContext(ctx).Model(&models.RaceEvent{}).
		Where("id = ?", eventID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update sync progress: %w", result.Error)
	}
	return nil
}

// SetNextDue schedules the event's next consideration time
func (r *EventRepository) SetNextDue(ctx context.Context, eventID string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.RaceEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{"next_due_at": at, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to set next due: %w", result.Error)
	}
	return nil
}

// MarkStopped excludes an event from scheduling once its sync window closes
func (r *EventRepository) MarkStopped(ctx context.Context, eventID string) error {
	result := r.db.WithContext(ctx).Model(&models.RaceEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"sync_status": models.EventStatusStopped,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark event stopped: %w", result.Error)
	}
	return nil
}

// SetInBackfill parks or releases an event for backfill processing
func (r *EventRepository) SetInBackfill(ctx context.Context, eventID string, inBackfill bool) error {
	result := r.db.WithContext(ctx).Model(&models.RaceEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{"in_backfill": inBackfill, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to set backfill flag: %w", result.Error)
	}
	return nil
}

// ClearForceSync drops the manual-trigger flag once the event is dispatched
func (r *EventRepository) ClearForceSync(ctx context.Context, eventID string) error {
	result := r.db.WithContext(ctx).Model(&models.RaceEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{"force_sync": false, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to clear force sync: %w", result.Error)
	}
	return nil
}

// ForceSyncNow re-arms an event and makes it due immediately at the highest
// priority. Backs the operator trigger surface.
func (r *EventRepository) ForceSyncNow(ctx context.Context, partnerID, eventID string) error {
	result := r.db.WithContext(ctx).Model(&models.RaceEvent{}).
		Where("id = ? AND partner_id = ?", eventID, partnerID).
		Updates(map[string]interface{}{
			"force_sync":  true,
			"next_due_at": time.Now(),
			"sync_status": models.EventStatusActive,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to force sync: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}
