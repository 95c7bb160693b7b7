package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/racehub/raceday-worker/internal/models"
)

type OutcomeRepository struct {
	db *gorm.DB
}

func NewOutcomeRepository(db *gorm.DB) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

// Append writes one immutable outcome row. Outcomes are never updated or
// deleted.
func (r *OutcomeRepository) Append(ctx context.Context, outcome *models.SyncOutcome) error {
	if err := r.db.WithContext(ctx).Create(outcome).Error; err != nil {
		return fmt.Errorf("failed to append outcome: %w", err)
	}
	return nil
}

// ListRecentByPartner returns a partner's newest outcomes for the status
// surface.
func (r *OutcomeRepository) ListRecentByPartner(ctx context.Context, partnerID string, limit int) ([]models.SyncOutcome, error) {
	var outcomes []models.SyncOutcome
	result := r.db.WithContext(ctx).
		Where("partner_id = ?", partnerID).
		Order("finished_at DESC").
		Limit(limit).
		Find(&outcomes)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", result.Error)
	}
	return outcomes, nil
}

// ListRecentByEvent returns an event's newest outcomes
func (r *OutcomeRepository) ListRecentByEvent(ctx context.Context, eventID string, limit int) ([]models.SyncOutcome, error) {
	var outcomes []models.SyncOutcome
	result := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("finished_at DESC").
		Limit(limit).
		Find(&outcomes)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", result.Error)
	}
	return outcomes, nil
}
