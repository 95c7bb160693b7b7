package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/racehub/raceday-worker/internal/models"
)

type ResultRepository struct {
	db *gorm.DB
}

func NewResultRepository(db *gorm.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// Upsert writes results by natural key, same discipline as participants.
func (r *ResultRepository) Upsert(ctx context.Context, results []models.RaceResult) error {
	if len(results) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "event_id"},
			{Name: "data_source"},
			{Name: "provider_participant_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"place", "chip_seconds", "gun_seconds", "finished_at",
			"source_updated_at", "updated_at",
		}),
	}).Create(&results)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert results: %w", result.Error)
	}
	return nil
}

// CountByEvent returns the number of stored results for an event
func (r *ResultRepository) CountByEvent(ctx context.Context, eventID string) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.RaceResult{}).
		Where("event_id = ?", eventID).
		Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count results: %w", result.Error)
	}
	return count, nil
}
