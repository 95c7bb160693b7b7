package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/racehub/raceday-worker/internal/models"
)

type ParticipantRepository struct {
	db *gorm.DB
}

func NewParticipantRepository(db *gorm.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

// Upsert writes participants by their natural key (event, data source,
// provider participant id). Re-running the same page is a no-op apart from
// refreshed field values, which keeps the executor idempotent without any
// dedup logic of its own.
func (r *ParticipantRepository) Upsert(ctx context.Context, participants []models.Participant) error {
	if len(participants) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "event_id"},
			{Name: "data_source"},
			{Name: "provider_participant_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"bib", "first_name", "last_name", "division", "reg_status",
			"source_updated_at", "updated_at",
		}),
	}).Create(&participants)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert participants: %w", result.Error)
	}
	return nil
}

// CountByEvent returns the number of stored participants for an event
func (r *ParticipantRepository) CountByEvent(ctx context.Context, eventID string) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.Participant{}).
		Where("event_id = ?", eventID).
		Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count participants: %w", result.Error)
	}
	return count, nil
}
