package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/racehub/raceday-worker/internal/models"
)

type CheckpointRepository struct {
	db *gorm.DB
}

func NewCheckpointRepository(db *gorm.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Get returns the checkpoint for a backfill scope, or nil when the scope has
// never run.
func (r *CheckpointRepository) Get(ctx context.Context, scope string) (*models.BackfillCheckpoint, error) {
	var cp models.BackfillCheckpoint
	result := r.db.WithContext(ctx).First(&cp, "scope = ?", scope)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", result.Error)
	}
	return &cp, nil
}

// Save upserts the checkpoint for a scope
func (r *CheckpointRepository) Save(ctx context.Context, cp *models.BackfillCheckpoint) error {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}},
		DoUpdates: clause.AssignmentColumns([]string{"cursor", "stats", "updated_at"}),
	}).Create(cp)
	if result.Error != nil {
		return fmt.Errorf("failed to save checkpoint: %w", result.Error)
	}
	return nil
}

// Delete removes a scope's checkpoint so the next run starts from scratch
func (r *CheckpointRepository) Delete(ctx context.Context, scope string) error {
	result := r.db.WithContext(ctx).Delete(&models.BackfillCheckpoint{}, "scope = ?", scope)
	if result.Error != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", result.Error)
	}
	return nil
}
