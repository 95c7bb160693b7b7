package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/racehub/raceday-worker/internal/models"
)

var ErrPartnerNotFound = errors.New("timing partner not found")

type PartnerRepository struct {
	db *gorm.DB
}

func NewPartnerRepository(db *gorm.DB) *PartnerRepository {
	return &PartnerRepository{db: db}
}

// GetByID retrieves a partner by ID
func (r *PartnerRepository) GetByID(ctx context.Context, partnerID string) (*models.TimingPartner, error) {
	var partner models.TimingPartner
	result := r.db.WithContext(ctx).First(&partner, "id = ?", partnerID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrPartnerNotFound
		}
		return nil, fmt.Errorf("failed to get partner: %w", result.Error)
	}
	return &partner, nil
}

// ListEnabled retrieves all enabled partners ordered by creation time, so
// backfill iteration order is stable across runs.
func (r *PartnerRepository) ListEnabled(ctx context.Context) ([]models.TimingPartner, error) {
	var partners []models.TimingPartner
	result := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("created_at ASC").
		Find(&partners)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list partners: %w", result.Error)
	}
	return partners, nil
}
