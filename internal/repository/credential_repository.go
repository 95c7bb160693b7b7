package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/racehub/raceday-worker/internal/models"
)

var ErrCredentialNotFound = errors.New("provider credential not found")

type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Get retrieves the enabled credential for one (partner, provider) pair
func (r *CredentialRepository) Get(ctx context.Context, partnerID, provider string) (*models.ProviderCredential, error) {
	var cred models.ProviderCredential
	result := r.db.WithContext(ctx).
		First(&cred, "partner_id = ? AND provider = ? AND enabled = ?", partnerID, provider, true)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", result.Error)
	}
	return &cred, nil
}

// ListEnabled retrieves every enabled credential across partners, the set
// discovery iterates each interval
func (r *CredentialRepository) ListEnabled(ctx context.Context) ([]models.ProviderCredential, error) {
	var creds []models.ProviderCredential
	result := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("partner_id ASC, provider ASC").
		Find(&creds)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", result.Error)
	}
	return creds, nil
}

// ListEnabledByPartner retrieves all enabled credentials for a partner
func (r *CredentialRepository) ListEnabledByPartner(ctx context.Context, partnerID string) ([]models.ProviderCredential, error) {
	var creds []models.ProviderCredential
	result := r.db.WithContext(ctx).
		Where("partner_id = ? AND enabled = ?", partnerID, true).
		Order("provider ASC").
		Find(&creds)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", result.Error)
	}
	return creds, nil
}
