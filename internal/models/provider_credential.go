package models

import "time"

// ProviderCredential holds one partner's API principal for one provider.
// Created at onboarding and rotated by the admin flow; the worker only
// reads these rows.
type ProviderCredential struct {
	ID           string     `gorm:"column:id;primaryKey"`
	PartnerID    string     `gorm:"column:partner_id;uniqueIndex:idx_cred_partner_provider"`
	Provider     string     `gorm:"column:provider;uniqueIndex:idx_cred_partner_provider"`
	Principal    string     `gorm:"column:principal"`
	Secret       *string    `gorm:"column:secret"`
	RefreshToken *string    `gorm:"column:refresh_token"`
	BaseURL      string     `gorm:"column:base_url"`
	RateBudget   int        `gorm:"column:rate_budget"` // calls per window, 0 = provider default
	TimeoutSecs  int        `gorm:"column:timeout_secs"`
	Enabled      bool       `gorm:"column:enabled;index"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	RotatedAt    *time.Time `gorm:"column:rotated_at"`
}

// TableName specifies the table name for GORM
func (ProviderCredential) TableName() string {
	return "provider_credential"
}
