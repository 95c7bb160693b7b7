package models

import "time"

// RaceResult is one timing/result row for an event, upserted by the same
// natural key shape as participants.
type RaceResult struct {
	ID                    string     `gorm:"column:id;primaryKey"`
	EventID               string     `gorm:"column:event_id;uniqueIndex:idx_result_natural"`
	DataSource            string     `gorm:"column:data_source;uniqueIndex:idx_result_natural"`
	ProviderParticipantID string     `gorm:"column:provider_participant_id;uniqueIndex:idx_result_natural"`
	PartnerID             string     `gorm:"column:partner_id;index"`
	Provider              string     `gorm:"column:provider"`
	Place                 *int       `gorm:"column:place"`
	ChipSeconds           *float64   `gorm:"column:chip_seconds"`
	GunSeconds            *float64   `gorm:"column:gun_seconds"`
	FinishedAt            *time.Time `gorm:"column:finished_at"`
	SourceUpdatedAt       *time.Time `gorm:"column:source_updated_at"`
	CreatedAt             time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (RaceResult) TableName() string {
	return "race_result"
}
