package models

import "time"

// TimingPartner is an isolated customer account. Every credential, event,
// and record row belongs to exactly one partner.
type TimingPartner struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Name      string    `gorm:"column:name"`
	Enabled   bool      `gorm:"column:enabled;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (TimingPartner) TableName() string {
	return "timing_partner"
}
