package models

import "time"

// BackfillCheckpoint persists how far a backfill run has progressed so an
// interrupted run resumes after the last completed event. Scope is a partner
// id, or "all" for a full-fleet run.
type BackfillCheckpoint struct {
	Scope     string    `gorm:"column:scope;primaryKey"`
	Cursor    string    `gorm:"column:cursor"` // "<partnerID>/<eventID>" of the last completed unit
	Stats     JSONB     `gorm:"column:stats;type:jsonb"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (BackfillCheckpoint) TableName() string {
	return "backfill_checkpoint"
}
