package models

import "time"

// Participant is one registration row for an event, keyed by the
// provider-local participant id so repeated syncs upsert in place.
type Participant struct {
	ID                    string     `gorm:"column:id;primaryKey"`
	EventID               string     `gorm:"column:event_id;uniqueIndex:idx_participant_natural"`
	DataSource            string     `gorm:"column:data_source;uniqueIndex:idx_participant_natural"`
	ProviderParticipantID string     `gorm:"column:provider_participant_id;uniqueIndex:idx_participant_natural"`
	PartnerID             string     `gorm:"column:partner_id;index"`
	Provider              string     `gorm:"column:provider"`
	Bib                   *string    `gorm:"column:bib"`
	FirstName             string     `gorm:"column:first_name"`
	LastName              string     `gorm:"column:last_name"`
	Division              *string    `gorm:"column:division"`
	RegStatus             *string    `gorm:"column:reg_status"`
	SourceUpdatedAt       *time.Time `gorm:"column:source_updated_at"`
	CreatedAt             time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Participant) TableName() string {
	return "participant"
}
