package models

import "time"

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomePartial OutcomeStatus = "partial"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Error kinds recorded on failed/partial outcomes, mirroring the provider
// error taxonomy.
const (
	ErrKindAuth      = "auth"
	ErrKindRateLimit = "rate_limit"
	ErrKindTransient = "transient"
	ErrKindData      = "data"
	ErrKindTimeout   = "timeout"
)

// SyncOutcome is the append-only audit record for one executed work item.
type SyncOutcome struct {
	ID         string        `gorm:"column:id;primaryKey"`
	PartnerID  string        `gorm:"column:partner_id;index:idx_outcome_partner_time"`
	EventID    string        `gorm:"column:event_id;index"`
	Provider   string        `gorm:"column:provider"`
	Operation  string        `gorm:"column:operation"`
	Status     OutcomeStatus `gorm:"column:status"`
	ErrorKind  *string       `gorm:"column:error_kind"`
	Error      *string       `gorm:"column:error"`
	Records    int           `gorm:"column:records"`
	Pages      int           `gorm:"column:pages"`
	StartedAt  time.Time     `gorm:"column:started_at"`
	FinishedAt time.Time     `gorm:"column:finished_at;index:idx_outcome_partner_time"`
	CreatedAt  time.Time     `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (SyncOutcome) TableName() string {
	return "sync_outcome"
}
