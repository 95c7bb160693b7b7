package models

import "time"

type EventSyncStatus string

const (
	EventStatusActive  EventSyncStatus = "active"  // Eligible for scheduling
	EventStatusStopped EventSyncStatus = "stopped" // Sync window closed, excluded until re-armed
)

// Sync operation types carried on work items and outcomes.
const (
	OperationDiscover         = "discover"
	OperationSyncParticipants = "sync-participants"
	OperationSyncResults      = "sync-results"
)

// RaceEvent is one race as known to a provider. A reconciled duplicate keeps
// its own row (its data source and cursors stay distinguishable) but points
// at the first-seen row through CanonicalID; record upserts resolve to the
// canonical id.
type RaceEvent struct {
	ID                string     `gorm:"column:id;primaryKey"`
	PartnerID         string     `gorm:"column:partner_id;uniqueIndex:idx_event_origin;index:idx_event_partner_start"`
	Provider          string     `gorm:"column:provider;uniqueIndex:idx_event_origin"`
	ProviderEventID   string     `gorm:"column:provider_event_id;uniqueIndex:idx_event_origin"`
	DataSource        string     `gorm:"column:data_source;uniqueIndex:idx_event_origin"`
	Name              string     `gorm:"column:name"`
	ScheduledStart    *time.Time `gorm:"column:scheduled_start;index:idx_event_partner_start"`
	CanonicalID       *string    `gorm:"column:canonical_id;index"`
	DiscoveredAt      time.Time  `gorm:"column:discovered_at"`
	Watermark         *time.Time `gorm:"column:watermark"`
	ParticipantCursor *string    `gorm:"column:participant_cursor"`
	ResultCursor      *string    `gorm:"column:result_cursor"`
	SyncStatus        EventSyncStatus `gorm:"column:sync_status;index:idx_event_due"`
	NextDueAt         *time.Time `gorm:"column:next_due_at;index:idx_event_due"`
	InBackfill        bool       `gorm:"column:in_backfill"`
	ForceSync         bool       `gorm:"column:force_sync"`
	LastSyncedAt      *time.Time `gorm:"column:last_synced_at"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (RaceEvent) TableName() string {
	return "race_event"
}

// CanonicalEventID returns the id record rows should attach to: the linked
// canonical row when this event was reconciled as a duplicate, itself
// otherwise.
func (e *RaceEvent) CanonicalEventID() string {
	if e.CanonicalID != nil && *e.CanonicalID != "" {
		return *e.CanonicalID
	}
	return e.ID
}
