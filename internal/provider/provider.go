// Package provider defines the uniform contract every registration/timing
// integration implements. The scheduler and executor are provider-agnostic;
// they see only this interface and its error taxonomy.
package provider

import (
	"context"
	"time"

	"github.com/racehub/raceday-worker/internal/models"
)

// Session is an authenticated handle returned by Authenticate and passed back
// on every call. Its concrete type is owned by the adapter.
type Session interface{}

// RemoteEvent is one race as listed by a provider.
type RemoteEvent struct {
	ProviderEventID string
	Name            string
	ScheduledStart  *time.Time
}

// RemoteParticipant is one registration row as returned by a provider.
type RemoteParticipant struct {
	ProviderParticipantID string
	Bib                   *string
	FirstName             string
	LastName              string
	Division              *string
	RegStatus             *string
	UpdatedAt             *time.Time
}

// RemoteResult is one finish-line row as returned by a provider.
type RemoteResult struct {
	ProviderParticipantID string
	Place                 *int
	ChipSeconds           *float64
	GunSeconds            *float64
	FinishedAt            *time.Time
	UpdatedAt             *time.Time
}

// EventPage is one page of a paginated event listing. An empty NextCursor
// signals completion.
type EventPage struct {
	Events     []RemoteEvent
	NextCursor string
}

// ParticipantPage is one page of participants. RowErrors holds row-scoped
// decode failures; the rest of the page is still usable.
type ParticipantPage struct {
	Participants []RemoteParticipant
	NextCursor   string
	RowErrors    []error
}

// ResultPage mirrors ParticipantPage for results.
type ResultPage struct {
	Results    []RemoteResult
	NextCursor string
	RowErrors  []error
}

// Adapter is the capability set each provider integration implements.
// Adapters return the distinguished error types in errors.go so callers can
// apply the matching recovery policy.
type Adapter interface {
	// Name is the provider identifier credentials reference.
	Name() string

	// DataSource tags rows produced by this adapter so two origins for the
	// same race stay distinguishable.
	DataSource() string

	Authenticate(ctx context.Context, cred *models.ProviderCredential) (Session, error)

	ListEvents(ctx context.Context, s Session, cursor string, limit int) (*EventPage, error)

	// ListParticipants returns registrations updated since the watermark.
	// A nil since means a full fetch.
	ListParticipants(ctx context.Context, s Session, providerEventID string, since *time.Time, cursor string, limit int) (*ParticipantPage, error)

	// ListResults returns results updated since the watermark.
	ListResults(ctx context.Context, s Session, providerEventID string, since *time.Time, cursor string, limit int) (*ResultPage, error)
}
