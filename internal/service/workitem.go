package service

import (
	"errors"

	"github.com/racehub/raceday-worker/internal/models"
)

// ErrDeferred means the rate budget had no headroom before any work was
// done. The item stays a candidate and is reconsidered next cycle; no
// outcome is recorded.
var ErrDeferred = errors.New("sync deferred: rate budget exhausted")

// WorkItem is one unit of sync work, recomputed from store state each cycle
// rather than queued. Event is nil for discovery, which operates on the
// whole (partner, provider) credential.
type WorkItem struct {
	PartnerID string
	Provider  string
	Operation string
	Event     *models.RaceEvent
}

// EventID returns the event row id, or empty for discovery items.
func (w WorkItem) EventID() string {
	if w.Event == nil {
		return ""
	}
	return w.Event.ID
}
