// Package scheduler drives the repeating sync cycle: pick due events, rank
// them, and run a bounded batch through the executor.
package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/racehub/raceday-worker/internal/config"
)

// Breaker trips a (partner, provider) pair after repeated failures that
// retrying cannot help, auth errors above all, and keeps the pair out of
// scheduling for a cooldown. State is in-memory only; a restart closes every
// circuit, which at worst costs one wasted attempt per pair.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	circuits  map[string]*circuit

	now func() time.Time
}

type circuit struct {
	failures int
	openedAt time.Time
}

// CircuitStatus is one pair's state as reported on the operator surface.
type CircuitStatus struct {
	Key      string     `json:"key"`
	Failures int        `json:"failures"`
	Open     bool       `json:"open"`
	RetryAt  *time.Time `json:"retry_at,omitempty"`
}

func NewBreaker(cfg config.BreakerConfig) *Breaker {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 3
	}
	cooldown := cfg.Cooldown.Std()
	if cooldown <= 0 {
		cooldown = 10 * time.Minute
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		circuits:  make(map[string]*circuit),
		now:       time.Now,
	}
}

func breakerKey(partnerID, provider string) string {
	return partnerID + "/" + provider
}

// Allow reports whether the pair may be scheduled. An open circuit closes
// again once the cooldown has elapsed.
func (b *Breaker) Allow(partnerID, provider string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[breakerKey(partnerID, provider)]
	if !ok || c.openedAt.IsZero() {
		return true
	}
	if b.now().Sub(c.openedAt) >= b.cooldown {
		c.failures = 0
		c.openedAt = time.Time{}
		return true
	}
	return false
}

// Failure records a breaking failure; at the threshold the circuit opens.
func (b *Breaker) Failure(partnerID, provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := breakerKey(partnerID, provider)
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}
	c.failures++
	if c.failures >= b.threshold && c.openedAt.IsZero() {
		c.openedAt = b.now()
	}
}

// Success closes the pair's circuit and clears its failure count.
func (b *Breaker) Success(partnerID, provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.circuits, breakerKey(partnerID, provider))
}

// Snapshot returns every tracked circuit, sorted by key for stable output.
func (b *Breaker) Snapshot() []CircuitStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	statuses := make([]CircuitStatus, 0, len(b.circuits))
	for key, c := range b.circuits {
		status := CircuitStatus{Key: key, Failures: c.failures}
		if !c.openedAt.IsZero() {
			retryAt := c.openedAt.Add(b.cooldown)
			if b.now().Before(retryAt) {
				status.Open = true
				status.RetryAt = &retryAt
			}
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Key < statuses[j].Key })
	return statuses
}
