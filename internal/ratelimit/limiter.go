// Package ratelimit enforces per-credential call budgets with fixed rolling
// windows. One counter exists per key; a key is either "partner/provider"
// (the per-credential budget) or "provider" alone (a budget the provider
// enforces across the whole integration).
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// PartnerKey returns the per-credential budget key.
func PartnerKey(partnerID, provider string) string {
	return partnerID + "/" + provider
}

// ProviderKey returns the integration-wide budget key.
func ProviderKey(provider string) string {
	return provider
}

type budget struct {
	limit  int
	window time.Duration
}

type counter struct {
	used        int
	windowStart time.Time
}

// Limiter tracks call counts per key. Keys without a configured budget fall
// back to the default budget; a zero default means unlimited.
type Limiter struct {
	mu sync.Mutex

	defaultLimit  int
	defaultWindow time.Duration
	budgets       map[string]budget
	counters      map[string]*counter

	now func() time.Time
}

func New(defaultLimit int, defaultWindow time.Duration) *Limiter {
	return &Limiter{
		defaultLimit:  defaultLimit,
		defaultWindow: defaultWindow,
		budgets:       make(map[string]budget),
		counters:      make(map[string]*counter),
		now:           time.Now,
	}
}

// SetBudget configures the budget for one key. limit <= 0 removes the key's
// own budget so the default applies again.
func (l *Limiter) SetBudget(key string, limit int, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 {
		delete(l.budgets, key)
		return
	}
	if window <= 0 {
		window = l.defaultWindow
	}
	l.budgets[key] = budget{limit: limit, window: window}
}

// Acquire reserves cost calls against every key, all-or-nothing: if any key
// lacks headroom nothing is consumed and Acquire returns false. Non-blocking.
func (l *Limiter) Acquire(cost int, keys ...string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, key := range keys {
		if !l.hasHeadroom(key, cost, now) {
			return false
		}
	}
	for _, key := range keys {
		if _, limited := l.effectiveBudget(key); limited {
			l.counters[key].used += cost
		}
	}
	return true
}

// AcquireBlocking retries Acquire until it succeeds, the timeout elapses, or
// the context is cancelled. Used by the backfill path; live workers call
// Acquire and defer on denial instead of holding a pool slot.
func (l *Limiter) AcquireBlocking(ctx context.Context, timeout time.Duration, cost int, keys ...string) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()

	for {
		if l.Acquire(cost, keys...) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
		}
	}
}

// Remaining reports the unused budget for a key, or -1 when unlimited.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, limited := l.effectiveBudget(key)
	if !limited {
		return -1
	}
	c := l.counterFor(key, b, l.now())
	return b.limit - c.used
}

// hasHeadroom rolls the key's window forward if it has expired and reports
// whether cost more calls fit. Caller holds mu.
func (l *Limiter) hasHeadroom(key string, cost int, now time.Time) bool {
	b, limited := l.effectiveBudget(key)
	if !limited {
		return true
	}
	c := l.counterFor(key, b, now)
	return c.used+cost <= b.limit
}

func (l *Limiter) counterFor(key string, b budget, now time.Time) *counter {
	c, ok := l.counters[key]
	if !ok {
		c = &counter{windowStart: now}
		l.counters[key] = c
	}
	if now.Sub(c.windowStart) >= b.window {
		c.used = 0
		c.windowStart = now
	}
	return c
}

// effectiveBudget resolves the budget for a key. The default budget covers
// per-credential keys only; an integration-wide provider key is unlimited
// until explicitly configured, so a global cap never appears by accident.
func (l *Limiter) effectiveBudget(key string) (budget, bool) {
	if b, ok := l.budgets[key]; ok {
		return b, true
	}
	if l.defaultLimit > 0 && strings.Contains(key, "/") {
		return budget{limit: l.defaultLimit, window: l.defaultWindow}, true
	}
	return budget{}, false
}
