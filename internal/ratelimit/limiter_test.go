package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BudgetExhaustionAndRollover(t *testing.T) {
	now := time.Date(2026, 5, 16, 12, 0, 0, 0, time.UTC)
	l := New(100, time.Hour)
	l.now = func() time.Time { return now }

	key := PartnerKey("partner-1", "runreg")

	for i := 0; i < 100; i++ {
		require.True(t, l.Acquire(1, key), "acquire %d should succeed", i+1)
	}

	// 101st call in the same window is denied
	assert.False(t, l.Acquire(1, key))
	assert.Equal(t, 0, l.Remaining(key))

	// Window rollover resets the counter
	now = now.Add(time.Hour)
	assert.True(t, l.Acquire(1, key))
	assert.Equal(t, 99, l.Remaining(key))
}

func TestLimiter_AllOrNothingAcrossKeys(t *testing.T) {
	l := New(0, time.Hour)
	l.SetBudget(PartnerKey("p1", "runreg"), 10, time.Hour)
	l.SetBudget(ProviderKey("runreg"), 5, time.Hour)

	tenantKey := PartnerKey("p1", "runreg")
	globalKey := ProviderKey("runreg")

	for i := 0; i < 5; i++ {
		require.True(t, l.Acquire(1, tenantKey, globalKey))
	}

	// Global budget is spent; the tenant budget must not be debited by the
	// failed attempt.
	assert.False(t, l.Acquire(1, tenantKey, globalKey))
	assert.Equal(t, 5, l.Remaining(tenantKey))
}

func TestLimiter_GlobalKeyUnlimitedUnlessConfigured(t *testing.T) {
	l := New(100, time.Hour)

	// Provider-wide key has no configured budget: never throttled by the
	// per-credential default.
	assert.Equal(t, -1, l.Remaining(ProviderKey("runreg")))
	for i := 0; i < 500; i++ {
		require.True(t, l.Acquire(1, ProviderKey("runreg")))
	}
}

func TestLimiter_CostAboveRemainingDenied(t *testing.T) {
	l := New(0, time.Hour)
	key := PartnerKey("p1", "chronofeed")
	l.SetBudget(key, 3, time.Hour)

	assert.True(t, l.Acquire(2, key))
	assert.False(t, l.Acquire(2, key))
	assert.True(t, l.Acquire(1, key))
}

func TestLimiter_ConcurrentAcquire(t *testing.T) {
	l := New(0, time.Hour)
	key := PartnerKey("p1", "runreg")
	l.SetBudget(key, 100, time.Hour)

	var granted int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if l.Acquire(1, key) {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	// Exactly the budget is granted regardless of interleaving.
	assert.Equal(t, int64(100), granted)
	assert.Equal(t, 0, l.Remaining(key))
}

func TestLimiter_AcquireBlockingTimeout(t *testing.T) {
	l := New(0, time.Hour)
	key := PartnerKey("p1", "runreg")
	l.SetBudget(key, 1, time.Hour)
	require.True(t, l.Acquire(1, key))

	start := time.Now()
	ok := l.AcquireBlocking(context.Background(), 300*time.Millisecond, 1, key)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestLimiter_AcquireBlockingSucceedsAfterRollover(t *testing.T) {
	l := New(0, 200*time.Millisecond)
	key := PartnerKey("p1", "runreg")
	l.SetBudget(key, 1, 200*time.Millisecond)
	require.True(t, l.Acquire(1, key))

	ok := l.AcquireBlocking(context.Background(), 2*time.Second, 1, key)
	assert.True(t, ok)
}
