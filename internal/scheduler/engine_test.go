package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/racehub/raceday-worker/internal/config"
	"github.com/racehub/raceday-worker/internal/models"
	"github.com/racehub/raceday-worker/internal/priority"
	"github.com/racehub/raceday-worker/internal/service"
)

type mockScheduleStore struct {
	mu         sync.Mutex
	candidates []models.RaceEvent

	nextDue map[string]time.Time
	stopped []string
	cleared []string
}

func (m *mockScheduleStore) ListDueCandidates(ctx context.Context, now time.Time, limit int) ([]models.RaceEvent, error) {
	if len(m.candidates) > limit {
		return m.candidates[:limit], nil
	}
	return m.candidates, nil
}

func (m *mockScheduleStore) SetNextDue(ctx context.Context, eventID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextDue == nil {
		m.nextDue = map[string]time.Time{}
	}
	m.nextDue[eventID] = at
	return nil
}

func (m *mockScheduleStore) MarkStopped(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, eventID)
	return nil
}

func (m *mockScheduleStore) ClearForceSync(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, eventID)
	return nil
}

type mockCredSource struct {
	creds []models.ProviderCredential
}

func (m *mockCredSource) ListEnabled(ctx context.Context) ([]models.ProviderCredential, error) {
	return m.creds, nil
}

type countingExecutor struct {
	mu      sync.Mutex
	execute func(ctx context.Context, item service.WorkItem) (*models.SyncOutcome, error)
	items   []service.WorkItem
}

func (m *countingExecutor) Execute(ctx context.Context, item service.WorkItem) (*models.SyncOutcome, error) {
	m.mu.Lock()
	m.items = append(m.items, item)
	m.mu.Unlock()
	if m.execute != nil {
		return m.execute(ctx, item)
	}
	return &models.SyncOutcome{Status: models.OutcomeSuccess}, nil
}

type engineHarness struct {
	store    *mockScheduleStore
	creds    *mockCredSource
	executor *countingExecutor
	breaker  *Breaker
	cfg      config.SchedulerConfig
	engine   *Engine
}

func newEngineHarness(cfg config.SchedulerConfig) *engineHarness {
	h := &engineHarness{
		store:    &mockScheduleStore{},
		creds:    &mockCredSource{},
		executor: &countingExecutor{},
		breaker:  NewBreaker(cfg.Breaker),
		cfg:      cfg,
	}
	h.engine = NewEngine(
		h.store, h.creds, h.executor,
		priority.NewClassifier(cfg.Priority), h.breaker, cfg, zap.NewNop(),
	)
	return h
}

func eventStartingIn(offset time.Duration) models.RaceEvent {
	start := time.Now().Add(offset)
	return models.RaceEvent{
		ID:              uuid.New().String(),
		PartnerID:       "partner-1",
		Provider:        "runreg",
		ProviderEventID: uuid.New().String(),
		DataSource:      "registration-api",
		ScheduledStart:  &start,
		SyncStatus:      models.EventStatusActive,
	}
}

func TestRunCycle_TierCapBoundsDispatch(t *testing.T) {
	cfg := config.DefaultSchedulerConfig()
	cfg.TierCaps = config.TierCaps{High: 50, Medium: 20, Low: 10}
	h := newEngineHarness(cfg)

	// A flood of far-future events, every one due at once.
	for i := 0; i < 1000; i++ {
		h.store.candidates = append(h.store.candidates, eventStartingIn(30*24*time.Hour))
	}

	stats, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Len(t, h.executor.items, 10, "low tier cap bounds the batch")
	assert.Equal(t, 10, stats.Dispatched)
	assert.Equal(t, stats.Candidates-10, stats.Overflow)

	seen := map[string]bool{}
	for _, item := range h.executor.items {
		assert.False(t, seen[item.EventID()], "no event dispatched twice in one cycle")
		seen[item.EventID()] = true
		require.Contains(t, h.store.nextDue, item.EventID(), "dispatched events are rescheduled")
	}
	assert.Len(t, h.store.nextDue, 10, "undispatched events keep their due time")
}

func TestRunCycle_HighTierRunsFirst(t *testing.T) {
	cfg := config.DefaultSchedulerConfig()
	cfg.Workers = 1
	h := newEngineHarness(cfg)

	low1 := eventStartingIn(30 * 24 * time.Hour)
	high1 := eventStartingIn(time.Hour)
	low2 := eventStartingIn(20 * 24 * time.Hour)
	high2 := eventStartingIn(2 * time.Hour)
	h.store.candidates = []models.RaceEvent{low1, high1, low2, high2}

	_, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, h.executor.items, 4)
	firstTwo := []string{h.executor.items[0].EventID(), h.executor.items[1].EventID()}
	assert.ElementsMatch(t, []string{high1.ID, high2.ID}, firstTwo, "high tier drains before low")
}

func TestRunCycle_PastWindowMarkedStopped(t *testing.T) {
	cfg := config.DefaultSchedulerConfig() // 1h post-event grace
	h := newEngineHarness(cfg)

	done := eventStartingIn(-3 * time.Hour)
	h.store.candidates = []models.RaceEvent{done}

	stats, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Stopped)
	assert.Empty(t, h.executor.items, "stopped events are not dispatched")
	assert.Equal(t, []string{done.ID}, h.store.stopped)
}

func TestRunCycle_ForceSyncOutranksStopped(t *testing.T) {
	cfg := config.DefaultSchedulerConfig()
	h := newEngineHarness(cfg)

	rearmed := eventStartingIn(-3 * time.Hour)
	rearmed.ForceSync = true
	h.store.candidates = []models.RaceEvent{rearmed}

	stats, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Dispatched, "manual trigger runs even past the window")
	require.Len(t, h.executor.items, 1)
	assert.Equal(t, models.OperationSyncResults, h.executor.items[0].Operation)

	assert.Equal(t, []string{rearmed.ID}, h.store.cleared, "force flag cleared after the run")
	assert.Equal(t, []string{rearmed.ID}, h.store.stopped, "event parks again once the forced run is done")
}

func TestRunCycle_OpenCircuitSkips(t *testing.T) {
	cfg := config.DefaultSchedulerConfig()
	h := newEngineHarness(cfg)

	for i := 0; i < cfg.Breaker.Threshold; i++ {
		h.breaker.Failure("partner-1", "runreg")
	}
	h.store.candidates = []models.RaceEvent{eventStartingIn(time.Hour)}

	stats, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, h.executor.items)
}

func TestRunCycle_DeferredKeepsDueTime(t *testing.T) {
	cfg := config.DefaultSchedulerConfig()
	h := newEngineHarness(cfg)

	h.store.candidates = []models.RaceEvent{eventStartingIn(time.Hour)}
	h.executor.execute = func(ctx context.Context, item service.WorkItem) (*models.SyncOutcome, error) {
		return nil, service.ErrDeferred
	}

	stats, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Deferred)
	assert.Equal(t, 0, stats.Dispatched)
	assert.Empty(t, h.store.nextDue, "deferred items stay due for the next cycle")
}

func TestRunCycle_DiscoveryHonorsInterval(t *testing.T) {
	cfg := config.DefaultSchedulerConfig()
	h := newEngineHarness(cfg)

	h.creds.creds = []models.ProviderCredential{
		{PartnerID: "partner-1", Provider: "runreg", Enabled: true},
		{PartnerID: "partner-1", Provider: "chronofeed", Enabled: true},
	}

	_, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)

	discoveries := 0
	for _, item := range h.executor.items {
		if item.Operation == models.OperationDiscover {
			discoveries++
		}
	}
	assert.Equal(t, 2, discoveries, "one discovery per credential")

	// Immediately after, every credential is inside the interval.
	h.executor.items = nil
	_, err = h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.executor.items)
}

func TestRunCycle_OperationFollowsEventPhase(t *testing.T) {
	cfg := config.DefaultSchedulerConfig()
	h := newEngineHarness(cfg)

	upcoming := eventStartingIn(2 * time.Hour)
	running := eventStartingIn(-30 * time.Minute) // inside the 1h grace
	h.store.candidates = []models.RaceEvent{upcoming, running}

	_, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)

	ops := map[string]string{}
	for _, item := range h.executor.items {
		ops[item.EventID()] = item.Operation
	}
	assert.Equal(t, models.OperationSyncParticipants, ops[upcoming.ID])
	assert.Equal(t, models.OperationSyncResults, ops[running.ID])
}

func TestRunCycle_RescheduleMatchesTierInterval(t *testing.T) {
	cfg := config.DefaultSchedulerConfig()
	h := newEngineHarness(cfg)

	medium := eventStartingIn(12 * time.Hour)
	h.store.candidates = []models.RaceEvent{medium}

	_, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)

	due, ok := h.store.nextDue[medium.ID]
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), due, 5*time.Second,
		"medium tier syncs every five minutes")
}

func TestRunCycle_AuthFailuresOpenCircuit(t *testing.T) {
	cfg := config.DefaultSchedulerConfig()
	h := newEngineHarness(cfg)

	kind := models.ErrKindAuth
	h.executor.execute = func(ctx context.Context, item service.WorkItem) (*models.SyncOutcome, error) {
		msg := fmt.Sprintf("%s auth failed", item.Provider)
		return &models.SyncOutcome{Status: models.OutcomeFailed, ErrorKind: &kind, Error: &msg}, nil
	}

	for i := 0; i < cfg.Breaker.Threshold; i++ {
		h.store.candidates = []models.RaceEvent{eventStartingIn(time.Hour)}
		_, err := h.engine.RunCycle(context.Background())
		require.NoError(t, err)
	}

	assert.False(t, h.breaker.Allow("partner-1", "runreg"),
		"repeated auth failures open the circuit")
}
