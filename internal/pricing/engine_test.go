package pricing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"

	"taproom/internal/core"
	"taproom/internal/model"
	"taproom/pkg/apperrors"
	"taproom/pkg/logging"
	"taproom/pkg/telemetry"
)

func init() {
	// Initialize telemetry for tests
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	meter := provider.Meter("test")
	_ = telemetry.GetGlobalMetrics().InitMetrics(meter)
}

type fakeSource struct {
	mu      sync.Mutex
	snap    *model.Snapshot
	failErr error
	commits int
}

func (f *fakeSource) Read() *model.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap.Clone()
}

func (f *fakeSource) Update(mutate func(snap *model.Snapshot) error) (*model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	candidate := f.snap.Clone()
	if err := mutate(candidate); err != nil {
		return nil, err
	}
	if f.failErr != nil {
		return nil, f.failErr
	}
	f.snap = candidate
	f.commits++
	return candidate.Clone(), nil
}

type captureBroadcaster struct {
	mu     sync.Mutex
	prices []core.PriceUpdate
	timers []core.TimerUpdate
}

func (c *captureBroadcaster) BroadcastPriceUpdate(update core.PriceUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices = append(c.prices, update)
}

func (c *captureBroadcaster) BroadcastTimerUpdate(update core.TimerUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers = append(c.timers, update)
}

func (c *captureBroadcaster) priceUpdates() []core.PriceUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.PriceUpdate(nil), c.prices...)
}

func newTestEngine(t *testing.T) (*Engine, *fakeSource, *captureBroadcaster) {
	t.Helper()
	source := &fakeSource{snap: model.DefaultSnapshot(time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC))}
	bc := &captureBroadcaster{}
	logger, _ := logging.NewZapLogger("ERROR")
	return NewEngine(source, bc, logger), source, bc
}

func TestForceUpdateCommitsAndBroadcasts(t *testing.T) {
	engine, source, bc := newTestEngine(t)
	source.snap.Drinks[0].SalesCount = 2

	changes, err := engine.ForceUpdate(context.Background())
	require.NoError(t, err)
	require.Contains(t, changes, 1)
	assert.Equal(t, 1, source.commits)

	updates := bc.priceUpdates()
	require.Len(t, updates, 1)
	assert.Len(t, updates[0].Drinks, 4)
	assert.Contains(t, updates[0].Changes, 1)

	// Sales were archived and reset in the committed snapshot.
	committed := source.Read()
	assert.Equal(t, 0, committed.Drinks[0].SalesCount)
	assert.Equal(t, 2, committed.Drinks[0].SalesHistory[0])
}

func TestForceUpdateNoBroadcastWithoutChanges(t *testing.T) {
	engine, source, bc := newTestEngine(t)
	// Pin every drink to its floor so a quiet cycle moves nothing.
	for i := range source.snap.Drinks {
		source.snap.Drinks[i].CurrentPrice = source.snap.Drinks[i].MinimumPrice
	}

	changes, err := engine.ForceUpdate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Empty(t, bc.priceUpdates())
	// The cycle still committed: histories shifted even without movement.
	assert.Equal(t, 1, source.commits)
}

func TestForceUpdateCommitFailureKeepsState(t *testing.T) {
	engine, source, bc := newTestEngine(t)
	source.snap.Drinks[0].SalesCount = 2
	source.failErr = errors.New("persist refused")

	_, err := engine.ForceUpdate(context.Background())
	require.Error(t, err)
	assert.Empty(t, bc.priceUpdates())

	// Nothing committed: the pending sales count survives for the retry.
	assert.Equal(t, 2, source.Read().Drinks[0].SalesCount)
	assert.Equal(t, 0, source.commits)
}

func TestStartStopGuards(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	assert.ErrorIs(t, engine.Stop(), apperrors.ErrEngineNotRunning)

	require.NoError(t, engine.Start(context.Background()))
	assert.True(t, engine.Running())
	assert.ErrorIs(t, engine.Start(context.Background()), apperrors.ErrEngineRunning)

	require.NoError(t, engine.Stop())
	assert.False(t, engine.Running())
	assert.ErrorIs(t, engine.Stop(), apperrors.ErrEngineNotRunning)
}

func TestStartUsesCommittedRefreshCycle(t *testing.T) {
	engine, source, _ := newTestEngine(t)
	source.snap.Settings.RefreshCycle = 90

	require.NoError(t, engine.Start(context.Background()))
	defer func() { _ = engine.Stop() }()

	status := engine.Status()
	assert.True(t, status.Running)
	assert.Equal(t, 90, status.RefreshCycle)
	assert.Equal(t, 90, status.TimeRemaining)
}

func TestUpdateRefreshCycleResetsCountdown(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	require.NoError(t, engine.Start(context.Background()))
	defer func() { _ = engine.Stop() }()

	engine.UpdateRefreshCycle(60)
	status := engine.Status()
	assert.Equal(t, 60, status.RefreshCycle)
	assert.LessOrEqual(t, status.TimeRemaining, 60)
}

func TestTimerBroadcastsWhileRunning(t *testing.T) {
	engine, _, bc := newTestEngine(t)
	require.NoError(t, engine.Start(context.Background()))

	assert.Eventually(t, func() bool {
		bc.mu.Lock()
		defer bc.mu.Unlock()
		return len(bc.timers) >= 1
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, engine.Stop())
}

func TestStatusCountsCycles(t *testing.T) {
	engine, source, _ := newTestEngine(t)
	source.snap.Drinks[0].SalesCount = 1

	_, err := engine.ForceUpdate(context.Background())
	require.NoError(t, err)
	_, err = engine.ForceUpdate(context.Background())
	require.NoError(t, err)

	status := engine.Status()
	assert.Equal(t, 2, status.CycleCount)
	assert.False(t, status.LastCycleAt.IsZero())
}

func TestStatusReportsNextRefreshAndJobs(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	status := engine.Status()
	assert.True(t, status.NextRefresh.IsZero())
	assert.Equal(t, 0, status.JobCount)

	require.NoError(t, engine.Start(context.Background()))
	defer func() { _ = engine.Stop() }()

	status = engine.Status()
	assert.Equal(t, 2, status.JobCount)
	expected := time.Now().Add(time.Duration(status.TimeRemaining) * time.Second)
	assert.WithinDuration(t, expected, status.NextRefresh, 2*time.Second)
}

func TestForceUpdateBusyDuringCycle(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	engine.mu.Lock()
	engine.inCycle = true
	engine.mu.Unlock()

	_, err := engine.ForceUpdate(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrCycleInProgress)
}
