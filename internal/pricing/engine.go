package pricing

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	tracetype "go.opentelemetry.io/otel/trace"

	"taproom/internal/core"
	"taproom/internal/model"
	"taproom/pkg/apperrors"
	"taproom/pkg/telemetry"
)

// StateSource is the slice of the state store the engine needs: read the
// committed snapshot and run one committed mutation.
type StateSource interface {
	Read() *model.Snapshot
	Update(mutate func(snap *model.Snapshot) error) (*model.Snapshot, error)
}

// Engine drives the refresh cycle: a one-second tick feeds countdown events
// to displays, and when the countdown reaches zero one pricing pass runs
// through the state store's commit path.
type Engine struct {
	state       StateSource
	broadcaster core.Broadcaster
	logger      core.ILogger
	tracer      tracetype.Tracer
	metrics     *telemetry.MetricsHolder

	mu           sync.Mutex
	running      bool
	inCycle      bool
	refreshCycle int
	remaining    int
	cycleCount   int
	lastCycleAt  time.Time
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewEngine creates a stopped engine. The refresh cycle length comes from
// the committed settings at Start time.
func NewEngine(state StateSource, broadcaster core.Broadcaster, logger core.ILogger) *Engine {
	if broadcaster == nil {
		broadcaster = core.NopBroadcaster{}
	}
	return &Engine{
		state:       state,
		broadcaster: broadcaster,
		logger:      logger.WithField("component", "price_engine"),
		tracer:      telemetry.GetTracer("price_engine"),
		metrics:     telemetry.GetGlobalMetrics(),
	}
}

// Start launches the cycle loop. Starting a running engine is an error.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return apperrors.ErrEngineRunning
	}

	cycle := e.state.Read().Settings.RefreshCycle
	runCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.refreshCycle = cycle
	e.remaining = cycle
	e.cancel = cancel
	e.done = make(chan struct{})
	e.metrics.SetEngineRunning(true)
	e.metrics.SetRefreshCycle(int64(cycle))

	go e.loop(runCtx)

	e.logger.Info("Price engine started", "refresh_cycle", cycle)
	return nil
}

// Stop halts the loop and waits for it to exit.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return apperrors.ErrEngineNotRunning
	}
	cancel, done := e.cancel, e.done
	e.running = false
	e.mu.Unlock()

	cancel()
	<-done
	e.metrics.SetEngineRunning(false)
	e.logger.Info("Price engine stopped")
	return nil
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)

	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	health := time.NewTicker(30 * time.Second)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-health.C:
			e.observeState()
		case <-tick.C:
			fire := false
			e.mu.Lock()
			e.remaining--
			if e.remaining <= 0 {
				e.remaining = e.refreshCycle
				fire = true
			}
			cycle, remaining := e.refreshCycle, e.remaining
			e.mu.Unlock()

			e.broadcaster.BroadcastTimerUpdate(core.TimerUpdate{
				RefreshCycle:  cycle,
				TimeRemaining: remaining,
			})
			if fire {
				e.runCycle(ctx)
			}
		}
	}
}

// ForceUpdate runs one pricing pass immediately without touching the
// countdown. Works whether or not the loop is running.
func (e *Engine) ForceUpdate(ctx context.Context) (map[int]core.PriceChange, error) {
	return e.runCycle(ctx)
}

func (e *Engine) runCycle(ctx context.Context) (map[int]core.PriceChange, error) {
	e.mu.Lock()
	if e.inCycle {
		e.mu.Unlock()
		e.logger.Warn("Price cycle already in progress, skipping")
		return nil, apperrors.ErrCycleInProgress
	}
	e.inCycle = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.inCycle = false
		e.mu.Unlock()
	}()

	ctx, span := e.tracer.Start(ctx, "price_cycle")
	defer span.End()
	start := time.Now()

	var changes map[int]core.PriceChange
	committed, err := e.state.Update(func(snap *model.Snapshot) error {
		changes = ApplyCycle(snap)
		return nil
	})
	if err != nil {
		// The previous snapshot is still authoritative; the next tick
		// will try again.
		span.RecordError(err)
		e.metrics.PersistFailuresTotal.Add(ctx, 1)
		e.logger.Error("Price cycle commit failed, keeping previous prices", "error", err)
		return nil, err
	}

	e.mu.Lock()
	e.cycleCount++
	e.lastCycleAt = time.Now()
	e.mu.Unlock()

	elapsed := time.Since(start)
	e.metrics.PriceCyclesTotal.Add(ctx, 1)
	e.metrics.PriceCycleDuration.Record(ctx, float64(elapsed.Milliseconds()))
	e.metrics.PriceChangesTotal.Add(ctx, int64(len(changes)),
		metric.WithAttributes(attribute.Int("drinks", len(committed.Drinks))))
	for _, d := range committed.Drinks {
		e.metrics.SetDrinkPrice(d.Name, d.CurrentPrice.InexactFloat64())
	}
	e.metrics.SetDrinkCount(int64(len(committed.Drinks)))
	span.SetAttributes(attribute.Int("changes", len(changes)))

	if len(changes) > 0 {
		e.broadcaster.BroadcastPriceUpdate(core.PriceUpdate{
			Timestamp: time.Now(),
			Drinks:    committed.Drinks,
			Changes:   changes,
		})
	}

	e.logger.Info("Price cycle complete",
		"changes", len(changes), "drinks", len(committed.Drinks), "elapsed", elapsed)
	return changes, nil
}

// UpdateRefreshCycle changes the cycle length and restarts the countdown.
// The settings themselves are updated through the state store by the caller;
// this only retunes the running loop.
func (e *Engine) UpdateRefreshCycle(seconds int) {
	e.mu.Lock()
	e.refreshCycle = seconds
	e.remaining = seconds
	e.mu.Unlock()
	e.metrics.SetRefreshCycle(int64(seconds))
	e.logger.Info("Refresh cycle updated", "seconds", seconds)
}

func (e *Engine) observeState() {
	snap := e.state.Read()
	e.metrics.SetDrinkCount(int64(len(snap.Drinks)))
	for _, d := range snap.Drinks {
		e.metrics.SetDrinkPrice(d.Name, d.CurrentPrice.InexactFloat64())
	}
}

// Status describes the engine for health and status endpoints. JobCount
// counts the active tickers (price countdown and state observation).
type Status struct {
	Running       bool      `json:"running"`
	RefreshCycle  int       `json:"refresh_cycle"`
	TimeRemaining int       `json:"time_remaining"`
	NextRefresh   time.Time `json:"next_refresh,omitempty"`
	JobCount      int       `json:"job_count"`
	CycleCount    int       `json:"cycle_count"`
	LastCycleAt   time.Time `json:"last_cycle_at,omitempty"`
}

// Status returns a point-in-time view of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	status := Status{
		Running:       e.running,
		RefreshCycle:  e.refreshCycle,
		TimeRemaining: e.remaining,
		CycleCount:    e.cycleCount,
		LastCycleAt:   e.lastCycleAt,
	}
	if e.running {
		status.NextRefresh = time.Now().Add(time.Duration(e.remaining) * time.Second)
		status.JobCount = 2
	}
	return status
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}
