package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricPriceCyclesTotal     = "taproom_price_cycles_total"
	MetricPriceCycleDuration   = "taproom_price_cycle_duration_ms"
	MetricPriceChangesTotal    = "taproom_price_changes_total"
	MetricSalesRecordedTotal   = "taproom_sales_recorded_total"
	MetricPersistFailuresTotal = "taproom_persist_failures_total"
	MetricBackupsTotal         = "taproom_backups_total"
	MetricRestoresTotal        = "taproom_restores_total"
	MetricDrinkCount           = "taproom_drinks"
	MetricDrinkPrice           = "taproom_drink_price"
	MetricRefreshCycleSeconds  = "taproom_refresh_cycle_seconds"
	MetricEngineRunning        = "taproom_engine_running"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	PriceCyclesTotal     metric.Int64Counter
	PriceCycleDuration   metric.Float64Histogram
	PriceChangesTotal    metric.Int64Counter
	SalesRecordedTotal   metric.Int64Counter
	PersistFailuresTotal metric.Int64Counter
	BackupsTotal         metric.Int64Counter
	RestoresTotal        metric.Int64Counter
	DrinkCount           metric.Int64ObservableGauge
	DrinkPrice           metric.Float64ObservableGauge
	RefreshCycleSeconds  metric.Int64ObservableGauge
	EngineRunning        metric.Int64ObservableGauge

	// State for observable gauges
	mu            sync.RWMutex
	drinkCount    int64
	drinkPriceMap map[string]float64
	refreshCycle  int64
	engineRunning int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			drinkPriceMap: make(map[string]float64),
		}
		// Initialization of instruments happens in Setup
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.PriceCyclesTotal, err = meter.Int64Counter(MetricPriceCyclesTotal, metric.WithDescription("Completed price update cycles"))
	if err != nil {
		return err
	}

	m.PriceCycleDuration, err = meter.Float64Histogram(MetricPriceCycleDuration, metric.WithDescription("Price cycle wall time in milliseconds"))
	if err != nil {
		return err
	}

	m.PriceChangesTotal, err = meter.Int64Counter(MetricPriceChangesTotal, metric.WithDescription("Individual drink price movements"))
	if err != nil {
		return err
	}

	m.SalesRecordedTotal, err = meter.Int64Counter(MetricSalesRecordedTotal, metric.WithDescription("Sales recorded against drinks"))
	if err != nil {
		return err
	}

	m.PersistFailuresTotal, err = meter.Int64Counter(MetricPersistFailuresTotal, metric.WithDescription("Failed snapshot persist attempts"))
	if err != nil {
		return err
	}

	m.BackupsTotal, err = meter.Int64Counter(MetricBackupsTotal, metric.WithDescription("Backups written, by type"))
	if err != nil {
		return err
	}

	m.RestoresTotal, err = meter.Int64Counter(MetricRestoresTotal, metric.WithDescription("Restores performed, by outcome"))
	if err != nil {
		return err
	}

	m.DrinkCount, err = meter.Int64ObservableGauge(MetricDrinkCount, metric.WithDescription("Number of drinks on the board"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.drinkCount)
			return nil
		}))
	if err != nil {
		return err
	}

	m.DrinkPrice, err = meter.Float64ObservableGauge(MetricDrinkPrice, metric.WithDescription("Current price per drink"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for name, val := range m.drinkPriceMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("drink", name)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.RefreshCycleSeconds, err = meter.Int64ObservableGauge(MetricRefreshCycleSeconds, metric.WithDescription("Configured refresh cycle length in seconds"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.refreshCycle)
			return nil
		}))
	if err != nil {
		return err
	}

	m.EngineRunning, err = meter.Int64ObservableGauge(MetricEngineRunning, metric.WithDescription("Pricing engine running state (1=running, 0=stopped)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.engineRunning)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetDrinkCount(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drinkCount = count
}

func (m *MetricsHolder) SetDrinkPrice(name string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drinkPriceMap[name] = price
}

func (m *MetricsHolder) DropDrinkPrice(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drinkPriceMap, name)
}

func (m *MetricsHolder) SetRefreshCycle(seconds int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshCycle = seconds
}

func (m *MetricsHolder) SetEngineRunning(running bool) {
	val := int64(0)
	if running {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engineRunning = val
}

func (m *MetricsHolder) GetDrinkPrices() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.drinkPriceMap {
		res[k] = v
	}
	return res
}
