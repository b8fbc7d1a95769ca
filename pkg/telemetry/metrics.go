package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricOperationsTotal    = "options_ledger_operations_total"
	MetricOperationLatency   = "options_ledger_operation_latency_ms"
	MetricOptionsWritten     = "options_ledger_options_written_total"
	MetricPremiumPaidTotal   = "options_ledger_premium_paid_total"
	MetricCollateralReleased = "options_ledger_collateral_released_total"
	MetricCollateralLocked   = "options_ledger_collateral_locked"
	MetricOptionsByState     = "options_ledger_options_by_state"
	MetricOraclePrice        = "options_ledger_oracle_price"
	MetricOracleReadFailures = "options_ledger_oracle_read_failures_total"
	MetricEventsDroppedTotal = "options_ledger_events_dropped_total"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	OperationsTotal    metric.Int64Counter
	OperationLatency   metric.Float64Histogram
	OptionsWritten     metric.Int64Counter
	PremiumPaidTotal   metric.Float64Counter
	CollateralReleased metric.Float64Counter
	OracleReadFailures metric.Int64Counter
	EventsDropped      metric.Int64Counter
	CollateralLocked   metric.Float64ObservableGauge
	OptionsByState     metric.Int64ObservableGauge
	OraclePrice        metric.Float64ObservableGauge

	// State for observable gauges
	mu             sync.RWMutex
	lockedMap      map[string]float64
	stateCountMap  map[string]int64
	oraclePrice    float64
	hasOraclePrice bool
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = NewMetricsHolder()
	})
	return globalMetrics
}

// NewMetricsHolder returns an uninitialized holder. Record helpers are no-ops until
// InitMetrics runs.
func NewMetricsHolder() *MetricsHolder {
	return &MetricsHolder{
		lockedMap:     make(map[string]float64),
		stateCountMap: make(map[string]int64),
	}
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.OperationsTotal, err = meter.Int64Counter(MetricOperationsTotal, metric.WithDescription("Lifecycle operations by name and outcome"))
	if err != nil {
		return err
	}

	m.OperationLatency, err = meter.Float64Histogram(MetricOperationLatency, metric.WithDescription("Latency of lifecycle operations"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.OptionsWritten, err = meter.Int64Counter(MetricOptionsWritten, metric.WithDescription("Options written by type"))
	if err != nil {
		return err
	}

	m.PremiumPaidTotal, err = meter.Float64Counter(MetricPremiumPaidTotal, metric.WithDescription("Premium forwarded to writers in settlement units"))
	if err != nil {
		return err
	}

	m.CollateralReleased, err = meter.Float64Counter(MetricCollateralReleased, metric.WithDescription("Collateral released from custody by destination role"))
	if err != nil {
		return err
	}

	m.OracleReadFailures, err = meter.Int64Counter(MetricOracleReadFailures, metric.WithDescription("Failed or rejected oracle reads"))
	if err != nil {
		return err
	}

	m.EventsDropped, err = meter.Int64Counter(MetricEventsDroppedTotal, metric.WithDescription("Lifecycle events dropped by the dispatcher"))
	if err != nil {
		return err
	}

	// Observables
	m.CollateralLocked, err = meter.Float64ObservableGauge(MetricCollateralLocked, metric.WithDescription("Collateral currently escrowed in custody"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for asset, val := range m.lockedMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("asset", asset)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.OptionsByState, err = meter.Int64ObservableGauge(MetricOptionsByState, metric.WithDescription("Number of options per lifecycle state"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for state, val := range m.stateCountMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("state", state)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.OraclePrice, err = meter.Float64ObservableGauge(MetricOraclePrice, metric.WithDescription("Last normalized oracle price"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			if m.hasOraclePrice {
				obs.Observe(m.oraclePrice)
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// RecordOperation counts one lifecycle operation and its latency
func (m *MetricsHolder) RecordOperation(ctx context.Context, op, result string, started time.Time) {
	attrs := metric.WithAttributes(attribute.String("operation", op), attribute.String("result", result))
	if m.OperationsTotal != nil {
		m.OperationsTotal.Add(ctx, 1, attrs)
	}
	if m.OperationLatency != nil {
		m.OperationLatency.Record(ctx, float64(time.Since(started).Microseconds())/1000.0, attrs)
	}
}

func (m *MetricsHolder) RecordWritten(ctx context.Context, optionType string) {
	if m.OptionsWritten != nil {
		m.OptionsWritten.Add(ctx, 1, metric.WithAttributes(attribute.String("type", optionType)))
	}
}

func (m *MetricsHolder) RecordPremium(ctx context.Context, amount float64) {
	if m.PremiumPaidTotal != nil {
		m.PremiumPaidTotal.Add(ctx, amount)
	}
}

func (m *MetricsHolder) RecordCollateralReleased(ctx context.Context, role string, amount float64) {
	if m.CollateralReleased != nil {
		m.CollateralReleased.Add(ctx, amount, metric.WithAttributes(attribute.String("to", role)))
	}
}

func (m *MetricsHolder) RecordOracleFailure(ctx context.Context, reason string) {
	if m.OracleReadFailures != nil {
		m.OracleReadFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

func (m *MetricsHolder) RecordEventDropped(ctx context.Context, eventType string) {
	if m.EventsDropped != nil {
		m.EventsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
	}
}

// Helpers to update observable state

func (m *MetricsHolder) SetCollateralLocked(asset string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockedMap[asset] = value
}

func (m *MetricsHolder) SetOptionsByState(counts map[string]int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range counts {
		m.stateCountMap[k] = v
	}
}

func (m *MetricsHolder) SetOraclePrice(price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oraclePrice = price
	m.hasOraclePrice = true
}

func (m *MetricsHolder) GetCollateralLocked() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64, len(m.lockedMap))
	for k, v := range m.lockedMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetOptionsByState() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64, len(m.stateCountMap))
	for k, v := range m.stateCountMap {
		res[k] = v
	}
	return res
}
