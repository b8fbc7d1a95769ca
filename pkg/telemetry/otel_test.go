package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestTelemetrySetup(t *testing.T) {
	tel, err := SetupWithOptions(Options{ServiceName: "test-service"})
	require.NoError(t, err)

	assert.NotNil(t, otel.GetTracerProvider())
	assert.NotNil(t, otel.GetMeterProvider())
	assert.NotNil(t, GetTracer("test-tracer"))
	assert.NotNil(t, GetMeter("test-meter"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, tel.Shutdown(ctx))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetricsHolder_RecordsThroughManualReader(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m := NewMetricsHolder()
	require.NoError(t, m.InitMetrics(mp.Meter("test")))

	ctx := context.Background()
	m.RecordOperation(ctx, "buy", "ok", time.Now())
	m.RecordOperation(ctx, "buy", "invalid_state", time.Now())
	m.RecordWritten(ctx, "CALL")
	m.RecordPremium(ctx, 50)
	m.SetCollateralLocked("native", 2000)
	m.SetOraclePrice(2500)
	m.SetOptionsByState(map[string]int64{"OPEN": 2, "BOUGHT": 1})

	got := collect(t, reader)

	ops, ok := got[MetricOperationsTotal].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, ops.DataPoints, 2)

	locked, ok := got[MetricCollateralLocked].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, locked.DataPoints, 1)
	assert.Equal(t, 2000.0, locked.DataPoints[0].Value)

	price, ok := got[MetricOraclePrice].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, price.DataPoints, 1)
	assert.Equal(t, 2500.0, price.DataPoints[0].Value)

	assert.Equal(t, map[string]int64{"OPEN": 2, "BOUGHT": 1}, m.GetOptionsByState())
}

func TestMetricsHolder_UninitializedIsNoop(t *testing.T) {
	m := NewMetricsHolder()
	assert.NotPanics(t, func() {
		m.RecordOperation(context.Background(), "write", "ok", time.Now())
		m.RecordCollateralReleased(context.Background(), "buyer", 1)
		m.RecordOracleFailure(context.Background(), "stale")
		m.RecordEventDropped(context.Background(), "option.opened")
	})
}
