package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/recordlink/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

func TestNewMeterProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	cfg := telemetry.MetricsConfig{
		Enabled:           false,
		CollectorEndpoint: "localhost:14317",
		ServiceName:       "recordlink-test",
	}

	mp, err := telemetry.NewMeterProvider(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, mp.IsEnabled())
	assert.Equal(t, "recordlink-test", mp.GetConfig().ServiceName)
	assert.NotNil(t, mp.Meter("recordlink"))
	assert.NoError(t, mp.ForceFlush(ctx))
	assert.NoError(t, mp.Shutdown(ctx))
}

// collect reads all metrics and indexes the data points by metric name
func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumFor(t *testing.T, data metricdata.Aggregation, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected an int64 sum, got %T", data)

	want := attribute.NewSet(attrs...)
	var total int64
	for _, dp := range sum.DataPoints {
		match := true
		for _, kv := range want.ToSlice() {
			v, found := dp.Attributes.Value(kv.Key)
			if !found || v.Emit() != kv.Value.Emit() {
				match = false
				break
			}
		}
		if match {
			total += dp.Value
		}
	}
	return total
}

func newMetrics(t *testing.T) (*telemetry.ResolutionMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := telemetry.NewMeterProviderWithReader(reader, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := telemetry.NewResolutionMetrics(mp.Meter("recordlink"))
	require.NoError(t, err)
	return m, reader
}

func TestResolutionMetrics_Resolutions(t *testing.T) {
	m, reader := newMetrics(t)
	ctx := context.Background()

	m.RecordResolution(ctx, "LOCAL", "Patient", telemetry.OutcomeMinted)
	m.RecordResolution(ctx, "LOCAL", "Patient", telemetry.OutcomeExisting)
	m.RecordResolution(ctx, "LOCAL", "Patient", telemetry.OutcomeExisting)
	m.RecordAlignment(ctx, "Patient", telemetry.OutcomeAligned)

	data := collect(t, reader)
	resolutions := data["recordlink_identity_resolutions_total"]
	assert.Equal(t, int64(1), sumFor(t, resolutions, telemetry.AttrOutcome.String(telemetry.OutcomeMinted)))
	assert.Equal(t, int64(2), sumFor(t, resolutions, telemetry.AttrOutcome.String(telemetry.OutcomeExisting)))
	assert.Equal(t, int64(3), sumFor(t, resolutions, telemetry.AttrScope.String("LOCAL")))
	assert.Equal(t, int64(1), sumFor(t, data["recordlink_identity_alignments_total"]))
}

func TestResolutionMetrics_PoolObserver(t *testing.T) {
	m, reader := newMetrics(t)
	ctx := context.Background()

	m.TaskFinished(ctx, 10*time.Millisecond, nil)
	m.TaskFinished(ctx, 20*time.Millisecond, errors.New("bad row"))
	m.QueueDepth(ctx, 7)

	data := collect(t, reader)
	tasks := data["recordlink_pool_tasks_total"]
	assert.Equal(t, int64(1), sumFor(t, tasks, telemetry.AttrOutcome.String(telemetry.OutcomeOK)))
	assert.Equal(t, int64(1), sumFor(t, tasks, telemetry.AttrOutcome.String(telemetry.OutcomeFailed)))

	hist, ok := data["recordlink_pool_task_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)

	gauge, ok := data["recordlink_pool_queue_depth"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(7), gauge.DataPoints[0].Value)
}

func TestResolutionMetrics_Builder(t *testing.T) {
	m, reader := newMetrics(t)
	ctx := context.Background()

	m.RecordBuilderLookup(ctx, "hit")
	m.RecordBuilderLookup(ctx, "created")
	m.RecordBuilderFlush(ctx, nil)
	m.RecordBuilderFlush(ctx, errors.New("disk full"))
	m.RecordStoreCall(ctx, "create_if_absent", time.Millisecond, nil)

	data := collect(t, reader)
	assert.Equal(t, int64(2), sumFor(t, data["recordlink_builder_lookups_total"]))
	assert.Equal(t, int64(1), sumFor(t, data["recordlink_builder_flushes_total"], telemetry.AttrOutcome.String(telemetry.OutcomeFailed)))
	assert.Contains(t, data, "recordlink_identity_store_duration_seconds")
}

func TestResolutionMetrics_NilReceiver(t *testing.T) {
	var m *telemetry.ResolutionMetrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordResolution(ctx, "LOCAL", "Patient", telemetry.OutcomeMinted)
		m.RecordAlignment(ctx, "Patient", telemetry.OutcomeSkipped)
		m.RecordStoreCall(ctx, "find", time.Millisecond, nil)
		m.TaskFinished(ctx, time.Millisecond, nil)
		m.QueueDepth(ctx, 1)
		m.RecordBuilderLookup(ctx, "hit")
		m.RecordBuilderFlush(ctx, nil)
	})
}

func TestHistogram_CustomBoundaries(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := telemetry.NewMeterProviderWithReader(reader, zaptest.NewLogger(t))

	h, err := telemetry.NewHistogram(mp.Meter("test"), telemetry.HistogramOpts{
		Name:       "store_latency",
		Unit:       "s",
		Boundaries: telemetry.StoreDurationBuckets,
	})
	require.NoError(t, err)
	h.RecordDuration(context.Background(), 3*time.Millisecond)

	hist, ok := collect(t, reader)["store_latency"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, telemetry.StoreDurationBuckets, hist.DataPoints[0].Bounds)
}
