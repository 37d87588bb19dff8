package telemetry_test

import (
	"context"
	"testing"

	"github.com/recordlink/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	cfg := telemetry.Config{
		Enabled:           false,
		CollectorEndpoint: "localhost:14317",
		SamplingRatio:     1.0,
		ServiceName:       "recordlink-test",
	}

	tp, err := telemetry.NewTracerProvider(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, tp.IsEnabled())
	assert.Equal(t, cfg, tp.GetConfig())
	assert.NotNil(t, tp.Tracer("recordlink"))
	assert.NoError(t, tp.ForceFlush(ctx))
	assert.NoError(t, tp.Shutdown(ctx))
}

func TestNewTracerProvider_EnabledWithoutCollector(t *testing.T) {
	// the gRPC exporter connects lazily, so construction succeeds without a collector
	ctx := context.Background()
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           true,
		CollectorEndpoint: "localhost:14317",
		SamplingRatio:     0.5,
		ServiceName:       "recordlink-test",
		Insecure:          true,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, tp.IsEnabled())

	shutdownCtx, cancel := context.WithCancel(ctx)
	cancel()
	_ = tp.Shutdown(shutdownCtx)
}

func TestNewTracerProviderWithExporter(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := telemetry.NewTracerProviderWithExporter(exporter, zaptest.NewLogger(t))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("recordlink").Start(context.Background(), "pool.drain")
	span.End()

	assert.True(t, tp.IsEnabled())
	require.Len(t, exporter.GetSpans(), 1)
	assert.Equal(t, "pool.drain", exporter.GetSpans()[0].Name)
}
