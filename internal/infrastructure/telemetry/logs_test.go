package telemetry_test

import (
	"context"
	"testing"

	"github.com/recordlink/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:     false,
		ServiceName: "recordlink-test",
	}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, lp.IsEnabled())
	assert.Nil(t, lp.GetLoggerProvider())
	assert.NoError(t, lp.ForceFlush(ctx))
	assert.NoError(t, lp.Shutdown(ctx))
}

func TestNewZapOTELCore_DisabledProviderIsNop(t *testing.T) {
	lp, err := telemetry.NewLoggerProvider(context.Background(), telemetry.LogsConfig{}, zap.NewNop())
	require.NoError(t, err)

	core := telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
		ServiceName:    "recordlink",
		LoggerProvider: lp,
		Level:          zapcore.InfoLevel,
	})
	assert.False(t, core.Enabled(zapcore.ErrorLevel))

	assert.False(t, telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{}).Enabled(zapcore.ErrorLevel))
}

func TestNewZapOTELCore_EnabledProviderFiltersLevel(t *testing.T) {
	ctx := context.Background()
	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           true,
		CollectorEndpoint: "localhost:14317",
		ServiceName:       "recordlink-test",
		Insecure:          true,
	}, zap.NewNop())
	require.NoError(t, err)
	defer func() {
		shutdownCtx, cancel := context.WithCancel(ctx)
		cancel()
		_ = lp.Shutdown(shutdownCtx)
	}()

	core := telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
		ServiceName:    "recordlink",
		LoggerProvider: lp,
		Level:          zapcore.WarnLevel,
	})
	assert.False(t, core.Enabled(zapcore.InfoLevel))
	assert.True(t, core.Enabled(zapcore.ErrorLevel))
	assert.False(t, core.With([]zapcore.Field{zap.String("run_id", "r1")}).Enabled(zapcore.InfoLevel))
}

func TestBridgeLogger_WritesToBothCores(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.InfoLevel)
	otelCore, otelLogs := observer.New(zapcore.WarnLevel)

	logger := telemetry.BridgeLogger(zap.New(baseCore).Named("run"), otelCore)
	logger.Info("record resolved")
	logger.Warn("identity conflict")

	assert.Equal(t, 2, baseLogs.Len())
	require.Equal(t, 1, otelLogs.Len())
	assert.Equal(t, "identity conflict", otelLogs.All()[0].Message)
	assert.Equal(t, "run", otelLogs.All()[0].LoggerName)
}
