package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
)

// ServiceVersion is reported on every exported resource.
var ServiceVersion = "dev"

// shutdownTimeout bounds how long a provider may spend exporting buffered signals on exit
const shutdownTimeout = 10 * time.Second

// serviceResource describes the process to every exporter the same way
func serviceResource(serviceName string) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build %s resource: %w", serviceName, err)
	}
	return res, nil
}

// sdkProvider is the lifecycle surface shared by the trace, metric and log SDK providers
type sdkProvider interface {
	Shutdown(ctx context.Context) error
	ForceFlush(ctx context.Context) error
}

// shutdownSignal flushes and stops p. signal names the provider in logs and errors.
// A nil p means the signal was never enabled.
func shutdownSignal(ctx context.Context, p sdkProvider, signal string, logger *zap.Logger) error {
	if p == nil {
		logger.Debug("Telemetry signal disabled, nothing to shut down", zap.String("signal", signal))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := p.Shutdown(ctx); err != nil {
		logger.Error("Telemetry shutdown failed", zap.String("signal", signal), zap.Error(err))
		return fmt.Errorf("shutdown %s provider: %w", signal, err)
	}
	logger.Info("Telemetry signal shut down", zap.String("signal", signal))
	return nil
}

func flushSignal(ctx context.Context, p sdkProvider) error {
	if p == nil {
		return nil
	}
	return p.ForceFlush(ctx)
}
