package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/recordlink/backend/internal/application/run"
	"github.com/recordlink/backend/internal/domain/identity"
	"github.com/recordlink/backend/internal/infrastructure/cache"
	"github.com/recordlink/backend/internal/infrastructure/config"
	"github.com/recordlink/backend/internal/infrastructure/logger"
	"github.com/recordlink/backend/internal/infrastructure/persistence"
	"github.com/recordlink/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// app holds everything one CLI invocation needs
type app struct {
	cfg *config.Config
	log *zap.Logger
	rc  *run.Context
	// resources files builders from load --build
	resources cache.ResourceStore
	closers   []func(context.Context) error
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	a := &app{cfg: cfg, log: log}
	if err := a.init(ctx); err != nil {
		_ = a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	tc := a.cfg.Telemetry

	logs, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           tc.Enabled && tc.LogsEnabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, a.log)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, logs.Shutdown)
	if logs.IsEnabled() {
		level, _ := zap.ParseAtomicLevel(a.cfg.Log.Level)
		a.log = telemetry.BridgeLogger(a.log, telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
			ServiceName:    tc.ServiceName,
			LoggerProvider: logs,
			Level:          level.Level(),
		}))
	}

	tracer, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		SamplingRatio:     tc.SamplingRatio,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, a.log)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, tracer.Shutdown)

	meter, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		ExportInterval:    tc.ExportInterval,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, a.log)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, meter.Shutdown)

	metrics, err := telemetry.NewResolutionMetrics(meter.Meter(telemetry.TracerName))
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	identities, mappings, err := a.openStores()
	if err != nil {
		return err
	}

	params := run.ParamsFromConfig(a.cfg, identities, mappings)
	params.Logger = a.log
	params.Metrics = metrics
	rc, err := run.New(params)
	if err != nil {
		return err
	}
	a.rc = rc
	return nil
}

// openStores connects the identity, mapping and resource stores of the configured backend
func (a *app) openStores() (identity.IdentityRepository, identity.MappingRepository, error) {
	switch a.cfg.Store.Backend {
	case config.StoreBackendPostgres:
		db, err := persistence.NewDatabase(&a.cfg.Database,
			persistence.WithLogger(a.log, logger.MapGormLogLevel(a.cfg.Log.Level)),
			persistence.WithTracing(telemetry.DBTracingConfig{
				Enabled:    a.cfg.Telemetry.Enabled && a.cfg.Telemetry.DBTraceEnabled,
				LogFullSQL: a.cfg.Telemetry.DBLogFullSQL,
				DBSystem:   "postgresql",
			}),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", identity.ErrStoreUnavailable, err)
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		a.resources = persistence.NewGormResourceStore(db.DB)
		return persistence.NewGormIdentityRepository(db.DB), persistence.NewGormMappingRepository(db.DB), nil

	case config.StoreBackendRedis:
		factory := cache.NewStoreFactory(a.cfg.Redis,
			cache.WithLogger(a.log),
			cache.WithInMemoryFallback(a.cfg.Store.AllowInMemoryFallback),
		)
		stores, err := factory.CreateStores()
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return stores.Close() })
		a.resources = stores.Resources
		return stores.Identities, stores.Mappings, nil

	case config.StoreBackendMemory:
		a.log.Warn("Using in-memory stores; identifiers are lost when the command exits")
		stores := cache.NewStoreFactory(a.cfg.Redis, cache.WithLogger(a.log)).CreateInMemoryStores()
		a.resources = stores.Resources
		return stores.Identities, stores.Mappings, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
}

// start starts the run and returns ctx carrying the run logger
func (a *app) start(ctx context.Context) (context.Context, error) {
	return a.rc.Start(ctx)
}

// close stops the run then releases stores and telemetry in reverse order
func (a *app) close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	if a.rc != nil {
		errs = append(errs, a.rc.Close(ctx))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	_ = logger.Sync(a.log)
	return errors.Join(errs...)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}
