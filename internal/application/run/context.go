// Package run wires the components of one identity resolution run into an explicit
// context object. Several contexts can coexist, for instance in parallel tests.
package run

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/recordlink/backend/internal/application/builder"
	identityapp "github.com/recordlink/backend/internal/application/identity"
	"github.com/recordlink/backend/internal/domain/identity"
	"github.com/recordlink/backend/internal/domain/record"
	"github.com/recordlink/backend/internal/infrastructure/config"
	"github.com/recordlink/backend/internal/infrastructure/logger"
	"github.com/recordlink/backend/internal/infrastructure/telemetry"
	"github.com/recordlink/backend/internal/infrastructure/workerpool"
	"go.uber.org/zap"
)

// ErrMissingStore is returned when Params lacks a backing repository
var ErrMissingStore = errors.New("run: identity and mapping repositories are required")

// Params configures a run
type Params struct {
	ID              string // generated when empty
	Identities      identity.IdentityRepository
	Mappings        identity.MappingRepository
	LocalScope      string
	ExternalScope   string
	Pool            workerpool.Config
	Authority       identityapp.AuthorityConfig
	FlushWorkers    int
	MaxRecordErrors int
	Logger          *zap.Logger
	Metrics         *telemetry.ResolutionMetrics
}

// ParamsFromConfig fills Params from application configuration
func ParamsFromConfig(cfg *config.Config, identities identity.IdentityRepository, mappings identity.MappingRepository) Params {
	return Params{
		Identities:    identities,
		Mappings:      mappings,
		LocalScope:    cfg.Identity.LocalScope,
		ExternalScope: cfg.Identity.ExternalScope,
		Pool: workerpool.Config{
			Workers:   cfg.Pool.Workers,
			QueueSize: cfg.Pool.QueueSize,
		},
		Authority: identityapp.AuthorityConfig{
			LookupCacheSize: cfg.Identity.LookupCacheSize,
		},
		FlushWorkers: cfg.Cache.FlushWorkers,
	}
}

// Context owns every per-run component. Nothing in it is process global.
type Context struct {
	ID            string
	LocalScope    string
	ExternalScope string
	FlushWorkers  int

	Logger    *zap.Logger
	Metrics   *telemetry.ResolutionMetrics
	Mappings  *identityapp.MappingService
	Authority *identityapp.Authority
	Resolver  *identityapp.CrossSystemResolver
	Pool      *workerpool.Pool[record.SourceRecord]
	Errors    *ErrorCollector

	baseLogger *zap.Logger
}

// New creates a run context. The pool is not started until Start.
func New(p Params) (*Context, error) {
	if p.Identities == nil || p.Mappings == nil {
		return nil, ErrMissingStore
	}
	if p.LocalScope == "" {
		return nil, identity.ErrEmptyScope
	}
	if p.ExternalScope == p.LocalScope {
		return nil, fmt.Errorf("run: external scope must differ from local scope %q", p.LocalScope)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Pool.Workers <= 0 {
		p.Pool = workerpool.DefaultConfig()
	}
	if p.FlushWorkers <= 0 {
		p.FlushWorkers = 1
	}

	log := p.Logger.With(zap.String("run_id", p.ID))

	mappings := identityapp.NewMappingService(p.Mappings, log)
	authority := identityapp.NewAuthority(p.Identities, p.Authority, log)
	resolver := identityapp.NewCrossSystemResolver(authority, mappings, log)
	mappings.SetMetrics(p.Metrics)
	authority.SetMetrics(p.Metrics)
	resolver.SetMetrics(p.Metrics)

	poolOpts := []workerpool.Option{workerpool.WithLogger(log)}
	if p.Metrics != nil {
		poolOpts = append(poolOpts, workerpool.WithObserver(p.Metrics))
	}

	return &Context{
		ID:            p.ID,
		LocalScope:    p.LocalScope,
		ExternalScope: p.ExternalScope,
		FlushWorkers:  p.FlushWorkers,
		Logger:        log,
		Metrics:       p.Metrics,
		Mappings:      mappings,
		Authority:     authority,
		Resolver:      resolver,
		Pool:          workerpool.New[record.SourceRecord](p.Pool, poolOpts...),
		Errors:        NewErrorCollector(p.MaxRecordErrors),
		baseLogger:    p.Logger,
	}, nil
}

// Start starts the worker pool and returns ctx carrying the run logger
func (rc *Context) Start(ctx context.Context) (context.Context, error) {
	ctx, _ = logger.WithRunID(ctx, rc.baseLogger, rc.ID)
	if err := rc.Pool.Start(ctx); err != nil {
		return ctx, err
	}
	rc.Logger.Info("Run started",
		zap.String("local_scope", rc.LocalScope),
		zap.String("external_scope", rc.ExternalScope))
	return ctx, nil
}

// Close stops the worker pool. Work still queued is abandoned when ctx expires.
func (rc *Context) Close(ctx context.Context) error {
	err := rc.Pool.Stop(ctx)
	stats := rc.Pool.Stats()
	rc.Logger.Info("Run finished",
		zap.Int64("tasks_submitted", stats.Submitted),
		zap.Int64("tasks_failed", stats.Failed),
		zap.Int("record_errors", rc.Errors.TotalCount()))
	return err
}

// NewBuilderCache creates a builder cache whose entity keys are business keys of
// resourceType under the run's local scope.
func NewBuilderCache[B any](rc *Context, resourceType string, store builder.Store[B], factory builder.Factory[B]) *builder.Cache[B] {
	locate := func(ctx context.Context, entityKey string) (uuid.UUID, error) {
		return rc.Authority.Resolve(ctx, rc.LocalScope, resourceType, entityKey)
	}
	c := builder.New(locate, store, factory, rc.Logger.With(zap.String("resource_type", resourceType)))
	c.SetMetrics(rc.Metrics)
	return c
}

// FlushBuilders flushes c with the run's configured parallelism
func FlushBuilders[B any](ctx context.Context, rc *Context, c *builder.Cache[B]) (builder.FlushReport, error) {
	if rc.FlushWorkers > 1 {
		return c.FlushAllParallel(ctx, rc.FlushWorkers)
	}
	return c.FlushAll(ctx)
}
