package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/recordlink/backend/internal/domain/identity"
	"github.com/recordlink/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// AuthorityConfig contains configuration for the identity authority
type AuthorityConfig struct {
	LookupCacheSize int           // Resolved ids kept in memory; 0 disables the cache
	LookupCacheTTL  time.Duration // 0 keeps entries until evicted by size
}

// DefaultAuthorityConfig returns default configuration
func DefaultAuthorityConfig() AuthorityConfig {
	return AuthorityConfig{
		LookupCacheSize: 100000,
	}
}

// Authority mints global identifiers and answers lookups for business keys.
// For a given key exactly one identifier is ever stored, even when several
// callers resolve a never-seen key at the same time.
type Authority struct {
	repo    identity.IdentityRepository
	cache   *expirable.LRU[identity.IdentityKey, uuid.UUID]
	logger  *zap.Logger
	metrics *telemetry.ResolutionMetrics
}

// NewAuthority creates a new identity authority
func NewAuthority(repo identity.IdentityRepository, config AuthorityConfig, logger *zap.Logger) *Authority {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Authority{
		repo:   repo,
		logger: logger.Named("authority"),
	}
	// stored identifiers are immutable
	if config.LookupCacheSize > 0 {
		a.cache = expirable.NewLRU[identity.IdentityKey, uuid.UUID](config.LookupCacheSize, nil, config.LookupCacheTTL)
	}
	return a
}

// SetMetrics sets the metrics collector
func (a *Authority) SetMetrics(m *telemetry.ResolutionMetrics) {
	a.metrics = m
}

// Resolve returns the global identifier for the key, minting one if the key is new.
// A caller that loses the creation race discards its candidate and returns the winner.
func (a *Authority) Resolve(ctx context.Context, scope, resourceType, businessKey string) (uuid.UUID, error) {
	key := identity.NewIdentityKey(scope, resourceType, businessKey)
	if err := key.Validate(); err != nil {
		return uuid.Nil, err
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "identity", "resolve",
		telemetry.WithAttribute(telemetry.SpanAttrScope, scope),
		telemetry.WithAttribute(telemetry.SpanAttrResourceType, resourceType),
	)
	defer span.End()

	id, found, err := a.lookup(ctx, key)
	if err != nil {
		telemetry.RecordError(span, err)
		return uuid.Nil, err
	}
	if found {
		a.metrics.RecordResolution(ctx, scope, resourceType, telemetry.OutcomeExisting)
		telemetry.SetAttributes(span, telemetry.SpanAttrOutcome, telemetry.OutcomeExisting)
		return id, nil
	}

	id, created, err := a.bind(ctx, key, uuid.New())
	if err != nil {
		telemetry.RecordError(span, err)
		return uuid.Nil, err
	}

	outcome := telemetry.OutcomeMinted
	if !created {
		outcome = telemetry.OutcomeRaceLost
	}
	a.metrics.RecordResolution(ctx, scope, resourceType, outcome)
	telemetry.SetAttributes(span,
		telemetry.SpanAttrOutcome, outcome,
		telemetry.SpanAttrGlobalID, id.String(),
	)
	a.logger.Debug("Resolved new business key",
		zap.String("key", key.String()),
		zap.String("global_id", id.String()),
		zap.String("outcome", outcome))
	return id, nil
}

// Lookup returns the identifier stored for the key without minting one
func (a *Authority) Lookup(ctx context.Context, scope, resourceType, businessKey string) (uuid.UUID, bool, error) {
	key := identity.NewIdentityKey(scope, resourceType, businessKey)
	if err := key.Validate(); err != nil {
		return uuid.Nil, false, err
	}
	return a.lookup(ctx, key)
}

func (a *Authority) lookup(ctx context.Context, key identity.IdentityKey) (uuid.UUID, bool, error) {
	if a.cache != nil {
		if id, ok := a.cache.Get(key); ok {
			return id, true, nil
		}
	}

	start := time.Now()
	rec, err := a.repo.Find(ctx, key)
	if errors.Is(err, identity.ErrIdentityNotFound) {
		a.metrics.RecordStoreCall(ctx, "identity_find", time.Since(start), nil)
		return uuid.Nil, false, nil
	}
	a.metrics.RecordStoreCall(ctx, "identity_find", time.Since(start), err)
	if err != nil {
		return uuid.Nil, false, err
	}

	a.remember(key, rec.GlobalID)
	return rec.GlobalID, true, nil
}

// bind stores candidate for key unless the key already has an identifier.
// It returns the identifier stored after the call and whether candidate was the one stored.
func (a *Authority) bind(ctx context.Context, key identity.IdentityKey, candidate uuid.UUID) (uuid.UUID, bool, error) {
	start := time.Now()
	rec, created, err := a.repo.CreateIfAbsent(ctx, identity.IdentityRecord{
		IdentityKey: key,
		GlobalID:    candidate,
		CreatedAt:   start,
	})
	a.metrics.RecordStoreCall(ctx, "identity_create", time.Since(start), err)
	if err != nil {
		a.logger.Error("Failed to store identity record",
			zap.String("key", key.String()),
			zap.Error(err))
		return uuid.Nil, false, err
	}

	a.remember(key, rec.GlobalID)
	return rec.GlobalID, created, nil
}

func (a *Authority) remember(key identity.IdentityKey, id uuid.UUID) {
	if a.cache != nil {
		a.cache.Add(key, id)
	}
}
