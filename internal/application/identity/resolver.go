package identity

import (
	"context"
	"errors"
	"maps"

	"github.com/google/uuid"
	"github.com/recordlink/backend/internal/domain/identity"
	"github.com/recordlink/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ComponentLookup names the mapping that holds an external key component
// which is not carried on the record being resolved.
type ComponentLookup struct {
	MappingType string
	LocalKey    string
}

// AlignRequest describes one cross-system resolution where the external key is
// built from record values plus components recovered through the mapping store.
type AlignRequest struct {
	Scope         string
	ResourceType  string
	LocalKey      string
	ExternalScope string
	Spec          identity.ExternalKeySpec
	Values        map[string]string
	Components    map[string]ComponentLookup
}

// CrossSystemResolver reconciles local business keys with identifiers minted by an
// external authority that shares the identity store under its own scope.
type CrossSystemResolver struct {
	authority *Authority
	mappings  *MappingService
	logger    *zap.Logger
	metrics   *telemetry.ResolutionMetrics
}

// NewCrossSystemResolver creates a new resolver
func NewCrossSystemResolver(authority *Authority, mappings *MappingService, logger *zap.Logger) *CrossSystemResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CrossSystemResolver{
		authority: authority,
		mappings:  mappings,
		logger:    logger.Named("resolver"),
	}
}

// SetMetrics sets the metrics collector
func (r *CrossSystemResolver) SetMetrics(m *telemetry.ResolutionMetrics) {
	r.metrics = m
}

// ResolveOrAlign returns the identifier for localKey. A key that is already known is
// returned as is. Otherwise, when the external authority has an identifier for
// externalKey the local key is aliased to it; failing that a new identifier is minted.
// An empty externalKey skips alignment.
//
// An *identity.IdentityConflictError is returned when the alias write finds the local
// key bound to a different identifier. The conflict is never resolved here.
func (r *CrossSystemResolver) ResolveOrAlign(ctx context.Context, scope, resourceType, localKey, externalKey, externalScope string) (uuid.UUID, error) {
	localID := identity.NewIdentityKey(scope, resourceType, localKey)
	if err := localID.Validate(); err != nil {
		return uuid.Nil, err
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "identity", "resolve_or_align",
		telemetry.WithAttribute(telemetry.SpanAttrScope, scope),
		telemetry.WithAttribute(telemetry.SpanAttrResourceType, resourceType),
		telemetry.WithAttribute(telemetry.SpanAttrExternalScope, externalScope),
	)
	defer span.End()

	id, outcome, err := r.resolveOrAlign(ctx, localID, externalKey, externalScope)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.SetAttributes(span, telemetry.SpanAttrGlobalID, id.String())
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrOutcome, outcome)
	r.metrics.RecordAlignment(ctx, resourceType, outcome)
	return id, err
}

func (r *CrossSystemResolver) resolveOrAlign(ctx context.Context, localID identity.IdentityKey, externalKey, externalScope string) (uuid.UUID, string, error) {
	id, found, err := r.authority.lookup(ctx, localID)
	if err != nil {
		return uuid.Nil, telemetry.OutcomeFailed, err
	}
	if found {
		return id, telemetry.OutcomeExisting, nil
	}

	if externalKey == "" || externalScope == "" {
		id, err := r.authority.Resolve(ctx, localID.Scope, localID.ResourceType, localID.BusinessKey)
		if err != nil {
			return uuid.Nil, telemetry.OutcomeFailed, err
		}
		return id, telemetry.OutcomeSkipped, nil
	}

	extID := identity.NewIdentityKey(externalScope, localID.ResourceType, externalKey)
	observed, found, err := r.authority.lookup(ctx, extID)
	if err != nil {
		return uuid.Nil, telemetry.OutcomeFailed, err
	}
	if !found {
		id, err := r.authority.Resolve(ctx, localID.Scope, localID.ResourceType, localID.BusinessKey)
		if err != nil {
			return uuid.Nil, telemetry.OutcomeFailed, err
		}
		return id, telemetry.OutcomeMinted, nil
	}

	stored, _, err := r.authority.bind(ctx, localID, observed)
	if err != nil {
		return uuid.Nil, telemetry.OutcomeFailed, err
	}
	if stored != observed {
		conflict := &identity.IdentityConflictError{
			Key:         localID,
			ExternalKey: extID,
			Existing:    stored,
			Observed:    observed,
		}
		r.logger.Error("Identity conflict",
			zap.String("key", localID.String()),
			zap.String("external_key", extID.String()),
			zap.String("existing_id", stored.String()),
			zap.String("observed_id", observed.String()))
		return uuid.Nil, telemetry.OutcomeConflict, conflict
	}
	return observed, telemetry.OutcomeAligned, nil
}

// ResolveOrAlignWith builds the external key from req and resolves it. Components
// listed in req.Components are read from the mapping store when req.Values lacks them.
// A component that cannot be found skips alignment instead of failing the record.
func (r *CrossSystemResolver) ResolveOrAlignWith(ctx context.Context, req AlignRequest) (uuid.UUID, error) {
	values := make(map[string]string, len(req.Values)+len(req.Components))
	maps.Copy(values, req.Values)

	for field, lookup := range req.Components {
		if values[field] != "" {
			continue
		}
		v, found, err := r.mappings.Get(ctx, lookup.MappingType, lookup.LocalKey)
		if err != nil && !isInvalidLookup(err) {
			return uuid.Nil, err
		}
		if found {
			values[field] = v
		}
	}

	externalKey, err := req.Spec.Build(values)
	if err != nil {
		if !errors.Is(err, identity.ErrMissingKeyComponent) {
			return uuid.Nil, err
		}
		r.logger.Debug("External key incomplete, minting locally",
			zap.String("resource_type", req.ResourceType),
			zap.String("local_key", req.LocalKey),
			zap.Error(err))
		externalKey = ""
	}

	return r.ResolveOrAlign(ctx, req.Scope, req.ResourceType, req.LocalKey, externalKey, req.ExternalScope)
}

// isInvalidLookup reports lookups that could never match, such as an empty local key
func isInvalidLookup(err error) bool {
	return errors.Is(err, identity.ErrEmptyMappingType) || errors.Is(err, identity.ErrEmptyLocalKey)
}
