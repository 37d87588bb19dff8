package identity

import (
	"context"
	"errors"
	"time"

	"github.com/recordlink/backend/internal/domain/identity"
	"github.com/recordlink/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// MappingService is the key-value map store used for reverse lookups between feeds,
// e.g. recovering the owning person of a name record that only carries the name id.
type MappingService struct {
	repo    identity.MappingRepository
	logger  *zap.Logger
	metrics *telemetry.ResolutionMetrics
}

// NewMappingService creates a new mapping service
func NewMappingService(repo identity.MappingRepository, logger *zap.Logger) *MappingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MappingService{
		repo:   repo,
		logger: logger.Named("mappings"),
	}
}

// SetMetrics sets the metrics collector
func (s *MappingService) SetMetrics(m *telemetry.ResolutionMetrics) {
	s.metrics = m
}

// Put stores localValue under (mappingType, localKey), replacing any earlier value.
// The value is visible to every Get that starts after Put returns.
func (s *MappingService) Put(ctx context.Context, mappingType, localKey, localValue string) error {
	if mappingType == "" {
		return identity.ErrEmptyMappingType
	}
	if localKey == "" {
		return identity.ErrEmptyLocalKey
	}

	start := time.Now()
	err := s.repo.Upsert(ctx, identity.MappingEntry{
		MappingType: mappingType,
		LocalKey:    localKey,
		LocalValue:  localValue,
		UpdatedAt:   start,
	})
	s.metrics.RecordStoreCall(ctx, "mapping_put", time.Since(start), err)
	if err != nil {
		s.logger.Error("Failed to store mapping",
			zap.String("mapping_type", mappingType),
			zap.String("local_key", localKey),
			zap.Error(err))
		return err
	}
	return nil
}

// Get returns the value stored under (mappingType, localKey)
func (s *MappingService) Get(ctx context.Context, mappingType, localKey string) (string, bool, error) {
	if mappingType == "" {
		return "", false, identity.ErrEmptyMappingType
	}
	if localKey == "" {
		return "", false, identity.ErrEmptyLocalKey
	}

	start := time.Now()
	entry, err := s.repo.Find(ctx, mappingType, localKey)
	if errors.Is(err, identity.ErrMappingNotFound) {
		s.metrics.RecordStoreCall(ctx, "mapping_get", time.Since(start), nil)
		return "", false, nil
	}
	s.metrics.RecordStoreCall(ctx, "mapping_get", time.Since(start), err)
	if err != nil {
		return "", false, err
	}
	return entry.LocalValue, true, nil
}
