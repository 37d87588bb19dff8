package identity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/recordlink/backend/internal/domain/identity"
	"github.com/recordlink/backend/internal/infrastructure/cache"
	"github.com/recordlink/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

type services struct {
	identities *cache.InMemoryIdentityRepository
	mappings   *MappingService
	authority  *Authority
	resolver   *CrossSystemResolver
}

func newServices(t *testing.T, cfg AuthorityConfig) *services {
	t.Helper()
	logger := zaptest.NewLogger(t)
	identities := cache.NewInMemoryIdentityRepository()
	mappings := NewMappingService(cache.NewInMemoryMappingRepository(), logger)
	authority := NewAuthority(identities, cfg, logger)
	return &services{
		identities: identities,
		mappings:   mappings,
		authority:  authority,
		resolver:   NewCrossSystemResolver(authority, mappings, logger),
	}
}

// unavailableIdentities fails every call the way an unreachable store does
type unavailableIdentities struct{}

func (unavailableIdentities) Find(ctx context.Context, key identity.IdentityKey) (*identity.IdentityRecord, error) {
	return nil, identity.NewStoreError(identity.ErrCodeStoreRead, "find", errors.New("connection refused"))
}

func (unavailableIdentities) CreateIfAbsent(ctx context.Context, rec identity.IdentityRecord) (*identity.IdentityRecord, bool, error) {
	return nil, false, identity.NewStoreError(identity.ErrCodeStoreWrite, "create", errors.New("connection refused"))
}

// countingIdentities counts store reads
type countingIdentities struct {
	identity.IdentityRepository
	finds atomic.Int64
}

func (c *countingIdentities) Find(ctx context.Context, key identity.IdentityKey) (*identity.IdentityRecord, error) {
	c.finds.Add(1)
	return c.IdentityRepository.Find(ctx, key)
}

// blindIdentities hides existing records from Find, so every Resolve reaches
// CreateIfAbsent and has to lose the race to the stored record.
type blindIdentities struct {
	identity.IdentityRepository
}

func (blindIdentities) Find(ctx context.Context, key identity.IdentityKey) (*identity.IdentityRecord, error) {
	return nil, identity.ErrIdentityNotFound
}

func newTestMetrics(t *testing.T) (*sdkmetric.ManualReader, *telemetry.ResolutionMetrics) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := telemetry.NewMeterProviderWithReader(reader, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return reader, telemetry.MustNewResolutionMetrics(mp.Meter("recordlink"))
}

// counterValue sums the data points of an int64 counter whose outcome attribute matches
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name, outcome string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(telemetry.AttrOutcome); ok && v.AsString() == outcome {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func resolutionCount(t *testing.T, reader *sdkmetric.ManualReader, outcome string) int64 {
	return counterValue(t, reader, "recordlink_identity_resolutions_total", outcome)
}

func alignmentCount(t *testing.T, reader *sdkmetric.ManualReader, outcome string) int64 {
	return counterValue(t, reader, "recordlink_identity_alignments_total", outcome)
}
