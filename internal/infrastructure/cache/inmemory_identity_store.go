package cache

import (
	"context"
	"sync"
	"time"

	"github.com/recordlink/backend/internal/domain/identity"
)

// InMemoryIdentityRepository implements identity.IdentityRepository using an in-memory map
// This is suitable for single-process runs and testing
type InMemoryIdentityRepository struct {
	mu      sync.RWMutex
	records map[identity.IdentityKey]identity.IdentityRecord
}

// NewInMemoryIdentityRepository creates a new in-memory identity repository
func NewInMemoryIdentityRepository() *InMemoryIdentityRepository {
	return &InMemoryIdentityRepository{
		records: make(map[identity.IdentityKey]identity.IdentityRecord),
	}
}

// Find returns the record stored for key
func (r *InMemoryIdentityRepository) Find(ctx context.Context, key identity.IdentityKey) (*identity.IdentityRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[key]
	if !ok {
		return nil, identity.ErrIdentityNotFound
	}
	return &rec, nil
}

// CreateIfAbsent stores record unless its key is already present
// The existence check and the insert happen under one lock
func (r *InMemoryIdentityRepository) CreateIfAbsent(ctx context.Context, record identity.IdentityRecord) (*identity.IdentityRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[record.IdentityKey]; ok {
		return &existing, false, nil
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	r.records[record.IdentityKey] = record
	return &record, true, nil
}

// Size returns the number of records in the repository (for testing/monitoring)
func (r *InMemoryIdentityRepository) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

type mappingKey struct {
	mappingType string
	localKey    string
}

// InMemoryMappingRepository implements identity.MappingRepository using an in-memory map
type InMemoryMappingRepository struct {
	mu      sync.RWMutex
	entries map[mappingKey]identity.MappingEntry
}

// NewInMemoryMappingRepository creates a new in-memory mapping repository
func NewInMemoryMappingRepository() *InMemoryMappingRepository {
	return &InMemoryMappingRepository{
		entries: make(map[mappingKey]identity.MappingEntry),
	}
}

// Upsert stores entry, replacing the previous value for the same pair
func (r *InMemoryMappingRepository) Upsert(ctx context.Context, entry identity.MappingEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}
	r.entries[mappingKey{entry.MappingType, entry.LocalKey}] = entry
	return nil
}

// Find returns the entry stored for the pair
func (r *InMemoryMappingRepository) Find(ctx context.Context, mappingType, localKey string) (*identity.MappingEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[mappingKey{mappingType, localKey}]
	if !ok {
		return nil, identity.ErrMappingNotFound
	}
	return &e, nil
}

// Size returns the number of entries in the repository (for testing/monitoring)
func (r *InMemoryMappingRepository) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Ensure in-memory repositories implement the identity contracts
var (
	_ identity.IdentityRepository = (*InMemoryIdentityRepository)(nil)
	_ identity.MappingRepository  = (*InMemoryMappingRepository)(nil)
)
