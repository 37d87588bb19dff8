package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/recordlink/backend/internal/domain/identity"
	"github.com/recordlink/backend/internal/domain/resource"
	"github.com/redis/go-redis/v9"
)

const defaultResourceKeyPrefix = "resource:"

// ResourceStore loads and files resource builders for the builder cache
type ResourceStore interface {
	Load(ctx context.Context, entityKey string, globalID uuid.UUID) (*resource.Builder, bool, error)
	File(ctx context.Context, entityKey string, globalID uuid.UUID, b *resource.Builder) error
}

// RedisResourceStore keeps each builder's state in a hash under its global id
type RedisResourceStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisResourceStore creates a store with an existing Redis client
func NewRedisResourceStore(client *redis.Client, keyPrefix string) *RedisResourceStore {
	if keyPrefix == "" {
		keyPrefix = defaultResourceKeyPrefix
	}
	return &RedisResourceStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisResourceStore) redisKey(globalID uuid.UUID) string {
	return s.keyPrefix + globalID.String()
}

// Load returns the builder filed for globalID; found is false when none exists
func (s *RedisResourceStore) Load(ctx context.Context, entityKey string, globalID uuid.UUID) (*resource.Builder, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.redisKey(globalID)).Result()
	if err != nil {
		return nil, false, identity.NewStoreError(identity.ErrCodeStoreRead,
			fmt.Sprintf("load resource %s (%s)", entityKey, globalID), err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	b, err := resource.Restore(fields["resource_type"], fields["entity_key"], globalID, []byte(fields["state"]))
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// File writes the builder state, replacing any earlier version
func (s *RedisResourceStore) File(ctx context.Context, entityKey string, globalID uuid.UUID, b *resource.Builder) error {
	if b.GlobalID() != globalID {
		return fmt.Errorf("file resource %s: builder carries id %s, expected %s", entityKey, b.GlobalID(), globalID)
	}
	state, err := b.MarshalState()
	if err != nil {
		return err
	}

	err = s.client.HSet(ctx, s.redisKey(globalID),
		"resource_type", b.ResourceType(),
		"entity_key", entityKey,
		"state", string(state),
	).Err()
	if err != nil {
		return identity.NewStoreError(identity.ErrCodeStoreWrite,
			fmt.Sprintf("file resource %s (%s)", entityKey, globalID), err)
	}
	return nil
}

type filedResource struct {
	resourceType string
	entityKey    string
	state        []byte
}

// InMemoryResourceStore keeps serialized builder state in a map.
// Builders are restored on every Load, so a filed builder is never shared with the caller.
type InMemoryResourceStore struct {
	mu    sync.RWMutex
	filed map[uuid.UUID]filedResource
}

// NewInMemoryResourceStore creates an empty store
func NewInMemoryResourceStore() *InMemoryResourceStore {
	return &InMemoryResourceStore{filed: make(map[uuid.UUID]filedResource)}
}

// Load returns the builder filed for globalID; found is false when none exists
func (s *InMemoryResourceStore) Load(ctx context.Context, entityKey string, globalID uuid.UUID) (*resource.Builder, bool, error) {
	s.mu.RLock()
	f, ok := s.filed[globalID]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	b, err := resource.Restore(f.resourceType, f.entityKey, globalID, f.state)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// File writes the builder state, replacing any earlier version
func (s *InMemoryResourceStore) File(ctx context.Context, entityKey string, globalID uuid.UUID, b *resource.Builder) error {
	if b.GlobalID() != globalID {
		return fmt.Errorf("file resource %s: builder carries id %s, expected %s", entityKey, b.GlobalID(), globalID)
	}
	state, err := b.MarshalState()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.filed[globalID] = filedResource{resourceType: b.ResourceType(), entityKey: entityKey, state: state}
	return nil
}

// Size returns the number of filed builders (for testing/monitoring)
func (s *InMemoryResourceStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.filed)
}

var (
	_ ResourceStore = (*RedisResourceStore)(nil)
	_ ResourceStore = (*InMemoryResourceStore)(nil)
)
