package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/recordlink/backend/internal/domain/identity"
	"github.com/redis/go-redis/v9"
)

const (
	defaultIdentityKeyPrefix = "identity:"
	defaultMappingKeyPrefix  = "mapping:"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisClient creates a Redis client and verifies the connection
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisIdentityRepository implements identity.IdentityRepository using Redis
// Several processes sharing one Redis observe a single identity per key
type RedisIdentityRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisIdentityRepository creates a repository with an existing Redis client
func NewRedisIdentityRepository(client *redis.Client, keyPrefix string) *RedisIdentityRepository {
	if keyPrefix == "" {
		keyPrefix = defaultIdentityKeyPrefix
	}
	return &RedisIdentityRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (r *RedisIdentityRepository) redisKey(key identity.IdentityKey) string {
	return r.keyPrefix + encodeKeyParts(key.Scope, key.ResourceType, key.BusinessKey)
}

// encodeKeyParts length-prefixes every part ("5:LOCAL|7:Patient|2:P1") so no
// separator inside a part can make two distinct tuples share a Redis key
func encodeKeyParts(parts ...string) string {
	var b strings.Builder
	for i, part := range parts {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

// Find returns the record stored for key
func (r *RedisIdentityRepository) Find(ctx context.Context, key identity.IdentityKey) (*identity.IdentityRecord, error) {
	val, err := r.client.Get(ctx, r.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, identity.ErrIdentityNotFound
	}
	if err != nil {
		return nil, identity.NewStoreError(identity.ErrCodeStoreRead, "get identity", err)
	}

	id, err := uuid.Parse(val)
	if err != nil {
		return nil, fmt.Errorf("corrupt identity value for %s: %w", key, err)
	}
	return &identity.IdentityRecord{IdentityKey: key, GlobalID: id}, nil
}

// CreateIfAbsent stores record unless its key is already present
// Uses SETNX (SET if Not eXists) so concurrent creators agree on one winner
func (r *RedisIdentityRepository) CreateIfAbsent(ctx context.Context, record identity.IdentityRecord) (*identity.IdentityRecord, bool, error) {
	created, err := r.client.SetNX(ctx, r.redisKey(record.IdentityKey), record.GlobalID.String(), 0).Result()
	if err != nil {
		return nil, false, identity.NewStoreError(identity.ErrCodeStoreWrite, "setnx identity", err)
	}
	if created {
		if record.CreatedAt.IsZero() {
			record.CreatedAt = time.Now()
		}
		return &record, true, nil
	}

	existing, err := r.Find(ctx, record.IdentityKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// RedisMappingRepository implements identity.MappingRepository using Redis
type RedisMappingRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisMappingRepository creates a repository with an existing Redis client
func NewRedisMappingRepository(client *redis.Client, keyPrefix string) *RedisMappingRepository {
	if keyPrefix == "" {
		keyPrefix = defaultMappingKeyPrefix
	}
	return &RedisMappingRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (r *RedisMappingRepository) redisKey(mappingType, localKey string) string {
	return r.keyPrefix + encodeKeyParts(mappingType, localKey)
}

// Upsert stores entry, replacing the previous value for the same pair
func (r *RedisMappingRepository) Upsert(ctx context.Context, entry identity.MappingEntry) error {
	if err := r.client.Set(ctx, r.redisKey(entry.MappingType, entry.LocalKey), entry.LocalValue, 0).Err(); err != nil {
		return identity.NewStoreError(identity.ErrCodeStoreWrite, "set mapping", err)
	}
	return nil
}

// Find returns the entry stored for the pair
func (r *RedisMappingRepository) Find(ctx context.Context, mappingType, localKey string) (*identity.MappingEntry, error) {
	val, err := r.client.Get(ctx, r.redisKey(mappingType, localKey)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, identity.ErrMappingNotFound
	}
	if err != nil {
		return nil, identity.NewStoreError(identity.ErrCodeStoreRead, "get mapping", err)
	}
	return &identity.MappingEntry{MappingType: mappingType, LocalKey: localKey, LocalValue: val}, nil
}

// Ensure Redis repositories implement the identity contracts
var (
	_ identity.IdentityRepository = (*RedisIdentityRepository)(nil)
	_ identity.MappingRepository  = (*RedisMappingRepository)(nil)
)
