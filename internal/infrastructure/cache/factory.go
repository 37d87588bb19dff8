package cache

import (
	"fmt"
	"io"

	"github.com/recordlink/backend/internal/domain/identity"
	"github.com/recordlink/backend/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stores groups the backing repositories used by identity resolution
type Stores struct {
	Identities identity.IdentityRepository
	Mappings   identity.MappingRepository
	Resources  ResourceStore

	closer io.Closer
}

// Close releases the underlying connection, if any
func (s *Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// StoreFactory creates identity stores based on configuration
type StoreFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// StoreFactoryOption is a functional option for configuring the factory
type StoreFactoryOption func(*StoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to in-memory stores when Redis is unavailable
// Default is false: identities minted in memory do not outlive the process
func WithInMemoryFallback(allow bool) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewStoreFactory creates a new factory
func NewStoreFactory(cfg config.RedisConfig, opts ...StoreFactoryOption) *StoreFactory {
	f := &StoreFactory{
		redisConfig: cfg,
		logger:      zap.NewNop(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateRedisStores creates Redis-backed identity and mapping repositories sharing one client
func (f *StoreFactory) CreateRedisStores() (*Stores, error) {
	client, err := NewRedisClient(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis identity stores: %w", err)
	}

	return NewRedisStores(client), nil
}

// NewRedisStores wraps an existing client
func NewRedisStores(client *redis.Client) *Stores {
	return &Stores{
		Identities: NewRedisIdentityRepository(client, ""),
		Mappings:   NewRedisMappingRepository(client, ""),
		Resources:  NewRedisResourceStore(client, ""),
		closer:     client,
	}
}

// CreateInMemoryStores creates in-memory repositories
// WARNING: identities minted in memory are lost when the process exits,
// so repeated runs will not see the same identifiers
func (f *StoreFactory) CreateInMemoryStores() *Stores {
	return &Stores{
		Identities: NewInMemoryIdentityRepository(),
		Mappings:   NewInMemoryMappingRepository(),
		Resources:  NewInMemoryResourceStore(),
	}
}

// CreateStores tries Redis first and falls back to memory when allowed
func (f *StoreFactory) CreateStores() (*Stores, error) {
	stores, err := f.CreateRedisStores()
	if err == nil {
		f.logger.Info("using Redis identity stores")
		return stores, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("%w: Redis required for identity stores: %v", identity.ErrStoreUnavailable, err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory identity stores. "+
		"Identifiers minted in this run will not be stable across runs.",
		zap.Error(err),
	)
	return f.CreateInMemoryStores(), nil
}
