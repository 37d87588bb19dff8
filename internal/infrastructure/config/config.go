package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends
const (
	StoreBackendPostgres = "postgres"
	StoreBackendRedis    = "redis"
	StoreBackendMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Store     StoreConfig
	Pool      PoolConfig
	Identity  IdentityConfig
	Cache     CacheConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

type AppConfig struct {
	Name string
	Env  string
}

// DatabaseConfig holds the Postgres connection used by the postgres store backend
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // minutes
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // minutes
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// StoreConfig selects the backing store for mappings and identities
type StoreConfig struct {
	Backend               string // postgres, redis, memory
	AllowInMemoryFallback bool   `mapstructure:"allow_in_memory_fallback"` // redis backend only
}

// PoolConfig sizes the run's worker pool. QueueSize 0 means 50 slots per worker.
type PoolConfig struct {
	Workers   int
	QueueSize int `mapstructure:"queue_size"`
}

// IdentityConfig holds identity resolution settings
type IdentityConfig struct {
	LocalScope      string `mapstructure:"local_scope"`       // scope under which this system mints identifiers
	ExternalScope   string `mapstructure:"external_scope"`    // scope holding identifiers minted by the external authority
	LookupCacheSize int    `mapstructure:"lookup_cache_size"` // resolved ids kept in memory; 0 disables the cache
}

// CacheConfig holds builder cache settings
type CacheConfig struct {
	FlushWorkers int `mapstructure:"flush_workers"` // concurrent persist calls during FlushAll; 1 flushes sequentially
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool          // traces and metrics
	CollectorEndpoint string        `mapstructure:"collector_endpoint"` // OTLP gRPC, e.g. "localhost:4317"
	SamplingRatio     float64       `mapstructure:"sampling_ratio"`     // 0.0 to 1.0
	ExportInterval    time.Duration `mapstructure:"export_interval"`
	ServiceName       string        `mapstructure:"service_name"`
	Insecure          bool          // plaintext gRPC, development only
	LogsEnabled       bool          `mapstructure:"logs_enabled"`     // bridge zap logs to the collector
	DBTraceEnabled    bool          `mapstructure:"db_trace_enabled"` // trace store queries via otelgorm
	DBLogFullSQL      bool          `mapstructure:"db_log_full_sql"`  // query variables in spans, never in production
}

// defaults registers every key with viper, which is also what lets RLINK_* variables
// reach Unmarshal for keys absent from the file.
var defaults = map[string]any{
	"app.name":                       "recordlink",
	"app.env":                        "development",
	"database.host":                  "localhost",
	"database.port":                  5432,
	"database.user":                  "postgres",
	"database.password":              "",
	"database.dbname":                "recordlink",
	"database.sslmode":               "disable",
	"database.max_open_conns":        25,
	"database.max_idle_conns":        5,
	"database.conn_max_lifetime":     60,
	"database.conn_max_idle_time":    30,
	"redis.host":                     "localhost",
	"redis.port":                     6379,
	"redis.password":                 "",
	"redis.db":                       0,
	"log.level":                      "info",
	"log.format":                     "console",
	"log.output":                     "stdout",
	"store.backend":                  StoreBackendPostgres,
	"store.allow_in_memory_fallback": false,
	"pool.workers":                   8,
	"pool.queue_size":                0,
	"identity.local_scope":           "LOCAL",
	"identity.external_scope":        "",
	"identity.lookup_cache_size":     100000,
	"cache.flush_workers":            1,
	"telemetry.enabled":              false,
	"telemetry.collector_endpoint":   "localhost:4317",
	"telemetry.sampling_ratio":       1.0,
	"telemetry.export_interval":      60 * time.Second,
	"telemetry.service_name":         "recordlink",
	"telemetry.insecure":             false,
	"telemetry.logs_enabled":         false,
	"telemetry.db_trace_enabled":     false,
	"telemetry.db_log_full_sql":      false,
}

// Load reads ./config.toml or /etc/recordlink/config.toml when present.
// RLINK_* environment variables (RLINK_DATABASE_PASSWORD, RLINK_POOL_WORKERS, ...)
// override the file, which overrides built-in defaults.
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/recordlink")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFile is Load with an explicit file, which must exist
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix("RLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Pool.QueueSize == 0 {
		cfg.Pool.QueueSize = cfg.Pool.Workers * 50
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Store.Backend {
	case StoreBackendPostgres, StoreBackendRedis, StoreBackendMemory:
	default:
		return fmt.Errorf("store.backend must be one of postgres, redis, memory, got %q", c.Store.Backend)
	}

	if c.Pool.Workers < 0 {
		return fmt.Errorf("pool.workers cannot be negative")
	}
	if c.Pool.QueueSize < 0 {
		return fmt.Errorf("pool.queue_size cannot be negative")
	}
	if c.Cache.FlushWorkers < 0 {
		return fmt.Errorf("cache.flush_workers cannot be negative")
	}
	if c.Identity.LookupCacheSize < 0 {
		return fmt.Errorf("identity.lookup_cache_size cannot be negative")
	}
	if c.Identity.ExternalScope != "" && c.Identity.ExternalScope == c.Identity.LocalScope {
		return fmt.Errorf("identity.external_scope must differ from identity.local_scope (%q)", c.Identity.LocalScope)
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	if c.App.Env == "production" {
		if c.Store.Backend == StoreBackendMemory {
			return fmt.Errorf("store.backend cannot be 'memory' in production: identifiers would not survive the run")
		}
		if c.Store.AllowInMemoryFallback {
			return fmt.Errorf("store.allow_in_memory_fallback must be false in production")
		}
		if c.Store.Backend == StoreBackendPostgres && c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production: business keys would leak into traces")
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
