package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Outcome store backends.
const (
	OutcomeStorePostgres = "postgres"
	OutcomeStoreSQLite   = "sqlite"
)

// AppConfig holds the settings shared by the api and worker binaries.
type AppConfig struct {
	// HTTPAddr is the api listen address. Default: ":8080"
	HTTPAddr string

	// QueueThreshold is the largest fan-out delivered inline; larger requests
	// go to the ingest queue. Default: 1000
	QueueThreshold int

	// ChannelPolicyFile optionally overrides the built-in channel policies (YAML).
	ChannelPolicyFile string

	// DryRun replaces every provider sender with a logging no-op sender.
	DryRun bool

	Queue    QueueConfig
	Outcomes OutcomeStoreConfig
	Cache    CacheConfig

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration

	Observability ObservabilityConfig
}

// QueueConfig configures the redis-backed ingest queue.
type QueueConfig struct {
	// Key of the pending list. Default: "notification:tasks"
	Key string
	// MaxSize rejects enqueues beyond this length. 0 means unbounded.
	MaxSize int
	// VisibilityTimeout before an unacked item is handed out again. Default: 5m
	VisibilityTimeout time.Duration
}

// OutcomeStoreConfig selects where delivery outcomes are written.
type OutcomeStoreConfig struct {
	// Backend is "postgres" (default) or "sqlite".
	Backend string
	// SQLitePath is used when Backend is "sqlite". Default: "outcomes.db"
	SQLitePath string
}

// CacheConfig sizes the tenant config cache tiers.
type CacheConfig struct {
	MemorySize int           // Default: 10000
	MemoryTTL  time.Duration // Default: 5m
	RedisTTL   time.Duration // Default: 30m
}

// ObservabilityConfig holds logging and tracing settings.
type ObservabilityConfig struct {
	// EnableTracing installs an OpenTelemetry tracer provider.
	EnableTracing bool
	// LogLevel. Default: "info"
	LogLevel string
}

// LoadAppConfig loads the configuration from environment variables.
// Unset variables take their defaults.
func LoadAppConfig() (*AppConfig, error) {
	config := &AppConfig{
		HTTPAddr:          getEnvOrDefault("HTTP_ADDR", ":8080"),
		QueueThreshold:    getEnvInt("QUEUE_THRESHOLD", 1000),
		ChannelPolicyFile: os.Getenv("CHANNEL_POLICY_FILE"),
		DryRun:            getEnvBool("NOTIFY_DRY_RUN", false),
		Queue: QueueConfig{
			Key:               getEnvOrDefault("QUEUE_KEY", "notification:tasks"),
			MaxSize:           getEnvInt("QUEUE_MAX_SIZE", 0),
			VisibilityTimeout: getEnvDuration("QUEUE_VISIBILITY_TIMEOUT", 5*time.Minute),
		},
		Outcomes: OutcomeStoreConfig{
			Backend:    getEnvOrDefault("OUTCOME_STORE", OutcomeStorePostgres),
			SQLitePath: getEnvOrDefault("OUTCOME_SQLITE_PATH", "outcomes.db"),
		},
		Cache: CacheConfig{
			MemorySize: getEnvInt("CACHE_MEMORY_SIZE", 10000),
			MemoryTTL:  getEnvDuration("CACHE_MEMORY_TTL", 5*time.Minute),
			RedisTTL:   getEnvDuration("CACHE_REDIS_TTL", 30*time.Minute),
		},
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		Observability: ObservabilityConfig{
			EnableTracing: getEnvBool("TRACING_ENABLED", false),
			LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks configuration correctness.
func (c *AppConfig) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR cannot be empty")
	}

	if c.QueueThreshold <= 0 {
		return fmt.Errorf("QUEUE_THRESHOLD must be positive")
	}

	if c.Queue.Key == "" {
		return fmt.Errorf("QUEUE_KEY cannot be empty")
	}

	if c.Queue.MaxSize < 0 {
		return fmt.Errorf("QUEUE_MAX_SIZE must not be negative")
	}

	if c.Queue.VisibilityTimeout <= 0 {
		return fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT must be positive")
	}

	switch c.Outcomes.Backend {
	case OutcomeStorePostgres:
	case OutcomeStoreSQLite:
		if c.Outcomes.SQLitePath == "" {
			return fmt.Errorf("OUTCOME_SQLITE_PATH cannot be empty")
		}
	default:
		return fmt.Errorf("OUTCOME_STORE must be %q or %q", OutcomeStorePostgres, OutcomeStoreSQLite)
	}

	if c.Cache.MemorySize <= 0 {
		return fmt.Errorf("CACHE_MEMORY_SIZE must be positive")
	}

	if c.Cache.MemoryTTL <= 0 || c.Cache.RedisTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}

	return nil
}

// getEnvOrDefault returns environment variable value or default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool parses boolean environment variable with default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt parses integer environment variable with default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration parses duration environment variable with default.
// Supports formats like "30s", "1m", "2h".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
