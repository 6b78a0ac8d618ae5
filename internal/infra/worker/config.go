package worker

import (
	"fmt"
	"log/slog"
	"time"

	"notifyhub/internal/pkg/config"
)

// WorkerConfig holds the configuration for the worker process: the two
// periodic jobs, the ingest queue consumer and the outcome log sink.
//
// Configuration sources:
//   - Environment variables (loaded via LoadConfigFromEnv)
//   - Default values (provided by DefaultConfig)
//
// Every field has a default and a validation rule, so the worker can start
// with missing or invalid variables.
type WorkerConfig struct {
	// RetryCron is the cron expression for the retry reconciler pass.
	// Default: "*/5 * * * *" (every five minutes)
	RetryCron string

	// ScheduleCron is the cron expression for the scheduled-job trigger.
	// Default: "* * * * *" (every minute)
	ScheduleCron string

	// Timezone is the IANA timezone name used by the cron scheduler.
	// Default: "UTC"
	Timezone string

	// JobTimeout bounds one retry pass or one schedule pass.
	// Range: 10s-1h. Default: 4m (shorter than the retry period)
	JobTimeout time.Duration

	// QueuePollInterval is the sleep after finding the ingest queue empty.
	// Range: 10ms-1m. Default: 1s
	QueuePollInterval time.Duration

	// QueueErrorBackoff is the sleep after a failed dequeue.
	// Range: 100ms-5m. Default: 3s
	QueueErrorBackoff time.Duration

	// VisibilityTimeout is how long a dequeued item may stay unacked before
	// the reaper hands it out again.
	// Range: 10s-1h. Default: 5m
	VisibilityTimeout time.Duration

	// LogCapacity bounds the in-memory outcome buffer.
	// Range: 100-10000000. Default: 100000
	LogCapacity int

	// LogBatchSize is the number of outcomes per batch insert.
	// Range: 1-10000. Default: 1000
	LogBatchSize int

	// LogRetryDelay is the wait before retrying a failed batch insert.
	// Range: 100ms-5m. Default: 3s
	LogRetryDelay time.Duration

	// HealthPort is the port number for the health check HTTP server.
	// Range: 1024-65535. Default: 9091
	HealthPort int
}

// DefaultConfig returns a WorkerConfig with the default values.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		RetryCron:         "*/5 * * * *",
		ScheduleCron:      "* * * * *",
		Timezone:          "UTC",
		JobTimeout:        4 * time.Minute,
		QueuePollInterval: time.Second,
		QueueErrorBackoff: 3 * time.Second,
		VisibilityTimeout: 5 * time.Minute,
		LogCapacity:       100000,
		LogBatchSize:      1000,
		LogRetryDelay:     3 * time.Second,
		HealthPort:        9091,
	}
}

// Validate checks every field and returns all problems together.
func (c *WorkerConfig) Validate() error {
	var errors []error

	if err := config.ValidateCronSchedule(c.RetryCron); err != nil {
		errors = append(errors, fmt.Errorf("retry cron: %w", err))
	}
	if err := config.ValidateCronSchedule(c.ScheduleCron); err != nil {
		errors = append(errors, fmt.Errorf("schedule cron: %w", err))
	}
	if err := config.ValidateTimezone(c.Timezone); err != nil {
		errors = append(errors, fmt.Errorf("timezone: %w", err))
	}
	if err := config.ValidateDuration(c.JobTimeout, 10*time.Second, time.Hour); err != nil {
		errors = append(errors, fmt.Errorf("job timeout: %w", err))
	}
	if err := config.ValidateDuration(c.QueuePollInterval, 10*time.Millisecond, time.Minute); err != nil {
		errors = append(errors, fmt.Errorf("queue poll interval: %w", err))
	}
	if err := config.ValidateDuration(c.QueueErrorBackoff, 100*time.Millisecond, 5*time.Minute); err != nil {
		errors = append(errors, fmt.Errorf("queue error backoff: %w", err))
	}
	if err := config.ValidateDuration(c.VisibilityTimeout, 10*time.Second, time.Hour); err != nil {
		errors = append(errors, fmt.Errorf("visibility timeout: %w", err))
	}
	if err := config.ValidateIntRange(c.LogCapacity, 100, 10000000); err != nil {
		errors = append(errors, fmt.Errorf("log capacity: %w", err))
	}
	if err := config.ValidateIntRange(c.LogBatchSize, 1, 10000); err != nil {
		errors = append(errors, fmt.Errorf("log batch size: %w", err))
	}
	if err := config.ValidateDuration(c.LogRetryDelay, 100*time.Millisecond, 5*time.Minute); err != nil {
		errors = append(errors, fmt.Errorf("log retry delay: %w", err))
	}
	if err := config.ValidateIntRange(c.HealthPort, 1024, 65535); err != nil {
		errors = append(errors, fmt.Errorf("health port: %w", err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation failed: %v", errors)
	}
	return nil
}

// LoadConfigFromEnv loads the worker configuration from environment variables.
//
// Fail-open: a variable that does not parse or validate is replaced by its
// default, logged as a warning and counted in metrics. The returned error is
// always nil.
//
// Environment variables:
//   - RETRY_CRON, SCHEDULE_CRON, WORKER_TIMEZONE
//   - WORKER_JOB_TIMEOUT
//   - QUEUE_POLL_INTERVAL, QUEUE_ERROR_BACKOFF, QUEUE_VISIBILITY_TIMEOUT
//   - LOG_SINK_CAPACITY, LOG_SINK_BATCH_SIZE, LOG_SINK_RETRY_DELAY
//   - WORKER_HEALTH_PORT
func LoadConfigFromEnv(logger *slog.Logger, metrics *WorkerMetrics) (*WorkerConfig, error) {
	cfg := DefaultConfig()
	l := &envLoader{logger: logger, metrics: metrics}

	cfg.RetryCron = l.apply("retry_cron",
		config.LoadEnvWithFallback("RETRY_CRON", cfg.RetryCron, config.ValidateCronSchedule)).(string)
	cfg.ScheduleCron = l.apply("schedule_cron",
		config.LoadEnvWithFallback("SCHEDULE_CRON", cfg.ScheduleCron, config.ValidateCronSchedule)).(string)
	cfg.Timezone = l.apply("timezone",
		config.LoadEnvWithFallback("WORKER_TIMEZONE", cfg.Timezone, config.ValidateTimezone)).(string)
	cfg.JobTimeout = l.apply("job_timeout",
		config.LoadEnvDuration("WORKER_JOB_TIMEOUT", cfg.JobTimeout, durationRange(10*time.Second, time.Hour))).(time.Duration)
	cfg.QueuePollInterval = l.apply("queue_poll_interval",
		config.LoadEnvDuration("QUEUE_POLL_INTERVAL", cfg.QueuePollInterval, durationRange(10*time.Millisecond, time.Minute))).(time.Duration)
	cfg.QueueErrorBackoff = l.apply("queue_error_backoff",
		config.LoadEnvDuration("QUEUE_ERROR_BACKOFF", cfg.QueueErrorBackoff, durationRange(100*time.Millisecond, 5*time.Minute))).(time.Duration)
	cfg.VisibilityTimeout = l.apply("visibility_timeout",
		config.LoadEnvDuration("QUEUE_VISIBILITY_TIMEOUT", cfg.VisibilityTimeout, durationRange(10*time.Second, time.Hour))).(time.Duration)
	cfg.LogCapacity = l.apply("log_capacity",
		config.LoadEnvInt("LOG_SINK_CAPACITY", cfg.LogCapacity, intRange(100, 10000000))).(int)
	cfg.LogBatchSize = l.apply("log_batch_size",
		config.LoadEnvInt("LOG_SINK_BATCH_SIZE", cfg.LogBatchSize, intRange(1, 10000))).(int)
	cfg.LogRetryDelay = l.apply("log_retry_delay",
		config.LoadEnvDuration("LOG_SINK_RETRY_DELAY", cfg.LogRetryDelay, durationRange(100*time.Millisecond, 5*time.Minute))).(time.Duration)
	cfg.HealthPort = l.apply("health_port",
		config.LoadEnvInt("WORKER_HEALTH_PORT", cfg.HealthPort, intRange(1024, 65535))).(int)

	metrics.SetFallbackActive(l.fallback)
	metrics.RecordLoadTimestamp()

	return &cfg, nil
}

type envLoader struct {
	logger   *slog.Logger
	metrics  *WorkerMetrics
	fallback bool
}

// apply records a fallback for field, if any, and returns the loaded value.
func (l *envLoader) apply(field string, result config.ConfigLoadResult) interface{} {
	if result.FallbackApplied {
		l.fallback = true
		l.metrics.RecordValidationError(field)
		l.metrics.RecordFallback(field)
		for _, warning := range result.Warnings {
			l.logger.Warn("Configuration fallback applied",
				slog.String("field", field),
				slog.String("warning", warning))
		}
	}
	return result.Value
}

func durationRange(min, max time.Duration) func(time.Duration) error {
	return func(d time.Duration) error { return config.ValidateDuration(d, min, max) }
}

func intRange(min, max int) func(int) error {
	return func(v int) error { return config.ValidateIntRange(v, min, max) }
}
