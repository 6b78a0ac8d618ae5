package entity

import (
	"fmt"
	"time"
)

// RetryPolicy controls how RetryReconciler treats failed outcomes of one channel.
type RetryPolicy struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxRetryDuration  time.Duration `yaml:"max_retry_duration"`
	RetryOnTimeout    bool          `yaml:"retry_on_timeout"`
}

// ChannelPolicy holds the throughput and retry limits for one channel.
// Zero BatchSize means "not configured": the dispatcher then derives a
// batch size from the group size.
type ChannelPolicy struct {
	Channel                 ChannelType   `yaml:"channel"`
	MaxRecipientsPerRequest int           `yaml:"max_recipients_per_request"`
	BatchSize               int           `yaml:"batch_size"`
	MaxConcurrentTasks      int           `yaml:"max_concurrent_tasks"`
	RateLimitPerSecond      float64       `yaml:"rate_limit_per_second"`
	RequestTimeout          time.Duration `yaml:"request_timeout"`
	Retry                   RetryPolicy   `yaml:"retry"`
	QueueMaxSize            int           `yaml:"queue_max_size"`
}

// Default values shared by every channel when no row or file overrides them.
const (
	DefaultMaxConcurrentTasks = 5
	DefaultMaxAttempts        = 3
	DefaultInitialRetryDelay  = 60 * time.Second
	DefaultMaxRetryDelay      = time.Hour
	DefaultBackoffMultiplier  = 2.0
	DefaultMaxRetryDuration   = 24 * time.Hour
	DefaultRequestTimeout     = 30 * time.Second
)

// DefaultPolicy returns the built-in policy for ch.
func DefaultPolicy(ch ChannelType) ChannelPolicy {
	return ChannelPolicy{
		Channel:            ch,
		MaxConcurrentTasks: DefaultMaxConcurrentTasks,
		RequestTimeout:     DefaultRequestTimeout,
		Retry: RetryPolicy{
			MaxAttempts:       DefaultMaxAttempts,
			InitialDelay:      DefaultInitialRetryDelay,
			MaxDelay:          DefaultMaxRetryDelay,
			BackoffMultiplier: DefaultBackoffMultiplier,
			MaxRetryDuration:  DefaultMaxRetryDuration,
		},
	}
}

// Validate enforces the policy invariants.
func (p *ChannelPolicy) Validate() error {
	if !p.Channel.Valid() {
		return &ValidationError{Field: "channel", Message: fmt.Sprintf("unknown channel %q", p.Channel)}
	}
	if p.BatchSize < 0 || p.MaxConcurrentTasks < 0 || p.MaxRecipientsPerRequest < 0 || p.QueueMaxSize < 0 {
		return &ValidationError{Field: "batchSize", Message: "sizes must be zero or positive"}
	}
	if p.RateLimitPerSecond < 0 {
		return &ValidationError{Field: "rateLimitPerSecond", Message: "rate limit must be zero or positive"}
	}
	r := p.Retry
	if r.MaxAttempts < 0 {
		return &ValidationError{Field: "maxAttempts", Message: "max attempts must be zero or positive"}
	}
	if r.MaxAttempts > 1 && r.BackoffMultiplier <= 1.0 {
		return &ValidationError{Field: "backoffMultiplier", Message: "backoff multiplier must be greater than 1.0 when retries are enabled"}
	}
	if r.InitialDelay > r.MaxDelay {
		return &ValidationError{Field: "initialDelay", Message: "initial delay must be less than or equal to max delay"}
	}
	return nil
}

// ConcurrencyLimit returns MaxConcurrentTasks or the default when unset.
func (p *ChannelPolicy) ConcurrencyLimit() int {
	if p.MaxConcurrentTasks > 0 {
		return p.MaxConcurrentTasks
	}
	return DefaultMaxConcurrentTasks
}
