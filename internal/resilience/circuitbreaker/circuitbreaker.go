// Package circuitbreaker provides circuit breakers for outbound provider calls.
// It uses the github.com/sony/gobreaker library to stop hammering a provider that is down.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"notifyhub/internal/domain/entity"
)

// Config holds the configuration for a circuit breaker.
type Config struct {
	// Name is the circuit breaker name for logging and metrics
	Name string

	// MaxRequests is the maximum number of requests allowed in half-open state
	MaxRequests uint32

	// Interval is the cyclic period of the closed state to clear success/failure counts
	Interval time.Duration

	// Timeout is how long to wait in open state before trying again
	Timeout time.Duration

	// FailureThreshold is the failure ratio threshold to trip the circuit (0.6 = 60%)
	FailureThreshold float64

	// MinRequests is the minimum number of requests before calculating failure ratio
	MinRequests uint32

	// IsSuccessful decides which errors count as failures. nil counts every error.
	IsSuccessful func(err error) bool
}

// DefaultConfig returns a default configuration for circuit breakers.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// channelConfig returns the breaker configuration for a delivery channel.
// Chat providers rate-limit aggressively, so they get a longer cool-down.
func channelConfig(ch entity.ChannelType, name string) Config {
	cfg := DefaultConfig(name)
	switch ch {
	case entity.ChannelEmail:
		cfg.Timeout = 120 * time.Second
		cfg.FailureThreshold = 0.7
	case entity.ChannelChat:
		cfg.Timeout = 180 * time.Second
	}
	return cfg
}

// CircuitBreaker wraps gobreaker.CircuitBreaker with additional functionality.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	name    string
}

// New creates a new circuit breaker with the given configuration.
func New(cfg Config) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		IsSuccessful: cfg.IsSuccessful,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}

	return &CircuitBreaker{
		breaker: gobreaker.NewCircuitBreaker(settings),
		name:    cfg.Name,
	}
}

// Execute runs the given function through the circuit breaker.
// If the circuit is open, it returns gobreaker.ErrOpenState immediately.
func (cb *CircuitBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return cb.breaker.Execute(fn)
}

// Run is Execute for functions without a result.
func (cb *CircuitBreaker) Run(fn func() error) error {
	_, err := cb.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.breaker.State()
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// IsOpen returns true if the circuit breaker is in the open state.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.breaker.State() == gobreaker.StateOpen
}

// IsRejected reports whether err came from a breaker refusing the call.
func IsRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Set lazily creates one breaker per key.
type Set struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	configFn func(key string) Config
}

// NewSet creates a Set. configFn builds the configuration for a new key.
func NewSet(configFn func(key string) Config) *Set {
	return &Set{
		breakers: make(map[string]*CircuitBreaker),
		configFn: configFn,
	}
}

// TenantKey is the Set key of one tenant's breaker on a channel.
func TenantKey(ch entity.ChannelType, tenantID string) string {
	return string(ch) + ":" + tenantID
}

// NewTenantSet returns a Set keyed by TenantKey. Every tenant gets its own
// breaker with the channel's settings, so one tenant's provider account
// cannot open the circuit for the others. isSuccessful filters which errors
// count as failures.
func NewTenantSet(isSuccessful func(err error) bool) *Set {
	return NewSet(func(key string) Config {
		ch, _, _ := strings.Cut(key, ":")
		cfg := channelConfig(entity.ChannelType(ch), "channel-"+key)
		cfg.IsSuccessful = isSuccessful
		return cfg
	})
}

// Get returns the breaker for key, creating it on first use.
func (s *Set) Get(key string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[key]
	if !ok {
		cb = New(s.configFn(key))
		s.breakers[key] = cb
	}
	return cb
}

// States returns the state name of every breaker created so far whose key
// starts with prefix.
func (s *Set) States(prefix string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.breakers))
	for k, cb := range s.breakers {
		if strings.HasPrefix(k, prefix) {
			out[k] = cb.State().String()
		}
	}
	return out
}
