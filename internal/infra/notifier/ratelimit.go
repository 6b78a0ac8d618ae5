package notifier

import (
	"context"
	"math"

	"golang.org/x/time/rate"

	"notifyhub/internal/domain/entity"
)

// RateLimiter implements token bucket algorithm for rate limiting.
// It keeps a channel's provider from being hit faster than its policy allows.
type RateLimiter struct {
	rate    rate.Limit
	burst   int
	limiter *rate.Limiter
}

// NewRateLimiter creates a new RateLimiter with the specified rate and burst capacity.
// A non-positive rate disables limiting.
//
// Example:
//
//	limiter := NewRateLimiter(2.0, 5)  // 2 req/s with burst of 5
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	r := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		r = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rate:    r,
		burst:   burst,
		limiter: rate.NewLimiter(r, burst),
	}
}

// NewPolicyRateLimiter sizes a limiter from a channel policy. The burst equals
// the rounded-up per-second rate.
func NewPolicyRateLimiter(p entity.ChannelPolicy) *RateLimiter {
	burst := int(math.Ceil(p.RateLimitPerSecond))
	return NewRateLimiter(p.RateLimitPerSecond, burst)
}

// Allow blocks until a token is available or the context is canceled.
//
// Example:
//
//	if err := limiter.Allow(ctx); err != nil {
//	    return fmt.Errorf("rate limit error: %w", err)
//	}
func (r *RateLimiter) Allow(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Limit returns the configured sustained rate.
func (r *RateLimiter) Limit() rate.Limit { return r.rate }

// limitedSender waits on a limiter before every batch.
type limitedSender struct {
	Sender
	limiter *RateLimiter
}

// WithRateLimit wraps s so each Send first takes a token from limiter.
func WithRateLimit(s Sender, limiter *RateLimiter) Sender {
	if limiter == nil || limiter.rate == rate.Inf {
		return s
	}
	return &limitedSender{Sender: s, limiter: limiter}
}

func (l *limitedSender) Send(ctx context.Context, tenantID string, devices []*entity.Device, msg Message) error {
	if len(devices) == 0 {
		return nil
	}
	if err := l.limiter.Allow(ctx); err != nil {
		return &RateLimitError{Message: "channel " + string(l.Channel()) + " rate limit wait: " + err.Error()}
	}
	return l.Sender.Send(ctx, tenantID, devices, msg)
}
