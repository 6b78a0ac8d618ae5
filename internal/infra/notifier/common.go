package notifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/resilience/retry"
)

// Provider error types shared by the senders.

// RateLimitError represents an upstream 429 / quota error.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (retry after %v)", e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded (retry after %v)", e.RetryAfter)
}

// ClientError represents a rejected request (bad token, bad address, 4xx).
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	return e.Message
}

// ServerError represents an upstream 5xx failure.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return e.Message
}

// Classify sorts a send error into the failure kinds stored on outcomes.
// Rejected requests, missing credentials and unknown tenants are permanent; deadlines are
// timeouts; everything else (rate limits, 5xx, transport, open circuits) is
// transient.
func Classify(err error) entity.FailureKind {
	if err == nil {
		return entity.FailureNone
	}
	var clientErr *ClientError
	if errors.As(err, &clientErr) || errors.Is(err, ErrNoCredential) ||
		errors.Is(err, entity.ErrNotFound) || retry.IsPermanent(err) {
		return entity.FailurePermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return entity.FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return entity.FailureTimeout
	}
	return entity.FailureTransient
}

// CountsAgainstProvider reports whether err says something about the
// provider's health. Permanent errors belong to one tenant's data and
// must not trip a shared breaker.
func CountsAgainstProvider(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch Classify(err) {
	case entity.FailureTransient, entity.FailureTimeout:
		return true
	}
	return false
}

// truncate cuts text to maxLength bytes on a rune boundary, appending suffix when cut.
func truncate(text string, maxLength int, suffix string) string {
	if len(text) <= maxLength {
		return text
	}
	cut := maxLength - len(suffix)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + suffix
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
