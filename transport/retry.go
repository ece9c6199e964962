// Package transport implements the outbound request path of the client core:
// the retry policy engine and the authenticated request executor.
package transport

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// =============================================================================
// Retry Configuration
// =============================================================================

// RetryConfig configures retry behavior for a request.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts after the first call.
	MaxRetries int
	// RetryDelay is the base delay between attempts.
	RetryDelay time.Duration
	// ExponentialBackoff doubles the delay on every attempt when set.
	ExponentialBackoff bool
	// RetryableStatusCodes are the HTTP status codes that should be retried.
	RetryableStatusCodes []int
}

// DefaultRetryConfig returns sensible defaults for retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:         3,
		RetryDelay:         time.Second,
		ExponentialBackoff: true,
		RetryableStatusCodes: []int{
			http.StatusRequestTimeout,      // 408
			http.StatusTooManyRequests,     // 429
			http.StatusInternalServerError, // 500
			http.StatusBadGateway,          // 502
			http.StatusServiceUnavailable,  // 503
			http.StatusGatewayTimeout,      // 504
		},
	}
}

// =============================================================================
// Retry Policy Engine
// =============================================================================

// IsRetryable reports whether err may be retried under cfg. Failures with no
// HTTP response (network errors, timeouts) are always retryable; a status
// error is retryable only when its status is whitelisted.
func IsRetryable(err error, cfg RetryConfig) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		for _, code := range cfg.RetryableStatusCodes {
			if statusErr.Status == code {
				return true
			}
		}
		return false
	}

	// Context errors mean the caller gave up; retrying would outlive them.
	// Per-call timeouts surface as *TimeoutError and stay retryable.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return true
}

// Delay returns the wait before the attempt-th retry (attempt starts at 0):
// base<<attempt when exponential, base otherwise.
func Delay(attempt int, base time.Duration, exponential bool) time.Duration {
	if !exponential {
		return base
	}
	return base << uint(attempt)
}

// Do runs fn up to cfg.MaxRetries+1 times. A non-retryable error or the
// final attempt's error is returned unchanged. The inter-attempt sleep
// respects ctx cancellation.
func Do[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		if attempt == cfg.MaxRetries || !IsRetryable(err, cfg) {
			return zero, err
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(Delay(attempt, cfg.RetryDelay, cfg.ExponentialBackoff)):
		}
	}
}
