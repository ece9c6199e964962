package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// NetworkError wraps a transport failure where no HTTP response was received.
// Network errors are always considered retryable.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError is returned when the server answered with a non-2xx status.
// It is retryable only when the status is in the configured whitelist.
type StatusError struct {
	Status int
	Body   []byte
	Header http.Header
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Status, http.StatusText(e.Status))
}

// TimeoutError is returned when a request exceeded its per-call timeout.
type TimeoutError struct {
	Timeout string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %s", e.Timeout)
}

// APIError is the uniform error shape handed to callers of the facade.
// Status is zero when no response was received.
type APIError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("api error (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error (%s): %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Normalize converts any executor error into an *APIError. Already-normalized
// errors pass through unchanged.
func Normalize(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return &APIError{
			Status:  statusErr.Status,
			Code:    codeForStatus(statusErr.Status),
			Message: string(statusErr.Body),
			Err:     err,
		}
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return &APIError{Code: "timeout", Message: timeoutErr.Error(), Err: err}
	}

	if errors.Is(err, context.Canceled) {
		return &APIError{Code: "canceled", Message: "request canceled", Err: err}
	}

	return &APIError{Code: "network", Message: err.Error(), Err: err}
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "unauthorized"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= 500:
		return "server_error"
	default:
		return "request_failed"
	}
}
