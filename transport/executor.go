package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/NoteFlow-AI/client_core/internal/logging"
	"github.com/NoteFlow-AI/client_core/internal/metrics"
)

// maxResponseBody caps how much of a response body is read into memory.
const maxResponseBody = 8 << 20

// =============================================================================
// Request / Response
// =============================================================================

// Request describes a single outbound call. A value is immutable per call;
// the 401 resubmission path works on a shallow copy with a fresh
// Authorization header and the retried marker set.
type Request struct {
	Method  string
	URL     string
	Body    any
	Headers map[string]string
	// Timeout bounds this call; zero means no per-call timeout.
	Timeout time.Duration
	// Retry, when non-nil, wraps the call in the retry policy engine.
	Retry *RetryConfig
	// IncludeAuth attaches headers from the configured HeaderProvider.
	IncludeAuth bool

	// retried marks a request already resubmitted once after a token refresh.
	retried bool
}

// Response is the normalized success shape.
type Response struct {
	Data       []byte
	Status     int
	StatusText string
	Header     http.Header
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return errors.New("empty response body")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// HeaderProvider supplies authentication headers for outbound requests.
type HeaderProvider interface {
	AuthHeaders(ctx context.Context) (map[string]string, error)
}

// TokenRefresher exchanges the stored refresh token for a new access token.
// Implementations must be single-flight safe.
type TokenRefresher interface {
	Refresh(ctx context.Context) (string, error)
}

// =============================================================================
// Executor
// =============================================================================

// Executor issues authenticated HTTP requests with per-call timeouts,
// configurable retries, and a single refresh-then-resubmit cycle on 401.
type Executor struct {
	client    *http.Client
	headers   HeaderProvider
	refresher TokenRefresher
	limiter   *rate.Limiter
	logger    zerolog.Logger

	totalRequests   int64
	successRequests int64
	failedRequests  int64
	retriedRequests int64
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// HTTPClient is the underlying client; a default is built when nil.
	HTTPClient *http.Client
	// Headers supplies auth headers for requests with IncludeAuth set.
	Headers HeaderProvider
	// Refresher drives the 401 refresh-and-resubmit path; nil disables it.
	Refresher TokenRefresher
	// RequestsPerSecond enables client-side rate limiting when positive.
	RequestsPerSecond float64
	// Burst is the rate limiter burst size (defaults to 1 when limited).
	Burst int
}

// NewExecutor creates a request executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Executor{
		client:    httpClient,
		headers:   cfg.Headers,
		refresher: cfg.Refresher,
		limiter:   limiter,
		logger:    logging.New("transport"),
	}
}

// Execute runs the request to completion: auth header injection, timeout,
// retry wrapping, and at most one refresh-then-resubmit cycle on 401.
func (e *Executor) Execute(ctx context.Context, req Request) (*Response, error) {
	atomic.AddInt64(&e.totalRequests, 1)
	start := time.Now()

	resp, err := e.run(ctx, req)

	outcome := "success"
	if err != nil {
		outcome = "failure"
		atomic.AddInt64(&e.failedRequests, 1)
	} else {
		atomic.AddInt64(&e.successRequests, 1)
	}
	metrics.ObserveRequest(req.Method, outcome, time.Since(start).Seconds())

	return resp, err
}

func (e *Executor) run(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	var err error

	if req.Retry != nil {
		first := true
		resp, err = Do(ctx, *req.Retry, func(ctx context.Context) (*Response, error) {
			if !first {
				atomic.AddInt64(&e.retriedRequests, 1)
				metrics.IncRetry()
			}
			first = false
			return e.attempt(ctx, req)
		})
	} else {
		resp, err = e.attempt(ctx, req)
	}

	if err == nil || !req.IncludeAuth || req.retried || e.refresher == nil {
		return resp, err
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusUnauthorized {
		return resp, err
	}

	token, refreshErr := e.refresher.Refresh(ctx)
	if refreshErr != nil {
		e.logger.Warn().Err(refreshErr).Msg("token refresh failed, propagating 401")
		return nil, err
	}

	resubmit := req
	resubmit.retried = true
	resubmit.Headers = cloneHeaders(req.Headers)
	resubmit.Headers["Authorization"] = "Bearer " + token

	// Resubmitted exactly once: no retry wrapping, no further 401 handling.
	return e.attempt(ctx, resubmit)
}

func (e *Executor) attempt(ctx context.Context, req Request) (*Response, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	bodyReader, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	if req.IncludeAuth && e.headers != nil {
		authHeaders, err := e.headers.AuthHeaders(ctx)
		if err != nil {
			return nil, fmt.Errorf("auth headers: %w", err)
		}
		for k, v := range authHeaders {
			httpReq.Header.Set(k, v)
		}
	}
	// Explicit request headers win over provider headers.
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		// The per-call timer expired while the caller is still live.
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &TimeoutError{Timeout: req.Timeout.String()}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("read response body: %w", err)}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		e.logger.Debug().
			Str("method", req.Method).
			Str("url", req.URL).
			Int("status", httpResp.StatusCode).
			Msg("non-2xx response")
		return nil, &StatusError{
			Status: httpResp.StatusCode,
			Body:   body,
			Header: httpResp.Header,
		}
	}

	return &Response{
		Data:       body,
		Status:     httpResp.StatusCode,
		StatusText: http.StatusText(httpResp.StatusCode),
		Header:     httpResp.Header,
	}, nil
}

// Metrics returns a snapshot of the executor counters.
func (e *Executor) Metrics() map[string]int64 {
	return map[string]int64{
		"total_requests":   atomic.LoadInt64(&e.totalRequests),
		"success_requests": atomic.LoadInt64(&e.successRequests),
		"failed_requests":  atomic.LoadInt64(&e.failedRequests),
		"retried_requests": atomic.LoadInt64(&e.retriedRequests),
	}
}

func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case io.Reader:
		return b, "", nil
	case []byte:
		return bytes.NewReader(b), "application/json", nil
	case string:
		return bytes.NewReader([]byte(b)), "application/json", nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("marshal request body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	return out
}
