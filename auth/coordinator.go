package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/NoteFlow-AI/client_core/internal/logging"
	"github.com/NoteFlow-AI/client_core/internal/metrics"
)

// ErrNoRefreshToken is returned when a refresh is attempted with no stored
// refresh token; the caller must re-authenticate.
var ErrNoRefreshToken = errors.New("no refresh token available")

// RefreshError wraps a failed refresh call. It is terminal: stored tokens
// are cleared and the caller must re-authenticate.
type RefreshError struct {
	Status int
	Err    error
}

func (e *RefreshError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("token refresh rejected with status %d", e.Status)
	}
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// refreshResponse is the refresh endpoint's success payload.
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Coordinator serializes token refreshes: no matter how many callers invoke
// Refresh concurrently, at most one refresh call is in flight and all
// callers share its result.
type Coordinator struct {
	store      TokenStore
	refreshURL string
	httpClient *http.Client
	group      singleflight.Group
	logger     zerolog.Logger
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	Store      TokenStore
	RefreshURL string
	// HTTPClient is used for the refresh call itself; a 30s-timeout default
	// is built when nil. The refresh path must not run through the executor,
	// or a 401 on refresh would recurse into another refresh.
	HTTPClient *http.Client
}

// NewCoordinator creates a refresh coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Coordinator{
		store:      cfg.Store,
		refreshURL: cfg.RefreshURL,
		httpClient: httpClient,
		logger:     logging.New("auth"),
	}
}

// Refresh exchanges the stored refresh token for a new token pair and
// returns the new access token. Concurrent callers join the in-flight
// refresh. On failure all stored tokens are cleared. The in-flight marker
// is always released, so a later call starts a fresh refresh.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	token, err, _ := c.group.Do("refresh", func() (any, error) {
		return c.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (c *Coordinator) doRefresh(ctx context.Context) (string, error) {
	refreshToken, err := c.store.RefreshToken()
	if err != nil {
		return "", fmt.Errorf("read refresh token: %w", err)
	}
	if refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return "", fmt.Errorf("marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.refreshURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.fail()
		return "", &RefreshError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		c.fail()
		return "", &RefreshError{Status: resp.StatusCode}
	}

	var parsed refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.fail()
		return "", &RefreshError{Err: fmt.Errorf("decode refresh response: %w", err)}
	}

	if err := c.store.SaveTokens(parsed.AccessToken, parsed.RefreshToken); err != nil {
		return "", fmt.Errorf("save tokens: %w", err)
	}

	metrics.ObserveRefresh("success")
	c.logger.Debug().Msg("access token refreshed")
	return parsed.AccessToken, nil
}

// fail clears stored tokens, forcing re-authentication.
func (c *Coordinator) fail() {
	metrics.ObserveRefresh("failure")
	if err := c.store.ClearTokens(); err != nil {
		c.logger.Error().Err(err).Msg("clear tokens after failed refresh")
	}
}

// EnsureFresh refreshes proactively when the stored access token is absent
// or its exp claim falls within the leeway. The token signature is not
// verified here; only the server can do that, and a wrong guess just costs
// one refresh call.
func (c *Coordinator) EnsureFresh(ctx context.Context, leeway time.Duration) (string, error) {
	access, err := c.store.AccessToken()
	if err != nil {
		return "", fmt.Errorf("read access token: %w", err)
	}
	if access != "" && !expiresWithin(access, leeway) {
		return access, nil
	}
	return c.Refresh(ctx)
}

func expiresWithin(token string, leeway time.Duration) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Opaque token: nothing to inspect, assume it is still good.
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) < leeway
}
