// Package client wires the client core together: configuration, token
// handling, the request executor, the realtime channel, and the typed API
// services.
package client

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/NoteFlow-AI/client_core/api"
	"github.com/NoteFlow-AI/client_core/auth"
	"github.com/NoteFlow-AI/client_core/internal/config"
	"github.com/NoteFlow-AI/client_core/internal/logging"
	"github.com/NoteFlow-AI/client_core/realtime"
	"github.com/NoteFlow-AI/client_core/transport"
)

// Options configures a Client. BaseURL or ConfigPath is required.
type Options struct {
	// ConfigPath points at a YAML config file; fields below override it.
	ConfigPath string
	// BaseURL is the HTTP API root.
	BaseURL string
	// RealtimeURL overrides the derived websocket endpoint.
	RealtimeURL string

	// Store holds the token pair; an in-memory store is used when nil.
	Store auth.TokenStore
	// DeviceID supplies the stable per-install identifier; optional.
	DeviceID auth.DeviceIDSource
	// HTTPClient overrides the transport's HTTP client; optional.
	HTTPClient *http.Client
	// Realtime are the channel callbacks; optional.
	Realtime realtime.Callbacks
}

// Client is the composed client core.
type Client struct {
	cfg *config.Config

	Store    auth.TokenStore
	Auth     *auth.Coordinator
	Executor *transport.Executor
	Realtime *realtime.Channel
	Notes    *api.NotesService
	Chat     *api.ChatService
}

// New builds a fully wired client.
func New(opts Options) (*Client, error) {
	var cfg *config.Config
	if opts.ConfigPath != "" {
		cfg = config.LoadOrDefault(opts.ConfigPath)
	} else {
		cfg = config.Default()
	}
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.RealtimeURL != "" {
		cfg.RealtimeURL = opts.RealtimeURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logging.Init(os.Stderr, cfg.LogLevel, false)

	store := opts.Store
	if store == nil {
		store = auth.NewMemoryTokenStore()
	}

	coordinator := auth.NewCoordinator(auth.CoordinatorConfig{
		Store:      store,
		RefreshURL: cfg.BaseURL + cfg.RefreshPath,
		HTTPClient: opts.HTTPClient,
	})

	executor := transport.NewExecutor(transport.ExecutorConfig{
		HTTPClient:        opts.HTTPClient,
		Headers:           auth.NewHeaders(store, opts.DeviceID),
		Refresher:         coordinator,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})

	socketCfg := realtime.Config{
		URL:                  cfg.WebsocketURL(),
		MaxReconnectAttempts: cfg.Socket.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Socket.ReconnectDelay,
		HeartbeatInterval:    cfg.Socket.HeartbeatInterval,
		HeartbeatTimeout:     cfg.Socket.HeartbeatTimeout,
		TimeoutCheckInterval: cfg.Socket.TimeoutCheckInterval,
		HandshakeTimeout:     10 * time.Second,
	}
	channel := realtime.New(socketCfg, func(ctx context.Context) (string, error) {
		return coordinator.EnsureFresh(ctx, time.Minute)
	}, opts.Realtime)

	retry := transport.RetryConfig{
		MaxRetries:           cfg.Retry.MaxRetries,
		RetryDelay:           cfg.Retry.RetryDelay,
		ExponentialBackoff:   cfg.Retry.ExponentialBackoff,
		RetryableStatusCodes: cfg.Retry.RetryableStatusCodes,
	}

	return &Client{
		cfg:      cfg,
		Store:    store,
		Auth:     coordinator,
		Executor: executor,
		Realtime: channel,
		Notes:    api.NewNotesService(executor, cfg.BaseURL, cfg.RequestTimeout, retry),
		Chat:     api.NewChatService(executor, channel, cfg.BaseURL, cfg.RequestTimeout),
	}, nil
}

// Health checks the unauthenticated health endpoint.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.Executor.Execute(ctx, transport.Request{
		Method:  http.MethodGet,
		URL:     c.cfg.BaseURL + "/api/health",
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return transport.Normalize(err)
	}
	return nil
}

// Connect opens the realtime channel.
func (c *Client) Connect(ctx context.Context) error {
	access, err := c.Store.AccessToken()
	if err != nil {
		return err
	}
	refresh, refreshErr := c.Store.RefreshToken()
	if refreshErr != nil {
		return refreshErr
	}
	if access == "" && refresh == "" {
		return errors.New("client: no credentials, authenticate first")
	}
	c.Realtime.Connect(ctx)
	return nil
}

// Close shuts the realtime channel down.
func (c *Client) Close() {
	c.Realtime.Disconnect()
}
