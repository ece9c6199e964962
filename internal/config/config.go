// Package config loads the client-core configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full client-core configuration.
type Config struct {
	// BaseURL is the HTTP API root, e.g. https://api.noteflow.app.
	BaseURL string `yaml:"base_url"`
	// RealtimeURL is the websocket endpoint; derived from BaseURL when empty.
	RealtimeURL string `yaml:"realtime_url"`
	// RefreshPath is the token refresh endpoint path.
	RefreshPath string `yaml:"refresh_path"`

	// RequestTimeout is the default per-call timeout.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// RequestsPerSecond enables client-side rate limiting when positive.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	Retry  Retry  `yaml:"retry"`
	Socket Socket `yaml:"socket"`

	// LogLevel is a zerolog level name.
	LogLevel string `yaml:"log_level"`
}

// Retry mirrors transport.RetryConfig for the wire format.
type Retry struct {
	MaxRetries           int           `yaml:"max_retries"`
	RetryDelay           time.Duration `yaml:"retry_delay"`
	ExponentialBackoff   bool          `yaml:"exponential_backoff"`
	RetryableStatusCodes []int         `yaml:"retryable_status_codes"`
}

// Socket mirrors realtime.Config for the wire format.
type Socket struct {
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout     time.Duration `yaml:"heartbeat_timeout"`
	TimeoutCheckInterval time.Duration `yaml:"timeout_check_interval"`
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		RefreshPath:    "/api/auth/refresh",
		RequestTimeout: 30 * time.Second,
		Retry: Retry{
			MaxRetries:           3,
			RetryDelay:           time.Second,
			ExponentialBackoff:   true,
			RetryableStatusCodes: []int{408, 429, 500, 502, 503, 504},
		},
		Socket: Socket{
			MaxReconnectAttempts: 5,
			ReconnectDelay:       2 * time.Second,
			HeartbeatInterval:    30 * time.Second,
			HeartbeatTimeout:     60 * time.Second,
			TimeoutCheckInterval: 10 * time.Second,
		},
		LogLevel: "info",
	}
}

// LoadFromPath loads configuration from a YAML file, filling missing fields
// with defaults and applying environment overrides.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads from path when it exists, otherwise returns defaults
// with environment overrides applied.
func LoadOrDefault(path string) *Config {
	if cfg, err := LoadFromPath(path); err == nil {
		return cfg
	}
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// Validate checks the fields that have no usable zero value.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("config: base_url is required")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("config: retry.max_retries must be >= 0")
	}
	return nil
}

// WebsocketURL returns the realtime endpoint, deriving it from BaseURL when
// not set explicitly.
func (c *Config) WebsocketURL() string {
	if c.RealtimeURL != "" {
		return c.RealtimeURL
	}
	ws := c.BaseURL
	switch {
	case strings.HasPrefix(ws, "https"):
		ws = "wss" + ws[len("https"):]
	case strings.HasPrefix(ws, "http"):
		ws = "ws" + ws[len("http"):]
	}
	return strings.TrimSuffix(ws, "/") + "/ws"
}

func (c *Config) applyEnv() {
	if v := os.Getenv("NOTEFLOW_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("NOTEFLOW_REALTIME_URL"); v != "" {
		c.RealtimeURL = v
	}
	if v := os.Getenv("NOTEFLOW_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}
