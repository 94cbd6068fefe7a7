// Package config handles supportdesk configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MinPollInterval is the smallest accepted poll interval.
const MinPollInterval = 100 * time.Millisecond

// Config is the root configuration structure.
type Config struct {
	// API describes the ticket backend.
	API APIConfig `yaml:"api" mapstructure:"api"`

	// Session identifies the signed-in agent.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Poll controls the ticket list and typing poll loops.
	Poll PollConfig `yaml:"poll" mapstructure:"poll"`

	// Upload limits attachments.
	Upload UploadConfig `yaml:"upload" mapstructure:"upload"`

	// State is the local draft and preference store.
	State StateConfig `yaml:"state" mapstructure:"state"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Metrics settings
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// APIConfig contains backend connection settings.
type APIConfig struct {
	// BaseURL is the root URL of the support API.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Token is the bearer token sent with every request.
	Token string `yaml:"token" mapstructure:"token"`

	// Timeout bounds every request.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// MaxResponseBytes bounds every response body, including the full ticket list.
	MaxResponseBytes int64 `yaml:"max_response_bytes" mapstructure:"max_response_bytes"`
}

// SessionConfig identifies the agent working the desk.
type SessionConfig struct {
	ActorID  string `yaml:"actor_id" mapstructure:"actor_id"`
	Nickname string `yaml:"nickname" mapstructure:"nickname"`
	Avatar   string `yaml:"avatar" mapstructure:"avatar"`
	IsAdmin  bool   `yaml:"is_admin" mapstructure:"is_admin"`
}

// PollConfig contains poll loop timings.
type PollConfig struct {
	// TicketInterval is how often the ticket list is refreshed.
	TicketInterval time.Duration `yaml:"ticket_interval" mapstructure:"ticket_interval"`

	// TypingInterval is how often the counterpart's typing flag is polled.
	TypingInterval time.Duration `yaml:"typing_interval" mapstructure:"typing_interval"`

	// TypingHideAfter hides the typing indicator when no fresh signal arrives.
	TypingHideAfter time.Duration `yaml:"typing_hide_after" mapstructure:"typing_hide_after"`
}

// UploadConfig contains attachment limits.
type UploadConfig struct {
	// MaxBytes is the largest accepted attachment, inclusive.
	MaxBytes int64 `yaml:"max_bytes" mapstructure:"max_bytes"`
}

// StateConfig contains local store settings.
type StateConfig struct {
	// Path is the SQLite file holding drafts and preferences.
	Path string `yaml:"path" mapstructure:"path"`

	// SaveDebounce delays draft writes while the agent is typing.
	SaveDebounce time.Duration `yaml:"save_debounce" mapstructure:"save_debounce"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// MetricsConfig contains the optional metrics listener.
type MetricsConfig struct {
	// Addr serves /metrics when non-empty (for example ":9090").
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		API: APIConfig{
			BaseURL:          "http://localhost:8080",
			Timeout:          15 * time.Second,
			MaxResponseBytes: 64 << 20,
		},
		Session: SessionConfig{
			Nickname: "support",
			IsAdmin:  true,
		},
		Poll: PollConfig{
			TicketInterval:  5 * time.Second,
			TypingInterval:  time.Second,
			TypingHideAfter: 3 * time.Second,
		},
		Upload: UploadConfig{
			MaxBytes: 10 << 20,
		},
		State: StateConfig{
			Path:         filepath.Join(homeDir, ".local", "share", "supportdesk", "state.db"),
			SaveDebounce: 500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute URL, got %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if c.API.MaxResponseBytes <= 0 {
		return fmt.Errorf("api.max_response_bytes must be positive")
	}

	if c.Poll.TicketInterval < MinPollInterval {
		return fmt.Errorf("poll.ticket_interval must be at least 100ms")
	}
	if c.Poll.TypingInterval < MinPollInterval {
		return fmt.Errorf("poll.typing_interval must be at least 100ms")
	}
	if c.Poll.TypingHideAfter < c.Poll.TypingInterval {
		return fmt.Errorf("poll.typing_hide_after must not be shorter than poll.typing_interval")
	}

	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json")
	}

	return nil
}

// EnsureDirectories creates the state directory.
func (c *Config) EnsureDirectories() error {
	if c.State.Path == "" || c.State.Path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(c.State.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
