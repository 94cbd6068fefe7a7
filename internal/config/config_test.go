package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) *Loader {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	loader := NewLoader()
	loader.SetEnvFile("")
	return loader
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := isolate(t).Load()
	require.NoError(t, err)
	require.Equal(t, 15*time.Second, cfg.API.Timeout)
	require.Equal(t, 5*time.Second, cfg.Poll.TicketInterval)
	require.Equal(t, time.Second, cfg.Poll.TypingInterval)
	require.Equal(t, 3*time.Second, cfg.Poll.TypingHideAfter)
	require.Equal(t, int64(10<<20), cfg.Upload.MaxBytes)
	require.Equal(t, int64(64<<20), cfg.API.MaxResponseBytes)
	require.True(t, cfg.Session.IsAdmin)
}

func TestLoadPrecedence(t *testing.T) {
	loader := isolate(t)
	dir := t.TempDir()

	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
api:
  base_url: https://desk.example.com/
  token: from-file
poll:
  ticket_interval: 2s
session:
  nickname: file-agent
`), 0o600))

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("SUPPORTDESK_SESSION_NICKNAME=dotenv-agent\nSUPPORTDESK_API_TOKEN=dotenv-token\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("SUPPORTDESK_SESSION_NICKNAME")
		_ = os.Unsetenv("SUPPORTDESK_API_TOKEN")
	})

	t.Setenv("SUPPORTDESK_API_TOKEN", "env-token")

	loader.SetConfigFile(configPath)
	loader.SetEnvFile(envPath)
	loader.Set("poll.typing_interval", "250ms")

	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, "https://desk.example.com", cfg.API.BaseURL)
	require.Equal(t, "env-token", cfg.API.Token, "real env wins over .env")
	require.Equal(t, "dotenv-agent", cfg.Session.Nickname, ".env wins over file")
	require.Equal(t, 2*time.Second, cfg.Poll.TicketInterval)
	require.Equal(t, 250*time.Millisecond, cfg.Poll.TypingInterval)
	require.Equal(t, configPath, loader.ConfigFileUsed())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	loader := isolate(t)
	loader.SetConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := loader.Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "relative base url", mutate: func(c *Config) { c.API.BaseURL = "/api" }, errMsg: "api.base_url"},
		{name: "fast ticket poll", mutate: func(c *Config) { c.Poll.TicketInterval = 10 * time.Millisecond }, errMsg: "poll.ticket_interval"},
		{name: "hide shorter than poll", mutate: func(c *Config) { c.Poll.TypingHideAfter = 500 * time.Millisecond }, errMsg: "typing_hide_after"},
		{name: "zero upload limit", mutate: func(c *Config) { c.Upload.MaxBytes = 0 }, errMsg: "upload.max_bytes"},
		{name: "zero response limit", mutate: func(c *Config) { c.API.MaxResponseBytes = 0 }, errMsg: "api.max_response_bytes"},
		{name: "unknown log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, errMsg: "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.State.Path = filepath.Join(t.TempDir(), "nested", "state.db")
	require.NoError(t, cfg.EnsureDirectories())
	_, err := os.Stat(filepath.Dir(cfg.State.Path))
	require.NoError(t, err)
}
