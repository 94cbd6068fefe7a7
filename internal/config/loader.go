package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SUPPORTDESK_API_TOKEN.
const EnvPrefix = "SUPPORTDESK"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
	envFile    string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:       viper.New(),
		envFile: ".env",
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// SetEnvFile sets the dotenv file read before environment binding. Empty disables it.
func (l *Loader) SetEnvFile(path string) {
	l.envFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < .env < env vars < explicit Set calls (CLI flags)
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.envFile != "" {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(l.envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", l.envFile, err)
		}
	}

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.State.Path = expandTilde(cfg.State.Path)
	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "supportdesk"))
	}
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "supportdesk"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)
	bindEnvVars(v)
	v.AutomaticEnv()
}

// setDefaults registers every key so Unmarshal sees env overrides for nested structs.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.token", cfg.API.Token)
	v.SetDefault("api.timeout", cfg.API.Timeout)
	v.SetDefault("api.max_response_bytes", cfg.API.MaxResponseBytes)

	v.SetDefault("session.actor_id", cfg.Session.ActorID)
	v.SetDefault("session.nickname", cfg.Session.Nickname)
	v.SetDefault("session.avatar", cfg.Session.Avatar)
	v.SetDefault("session.is_admin", cfg.Session.IsAdmin)

	v.SetDefault("poll.ticket_interval", cfg.Poll.TicketInterval)
	v.SetDefault("poll.typing_interval", cfg.Poll.TypingInterval)
	v.SetDefault("poll.typing_hide_after", cfg.Poll.TypingHideAfter)

	v.SetDefault("upload.max_bytes", cfg.Upload.MaxBytes)

	v.SetDefault("state.path", cfg.State.Path)
	v.SetDefault("state.save_debounce", cfg.State.SaveDebounce)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
}

// envKeys lists every key that accepts a SUPPORTDESK_* override.
var envKeys = []string{
	"api.base_url",
	"api.token",
	"api.timeout",
	"api.max_response_bytes",
	"session.actor_id",
	"session.nickname",
	"session.avatar",
	"session.is_admin",
	"poll.ticket_interval",
	"poll.typing_interval",
	"poll.typing_hide_after",
	"upload.max_bytes",
	"state.path",
	"state.save_debounce",
	"logging.level",
	"logging.format",
	"logging.enable_caller",
	"metrics.addr",
}

func bindEnvVars(v *viper.Viper) {
	for _, key := range envKeys {
		envVar := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, envVar)
	}
}

// loadConfigFile reads the config file. A missing file is only an error when
// it was named explicitly.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && l.configFile == "" {
			return nil
		}
		return err
	}
	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set overrides a key with the highest precedence; CLI flags go through here.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// AllSettings returns the merged settings tree, for display after redaction.
func (l *Loader) AllSettings() map[string]interface{} {
	return l.v.AllSettings()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	return NewLoader().Load()
}
