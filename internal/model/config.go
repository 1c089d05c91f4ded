package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Session storage backends selectable through session.backend.
const (
	SessionBackendKeyring = "keyring"
	SessionBackendSQLite  = "sqlite"
	SessionBackendMemory  = "memory"
)

// EnvPrefix is the prefix of environment variables that override
// configuration keys (e.g. SECUREMAIL_SERVER_BASE_URL).
const EnvPrefix = "SECUREMAIL"

// ServerConfig describes how to reach the SecureMail backend.
type ServerConfig struct {
	// BaseURL is the root URL of the backend; API paths are appended.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// TimeoutSec bounds a single request. Zero disables the timeout.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// SessionConfig controls where the bearer token is persisted.
type SessionConfig struct {
	// Backend is one of "keyring", "sqlite" or "memory".
	Backend string `mapstructure:"backend" yaml:"backend"`

	// Profile scopes the persisted token, like a browser tab scopes
	// its session storage.
	Profile string `mapstructure:"profile" yaml:"profile"`

	// DBPath is the SQLite file used by the "sqlite" backend.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	// KeyringDir is used by the keyring file backend fallback.
	KeyringDir string `mapstructure:"keyring_dir" yaml:"keyring_dir"`
}

// DownloadsConfig holds where downloaded attachments are saved.
type DownloadsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// StatusConfig controls the backend health monitor.
type StatusConfig struct {
	// PollIntervalSec re-probes periodically when positive; zero means
	// probes only run at startup and on demand.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	Theme string `mapstructure:"theme" yaml:"theme"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	File  string `mapstructure:"file" yaml:"file"`
	Level string `mapstructure:"level" yaml:"level"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Downloads DownloadsConfig `mapstructure:"downloads" yaml:"downloads"`
	Status    StatusConfig    `mapstructure:"status" yaml:"status"`
	Display   DisplayConfig   `mapstructure:"display" yaml:"display"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// ConfigDir returns ~/.config/securemail, or "." when the home
// directory cannot be resolved.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "securemail")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/securemail/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	dir := ConfigDir()
	v.SetDefault("server.base_url", "http://localhost:8000")
	v.SetDefault("server.timeout_sec", 0)
	v.SetDefault("session.backend", SessionBackendKeyring)
	v.SetDefault("session.profile", "default")
	v.SetDefault("session.db_path", filepath.Join(dir, "session.db"))
	v.SetDefault("session.keyring_dir", filepath.Join(dir, "credentials"))
	v.SetDefault("downloads.dir", defaultDownloadsDir())
	v.SetDefault("status.poll_interval_sec", 0)
	v.SetDefault("display.theme", "default")
	v.SetDefault("log.file", filepath.Join(dir, "securemail.log"))
	v.SetDefault("log.level", "info")
}

func defaultDownloadsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Downloads")
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A missing file is not an error: defaults and SECUREMAIL_* environment
// variables still apply.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.Server.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Server.BaseURL), "/")
	cfg.Session.Backend = strings.ToLower(strings.TrimSpace(cfg.Session.Backend))
	cfg.Session.DBPath = ExpandPath(cfg.Session.DBPath)
	cfg.Session.KeyringDir = ExpandPath(cfg.Session.KeyringDir)
	cfg.Downloads.Dir = ExpandPath(cfg.Downloads.Dir)
	cfg.Log.File = ExpandPath(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail much later.
func (c *AppConfig) Validate() error {
	if c.Server.BaseURL == "" {
		return errors.New("server.base_url is required")
	}
	switch c.Session.Backend {
	case SessionBackendKeyring, SessionBackendSQLite, SessionBackendMemory:
	default:
		return fmt.Errorf("unknown session.backend %q", c.Session.Backend)
	}
	if strings.TrimSpace(c.Session.Profile) == "" {
		return errors.New("session.profile must not be empty")
	}
	if c.Server.TimeoutSec < 0 {
		return errors.New("server.timeout_sec must not be negative")
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server", cfg.Server)
	v.Set("session", cfg.Session)
	v.Set("downloads", cfg.Downloads)
	v.Set("status", cfg.Status)
	v.Set("display", cfg.Display)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

// ExpandPath replaces a leading "~" with the user's home directory.
func ExpandPath(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
