package model

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.BaseURL != "http://localhost:8000" {
		t.Errorf("BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Session.Backend != SessionBackendKeyring {
		t.Errorf("Backend = %q", cfg.Session.Backend)
	}
	if cfg.Session.Profile != "default" {
		t.Errorf("Profile = %q", cfg.Session.Profile)
	}
	if cfg.Server.TimeoutSec != 0 {
		t.Errorf("TimeoutSec = %d, want 0", cfg.Server.TimeoutSec)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `server:
  base_url: https://mail.example.com/
  timeout_sec: 15
session:
  backend: SQLite
  profile: work
  db_path: /tmp/securemail-test.db
downloads:
  dir: /tmp/downloads
status:
  poll_interval_sec: 30
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.BaseURL != "https://mail.example.com" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", cfg.Server.BaseURL)
	}
	if cfg.Server.TimeoutSec != 15 {
		t.Errorf("TimeoutSec = %d", cfg.Server.TimeoutSec)
	}
	if cfg.Session.Backend != SessionBackendSQLite {
		t.Errorf("Backend = %q", cfg.Session.Backend)
	}
	if cfg.Session.Profile != "work" {
		t.Errorf("Profile = %q", cfg.Session.Profile)
	}
	if cfg.Downloads.Dir != "/tmp/downloads" {
		t.Errorf("Downloads.Dir = %q", cfg.Downloads.Dir)
	}
	if cfg.Status.PollIntervalSec != 30 {
		t.Errorf("PollIntervalSec = %d", cfg.Status.PollIntervalSec)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SECUREMAIL_SERVER_BASE_URL", "https://env.example.com")
	t.Setenv("SECUREMAIL_SESSION_PROFILE", "tab-2")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.BaseURL != "https://env.example.com" {
		t.Errorf("BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Session.Profile != "tab-2" {
		t.Errorf("Profile = %q", cfg.Session.Profile)
	}
}

func TestLoadConfigRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("session:\n  backend: cookie\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &AppConfig{
		Server:    ServerConfig{BaseURL: "https://mail.example.com", TimeoutSec: 5},
		Session:   SessionConfig{Backend: SessionBackendMemory, Profile: "p1", DBPath: "/tmp/s.db", KeyringDir: "/tmp/k"},
		Downloads: DownloadsConfig{Dir: "/tmp/dl"},
		Display:   DisplayConfig{Theme: "default"},
		Log:       LogConfig{File: "/tmp/sm.log", Level: "warn"},
	}

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Server != cfg.Server {
		t.Errorf("Server = %+v, want %+v", got.Server, cfg.Server)
	}
	if got.Session != cfg.Session {
		t.Errorf("Session = %+v, want %+v", got.Session, cfg.Session)
	}
	if got.Log != cfg.Log {
		t.Errorf("Log = %+v, want %+v", got.Log, cfg.Log)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/x/y"); got != filepath.Join(home, "x", "y") {
		t.Errorf("ExpandPath = %q", got)
	}
	if got := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandPath = %q", got)
	}
}
