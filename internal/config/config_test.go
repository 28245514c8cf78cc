package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatsync.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Transport.HeartbeatInterval != 25*time.Second {
		t.Errorf("heartbeat = %v, want 25s", cfg.Transport.HeartbeatInterval)
	}
	if cfg.Transport.Reconnect.MaxAttempts != 5 {
		t.Errorf("max attempts = %d, want 5", cfg.Transport.Reconnect.MaxAttempts)
	}
	if cfg.Transport.Reconnect.InitialDelay != time.Second || cfg.Transport.Reconnect.MaxDelay != 30*time.Second {
		t.Errorf("reconnect window = %v..%v, want 1s..30s",
			cfg.Transport.Reconnect.InitialDelay, cfg.Transport.Reconnect.MaxDelay)
	}
	if cfg.Search.Debounce != 300*time.Millisecond {
		t.Errorf("search debounce = %v, want 300ms", cfg.Search.Debounce)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  api_base_url: https://chat.example.com/api
  websocket_url: wss://chat.example.com/ws
  user_id: alice
transport:
  heartbeat_interval: 10s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.HeartbeatInterval != 10*time.Second {
		t.Errorf("heartbeat = %v, want overridden 10s", cfg.Transport.HeartbeatInterval)
	}
	// Untouched sections keep their defaults.
	if cfg.Transport.Reconnect.MaxAttempts != 5 {
		t.Errorf("max attempts = %d, want default 5", cfg.Transport.Reconnect.MaxAttempts)
	}
	if cfg.Server.UserID != "alice" {
		t.Errorf("user id = %q", cfg.Server.UserID)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("CHATSYNC_USER", "bob")
	path := writeConfig(t, `
server:
  api_base_url: https://chat.example.com/api
  websocket_url: wss://chat.example.com/ws
  user_id: ${CHATSYNC_USER}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.UserID != "bob" {
		t.Errorf("user id = %q, want bob", cfg.Server.UserID)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load of a missing file succeeded")
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Server = ServerConfig{
		APIBaseURL:   "https://chat.example.com/api",
		WebsocketURL: "wss://chat.example.com/ws",
		UserID:       "alice",
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing api url", func(c *Config) { c.Server.APIBaseURL = "" }, true},
		{"missing websocket url", func(c *Config) { c.Server.WebsocketURL = "" }, true},
		{"missing user", func(c *Config) { c.Server.UserID = "" }, true},
		{"zero attempts", func(c *Config) { c.Transport.Reconnect.MaxAttempts = 0 }, true},
		{"shrinking factor", func(c *Config) { c.Transport.Reconnect.Factor = 0.5 }, true},
		{"jitter above one", func(c *Config) { c.Transport.Reconnect.Jitter = 1.5 }, true},
		{"negative jitter", func(c *Config) { c.Transport.Reconnect.Jitter = -0.1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("Validate succeeded, want error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate: %v", err)
			}
		})
	}
}
