// Package config holds the engine configuration, loaded from YAML with
// environment-variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Search    SearchConfig    `yaml:"search"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig locates the collaborator backend.
type ServerConfig struct {
	// APIBaseURL is the REST endpoint root, e.g. https://chat.example.com/api.
	APIBaseURL string `yaml:"api_base_url"`
	// WebsocketURL is the push endpoint, e.g. wss://chat.example.com/ws.
	WebsocketURL string `yaml:"websocket_url"`
	// UserID is the local user announced after each connect.
	UserID string `yaml:"user_id"`
}

// TransportConfig tunes the websocket link.
type TransportConfig struct {
	DialTimeout       time.Duration   `yaml:"dial_timeout"`
	HeartbeatInterval time.Duration   `yaml:"heartbeat_interval"`
	Reconnect         ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig tunes the backoff schedule after abnormal closes.
type ReconnectConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MinDelay     time.Duration `yaml:"min_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Factor       float64       `yaml:"factor"`
	Jitter       float64       `yaml:"jitter"`
}

// SearchConfig tunes the debounced user search.
type SearchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// LoggingConfig tunes structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the production defaults: 25s heartbeat, 5 reconnect
// attempts doubling from 1s to a 30s cap, 300ms search debounce.
func Default() Config {
	return Config{
		Transport: TransportConfig{
			DialTimeout:       10 * time.Second,
			HeartbeatInterval: 25 * time.Second,
			Reconnect: ReconnectConfig{
				MaxAttempts:  5,
				InitialDelay: time.Second,
				MinDelay:     time.Second,
				MaxDelay:     30 * time.Second,
				Factor:       2,
				Jitter:       0.1,
			},
		},
		Search: SearchConfig{
			Debounce: 300 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML config file over the defaults. Environment
// variables in the file are expanded before parsing.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields without usable zero values.
func (c Config) Validate() error {
	if c.Server.APIBaseURL == "" {
		return fmt.Errorf("config: server.api_base_url is required")
	}
	if c.Server.WebsocketURL == "" {
		return fmt.Errorf("config: server.websocket_url is required")
	}
	if c.Server.UserID == "" {
		return fmt.Errorf("config: server.user_id is required")
	}
	if c.Transport.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("config: transport.reconnect.max_attempts must be at least 1")
	}
	if c.Transport.Reconnect.Factor < 1 {
		return fmt.Errorf("config: transport.reconnect.factor must be at least 1")
	}
	if j := c.Transport.Reconnect.Jitter; j < 0 || j > 1 {
		return fmt.Errorf("config: transport.reconnect.jitter must be within [0, 1]")
	}
	return nil
}
