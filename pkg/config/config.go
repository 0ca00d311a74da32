package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the bridge daemon needs. Values come from an
// optional JSON config file with environment variables taking priority.
type Config struct {
	// ServicePhone is the bridge's own WhatsApp number, display only.
	ServicePhone string `json:"service_phone" env:"SERVICE_PHONE"`

	// AllowedSender is recorded for operators but not enforced as a
	// receive filter; authorization lives at the gateway.
	AllowedSender string `json:"allowed_sender" env:"ALLOWED_SENDER"`

	GatewayURL     string        `json:"gateway_url" env:"GATEWAY_URL"`
	GatewayWSURL   string        `json:"gateway_ws_url" env:"GATEWAY_WS_URL"`
	GatewayTimeout time.Duration `json:"gateway_timeout" env:"GATEWAY_TIMEOUT"`

	// EchoMode sends back "[Echo] "+text when the gateway produced no
	// reply, for smoke-testing the pipeline without a live gateway.
	EchoMode bool `json:"echo_mode" env:"ECHO_MODE"`

	LogLevel string `json:"log_level" env:"LOG_LEVEL"`
	LogFile  string `json:"log_file" env:"LOG_FILE"`

	// AgentID is the destination agent identifier stamped on every UMF
	// request envelope.
	AgentID string `json:"agent_id" env:"BRIDGE_AGENT_ID"`

	// SessionDir holds the whatsmeow session database and the media
	// store. Created on first start.
	SessionDir string `json:"session_dir" env:"SESSION_DIR"`

	// StatusAddr is the listen address of the local status HTTP surface,
	// empty disables it.
	StatusAddr string `json:"status_addr" env:"STATUS_ADDR"`

	ReconnectBaseDelay   time.Duration `json:"reconnect_base_delay" env:"RECONNECT_BASE_DELAY"`
	ReconnectMaxDelay    time.Duration `json:"reconnect_max_delay" env:"RECONNECT_MAX_DELAY"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts" env:"MAX_RECONNECT_ATTEMPTS"`
}

func DefaultConfig() *Config {
	return &Config{
		ServicePhone:         "+10000000000",
		AllowedSender:        "+10000000000",
		GatewayURL:           "http://127.0.0.1:18790/umf",
		GatewayWSURL:         "",
		GatewayTimeout:       60 * time.Second,
		EchoMode:             false,
		LogLevel:             "info",
		LogFile:              "",
		AgentID:              "assistant",
		SessionDir:           "~/.wabridge",
		StatusAddr:           "",
		ReconnectBaseDelay:   2 * time.Second,
		ReconnectMaxDelay:    60 * time.Second,
		MaxReconnectAttempts: 10,
	}
}

// LoadConfig reads the JSON file at path (missing file is fine), then
// applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.GatewayURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid gateway URL %q", c.GatewayURL)
	}
	if c.GatewayWSURL != "" {
		wu, err := url.Parse(c.GatewayWSURL)
		if err != nil || (wu.Scheme != "ws" && wu.Scheme != "wss") {
			return fmt.Errorf("invalid gateway WS URL %q", c.GatewayWSURL)
		}
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("gateway timeout must be positive, got %v", c.GatewayTimeout)
	}
	if c.ReconnectBaseDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("invalid reconnect delays: base=%v max=%v", c.ReconnectBaseDelay, c.ReconnectMaxDelay)
	}
	if c.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("max reconnect attempts must be positive, got %d", c.MaxReconnectAttempts)
	}
	return nil
}

// SessionPath resolves SessionDir with ~ expanded.
func (c *Config) SessionPath() string {
	return expandHome(c.SessionDir)
}

// DatabasePath is the whatsmeow sqlite session database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.SessionPath(), "session.db")
}

// MediaPath is where downloaded inbound media lands.
func (c *Config) MediaPath() string {
	return filepath.Join(c.SessionPath(), "media")
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
