// Package config holds the client's startup configuration. It is read once
// at startup and passed explicitly to the components that need it; nothing
// reads ambient globals after Load returns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the injected client configuration.
type Config struct {
	// ServerHTTPURL is the pairing server's HTTP base for token acquisition
	// and voice uploads.
	ServerHTTPURL string `validate:"required,url"`

	// ServerWSURL is the pairing server's websocket endpoint.
	ServerWSURL string `validate:"required"`

	DisplayName string `validate:"required,max=32"`

	// Locale and Theme are user preference flags. They are the only
	// persisted state and are carried in the config object rather than
	// looked up globally.
	Locale string `validate:"oneof=en my"`
	Theme  string `validate:"oneof=light dark"`

	// ReconnectDelay is the wait between requeue and the next join.
	ReconnectDelay time.Duration

	// TypingWindowMs and RecordingWindowMs override the inbound presence
	// decay windows, in milliseconds. Zero keeps the defaults.
	TypingWindowMs    int
	RecordingWindowMs int

	// MetricsAddr, when non-empty, serves Prometheus metrics for debugging.
	MetricsAddr string
}

// Default returns the configuration for a locally running pairing server.
func Default() Config {
	return Config{
		ServerHTTPURL:  "http://localhost:8080",
		ServerWSURL:    "ws://localhost:8080/ws",
		Locale:         "en",
		Theme:          "light",
		ReconnectDelay: 500 * time.Millisecond,
	}
}

var validate = validator.New()

// Load builds the configuration from defaults, an optional .env file, and
// environment variable overrides, in that order of precedence. A missing
// .env file is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()
	cfg := Default()

	if v := os.Getenv("PAIRCHAT_SERVER_URL"); v != "" {
		cfg.ServerHTTPURL = v
	}
	if v := os.Getenv("PAIRCHAT_WS_URL"); v != "" {
		cfg.ServerWSURL = v
	}
	if v := os.Getenv("PAIRCHAT_NAME"); v != "" {
		cfg.DisplayName = v
	}
	if v := os.Getenv("PAIRCHAT_LOCALE"); v != "" {
		cfg.Locale = v
	}
	if v := os.Getenv("PAIRCHAT_THEME"); v != "" {
		cfg.Theme = v
	}
	if v := os.Getenv("PAIRCHAT_RECONNECT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.ReconnectDelay = d
		}
	}
	if v := os.Getenv("PAIRCHAT_TYPING_WINDOW_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TypingWindowMs = n
		}
	}
	if v := os.Getenv("PAIRCHAT_RECORDING_WINDOW_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RecordingWindowMs = n
		}
	}
	if v := os.Getenv("PAIRCHAT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the assembled configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: invalid configuration: %w", err)
	}
	return nil
}
