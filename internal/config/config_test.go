package config

import (
	"testing"
	"time"
)

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("PAIRCHAT_NAME", "Alice")
	t.Setenv("PAIRCHAT_SERVER_URL", "http://pair.example:9090")
	t.Setenv("PAIRCHAT_WS_URL", "ws://pair.example:9090/ws")
	t.Setenv("PAIRCHAT_RECONNECT_DELAY", "250ms")
	t.Setenv("PAIRCHAT_LOCALE", "my")
	t.Setenv("PAIRCHAT_THEME", "dark")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ServerHTTPURL != "http://pair.example:9090" {
		t.Errorf("server url override not applied: %q", cfg.ServerHTTPURL)
	}
	if cfg.ReconnectDelay != 250*time.Millisecond {
		t.Errorf("reconnect delay override not applied: %v", cfg.ReconnectDelay)
	}
	if cfg.Locale != "my" || cfg.Theme != "dark" {
		t.Errorf("preference overrides not applied: %q %q", cfg.Locale, cfg.Theme)
	}
}

func TestLoadRequiresName(t *testing.T) {
	t.Setenv("PAIRCHAT_NAME", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation failure without a display name")
	}
}

func TestValidateRejectsUnknownLocale(t *testing.T) {
	cfg := Default()
	cfg.DisplayName = "Alice"
	cfg.Locale = "xx"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation failure for unknown locale")
	}
}

func TestBadDurationKeepsDefault(t *testing.T) {
	t.Setenv("PAIRCHAT_NAME", "Alice")
	t.Setenv("PAIRCHAT_RECONNECT_DELAY", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ReconnectDelay != Default().ReconnectDelay {
		t.Errorf("expected default delay kept, got %v", cfg.ReconnectDelay)
	}
}
