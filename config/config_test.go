package config

import (
	"testing"
	"time"
)

func TestLoad_RequiresAPIBaseURL(t *testing.T) {
	t.Setenv("API_BASE_URL", "")

	if _, err := Load(); err == nil {
		t.Error("Expected error without API_BASE_URL")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://clinic.example.com/admin/")
	t.Setenv("REALTIME_URL", "")
	t.Setenv("REALTIME_TRANSPORT", "")
	t.Setenv("MIRROR_POLL_INTERVAL", "")
	t.Setenv("SESSION_POLL_INTERVAL", "")
	t.Setenv("SOUND_ENABLED", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.APIBaseURL != "https://clinic.example.com/admin" {
		t.Errorf("Expected trailing slash trimmed, got %s", cfg.APIBaseURL)
	}
	if cfg.RealtimeURL != "wss://clinic.example.com/admin/ws/events" {
		t.Errorf("Expected derived websocket URL, got %s", cfg.RealtimeURL)
	}
	if cfg.MirrorPollInterval != 10*time.Second {
		t.Errorf("Expected 10s mirror poll, got %s", cfg.MirrorPollInterval)
	}
	if cfg.SessionPollInterval != 0 {
		t.Errorf("Expected session polling disabled, got %s", cfg.SessionPollInterval)
	}
	if !cfg.SoundEnabled {
		t.Error("Expected sound enabled by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://localhost:8000")
	t.Setenv("REALTIME_TRANSPORT", "NATS")
	t.Setenv("TENANT_ID", "7")
	t.Setenv("MIRROR_POLL_INTERVAL", "15")
	t.Setenv("SESSION_POLL_INTERVAL", "1m")
	t.Setenv("SOUND_ENABLED", "false")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.RealtimeTransport != TransportNATS {
		t.Errorf("Expected nats transport, got %s", cfg.RealtimeTransport)
	}
	if cfg.TenantID != 7 {
		t.Errorf("Expected tenant 7, got %d", cfg.TenantID)
	}
	if cfg.MirrorPollInterval != 15*time.Second || cfg.SessionPollInterval != time.Minute {
		t.Errorf("Unexpected intervals %s, %s", cfg.MirrorPollInterval, cfg.SessionPollInterval)
	}
	if cfg.SoundEnabled {
		t.Error("Expected sound disabled")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b.test" {
		t.Errorf("Unexpected origins %v", cfg.CORSOrigins)
	}
}

func TestLoad_RejectsUnknownTransport(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://localhost:8000")
	t.Setenv("REALTIME_TRANSPORT", "carrier-pigeon")

	if _, err := Load(); err == nil {
		t.Error("Expected error for unknown transport")
	}
}
