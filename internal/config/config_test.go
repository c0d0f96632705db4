package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.BackendBaseURL != "http://127.0.0.1:7001" {
		t.Fatalf("BackendBaseURL = %q", cfg.BackendBaseURL)
	}
	if cfg.GatewayAddr != ":8090" {
		t.Fatalf("GatewayAddr = %q", cfg.GatewayAddr)
	}
	if cfg.ChatTimeoutSec != 600 {
		t.Fatalf("ChatTimeoutSec = %d", cfg.ChatTimeoutSec)
	}
	if !cfg.RealTimeToolView {
		t.Fatal("RealTimeToolView default should be true")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SANDBOX_BACKEND_URL", "http://10.0.0.1:7001")
	t.Setenv("SSE_KEEPALIVE_SEC", "2") // below min, clamped to 5
	t.Setenv("REALTIME_TOOL_VIEW", "off")

	cfg := Load()

	if cfg.BackendBaseURL != "http://10.0.0.1:7001" {
		t.Fatalf("BackendBaseURL = %q", cfg.BackendBaseURL)
	}
	if cfg.SSEKeepaliveSec != 5 {
		t.Fatalf("SSEKeepaliveSec = %d, want clamped 5", cfg.SSEKeepaliveSec)
	}
	if cfg.RealTimeToolView {
		t.Fatal("RealTimeToolView should be off")
	}
}
