package portal

import (
	"testing"
	"time"
)

func TestConfigValidateAppliesDefaults(test *testing.T) {
	test.Parallel()
	cfg := Config{
		SessionSigningKey: "secret",
		InternalAPIKey:    "internal",
	}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("expected valid config, got %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		test.Fatalf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:8000" {
		test.Fatalf("expected default origin, got %v", cfg.AllowedOrigins)
	}
	if cfg.RequestTimeout != 3*time.Second {
		test.Fatalf("expected default timeout, got %v", cfg.RequestTimeout)
	}
	if cfg.HistoryLimit != 20 {
		test.Fatalf("expected default history limit, got %d", cfg.HistoryLimit)
	}
}

func TestConfigValidateRequiresSigningKey(test *testing.T) {
	test.Parallel()
	cfg := Config{InternalAPIKey: "internal"}
	if err := cfg.Validate(); err == nil {
		test.Fatalf("expected signing key error")
	}
}

func TestConfigValidateRequiresInternalKey(test *testing.T) {
	test.Parallel()
	cfg := Config{SessionSigningKey: "secret"}
	if err := cfg.Validate(); err == nil {
		test.Fatalf("expected internal key error")
	}
}

func TestParseAllowedOrigins(test *testing.T) {
	test.Parallel()
	origins := ParseAllowedOrigins(" https://portal.example.com , http://localhost:8000 ,")
	if len(origins) != 2 {
		test.Fatalf("expected 2 origins, got %v", origins)
	}
	if origins[0] != "https://portal.example.com" {
		test.Fatalf("unexpected first origin %q", origins[0])
	}
}
