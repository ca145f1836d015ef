package config

import (
	"testing"
	"time"
)

func TestParseServerFlagsDefaults(t *testing.T) {
	t.Setenv("AUTOMATUS_LISTEN", "")
	t.Setenv("AUTOMATUS_MESSAGE_LIMIT", "")

	cfg, err := ParseServerFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8765" {
		t.Fatalf("expected default listen :8765, got %q", cfg.Listen)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("expected 24h token ttl, got %s", cfg.TokenTTL)
	}
	if cfg.MessageLimit != 100 || cfg.MessageWindow != 60*time.Second {
		t.Fatalf("unexpected message limit defaults: %d/%s", cfg.MessageLimit, cfg.MessageWindow)
	}
	if cfg.BreakerThreshold != 5 {
		t.Fatalf("expected breaker threshold 5, got %d", cfg.BreakerThreshold)
	}
	if cfg.TLSMode != "off" {
		t.Fatalf("expected tls off by default, got %q", cfg.TLSMode)
	}
}

func TestParseServerFlagsEnvFallback(t *testing.T) {
	t.Setenv("AUTOMATUS_LISTEN", ":9999")
	t.Setenv("AUTOMATUS_TOKEN_TTL", "1h")
	t.Setenv("AUTOMATUS_MESSAGE_LIMIT", "50")

	cfg, err := ParseServerFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9999" {
		t.Fatalf("env listen ignored, got %q", cfg.Listen)
	}
	if cfg.TokenTTL != time.Hour {
		t.Fatalf("env token ttl ignored, got %s", cfg.TokenTTL)
	}
	if cfg.MessageLimit != 50 {
		t.Fatalf("env message limit ignored, got %d", cfg.MessageLimit)
	}

	// Flags win over the environment.
	cfg, err = ParseServerFlags([]string{"--listen", ":7777"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":7777" {
		t.Fatalf("flag did not override env, got %q", cfg.Listen)
	}
}

func TestParseServerFlagsValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "bad tls mode", args: []string{"--tls-mode", "maybe"}},
		{name: "static tls needs files", args: []string{"--tls-mode", "static"}},
		{name: "auto tls needs host", args: []string{"--tls-mode", "auto"}},
		{name: "zero message limit", args: []string{"--message-limit", "0"}},
		{name: "zero breaker threshold", args: []string{"--breaker-threshold", "0"}},
		{name: "zero heartbeat", args: []string{"--heartbeat-interval", "0s"}},
		{name: "zero token ttl", args: []string{"--token-ttl", "0s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseServerFlags(tt.args); err == nil {
				t.Fatalf("expected parse error for args: %v", tt.args)
			}
		})
	}
}
