package config_test

import (
	"testing"
	"time"

	"fleetgate/internal/config"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := config.Load("testdata/config.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DefaultTarget == nil {
		t.Fatal("expected default target")
	}
	if cfg.DefaultTarget.Host != "gateway.example.net" {
		t.Errorf("default host = %q", cfg.DefaultTarget.Host)
	}
	if len(cfg.Instances) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(cfg.Instances))
	}
	if got := cfg.Instances["prod-eu"].Port; got != 2222 {
		t.Errorf("prod-eu port = %d, want 2222", got)
	}
	if cfg.CacheTTL() != 15*time.Second {
		t.Errorf("cache TTL = %v", cfg.CacheTTL())
	}
	if cfg.CommandTimeout() != 20*time.Second {
		t.Errorf("command timeout = %v", cfg.CommandTimeout())
	}
	if cfg.RetryAttempts != 2 {
		t.Errorf("retry attempts = %d", cfg.RetryAttempts)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte("instances:\n  a:\n    host: node-a\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.GatewayHTTPPort != 18789 {
		t.Errorf("gateway http port = %d, want 18789", cfg.GatewayHTTPPort)
	}
	if cfg.CacheTTL() != 15*time.Second {
		t.Errorf("cache TTL default = %v", cfg.CacheTTL())
	}
	if len(cfg.ProbePorts) == 0 {
		t.Error("expected default probe ports")
	}
}

func TestParseRejectsMissingHost(t *testing.T) {
	if _, err := config.Parse([]byte("instances:\n  a:\n    user: gateway\n")); err == nil {
		t.Fatal("expected error for instance without host")
	}
	if _, err := config.Parse([]byte("default_target:\n  user: gateway\n")); err == nil {
		t.Fatal("expected error for default target without host")
	}
}

func TestResolve(t *testing.T) {
	cfg, err := config.Load("testdata/config.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r := config.NewResolver(cfg)

	tests := []struct {
		instance string
		wantHost string
	}{
		{"prod-eu", "10.40.0.12"},
		{"staging", "staging.example.net"},
		{"unknown-instance", "gateway.example.net"}, // falls back to default
		{"", "gateway.example.net"},
	}
	for _, tt := range tests {
		t.Run(tt.instance, func(t *testing.T) {
			target, ok := r.Resolve(tt.instance)
			if !ok {
				t.Fatal("expected a target")
			}
			if target.Host != tt.wantHost {
				t.Errorf("host = %q, want %q", target.Host, tt.wantHost)
			}
		})
	}
}

func TestResolveAbsent(t *testing.T) {
	cfg, err := config.Parse([]byte("instances:\n  a:\n    host: node-a\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	r := config.NewResolver(cfg)

	if _, ok := r.Resolve("b"); ok {
		t.Fatal("expected no target for unknown instance without a default")
	}
}
