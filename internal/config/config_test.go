package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "test-secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.OpsAddr != ":9090" {
		t.Fatalf("expected default ops addr, got %q", cfg.OpsAddr)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("expected 24h token ttl, got %v", cfg.TokenTTL)
	}
	if cfg.PendingMaxAge != 30*time.Minute {
		t.Fatalf("expected 30m pending max age, got %v", cfg.PendingMaxAge)
	}
	if cfg.DonationRatePerSecond != 1 || cfg.DonationBurst != 5 {
		t.Fatalf("unexpected donation limits: %v burst %d", cfg.DonationRatePerSecond, cfg.DonationBurst)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("AUTH_SECRET", "test-secret")
	t.Setenv("HTTP_ADDR", ":3000")
	t.Setenv("DATABASE_URL", "postgres://localhost/magicledger")
	t.Setenv("ADMIN_TOKENS", "alpha;beta")
	t.Setenv("PENDING_MAX_AGE", "15m")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":3000" {
		t.Fatalf("expected :3000, got %q", cfg.HTTPAddr)
	}
	if cfg.DatabaseURL != "postgres://localhost/magicledger" {
		t.Fatalf("unexpected database url %q", cfg.DatabaseURL)
	}
	if len(cfg.AdminTokens) != 2 || cfg.AdminTokens[0] != "alpha" || cfg.AdminTokens[1] != "beta" {
		t.Fatalf("unexpected admin tokens %v", cfg.AdminTokens)
	}
	if cfg.PendingMaxAge != 15*time.Minute {
		t.Fatalf("expected 15m, got %v", cfg.PendingMaxAge)
	}
}

func TestLoadFileOverridesEnvironment(t *testing.T) {
	t.Setenv("AUTH_SECRET", "test-secret")
	t.Setenv("HTTP_ADDR", ":3000")

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "http_addr: \":4000\"\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":4000" {
		t.Fatalf("expected file override :4000, got %q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected debug level, got %q", cfg.LogLevel)
	}
	// Settings absent from the file keep their environment values.
	if cfg.AuthSecret != "test-secret" {
		t.Fatalf("expected env auth secret, got %q", cfg.AuthSecret)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("AUTH_SECRET", "test-secret")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		AuthSecret:            "secret",
		DonationRatePerSecond: 1,
		DonationBurst:         5,
		PendingMaxAge:         time.Minute,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing secret", func(c *Config) { c.AuthSecret = "" }},
		{"zero rate", func(c *Config) { c.DonationRatePerSecond = 0 }},
		{"zero burst", func(c *Config) { c.DonationBurst = 0 }},
		{"zero max age", func(c *Config) { c.PendingMaxAge = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
