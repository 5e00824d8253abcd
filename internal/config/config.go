// Package config loads the server configuration from the environment, with
// an optional YAML file overriding individual settings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config carries every tunable of the server process.
type Config struct {
	// HTTPAddr is the public API listen address.
	HTTPAddr string `env:"HTTP_ADDR,default=:8080" yaml:"http_addr"`
	// OpsAddr is the operational listener (health, metrics, debug).
	OpsAddr string `env:"OPS_ADDR,default=:9090" yaml:"ops_addr"`

	// DatabaseURL selects Postgres persistence. Empty runs in-memory.
	DatabaseURL string `env:"DATABASE_URL" yaml:"database_url"`
	// RedisAddr enables Redis-backed webhook delivery deduplication.
	// Empty keeps deduplication in process memory.
	RedisAddr     string `env:"REDIS_ADDR" yaml:"redis_addr"`
	RedisPassword string `env:"REDIS_PASSWORD" yaml:"redis_password"`

	// AuthSecret signs session tokens. Required.
	AuthSecret string        `env:"AUTH_SECRET" yaml:"auth_secret"`
	TokenTTL   time.Duration `env:"TOKEN_TTL,default=24h" yaml:"token_ttl"`
	// AdminTokens are static bearer tokens with admin access.
	AdminTokens []string `env:"ADMIN_TOKENS" yaml:"admin_tokens"`

	DonationRatePerSecond float64 `env:"DONATION_RATE_PER_SECOND,default=1" yaml:"donation_rate_per_second"`
	DonationBurst         int     `env:"DONATION_BURST,default=5" yaml:"donation_burst"`

	// PendingMaxAge is how long a pending payment may wait before the
	// expiry poller fails it.
	PendingMaxAge     time.Duration `env:"PENDING_MAX_AGE,default=30m" yaml:"pending_max_age"`
	ExpiryInterval    time.Duration `env:"EXPIRY_INTERVAL,default=1m" yaml:"expiry_interval"`
	ReconcileSchedule string        `env:"RECONCILE_SCHEDULE" yaml:"reconcile_schedule"`

	AuditFile string `env:"AUDIT_FILE" yaml:"audit_file"`
	AuditSize int    `env:"AUDIT_SIZE,default=200" yaml:"audit_size"`

	LogLevel  string `env:"LOG_LEVEL,default=info" yaml:"log_level"`
	LogFormat string `env:"LOG_FORMAT,default=console" yaml:"log_format"`
}

// Load reads configuration from the environment. When path is non-empty the
// YAML file at that path overrides environment values. A .env file in the
// working directory is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required")
	}
	if c.DonationRatePerSecond <= 0 {
		return fmt.Errorf("donation rate must be positive")
	}
	if c.DonationBurst <= 0 {
		return fmt.Errorf("donation burst must be positive")
	}
	if c.PendingMaxAge <= 0 {
		return fmt.Errorf("pending max age must be positive")
	}
	return nil
}
