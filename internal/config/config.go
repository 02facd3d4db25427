// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// MaxMembershipCacheTTL bounds how stale a cached membership may be.
	MaxMembershipCacheTTL = 5 * time.Minute
	// MaxResolverTimeout bounds membership and payment status lookups.
	MaxResolverTimeout = 2 * time.Second
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the sweeper's health gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// MetricsAddr serves Prometheus /metrics.
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL selects the shared membership cache; empty uses an in-process cache.
	RedisURL string `mapstructure:"REDIS_URL"`
	// MembershipCacheTTL is clamped to (0, 5m].
	MembershipCacheTTL time.Duration `mapstructure:"MEMBERSHIP_CACHE_TTL"`
	// ResolverTimeout is clamped to (0, 2s].
	ResolverTimeout time.Duration `mapstructure:"RESOLVER_TIMEOUT"`

	AuditMaxAttempts    int           `mapstructure:"AUDIT_MAX_ATTEMPTS"`
	AuditBackoffInitial time.Duration `mapstructure:"AUDIT_BACKOFF_INITIAL"`
	AuditBackoffMax     time.Duration `mapstructure:"AUDIT_BACKOFF_MAX"`

	// TransferTokenPrivateKey is a PEM-encoded RSA or ECDSA private key, or a path to one.
	TransferTokenPrivateKey string `mapstructure:"TRANSFER_TOKEN_PRIVATE_KEY"`
	// TransferTokenPublicKey is the matching public key, PEM or path.
	TransferTokenPublicKey string `mapstructure:"TRANSFER_TOKEN_PUBLIC_KEY"`
	// TransferTokenIssuer is the iss claim of validation tokens.
	TransferTokenIssuer string `mapstructure:"TRANSFER_TOKEN_ISSUER"`

	// BillingBaseURL is the Payment Status oracle; empty means every lookup is unavailable.
	BillingBaseURL string `mapstructure:"BILLING_BASE_URL"`
	BillingAPIKey  string `mapstructure:"BILLING_API_KEY"`

	// FraudPolicyPath optionally replaces the built-in Rego risk policy.
	FraudPolicyPath string `mapstructure:"FRAUD_POLICY_PATH"`

	// KafkaBrokers is a comma-separated broker list; empty disables notifications and alerts.
	KafkaBrokers     string `mapstructure:"KAFKA_BROKERS"`
	NotifyKafkaTopic string `mapstructure:"NOTIFY_KAFKA_TOPIC"`
	AlertKafkaTopic  string `mapstructure:"ALERT_KAFKA_TOPIC"`

	// OTLPEndpoint is the collector for traces, metrics and the audit fallback log; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	SweepInterval  time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepBatchSize int           `mapstructure:"SWEEP_BATCH_SIZE"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

var defaults = map[string]any{
	"GRPC_ADDR":                   ":8080",
	"METRICS_ADDR":                ":9090",
	"DATABASE_URL":                "",
	"REDIS_URL":                   "",
	"MEMBERSHIP_CACHE_TTL":        "5m",
	"RESOLVER_TIMEOUT":            "2s",
	"AUDIT_MAX_ATTEMPTS":          3,
	"AUDIT_BACKOFF_INITIAL":       "25ms",
	"AUDIT_BACKOFF_MAX":           "250ms",
	"TRANSFER_TOKEN_PRIVATE_KEY":  "",
	"TRANSFER_TOKEN_PUBLIC_KEY":   "",
	"TRANSFER_TOKEN_ISSUER":       "org-access-core",
	"BILLING_BASE_URL":            "",
	"BILLING_API_KEY":             "",
	"FRAUD_POLICY_PATH":           "",
	"KAFKA_BROKERS":               "",
	"NOTIFY_KAFKA_TOPIC":          "org-transfer-notifications",
	"ALERT_KAFKA_TOPIC":           "org-operator-alerts",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_EXPORTER_OTLP_INSECURE": false,
	"SWEEP_INTERVAL":              "1m",
	"SWEEP_BATCH_SIZE":            100,
	"APP_ENV":                     "",
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.clamp()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if c.AuditMaxAttempts < 1 || c.AuditMaxAttempts > 10 {
		return errors.New("config: AUDIT_MAX_ATTEMPTS must be between 1 and 10")
	}
	if (c.TransferTokenPrivateKey == "") != (c.TransferTokenPublicKey == "") {
		return errors.New("config: TRANSFER_TOKEN_PRIVATE_KEY and TRANSFER_TOKEN_PUBLIC_KEY must be set together")
	}
	if c.SweepBatchSize < 1 {
		return errors.New("config: SWEEP_BATCH_SIZE must be positive")
	}
	return nil
}

func (c *Config) clamp() {
	if c.MembershipCacheTTL <= 0 || c.MembershipCacheTTL > MaxMembershipCacheTTL {
		c.MembershipCacheTTL = MaxMembershipCacheTTL
	}
	if c.ResolverTimeout <= 0 || c.ResolverTimeout > MaxResolverTimeout {
		c.ResolverTimeout = MaxResolverTimeout
	}
	if c.AuditBackoffInitial <= 0 {
		c.AuditBackoffInitial = 25 * time.Millisecond
	}
	if c.AuditBackoffMax < c.AuditBackoffInitial {
		c.AuditBackoffMax = c.AuditBackoffInitial
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
}

// TokenKeysConfigured reports whether a signing key pair was supplied.
func (c *Config) TokenKeysConfigured() bool {
	return c != nil && c.TransferTokenPrivateKey != "" && c.TransferTokenPublicKey != ""
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the notification and alert producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
