package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr != ":8080" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":8080")
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("MetricsAddr = %q, want %q", cfg.MetricsAddr, ":9090")
	}
	if cfg.MembershipCacheTTL != 5*time.Minute {
		t.Errorf("MembershipCacheTTL = %v, want 5m", cfg.MembershipCacheTTL)
	}
	if cfg.ResolverTimeout != 2*time.Second {
		t.Errorf("ResolverTimeout = %v, want 2s", cfg.ResolverTimeout)
	}
	if cfg.AuditMaxAttempts != 3 || cfg.AuditBackoffInitial != 25*time.Millisecond || cfg.AuditBackoffMax != 250*time.Millisecond {
		t.Errorf("audit retry = %d %v %v, want 3 25ms 250ms", cfg.AuditMaxAttempts, cfg.AuditBackoffInitial, cfg.AuditBackoffMax)
	}
	if cfg.TransferTokenIssuer != "org-access-core" {
		t.Errorf("TransferTokenIssuer = %q", cfg.TransferTokenIssuer)
	}
	if cfg.NotifyKafkaTopic != "org-transfer-notifications" || cfg.AlertKafkaTopic != "org-operator-alerts" {
		t.Errorf("topics = %q %q", cfg.NotifyKafkaTopic, cfg.AlertKafkaTopic)
	}
	if cfg.SweepInterval != time.Minute || cfg.SweepBatchSize != 100 {
		t.Errorf("sweep = %v %d, want 1m 100", cfg.SweepInterval, cfg.SweepBatchSize)
	}
	if cfg.TokenKeysConfigured() {
		t.Error("TokenKeysConfigured should be false without keys")
	}
	if cfg.KafkaBrokersList() != nil {
		t.Errorf("KafkaBrokersList = %v, want nil", cfg.KafkaBrokersList())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":7070")
	os.Setenv("MEMBERSHIP_CACHE_TTL", "90s")
	os.Setenv("AUDIT_MAX_ATTEMPTS", "5")
	os.Setenv("AUDIT_BACKOFF_INITIAL", "10ms")
	os.Setenv("AUDIT_BACKOFF_MAX", "1s")
	os.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	os.Setenv("SWEEP_INTERVAL", "30s")
	os.Setenv("SWEEP_BATCH_SIZE", "25")
	os.Setenv("TRANSFER_TOKEN_PRIVATE_KEY", "priv.pem")
	os.Setenv("TRANSFER_TOKEN_PUBLIC_KEY", "pub.pem")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr != ":7070" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":7070")
	}
	if cfg.MembershipCacheTTL != 90*time.Second {
		t.Errorf("MembershipCacheTTL = %v, want 90s", cfg.MembershipCacheTTL)
	}
	if cfg.AuditMaxAttempts != 5 || cfg.AuditBackoffInitial != 10*time.Millisecond || cfg.AuditBackoffMax != time.Second {
		t.Errorf("audit retry = %d %v %v", cfg.AuditMaxAttempts, cfg.AuditBackoffInitial, cfg.AuditBackoffMax)
	}
	if !cfg.OTLPInsecure {
		t.Error("OTLPInsecure should be true")
	}
	if cfg.SweepInterval != 30*time.Second || cfg.SweepBatchSize != 25 {
		t.Errorf("sweep = %v %d", cfg.SweepInterval, cfg.SweepBatchSize)
	}
	if !cfg.TokenKeysConfigured() {
		t.Error("TokenKeysConfigured should be true")
	}
}

func TestLoad_ClampsBounds(t *testing.T) {
	os.Clearenv()
	os.Setenv("MEMBERSHIP_CACHE_TTL", "1h")
	os.Setenv("RESOLVER_TIMEOUT", "10s")
	os.Setenv("AUDIT_BACKOFF_INITIAL", "100ms")
	os.Setenv("AUDIT_BACKOFF_MAX", "10ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MembershipCacheTTL != MaxMembershipCacheTTL {
		t.Errorf("MembershipCacheTTL = %v, want %v", cfg.MembershipCacheTTL, MaxMembershipCacheTTL)
	}
	if cfg.ResolverTimeout != MaxResolverTimeout {
		t.Errorf("ResolverTimeout = %v, want %v", cfg.ResolverTimeout, MaxResolverTimeout)
	}
	if cfg.AuditBackoffMax != 100*time.Millisecond {
		t.Errorf("AuditBackoffMax = %v, want raised to initial", cfg.AuditBackoffMax)
	}
}

func TestLoad_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{"attempts zero", map[string]string{"AUDIT_MAX_ATTEMPTS": "0"}},
		{"attempts too high", map[string]string{"AUDIT_MAX_ATTEMPTS": "11"}},
		{"private key only", map[string]string{"TRANSFER_TOKEN_PRIVATE_KEY": "priv.pem"}},
		{"public key only", map[string]string{"TRANSFER_TOKEN_PUBLIC_KEY": "pub.pem"}},
		{"batch zero", map[string]string{"SWEEP_BATCH_SIZE": "0"}},
		{"bad duration", map[string]string{"SWEEP_INTERVAL": "soon"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tc.env {
				os.Setenv(k, v)
			}
			cfg, err := Load()
			if err == nil {
				t.Fatalf("Load should fail, got %+v", cfg)
			}
			if cfg != nil {
				t.Error("Load should return nil config on error")
			}
		})
	}
}

func TestValidate_GRPCAddrRequired(t *testing.T) {
	c := &Config{AuditMaxAttempts: 3, SweepBatchSize: 1}
	if err := c.validate(); err == nil || err.Error() != "config: GRPC_ADDR must be set" {
		t.Errorf("validate() = %v, want GRPC_ADDR error", err)
	}
}

func TestKafkaBrokersList(t *testing.T) {
	testCases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"localhost:9092", []string{"localhost:9092"}},
		{" a:9092 , b:9092,, ", []string{"a:9092", "b:9092"}},
		{" , ", []string{}},
	}
	for _, tc := range testCases {
		c := &Config{KafkaBrokers: tc.in}
		if got := c.KafkaBrokersList(); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("KafkaBrokersList(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should have no brokers")
	}
}
