package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"mercator-hq/governor/pkg/limits"
)

func TestApplyDefaults_Empty(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"cas max retries", cfg.Governor.CASMaxRetries, DefaultCASMaxRetries},
		{"probe interval", cfg.Failover.ProbeInterval, DefaultProbeInterval},
		{"probe timeout", cfg.Failover.ProbeTimeout, DefaultProbeTimeout},
		{"op timeout", cfg.Failover.OpTimeout, DefaultOpTimeout},
		{"fail threshold", cfg.Failover.FailThreshold, DefaultFailThreshold},
		{"recover threshold", cfg.Failover.RecoverThreshold, DefaultRecoverThreshold},
		{"backend", cfg.Store.Backend, DefaultStoreBackend},
		{"logging level", cfg.Telemetry.Logging.Level, DefaultLoggingLevel},
		{"logging format", cfg.Telemetry.Logging.Format, DefaultLoggingFormat},
		{"metrics path", cfg.Telemetry.Metrics.Path, DefaultMetricsPath},
		{"max source labels", cfg.Telemetry.Metrics.MaxSourceLabels, DefaultMaxSourceLabels},
		{"tracing sampler", cfg.Telemetry.Tracing.Sampler, DefaultTracingSampler},
		{"tracing service name", cfg.Telemetry.Tracing.ServiceName, DefaultTracingServiceName},
		{"secrets env prefix", cfg.Secrets.EnvPrefix, DefaultSecretsEnvPrefix},
		{"secrets cache ttl", cfg.Secrets.CacheTTL, DefaultSecretsCacheTTL},
		{"listen address", cfg.Server.ListenAddress, DefaultListenAddress},
		{"shutdown timeout", cfg.Server.ShutdownTimeout, DefaultShutdownTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, tt.got)
			}
		})
	}

	if diff := cmp.Diff(limits.DefaultSourceConfig(), cfg.Sources.Defaults); diff != "" {
		t.Errorf("source defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyDefaults_PreservesValues(t *testing.T) {
	cfg := &Config{
		Governor: GovernorConfig{CASMaxRetries: 3},
		Store: StoreConfig{
			Backend: "sqlite",
			SQLite:  SQLiteConfig{Path: "/var/lib/governor.db", PruneSchedule: "-"},
		},
	}
	ApplyDefaults(cfg)

	if cfg.Governor.CASMaxRetries != 3 {
		t.Errorf("expected 3, got %d", cfg.Governor.CASMaxRetries)
	}
	if cfg.Store.SQLite.Path != "/var/lib/governor.db" || cfg.Store.SQLite.PruneSchedule != "-" {
		t.Errorf("expected sqlite settings preserved, got %+v", cfg.Store.SQLite)
	}
	if cfg.Store.SQLite.BusyTimeout != DefaultSQLiteBusyTimeout {
		t.Errorf("expected default busy timeout, got %v", cfg.Store.SQLite.BusyTimeout)
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	first := &Config{Store: StoreConfig{Backend: "postgres", Postgres: PostgresConfig{DSN: "postgres://x"}}}
	ApplyDefaults(first)

	second := *first
	ApplyDefaults(&second)

	if diff := cmp.Diff(*first, second); diff != "" {
		t.Errorf("ApplyDefaults not idempotent (-first +second):\n%s", diff)
	}
}
