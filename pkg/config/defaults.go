package config

import (
	"time"

	"mercator-hq/governor/pkg/limits"
)

// Default values for configuration fields.
const (
	// Governor defaults
	DefaultCASMaxRetries      = 16
	DefaultConflictRetryAfter = 50 * time.Millisecond

	// Failover defaults
	DefaultProbeInterval    = 2 * time.Second
	DefaultProbeTimeout     = 500 * time.Millisecond
	DefaultOpTimeout        = 250 * time.Millisecond
	DefaultFailThreshold    = 3
	DefaultRecoverThreshold = 3

	// Store defaults
	DefaultStoreBackend            = "memory"
	DefaultSQLitePath              = "data/governor.db"
	DefaultSQLiteBusyTimeout       = 5 * time.Second
	DefaultPruneSchedule           = "@every 1m"
	DefaultPostgresMaxOpenConns    = 10
	DefaultPostgresConnMaxLifetime = 30 * time.Minute
	DefaultRedisDialTimeout        = 2 * time.Second
	DefaultRedisIOTimeout          = 500 * time.Millisecond

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultMaxSourceLabels    = 1000
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingServiceName = "governor"
	DefaultHealthCheckTimeout = 2 * time.Second

	// Secrets defaults
	DefaultSecretsEnvPrefix = "GOVERNOR_SECRET_"
	DefaultSecretsCacheTTL  = 5 * time.Minute

	// Server defaults
	DefaultListenAddress   = "127.0.0.1:9090"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
)

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Governor defaults
	if cfg.Governor.CASMaxRetries == 0 {
		cfg.Governor.CASMaxRetries = DefaultCASMaxRetries
	}
	if cfg.Governor.ConflictRetryAfter == 0 {
		cfg.Governor.ConflictRetryAfter = DefaultConflictRetryAfter
	}

	// Source defaults are merged field by field; overrides are merged
	// over the defaults when the registry is built.
	cfg.Sources.Defaults = cfg.Sources.Defaults.Merge(limits.DefaultSourceConfig())

	applyFailoverDefaults(&cfg.Failover)
	applyStoreDefaults(&cfg.Store)

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Secrets.EnvPrefix == "" {
		cfg.Secrets.EnvPrefix = DefaultSecretsEnvPrefix
	}
	if cfg.Secrets.CacheTTL == 0 {
		cfg.Secrets.CacheTTL = DefaultSecretsCacheTTL
	}
	if cfg.Telemetry.Metrics.MaxSourceLabels == 0 {
		cfg.Telemetry.Metrics.MaxSourceLabels = DefaultMaxSourceLabels
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Health.CheckTimeout == 0 {
		cfg.Telemetry.Health.CheckTimeout = DefaultHealthCheckTimeout
	}

	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func applyFailoverDefaults(cfg *FailoverConfig) {
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = DefaultFailThreshold
	}
	if cfg.RecoverThreshold == 0 {
		cfg.RecoverThreshold = DefaultRecoverThreshold
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultStoreBackend
	}

	switch cfg.Backend {
	case "sqlite":
		if cfg.SQLite.Path == "" {
			cfg.SQLite.Path = DefaultSQLitePath
		}
		if cfg.SQLite.BusyTimeout == 0 {
			cfg.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
		}
		if cfg.SQLite.PruneSchedule == "" {
			cfg.SQLite.PruneSchedule = DefaultPruneSchedule
		}
	case "postgres":
		if cfg.Postgres.MaxOpenConns == 0 {
			cfg.Postgres.MaxOpenConns = DefaultPostgresMaxOpenConns
		}
		if cfg.Postgres.ConnMaxLifetime == 0 {
			cfg.Postgres.ConnMaxLifetime = DefaultPostgresConnMaxLifetime
		}
		if cfg.Postgres.PruneSchedule == "" {
			cfg.Postgres.PruneSchedule = DefaultPruneSchedule
		}
	case "redis":
		if cfg.Redis.DialTimeout == 0 {
			cfg.Redis.DialTimeout = DefaultRedisDialTimeout
		}
		if cfg.Redis.ReadTimeout == 0 {
			cfg.Redis.ReadTimeout = DefaultRedisIOTimeout
		}
		if cfg.Redis.WriteTimeout == 0 {
			cfg.Redis.WriteTimeout = DefaultRedisIOTimeout
		}
	}
}
