package config

import (
	"time"

	"mercator-hq/governor/pkg/limits"
)

// Config is the root configuration structure for a governor process.
type Config struct {
	// Governor contains process-wide admission settings.
	Governor GovernorConfig `yaml:"governor"`

	// Sources contains the per-source quota and breaker configuration.
	Sources SourcesConfig `yaml:"sources"`

	// Failover contains shared store health probing and local fallback
	// settings.
	Failover FailoverConfig `yaml:"failover"`

	// Store selects and configures the shared state backend.
	Store StoreConfig `yaml:"store"`

	// Telemetry contains logging, metrics and health configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Server contains the ops HTTP server configuration.
	Server ServerConfig `yaml:"server"`

	// Secrets configures resolution of ${secret:name} references.
	Secrets SecretsConfig `yaml:"secrets"`
}

// GovernorConfig contains process-wide admission settings.
type GovernorConfig struct {
	// InstanceID identifies this process in the shared store. Empty
	// generates a random UUID at startup.
	InstanceID string `yaml:"instance_id"`

	// CASMaxRetries bounds the optimistic concurrency loop on shared
	// state. Default: 16
	CASMaxRetries int `yaml:"cas_max_retries"`

	// ConflictRetryAfter is the retry hint returned when a decision
	// could not be committed. Default: 50ms
	ConflictRetryAfter time.Duration `yaml:"conflict_retry_after"`
}

// SourcesConfig contains the configuration of every source key.
type SourcesConfig struct {
	// Defaults apply to every source without an override. Zero fields
	// take the built-in defaults.
	Defaults limits.SourceConfig `yaml:"defaults"`

	// Overrides are merged field by field over Defaults.
	// Keys are source keys (e.g., "example.com").
	Overrides map[string]limits.SourceConfig `yaml:"overrides"`
}

// FailoverConfig contains shared store probing and fallback settings.
type FailoverConfig struct {
	// Enabled turns on local fallback. When false every request goes to
	// the shared store and store errors deny.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// ProbeInterval is the time between health probes.
	// Default: 2s
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// ProbeTimeout bounds one probe.
	// Default: 500ms
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// OpTimeout bounds shared store calls on the request path.
	// Default: 250ms
	OpTimeout time.Duration `yaml:"op_timeout"`

	// FailThreshold is the number of consecutive failures that switch
	// to local fallback.
	// Default: 3
	FailThreshold int `yaml:"fail_threshold"`

	// RecoverThreshold is the number of consecutive successful probes
	// that start reconciliation.
	// Default: 3
	RecoverThreshold int `yaml:"recover_threshold"`
}

// IsEnabled reports whether local fallback is enabled.
func (f FailoverConfig) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// StoreConfig selects the shared state backend.
type StoreConfig struct {
	// Backend is the storage backend.
	// Options: "memory", "sqlite", "postgres", "redis"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// KeyPrefix namespaces every key, so several fleets can share one
	// backend.
	KeyPrefix string `yaml:"key_prefix"`

	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file shared by every process on the host.
	// Default: "data/governor.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait for locks.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// PruneSchedule is the cron schedule for deleting expired keys.
	// Default: "@every 1m". Use "-" to disable.
	PruneSchedule string `yaml:"prune_schedule"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	// DSN is the connection string.
	DSN string `yaml:"dsn"`

	// MaxOpenConns bounds the connection pool.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// ConnMaxLifetime recycles connections.
	// Default: 30m
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// PruneSchedule is the cron schedule for deleting expired keys.
	// Default: "@every 1m"
	PruneSchedule string `yaml:"prune_schedule"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	// Address is host:port.
	Address string `yaml:"address"`

	// Password for AUTH. Prefer GOVERNOR_STORE_REDIS_PASSWORD.
	Password string `yaml:"password"`

	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Health  HealthConfig  `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics exposition configuration.
type MetricsConfig struct {
	// Enabled controls whether /metrics is served.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// MaxSourceLabels bounds the distinct source label values. Further
	// sources are reported under "_other". 0 means unlimited.
	// Default: 1000
	MaxSourceLabels int `yaml:"max_source_labels"`
}

// IsEnabled reports whether the metrics endpoint is served.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the collector connection.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName is the service name in traces.
	// Default: "governor"
	ServiceName string `yaml:"service_name"`
}

// HealthConfig contains health check configuration.
type HealthConfig struct {
	// CheckTimeout bounds the store ping of a readiness check.
	// Default: 2s
	CheckTimeout time.Duration `yaml:"check_timeout"`

	// ReadyInFallback controls whether the process reports ready while
	// running on local state.
	// Default: true
	ReadyInFallback *bool `yaml:"ready_in_fallback"`
}

// IsReadyInFallback reports whether local fallback counts as ready.
func (h HealthConfig) IsReadyInFallback() bool {
	return h.ReadyInFallback == nil || *h.ReadyInFallback
}

// SecretsConfig configures where ${secret:name} references in store and
// tracing settings are looked up.
type SecretsConfig struct {
	// EnvPrefix prefixes secret environment variables.
	// Default: "GOVERNOR_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`

	// Dir is a directory of mounted secret files, checked after the
	// environment. Optional.
	Dir string `yaml:"dir"`

	// CacheTTL keeps resolved secrets in memory.
	// Default: 5m
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// ServerConfig contains the ops HTTP server configuration.
type ServerConfig struct {
	// Enabled controls whether the ops server is started by "run".
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout, WriteTimeout and IdleTimeout configure http.Server.
	// Default: 10s, 10s, 60s
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration of graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AdminEnabled mounts the /admin routes.
	// Default: true
	AdminEnabled *bool `yaml:"admin_enabled"`
}

// IsEnabled reports whether the ops server is started.
func (s ServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// IsAdminEnabled reports whether the admin routes are mounted.
func (s ServerConfig) IsAdminEnabled() bool {
	return s.AdminEnabled == nil || *s.AdminEnabled
}
