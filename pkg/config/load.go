package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention GOVERNOR_SECTION_FIELD (e.g., GOVERNOR_STORE_BACKEND).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	applyEnvOverrides(cfg)
	// Overrides may select a backend whose defaults were not applied yet
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied. It is used
// when no configuration file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format GOVERNOR_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Governor overrides
	envString("GOVERNOR_INSTANCE_ID", &cfg.Governor.InstanceID)
	envInt("GOVERNOR_CAS_MAX_RETRIES", &cfg.Governor.CASMaxRetries)

	// Source default overrides
	envInt64("GOVERNOR_SOURCES_DEFAULTS_CAPACITY", &cfg.Sources.Defaults.Capacity)
	envFloat("GOVERNOR_SOURCES_DEFAULTS_REFILL_RATE_PER_SECOND", &cfg.Sources.Defaults.RefillRate)
	envInt("GOVERNOR_SOURCES_DEFAULTS_FAILURE_THRESHOLD", &cfg.Sources.Defaults.FailureThreshold)
	envDuration("GOVERNOR_SOURCES_DEFAULTS_COOLDOWN_BASE", &cfg.Sources.Defaults.CooldownBase)
	envDuration("GOVERNOR_SOURCES_DEFAULTS_COOLDOWN_MAX", &cfg.Sources.Defaults.CooldownMax)

	// Failover overrides
	envBoolPtr("GOVERNOR_FAILOVER_ENABLED", &cfg.Failover.Enabled)
	envDuration("GOVERNOR_FAILOVER_PROBE_INTERVAL", &cfg.Failover.ProbeInterval)
	envDuration("GOVERNOR_FAILOVER_PROBE_TIMEOUT", &cfg.Failover.ProbeTimeout)
	envDuration("GOVERNOR_FAILOVER_OP_TIMEOUT", &cfg.Failover.OpTimeout)
	envInt("GOVERNOR_FAILOVER_FAIL_THRESHOLD", &cfg.Failover.FailThreshold)
	envInt("GOVERNOR_FAILOVER_RECOVER_THRESHOLD", &cfg.Failover.RecoverThreshold)

	// Store overrides
	envString("GOVERNOR_STORE_BACKEND", &cfg.Store.Backend)
	envString("GOVERNOR_STORE_KEY_PREFIX", &cfg.Store.KeyPrefix)
	envString("GOVERNOR_STORE_SQLITE_PATH", &cfg.Store.SQLite.Path)
	envString("GOVERNOR_STORE_POSTGRES_DSN", &cfg.Store.Postgres.DSN)
	envString("GOVERNOR_STORE_REDIS_ADDRESS", &cfg.Store.Redis.Address)
	envString("GOVERNOR_STORE_REDIS_PASSWORD", &cfg.Store.Redis.Password)
	envInt("GOVERNOR_STORE_REDIS_DB", &cfg.Store.Redis.DB)

	// Telemetry overrides
	envString("GOVERNOR_TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("GOVERNOR_TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("GOVERNOR_TELEMETRY_LOGGING_ADD_SOURCE", &cfg.Telemetry.Logging.AddSource)
	envBoolPtr("GOVERNOR_TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("GOVERNOR_SECRETS_DIR", &cfg.Secrets.Dir)
	envBool("GOVERNOR_TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("GOVERNOR_TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)

	// Server overrides
	envBoolPtr("GOVERNOR_SERVER_ENABLED", &cfg.Server.Enabled)
	envString("GOVERNOR_SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envBoolPtr("GOVERNOR_SERVER_ADMIN_ENABLED", &cfg.Server.AdminEnabled)
}

// Malformed values are ignored and the file value is kept.

func envString(name string, dst *string) {
	if val := os.Getenv(name); val != "" {
		*dst = val
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envInt64(name string, dst *int64) {
	if val := os.Getenv(name); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = i
		}
	}
}

func envFloat(name string, dst *float64) {
	if val := os.Getenv(name); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envBoolPtr(name string, dst **bool) {
	if val := os.Getenv(name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = &b
		}
	}
}
