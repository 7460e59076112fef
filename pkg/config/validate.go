package config

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"

	"mercator-hq/governor/pkg/limits"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "store.backend").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
//
// Invalid source overrides are not validation errors: they disable the
// affected source at runtime. Use SourceErrors to list them.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateGovernor(&cfg.Governor)...)
	errs = append(errs, validateSourceDefaults(&cfg.Sources)...)
	errs = append(errs, validateFailover(&cfg.Failover)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateServer(&cfg.Server)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// SourceErrors returns a FieldError for every source override that would
// be disabled, sorted by source.
func SourceErrors(cfg *Config) []FieldError {
	defaults := cfg.Sources.Defaults.Merge(limits.DefaultSourceConfig())

	names := make([]string, 0, len(cfg.Sources.Overrides))
	for name := range cfg.Sources.Overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []FieldError
	for _, name := range names {
		field := fmt.Sprintf("sources.overrides.%s", name)
		if name == "" {
			errs = append(errs, FieldError{Field: field, Message: "source key cannot be empty"})
			continue
		}
		merged := cfg.Sources.Overrides[name].Merge(defaults)
		if err := merged.Validate(name); err != nil {
			errs = append(errs, FieldError{Field: field, Message: err.Error()})
		}
	}
	return errs
}

func validateGovernor(cfg *GovernorConfig) []FieldError {
	var errs []FieldError

	if cfg.CASMaxRetries < 1 {
		errs = append(errs, FieldError{
			Field:   "governor.cas_max_retries",
			Message: "CAS max retries must be at least 1",
		})
	}
	if cfg.ConflictRetryAfter < 0 {
		errs = append(errs, FieldError{
			Field:   "governor.conflict_retry_after",
			Message: "conflict retry hint must be positive",
		})
	}

	return errs
}

func validateSourceDefaults(cfg *SourcesConfig) []FieldError {
	merged := cfg.Defaults.Merge(limits.DefaultSourceConfig())
	if err := merged.Validate(""); err != nil {
		return []FieldError{{
			Field:   "sources.defaults",
			Message: err.Error(),
		}}
	}
	return nil
}

func validateFailover(cfg *FailoverConfig) []FieldError {
	var errs []FieldError

	if cfg.ProbeInterval <= 0 {
		errs = append(errs, FieldError{
			Field:   "failover.probe_interval",
			Message: "probe interval must be positive",
		})
	}
	if cfg.ProbeTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "failover.probe_timeout",
			Message: "probe timeout must be positive",
		})
	} else if cfg.ProbeInterval > 0 && cfg.ProbeTimeout > cfg.ProbeInterval {
		errs = append(errs, FieldError{
			Field:   "failover.probe_timeout",
			Message: "probe timeout cannot exceed probe interval",
		})
	}
	if cfg.OpTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "failover.op_timeout",
			Message: "op timeout must be positive",
		})
	}
	if cfg.FailThreshold < 1 {
		errs = append(errs, FieldError{
			Field:   "failover.fail_threshold",
			Message: "fail threshold must be at least 1",
		})
	}
	if cfg.RecoverThreshold < 1 {
		errs = append(errs, FieldError{
			Field:   "failover.recover_threshold",
			Message: "recover threshold must be at least 1",
		})
	}

	return errs
}

func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	validBackends := map[string]bool{"memory": true, "sqlite": true, "postgres": true, "redis": true}
	if !validBackends[cfg.Backend] {
		errs = append(errs, FieldError{
			Field:   "store.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory', 'sqlite', 'postgres', or 'redis'", cfg.Backend),
		})
	}

	switch cfg.Backend {
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "store.sqlite.path",
				Message: "SQLite path is required when backend is 'sqlite'",
			})
		}
		errs = append(errs, validateSchedule("store.sqlite.prune_schedule", cfg.SQLite.PruneSchedule)...)
	case "postgres":
		if cfg.Postgres.DSN == "" {
			errs = append(errs, FieldError{
				Field:   "store.postgres.dsn",
				Message: "DSN is required when backend is 'postgres'",
			})
		}
		if cfg.Postgres.MaxOpenConns < 0 {
			errs = append(errs, FieldError{
				Field:   "store.postgres.max_open_conns",
				Message: "max open connections must be non-negative",
			})
		}
		errs = append(errs, validateSchedule("store.postgres.prune_schedule", cfg.Postgres.PruneSchedule)...)
	case "redis":
		if cfg.Redis.Address == "" {
			errs = append(errs, FieldError{
				Field:   "store.redis.address",
				Message: "address is required when backend is 'redis'",
			})
		} else if _, _, err := net.SplitHostPort(cfg.Redis.Address); err != nil {
			errs = append(errs, FieldError{
				Field:   "store.redis.address",
				Message: fmt.Sprintf("invalid address %q: %v", cfg.Redis.Address, err),
			})
		}
		if cfg.Redis.DB < 0 {
			errs = append(errs, FieldError{
				Field:   "store.redis.db",
				Message: "database number must be non-negative",
			})
		}
	}

	return errs
}

// validateSchedule accepts "" and "-" (disabled) as well as any schedule
// the cron parser understands.
func validateSchedule(field, schedule string) []FieldError {
	if schedule == "" || schedule == "-" {
		return nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return []FieldError{{
			Field:   field,
			Message: fmt.Sprintf("invalid cron schedule %q: %v", schedule, err),
		}}
	}
	return nil
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	// Validate logging format
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.IsEnabled() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}

	if cfg.Metrics.MaxSourceLabels < 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.max_source_labels",
			Message: "max source labels must be non-negative",
		})
	}

	// Validate tracing configuration
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	validSamplers := map[string]bool{"always": true, "never": true, "ratio": true}
	if !validSamplers[cfg.Tracing.Sampler] {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	if cfg.Health.CheckTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.check_timeout",
			Message: "check timeout must be positive",
		})
	}

	return errs
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if !cfg.IsEnabled() {
		return nil
	}

	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: %v", cfg.ListenAddress, err),
		})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.shutdown_timeout",
			Message: "shutdown timeout must be positive",
		})
	}

	return errs
}
