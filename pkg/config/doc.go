// Package config provides configuration management for the governor.
//
// This package handles loading, validating, and watching configuration
// from YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("governor.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("governor.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention GOVERNOR_SECTION_FIELD.
// For example:
//
//   - GOVERNOR_STORE_BACKEND overrides store.backend
//   - GOVERNOR_STORE_REDIS_PASSWORD overrides store.redis.password
//   - GOVERNOR_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Sources
//
// The sources section holds per-source quota and breaker settings:
//
//	sources:
//	  defaults:
//	    capacity: 10
//	    refill_rate_per_second: 1
//	    failure_threshold: 5
//	    cooldown_base: 30s
//	  overrides:
//	    slow.example.com:
//	      capacity: 2
//	      refill_rate_per_second: 0.2
//
// Overrides are merged field by field over the defaults. An override that
// does not validate is not a load error: its source is disabled until a
// later reload fixes it, and SourceErrors reports it.
//
// # Hot Reload
//
// Watcher reloads the file on change. Only the sources section is applied
// to a running process; other sections take effect on restart.
package config
