package limits

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"mercator-hq/governor/pkg/limits/breaker"
	"mercator-hq/governor/pkg/limits/quota"
)

// SourceConfig is the complete configuration of one source.
type SourceConfig struct {
	Capacity          int64         `yaml:"capacity" json:"capacity"`
	RefillRate        float64       `yaml:"refill_rate_per_second" json:"refill_rate_per_second"`
	FailureThreshold  int           `yaml:"failure_threshold" json:"failure_threshold"`
	FailureWindow     time.Duration `yaml:"failure_window" json:"failure_window"`
	CooldownBase      time.Duration `yaml:"cooldown_base" json:"cooldown_base"`
	CooldownMax       time.Duration `yaml:"cooldown_max" json:"cooldown_max"`
	TrialBudget       int           `yaml:"half_open_trial_budget" json:"half_open_trial_budget"`
	RecoveryThreshold int           `yaml:"recovery_threshold" json:"recovery_threshold"`
	TrialTimeout      time.Duration `yaml:"trial_timeout" json:"trial_timeout"`
}

// DefaultSourceConfig returns the built-in defaults.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		Capacity:          10,
		RefillRate:        1,
		FailureThreshold:  5,
		FailureWindow:     time.Minute,
		CooldownBase:      30 * time.Second,
		CooldownMax:       10 * time.Minute,
		TrialBudget:       1,
		RecoveryThreshold: 2,
		TrialTimeout:      30 * time.Second,
	}
}

// Merge returns c with zero fields taken from base.
func (c SourceConfig) Merge(base SourceConfig) SourceConfig {
	if c.Capacity == 0 {
		c.Capacity = base.Capacity
	}
	if c.RefillRate == 0 {
		c.RefillRate = base.RefillRate
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = base.FailureThreshold
	}
	if c.FailureWindow == 0 {
		c.FailureWindow = base.FailureWindow
	}
	if c.CooldownBase == 0 {
		c.CooldownBase = base.CooldownBase
	}
	if c.CooldownMax == 0 {
		c.CooldownMax = base.CooldownMax
	}
	if c.TrialBudget == 0 {
		c.TrialBudget = base.TrialBudget
	}
	if c.RecoveryThreshold == 0 {
		c.RecoveryThreshold = base.RecoveryThreshold
	}
	if c.TrialTimeout == 0 {
		c.TrialTimeout = base.TrialTimeout
	}
	return c
}

// Quota returns the token bucket part of the configuration.
func (c SourceConfig) Quota() quota.Config {
	return quota.Config{Capacity: c.Capacity, RefillRate: c.RefillRate}
}

// Breaker returns the circuit breaker part of the configuration.
func (c SourceConfig) Breaker() breaker.Config {
	return breaker.Config{
		FailureThreshold:  c.FailureThreshold,
		FailureWindow:     c.FailureWindow,
		CooldownBase:      c.CooldownBase,
		CooldownMax:       c.CooldownMax,
		TrialBudget:       c.TrialBudget,
		RecoveryThreshold: c.RecoveryThreshold,
		TrialTimeout:      c.TrialTimeout,
	}
}

// Validate checks the configuration for source.
func (c SourceConfig) Validate(source string) error {
	if err := c.Quota().Validate(); err != nil {
		return &ConfigError{Source: source, Field: "quota", Err: err}
	}
	if err := c.Breaker().Validate(); err != nil {
		return &ConfigError{Source: source, Field: "breaker", Err: err}
	}
	return nil
}

// Sources resolves the configuration of every source: explicit
// overrides first, defaults otherwise. Sources whose override failed
// validation are disabled until a later Update accepts them.
//
// Sources implements quota.ConfigSource and breaker.ConfigSource.
type Sources struct {
	mu        sync.RWMutex
	defaults  SourceConfig
	overrides map[string]SourceConfig
	disabled  map[string]error
}

// NewSources builds a registry. Overrides are merged over defaults. It
// fails only when the defaults themselves are invalid; invalid overrides
// are reported through Disabled.
func NewSources(defaults SourceConfig, overrides map[string]SourceConfig) (*Sources, error) {
	s := &Sources{}
	if _, err := s.Update(defaults, overrides); err != nil {
		return nil, err
	}
	return s, nil
}

// Update replaces the configuration. The returned slice lists the
// overrides that were rejected, sorted by source. If the defaults are
// invalid nothing changes and an error is returned.
func (s *Sources) Update(defaults SourceConfig, overrides map[string]SourceConfig) ([]error, error) {
	defaults = defaults.Merge(DefaultSourceConfig())
	if err := defaults.Validate(""); err != nil {
		return nil, err
	}

	merged := make(map[string]SourceConfig, len(overrides))
	disabled := make(map[string]error)
	for source, override := range overrides {
		if source == "" {
			continue
		}
		cfg := override.Merge(defaults)
		if err := cfg.Validate(source); err != nil {
			disabled[source] = err
			continue
		}
		merged[source] = cfg
	}

	s.mu.Lock()
	s.defaults = defaults
	s.overrides = merged
	s.disabled = disabled
	s.mu.Unlock()

	return sortedErrors(disabled), nil
}

// Resolve returns the configuration of source.
func (s *Sources) Resolve(source string) (SourceConfig, error) {
	if source == "" {
		return SourceConfig{}, &ConfigError{Field: "source", Err: errors.New("source key cannot be empty")}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err, ok := s.disabled[source]; ok {
		return SourceConfig{}, &ConfigError{Source: source, Err: fmt.Errorf("%w: %v", ErrSourceDisabled, err)}
	}
	if cfg, ok := s.overrides[source]; ok {
		return cfg, nil
	}
	return s.defaults, nil
}

// Disabled returns the rejection error of every disabled source.
func (s *Sources) Disabled() map[string]error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]error, len(s.disabled))
	for k, v := range s.disabled {
		out[k] = v
	}
	return out
}

// Configured returns the sources with explicit overrides, sorted.
func (s *Sources) Configured() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.overrides))
	for k := range s.overrides {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// QuotaConfig implements quota.ConfigSource.
func (s *Sources) QuotaConfig(source string) (quota.Config, error) {
	cfg, err := s.Resolve(source)
	if err != nil {
		return quota.Config{}, err
	}
	return cfg.Quota(), nil
}

// BreakerConfig implements breaker.ConfigSource.
func (s *Sources) BreakerConfig(source string) (breaker.Config, error) {
	cfg, err := s.Resolve(source)
	if err != nil {
		return breaker.Config{}, err
	}
	return cfg.Breaker(), nil
}

func sortedErrors(m map[string]error) []error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	errs := make([]error, 0, len(keys))
	for _, k := range keys {
		errs = append(errs, m[k])
	}
	return errs
}
