package limits

import (
	"errors"
	"fmt"
	"time"

	"mercator-hq/governor/pkg/limits/breaker"
)

// DenyReason explains why a permit was denied.
type DenyReason string

const (
	// ReasonNone is set on granted permits.
	ReasonNone DenyReason = ""

	// ReasonQuotaExceeded means the source's token bucket could not pay
	// the cost. Retry after RetryAfter.
	ReasonQuotaExceeded DenyReason = "quota_exceeded"

	// ReasonBreakerOpen means the source's breaker is refusing traffic.
	// Callers usually back off harder than for quota denials.
	ReasonBreakerOpen DenyReason = "breaker_open"
)

// Decision is the answer to a permit request. Every denial carries a
// positive RetryAfter.
type Decision struct {
	// Granted is true when the caller may send the request.
	Granted bool

	// RetryAfter is set on denial.
	RetryAfter time.Duration

	// BreakerState is the source's breaker state after the decision.
	BreakerState breaker.State

	// Reason is set on denial.
	Reason DenyReason

	// Trial is true when the permit is a HalfOpen trial. Its outcome
	// decides whether the breaker closes, so the decision must be handed
	// back to Report or ReleaseUnused.
	Trial bool

	// Cost is the number of tokens the permit consumed.
	Cost int64

	// Remaining is the number of tokens left in the bucket.
	Remaining float64
}

// Feedback is the answer to an outcome report.
type Feedback struct {
	// BreakerState is the source's breaker state after the report.
	BreakerState breaker.State

	// Retryable is false for permanent failures.
	Retryable bool
}

// Inspection is the combined state of one source.
type Inspection struct {
	Source  string
	Config  SourceConfig
	Bucket  BucketView
	Breaker breaker.Snapshot
}

// BucketView is the observable part of a token bucket.
type BucketView struct {
	Capacity   int64
	Tokens     float64
	RefillRate float64
	LastRefill time.Time
}

var (
	// ErrConfigInvalid is wrapped by every ConfigError.
	ErrConfigInvalid = errors.New("invalid source configuration")

	// ErrSourceDisabled is returned for sources whose configuration was
	// rejected. It wraps ErrConfigInvalid.
	ErrSourceDisabled = fmt.Errorf("%w: source disabled", ErrConfigInvalid)
)

// ConfigError reports an unusable source configuration or request.
type ConfigError struct {
	// Source is the affected source key. Empty for default settings.
	Source string

	// Field names the offending setting, if known.
	Field string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	target := "defaults"
	if e.Source != "" {
		target = "source " + e.Source
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid configuration for %s: %s: %v", target, e.Field, e.Err)
	}
	return fmt.Sprintf("invalid configuration for %s: %v", target, e.Err)
}

// Unwrap returns the underlying error for error wrapping.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is reports ErrConfigInvalid for every ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfigInvalid
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfigInvalid)
}
