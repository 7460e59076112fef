package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/governor/pkg/limits/breaker"
	"mercator-hq/governor/pkg/limits/failover"
	"mercator-hq/governor/pkg/limits/outcome"
	"mercator-hq/governor/pkg/limits/quota"
	"mercator-hq/governor/pkg/limits/storage"
)

// minRetryAfter is the floor of every retry hint handed to callers.
const minRetryAfter = time.Millisecond

// Manager is the caller-facing admission controller. For every source it
// consults the circuit breaker first and the quota ledger second.
//
// # Example
//
//	manager, err := limits.NewManager(limits.Config{
//	    Sources:     sources,
//	    Coordinator: coordinator,
//	    Metrics:     limits.NewMetrics(registry),
//	})
//
//	decision, err := manager.Permit(ctx, "example.com/search", 1)
//	if !decision.Granted {
//	    // back off for decision.RetryAfter
//	}
//
//	resp, err := client.Do(req)
//	manager.Report(ctx, "example.com/search", decision, outcome.Classify(resp.StatusCode, err))
type Manager struct {
	sources     *Sources
	ledger      *quota.Ledger
	breaker     *breaker.Breaker
	coordinator *failover.Coordinator
	metrics     *Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
}

// Config contains configuration for the manager.
type Config struct {
	// Sources resolves per-source configuration. Required.
	Sources *Sources

	// Coordinator routes state between the shared and the local store.
	// Either Coordinator or Router must be set.
	Coordinator *failover.Coordinator

	// Router is used when there is no Coordinator, for example
	// storage.Direct over a single store.
	Router storage.Router

	// Metrics receives permit, breaker and failover events. Optional.
	Metrics *Metrics

	// Tracer records a span per Permit and Report. Optional.
	Tracer trace.Tracer

	// CASMaxRetries bounds compare-and-swap attempts per operation.
	CASMaxRetries int

	// ConflictRetryAfter is the retry hint of decisions that could not
	// be committed to the store.
	ConflictRetryAfter time.Duration

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// NewManager creates a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Sources == nil {
		return nil, fmt.Errorf("manager requires a source registry")
	}
	router := cfg.Router
	if cfg.Coordinator != nil {
		router = cfg.Coordinator
	}
	if router == nil {
		return nil, fmt.Errorf("manager requires a coordinator or a router")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("governor")
	}

	ledger, err := quota.NewLedger(quota.LedgerConfig{
		Router:             router,
		Configs:            cfg.Sources,
		MaxRetries:         cfg.CASMaxRetries,
		ConflictRetryAfter: cfg.ConflictRetryAfter,
		Clock:              cfg.Clock,
		Logger:             cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	opts := breaker.Options{
		Router:             router,
		Configs:            cfg.Sources,
		MaxRetries:         cfg.CASMaxRetries,
		ConflictRetryAfter: cfg.ConflictRetryAfter,
		Clock:              cfg.Clock,
		Logger:             cfg.Logger,
	}
	if cfg.Metrics != nil {
		opts.Observer = cfg.Metrics
	}
	b, err := breaker.New(opts)
	if err != nil {
		return nil, err
	}

	return &Manager{
		sources:     cfg.Sources,
		ledger:      ledger,
		breaker:     b,
		coordinator: cfg.Coordinator,
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		logger:      cfg.Logger.With("component", "limits"),
	}, nil
}

// Permit decides whether the caller may send a request of the given cost
// to source. It never waits: a denial carries a retry hint and a reason.
// The only errors are configuration errors (an empty or disabled source,
// or a cost outside [1, capacity]).
func (m *Manager) Permit(ctx context.Context, source string, cost int64) (Decision, error) {
	ctx, span := m.tracer.Start(ctx, "governor.permit", trace.WithAttributes(
		attribute.String("governor.source", source),
		attribute.Int64("governor.cost", cost),
	))
	defer span.End()

	decision, err := m.permit(ctx, source, cost)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return decision, err
	}
	span.SetAttributes(
		attribute.Bool("governor.granted", decision.Granted),
		attribute.String("governor.breaker_state", decision.BreakerState.String()),
	)
	if !decision.Granted {
		span.SetAttributes(
			attribute.String("governor.deny_reason", string(decision.Reason)),
			attribute.Int64("governor.retry_after_ms", decision.RetryAfter.Milliseconds()),
		)
	}
	return decision, nil
}

func (m *Manager) permit(ctx context.Context, source string, cost int64) (Decision, error) {
	cfg, err := m.sources.Resolve(source)
	if err != nil {
		return Decision{}, err
	}
	if err := cfg.Quota().ValidateCost(cost); err != nil {
		return Decision{}, &ConfigError{Source: source, Field: "cost", Err: err}
	}

	admission, err := m.breaker.Allow(ctx, source)
	if err != nil {
		return Decision{}, asConfigError(source, err)
	}
	if !admission.Allowed {
		return m.deny(source, Decision{
			RetryAfter:   admission.RetryAfter,
			BreakerState: admission.State,
			Reason:       ReasonBreakerOpen,
		}), nil
	}

	result, err := m.ledger.Acquire(ctx, source, cost)
	if err != nil {
		m.cancelTrial(ctx, source, admission)
		return Decision{}, asConfigError(source, err)
	}
	if !result.Granted {
		m.cancelTrial(ctx, source, admission)
		return m.deny(source, Decision{
			RetryAfter:   result.RetryAfter,
			BreakerState: admission.State,
			Reason:       ReasonQuotaExceeded,
			Remaining:    result.Remaining,
		}), nil
	}

	decision := Decision{
		Granted:      true,
		BreakerState: admission.State,
		Trial:        admission.Trial,
		Cost:         cost,
		Remaining:    result.Remaining,
	}
	m.metrics.RecordPermit(source, decision)
	return decision, nil
}

// Report feeds the outcome of the request permitted by d back into
// source's breaker. While the breaker is HalfOpen only trial outcomes
// count. A RateLimitSignal also empties the source's bucket.
func (m *Manager) Report(ctx context.Context, source string, d Decision, o outcome.Outcome) (Feedback, error) {
	ctx, span := m.tracer.Start(ctx, "governor.report", trace.WithAttributes(
		attribute.String("governor.source", source),
		attribute.String("governor.outcome", o.String()),
		attribute.Bool("governor.trial", d.Trial),
	))
	defer span.End()

	feedback, err := m.report(ctx, source, d.Trial, o)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return feedback, err
	}
	span.SetAttributes(attribute.String("governor.breaker_state", feedback.BreakerState.String()))
	return feedback, nil
}

func (m *Manager) report(ctx context.Context, source string, trial bool, o outcome.Outcome) (Feedback, error) {
	if _, err := m.sources.Resolve(source); err != nil {
		return Feedback{}, err
	}
	if !o.Valid() {
		return Feedback{}, &ConfigError{Source: source, Field: "outcome", Err: fmt.Errorf("unknown outcome %d", int(o))}
	}

	state, err := m.breaker.Record(ctx, source, o, trial)
	if err != nil {
		return Feedback{}, asConfigError(source, err)
	}
	if o == outcome.RateLimitSignal {
		if err := m.ledger.Drain(ctx, source); err != nil {
			return Feedback{}, asConfigError(source, err)
		}
	}

	return Feedback{BreakerState: state, Retryable: o.Retryable()}, nil
}

// ReleaseUnused returns the tokens of a permit that was never used. A
// trial permit also gives back its HalfOpen trial slot. Denied decisions
// hold nothing and are ignored.
func (m *Manager) ReleaseUnused(ctx context.Context, source string, d Decision) error {
	cfg, err := m.sources.Resolve(source)
	if err != nil {
		return err
	}
	if !d.Granted {
		return nil
	}
	if err := cfg.Quota().ValidateCost(d.Cost); err != nil {
		return &ConfigError{Source: source, Field: "cost", Err: err}
	}

	if err := m.ledger.ReleaseUnused(ctx, source, d.Cost); err != nil {
		return asConfigError(source, err)
	}
	if !d.Trial {
		return nil
	}
	return asConfigError(source, m.breaker.CancelTrial(ctx, source))
}

// Inspect returns the current bucket and breaker of source.
func (m *Manager) Inspect(ctx context.Context, source string) (Inspection, error) {
	cfg, err := m.sources.Resolve(source)
	if err != nil {
		return Inspection{}, err
	}

	bucket, err := m.ledger.Inspect(ctx, source)
	if err != nil {
		return Inspection{}, err
	}
	snapshot, err := m.breaker.Inspect(ctx, source)
	if err != nil {
		return Inspection{}, err
	}

	return Inspection{
		Source: source,
		Config: cfg,
		Bucket: BucketView{
			Capacity:   bucket.Capacity,
			Tokens:     bucket.Tokens,
			RefillRate: bucket.RefillRate,
			LastRefill: bucket.LastRefill,
		},
		Breaker: snapshot,
	}, nil
}

// ResetBreaker clears source's breaker.
func (m *Manager) ResetBreaker(ctx context.Context, source string) error {
	if _, err := m.sources.Resolve(source); err != nil {
		return err
	}
	return m.breaker.Reset(ctx, source)
}

// ApplySources replaces the per-source configuration, for example after a
// config reload. Buckets and breakers of changed sources are recreated on
// their next use. Rejected overrides disable their source.
func (m *Manager) ApplySources(defaults SourceConfig, overrides map[string]SourceConfig) ([]error, error) {
	rejected, err := m.sources.Update(defaults, overrides)
	if err != nil {
		m.logger.Error("source defaults rejected, keeping previous configuration", "error", err)
		return nil, err
	}
	for _, r := range rejected {
		m.logger.Warn("source disabled", "error", r)
	}
	m.logger.Info("source configuration applied",
		"overrides", len(overrides)-len(rejected),
		"disabled", len(rejected),
	)
	return rejected, nil
}

// Sources returns the source registry.
func (m *Manager) Sources() *Sources {
	return m.sources
}

// Mode returns the process failover mode. Without a coordinator the
// manager always runs against one store and reports Shared.
func (m *Manager) Mode() failover.Mode {
	if m.coordinator == nil {
		return failover.Shared
	}
	return m.coordinator.Mode()
}

// FailoverStatus returns the coordinator status, if there is one.
func (m *Manager) FailoverStatus() (failover.Status, bool) {
	if m.coordinator == nil {
		return failover.Status{}, false
	}
	return m.coordinator.Status(), true
}

func (m *Manager) deny(source string, d Decision) Decision {
	if d.RetryAfter < minRetryAfter {
		d.RetryAfter = minRetryAfter
	}
	m.metrics.RecordPermit(source, d)
	return d
}

func (m *Manager) cancelTrial(ctx context.Context, source string, admission breaker.Admission) {
	if !admission.Trial {
		return
	}
	if err := m.breaker.CancelTrial(ctx, source); err != nil {
		m.logger.Warn("failed to return trial slot", "source", source, "error", err)
	}
}

// asConfigError makes sure configuration failures from the components
// surface as *ConfigError.
func asConfigError(source string, err error) error {
	if err == nil || errors.Is(err, ErrConfigInvalid) {
		return err
	}
	return &ConfigError{Source: source, Err: err}
}
