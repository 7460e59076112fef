package limits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/governor/pkg/limits/breaker"
	"mercator-hq/governor/pkg/limits/failover"
	"mercator-hq/governor/pkg/telemetry/metrics"
)

// Metrics contains Prometheus metrics for admission control. It
// implements breaker.Observer and failover.Observer.
type Metrics struct {
	// Permits
	permitsGranted *prometheus.CounterVec
	permitsDenied  *prometheus.CounterVec

	// Breakers
	breakerTransitions *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec

	// Failover
	failoverTransitions *prometheus.CounterVec
	failoverMode        prometheus.Gauge
	storeErrors         *prometheus.CounterVec
	reconciledKeys      prometheus.Counter

	sources *metrics.CardinalityLimiter
}

// NewMetrics creates the collectors and registers them with reg. A nil
// reg registers with prometheus.DefaultRegisterer. Source labels are not
// bounded.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return NewMetricsWithLimit(reg, 0)
}

// NewMetricsWithLimit is NewMetrics with at most maxSources distinct
// source label values. Later sources are reported as "_other".
func NewMetricsWithLimit(reg prometheus.Registerer, maxSources int) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		sources: metrics.NewCardinalityLimiter(maxSources),

		permitsGranted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_permits_granted_total",
				Help: "Total number of permits granted",
			},
			[]string{"source"},
		),

		permitsDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_permits_denied_total",
				Help: "Total number of permits denied",
			},
			[]string{"source", "reason"},
		),

		breakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_breaker_transitions_total",
				Help: "Total number of circuit breaker state transitions",
			},
			[]string{"source", "from", "to", "reason"},
		),

		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "governor_breaker_state",
				Help: "Current circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"source"},
		),

		failoverTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_failover_mode_transitions_total",
				Help: "Total number of failover mode transitions",
			},
			[]string{"from", "to"},
		),

		failoverMode: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "governor_failover_mode",
				Help: "Current failover mode (0=shared, 1=local_fallback)",
			},
		),

		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_store_errors_total",
				Help: "Total number of failed shared state store calls",
			},
			[]string{"op"},
		),

		reconciledKeys: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "governor_reconciled_keys_total",
				Help: "Total number of keys pushed to the shared store by reconciliation",
			},
		),
	}
}

// RecordPermit records a permit decision.
func (m *Metrics) RecordPermit(source string, d Decision) {
	if m == nil {
		return
	}
	if d.Granted {
		m.permitsGranted.WithLabelValues(m.sources.Label(source)).Inc()
		return
	}
	m.permitsDenied.WithLabelValues(m.sources.Label(source), string(d.Reason)).Inc()
}

// BreakerTransition implements breaker.Observer.
func (m *Metrics) BreakerTransition(source string, t breaker.Transition) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(m.sources.Label(source), t.From.String(), t.To.String(), t.Reason).Inc()
}

// BreakerState implements breaker.Observer.
func (m *Metrics) BreakerState(source string, s breaker.State) {
	if m == nil {
		return
	}
	label := m.sources.Label(source)
	if label == metrics.OverflowLabel {
		return
	}
	m.breakerState.WithLabelValues(label).Set(float64(s))
}

// FailoverTransition implements failover.Observer.
func (m *Metrics) FailoverTransition(from, to failover.Mode) {
	if m == nil {
		return
	}
	m.failoverTransitions.WithLabelValues(from.String(), to.String()).Inc()
	m.failoverMode.Set(float64(to))
}

// StoreError implements failover.Observer.
func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

// KeysReconciled implements failover.Observer.
func (m *Metrics) KeysReconciled(n int) {
	if m == nil {
		return
	}
	m.reconciledKeys.Add(float64(n))
}
