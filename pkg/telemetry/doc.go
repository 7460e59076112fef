// Package telemetry groups the observability packages used by the governor.
//
// # Components
//
//   - logging: slog construction from configuration, request-scoped
//     attributes and redaction of credentials in store URLs
//   - metrics: the Prometheus registry, the /metrics handler and a
//     cardinality limiter for per-source labels
//   - tracing: OpenTelemetry spans for admission decisions and the ops
//     server, exported over OTLP/gRPC
//   - health: liveness and readiness checks for the shared store and the
//     failover mode
//
// # Usage
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json"})
//	if err != nil {
//		return err
//	}
//
//	reg := metrics.NewRegistry()
//	m := limits.NewMetricsWithLimit(reg, 1000)
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("store", health.StoreCheck(store, false))
//
// Every component accepts a nil logger and falls back to slog.Default().
package telemetry
