// Package metrics provides the Prometheus plumbing shared by governor
// components: a process registry, the /metrics handler, and a
// cardinality limiter for per-source labels.
//
// Admission metrics themselves live with the code that records them
// (see limits.Metrics) and register with the registry returned here:
//
//	reg := metrics.NewRegistry()
//	m := limits.NewMetrics(reg)
//	r.Handle("/metrics", metrics.Handler(reg))
package metrics
