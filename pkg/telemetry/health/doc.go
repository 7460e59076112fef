// Package health provides liveness and readiness checks.
//
// A Checker runs named CheckFuncs concurrently, each bounded by the check
// timeout. A check that returns an error wrapping ErrDegraded marks the
// process degraded, which is still served as ready: a governor in local
// fallback keeps answering admission requests with local state. Any other
// error marks the process unhealthy and readiness returns 503.
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("store", health.StoreCheck(store, true))
//	checker.RegisterCheck("failover", health.FailoverCheck(coordinator, true))
//
//	r.Get("/health/live", checker.LivenessHandler())
//	r.Get("/health/ready", checker.ReadinessHandler())
package health
