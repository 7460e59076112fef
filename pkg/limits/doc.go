// Package limits provides admission control for fleets of scraping
// workers calling many individually rate-limited sources.
//
// # Overview
//
// Every request to a source passes two gates:
//
//   - breaker: a per-source circuit breaker that stops traffic to a
//     failing source and lets a few trials through while it recovers
//   - quota: a per-source token bucket that enforces the source's rate
//
// State for both lives in a shared storage.Store so all workers and
// processes see the same buckets and breakers. The failover package
// switches the process to in-memory state when that store is degraded and
// reconciles once it recovers.
//
// # Architecture
//
// The package is organized into sub-packages:
//
//   - storage: versioned key/value stores (memory, SQLite, Postgres, Redis)
//   - quota: token bucket ledger
//   - breaker: circuit breaker state machine
//   - failover: store health probing and local fallback
//   - outcome: classification of request results
//
// # Usage
//
//	decision, err := manager.Permit(ctx, source, 1)
//	if err != nil {
//	    return err // configuration error
//	}
//	if !decision.Granted {
//	    return retryLater(decision.RetryAfter, decision.Reason)
//	}
//
//	resp, err := fetch(ctx, url)
//	feedback, _ := manager.Report(ctx, source, decision, outcome.Classify(resp.StatusCode, err))
//	if !feedback.Retryable {
//	    dropJob()
//	}
//
// Permits that end up unused are handed back with ReleaseUnused.
//
// # Thread Safety
//
// All operations are safe for concurrent use. There is no lock across
// sources: contention is limited to callers of the same source.
package limits
