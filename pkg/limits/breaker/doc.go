// Package breaker implements a per-source circuit breaker as an explicit
// state machine.
//
// # States
//
//   - Closed: all requests pass. FailureThreshold consecutive transient
//     failures within a sliding FailureWindow open the breaker.
//   - Open: all requests are denied until OpenedAt+Cooldown. The first
//     request after that moves the breaker to HalfOpen and runs as a trial.
//   - HalfOpen: at most TrialBudget trials run concurrently. A failed
//     trial reopens with the cooldown doubled (capped at CooldownMax);
//     RecoveryThreshold successes close the breaker and reset the cooldown.
//     Only outcomes reported with trial set count here; late outcomes of
//     requests admitted while Closed leave the breaker alone.
//
// A RateLimitSignal opens the breaker from any state. PermanentFailure
// never counts against the source.
//
// The transition functions (Snapshot.Allow, Snapshot.Record and
// Snapshot.CancelTrial) are pure. Breaker applies them to snapshots held
// in a storage.Store with compare-and-swap, so many processes can share
// one breaker per source.
package breaker
