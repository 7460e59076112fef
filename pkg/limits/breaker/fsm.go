package breaker

import (
	"time"

	"mercator-hq/governor/pkg/limits/outcome"
)

// MinRetryAfter is the smallest retry hint handed out with a denial.
const MinRetryAfter = 100 * time.Millisecond

// Admission is the breaker's answer to a permit request.
type Admission struct {
	// Allowed is true when the request may proceed to the quota ledger.
	Allowed bool

	// Trial is true when the request holds a HalfOpen trial slot.
	Trial bool

	// State is the breaker state after the decision.
	State State

	// RetryAfter is set on denial.
	RetryAfter time.Duration
}

// Step is the result of applying one event to a snapshot.
type Step struct {
	// Next is the snapshot after the event.
	Next Snapshot

	// Changed is false when Next equals the input and nothing needs writing.
	Changed bool

	// Transition is set when the state changed.
	Transition *Transition

	// Admission is only meaningful for Allow.
	Admission Admission
}

// Allow decides whether a request may pass the breaker at now.
func (s Snapshot) Allow(cfg Config, now time.Time) Step {
	s, changed := s.reclaim(cfg, now)

	switch s.State {
	case Closed:
		return Step{Next: s, Changed: changed, Admission: Admission{Allowed: true, State: Closed}}

	case Open:
		if wait := s.ReopensAt().Sub(now); wait > 0 {
			return Step{Next: s, Changed: changed, Admission: Admission{State: Open, RetryAfter: wait}}
		}
		next := s
		next.State = HalfOpen
		next.ConsecutiveSuccesses = 0
		next.TrialsInFlight = 1
		next.LastTrialAt = now
		return Step{
			Next:       next,
			Changed:    true,
			Transition: &Transition{From: Open, To: HalfOpen, Reason: ReasonCooldownElapsed},
			Admission:  Admission{Allowed: true, Trial: true, State: HalfOpen},
		}

	default: // HalfOpen
		if s.TrialsInFlight >= cfg.TrialBudget {
			wait := cfg.TrialTimeout - now.Sub(s.LastTrialAt)
			if wait < MinRetryAfter {
				wait = MinRetryAfter
			}
			return Step{Next: s, Changed: changed, Admission: Admission{State: HalfOpen, RetryAfter: wait}}
		}
		s.TrialsInFlight++
		s.LastTrialAt = now
		return Step{Next: s, Changed: true, Admission: Admission{Allowed: true, Trial: true, State: HalfOpen}}
	}
}

// Record applies the outcome of a permitted request. trial tells whether
// the request held a HalfOpen trial slot. While HalfOpen only trial
// outcomes move the breaker; outcomes of requests admitted before it
// opened are ignored, except for a RateLimitSignal.
func (s Snapshot) Record(cfg Config, o outcome.Outcome, trial bool, now time.Time) Step {
	s, changed := s.reclaim(cfg, now)

	if o == outcome.RateLimitSignal {
		return s.recordRateLimit(cfg, now)
	}
	if s.State == HalfOpen && !trial {
		return Step{Next: s, Changed: changed}
	}

	switch o {
	case outcome.Success:
		return s.recordSuccess(cfg, changed)
	case outcome.TransientFailure:
		return s.recordFailure(cfg, now, changed)
	case outcome.PermanentFailure:
		// Says nothing about source health; only the trial slot is freed.
		if s.State == HalfOpen && s.TrialsInFlight > 0 {
			s.TrialsInFlight--
			changed = true
		}
		return Step{Next: s, Changed: changed}
	}
	return Step{Next: s, Changed: changed}
}

// CancelTrial returns a HalfOpen trial slot whose request never ran. It
// must only be applied for admissions that were trials.
func (s Snapshot) CancelTrial(cfg Config, now time.Time) Step {
	s, changed := s.reclaim(cfg, now)
	if s.State == HalfOpen && s.TrialsInFlight > 0 {
		s.TrialsInFlight--
		changed = true
	}
	return Step{Next: s, Changed: changed}
}

func (s Snapshot) recordSuccess(cfg Config, changed bool) Step {
	switch s.State {
	case Closed:
		if s.ConsecutiveFailures > 0 || len(s.RecentFailures) > 0 {
			s.ConsecutiveFailures = 0
			s.RecentFailures = nil
			changed = true
		}
		return Step{Next: s, Changed: changed}

	case HalfOpen:
		if s.TrialsInFlight > 0 {
			s.TrialsInFlight--
		}
		s.ConsecutiveSuccesses++
		if s.ConsecutiveSuccesses < cfg.RecoveryThreshold {
			return Step{Next: s, Changed: true}
		}
		next := NewSnapshot(cfg)
		return Step{
			Next:       next,
			Changed:    true,
			Transition: &Transition{From: HalfOpen, To: Closed, Reason: ReasonRecovered},
		}
	}

	// A late success for a request admitted before the breaker opened.
	return Step{Next: s, Changed: changed}
}

func (s Snapshot) recordFailure(cfg Config, now time.Time, changed bool) Step {
	switch s.State {
	case Closed:
		s.RecentFailures = slideWindow(s.RecentFailures, now, cfg)
		s.ConsecutiveFailures = len(s.RecentFailures)
		if s.ConsecutiveFailures < cfg.FailureThreshold {
			return Step{Next: s, Changed: true}
		}
		return Step{
			Next:       s.open(cfg, now, s.Cooldown),
			Changed:    true,
			Transition: &Transition{From: Closed, To: Open, Reason: ReasonFailureThreshold},
		}

	case HalfOpen:
		return Step{
			Next:       s.open(cfg, now, s.doubledCooldown(cfg)),
			Changed:    true,
			Transition: &Transition{From: HalfOpen, To: Open, Reason: ReasonTrialFailure},
		}
	}

	return Step{Next: s, Changed: changed}
}

func (s Snapshot) recordRateLimit(cfg Config, now time.Time) Step {
	switch s.State {
	case Closed:
		return Step{
			Next:       s.open(cfg, now, s.Cooldown),
			Changed:    true,
			Transition: &Transition{From: Closed, To: Open, Reason: ReasonRateLimitSignal},
		}
	case HalfOpen:
		return Step{
			Next:       s.open(cfg, now, s.doubledCooldown(cfg)),
			Changed:    true,
			Transition: &Transition{From: HalfOpen, To: Open, Reason: ReasonRateLimitSignal},
		}
	}

	// Already open: the upstream is still limiting, so restart the cooldown.
	s.OpenedAt = now
	return Step{Next: s, Changed: true}
}

// open moves s to Open at now with the given cooldown.
func (s Snapshot) open(cfg Config, now time.Time, cooldown time.Duration) Snapshot {
	if cooldown <= 0 {
		cooldown = cfg.CooldownBase
	}
	if cooldown > cfg.CooldownMax {
		cooldown = cfg.CooldownMax
	}
	return Snapshot{
		State:       Open,
		OpenedAt:    now,
		Cooldown:    cooldown,
		TrialBudget: cfg.TrialBudget,
		Fingerprint: s.Fingerprint,
	}
}

func (s Snapshot) doubledCooldown(cfg Config) time.Duration {
	if s.Cooldown <= 0 {
		return cfg.CooldownBase
	}
	next := s.Cooldown * 2
	if next > cfg.CooldownMax || next < s.Cooldown {
		return cfg.CooldownMax
	}
	return next
}

// reclaim frees HalfOpen trial slots whose latest trial is older than
// TrialTimeout.
func (s Snapshot) reclaim(cfg Config, now time.Time) (Snapshot, bool) {
	if s.State != HalfOpen || s.TrialsInFlight == 0 {
		return s, false
	}
	if now.Sub(s.LastTrialAt) < cfg.TrialTimeout {
		return s, false
	}
	s.TrialsInFlight = 0
	return s, true
}

// slideWindow appends now to the failure run, drops failures older than
// FailureWindow and keeps at most FailureThreshold entries. The input
// slice is not modified.
func slideWindow(failures []time.Time, now time.Time, cfg Config) []time.Time {
	cutoff := now.Add(-cfg.FailureWindow)
	kept := make([]time.Time, 0, len(failures)+1)
	for _, t := range failures {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	if n := len(kept) - cfg.FailureThreshold; n > 0 {
		kept = kept[n:]
	}
	return kept
}
