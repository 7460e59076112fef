package breaker

import (
	"fmt"
	"strings"
	"time"
)

// State is the position of a breaker in its state machine.
type State int

const (
	// Closed admits all traffic and counts transient failures.
	Closed State = iota

	// Open denies all traffic until the cooldown has elapsed.
	Open

	// HalfOpen admits a bounded number of trial requests.
	HalfOpen
)

var stateNames = [...]string{
	Closed:   "closed",
	Open:     "open",
	HalfOpen: "half_open",
}

// String returns the snake_case name of the state.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// ParseState converts a name produced by String back into a State.
func ParseState(name string) (State, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for i, n := range stateNames {
		if n == normalized {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("unknown breaker state %q", name)
}

// Transition reasons.
const (
	ReasonFailureThreshold = "failure_threshold"
	ReasonCooldownElapsed  = "cooldown_elapsed"
	ReasonTrialFailure     = "trial_failure"
	ReasonRecovered        = "recovered"
	ReasonRateLimitSignal  = "rate_limit_signal"
	ReasonReset            = "reset"
)

// Transition is a committed change of state.
type Transition struct {
	From   State
	To     State
	Reason string
}

// Config controls one source's breaker.
type Config struct {
	// FailureThreshold is the number of consecutive transient failures
	// within FailureWindow that opens the breaker.
	FailureThreshold int

	// FailureWindow is the sliding window the threshold is counted in.
	// Failures of the current run older than this no longer count.
	FailureWindow time.Duration

	// CooldownBase is the first Open period.
	CooldownBase time.Duration

	// CooldownMax caps the doubling of the cooldown.
	CooldownMax time.Duration

	// TrialBudget is the number of concurrent trials allowed in HalfOpen.
	TrialBudget int

	// RecoveryThreshold is the number of trial successes that closes the
	// breaker.
	RecoveryThreshold int

	// TrialTimeout reclaims trial slots whose callers never reported.
	TrialTimeout time.Duration
}

// Validate checks the configuration for values the state machine cannot
// work with.
func (c Config) Validate() error {
	switch {
	case c.FailureThreshold < 1:
		return fmt.Errorf("failure threshold must be at least 1, got %d", c.FailureThreshold)
	case c.FailureWindow <= 0:
		return fmt.Errorf("failure window must be positive, got %v", c.FailureWindow)
	case c.CooldownBase <= 0:
		return fmt.Errorf("cooldown base must be positive, got %v", c.CooldownBase)
	case c.CooldownMax < c.CooldownBase:
		return fmt.Errorf("cooldown max %v is below cooldown base %v", c.CooldownMax, c.CooldownBase)
	case c.TrialBudget < 1:
		return fmt.Errorf("half-open trial budget must be at least 1, got %d", c.TrialBudget)
	case c.RecoveryThreshold < 1:
		return fmt.Errorf("recovery threshold must be at least 1, got %d", c.RecoveryThreshold)
	case c.TrialTimeout <= 0:
		return fmt.Errorf("trial timeout must be positive, got %v", c.TrialTimeout)
	}
	return nil
}

// Fingerprint identifies the configuration a stored breaker was built with.
func (c Config) Fingerprint() string {
	return fmt.Sprintf("ft=%d,fw=%d,cb=%d,cm=%d,tb=%d,rt=%d,tt=%d",
		c.FailureThreshold, c.FailureWindow, c.CooldownBase, c.CooldownMax,
		c.TrialBudget, c.RecoveryThreshold, c.TrialTimeout)
}

// Snapshot is the stored state of one source's breaker.
type Snapshot struct {
	State                State
	ConsecutiveFailures  int
	ConsecutiveSuccesses int

	// RecentFailures holds the times of the current failure run that are
	// still inside FailureWindow, oldest first, at most FailureThreshold
	// of them. ConsecutiveFailures is its length.
	RecentFailures []time.Time

	OpenedAt             time.Time
	Cooldown             time.Duration
	TrialBudget          int
	TrialsInFlight       int
	LastTrialAt          time.Time
	Fingerprint          string
}

// NewSnapshot returns a Closed breaker for cfg.
func NewSnapshot(cfg Config) Snapshot {
	return Snapshot{
		State:       Closed,
		Cooldown:    cfg.CooldownBase,
		TrialBudget: cfg.TrialBudget,
		Fingerprint: cfg.Fingerprint(),
	}
}

// ReopensAt returns when an Open breaker admits its first trial.
func (s Snapshot) ReopensAt() time.Time {
	return s.OpenedAt.Add(s.Cooldown)
}
