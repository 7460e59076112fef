package breaker

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireSnapshot is the stored form of Snapshot. Timestamps are Unix
// nanoseconds (0 = unset) and durations are nanoseconds.
type wireSnapshot struct {
	State                string  `json:"state"`
	ConsecutiveFailures  int     `json:"consecutive_failures"`
	ConsecutiveSuccesses int     `json:"consecutive_successes"`
	RecentFailures       []int64 `json:"recent_failures,omitempty"`
	OpenedAt             int64   `json:"opened_at,omitempty"`
	Cooldown             int64   `json:"cooldown"`
	TrialBudget          int     `json:"trial_budget"`
	TrialsInFlight       int     `json:"trials_in_flight"`
	LastTrialAt          int64   `json:"last_trial_at,omitempty"`
	Fingerprint          string  `json:"fingerprint,omitempty"`
}

// Encode serializes a breaker for the state store.
func Encode(s Snapshot) ([]byte, error) {
	return json.Marshal(wireSnapshot{
		State:                s.State.String(),
		ConsecutiveFailures:  s.ConsecutiveFailures,
		ConsecutiveSuccesses: s.ConsecutiveSuccesses,
		RecentFailures:       encodeTimes(s.RecentFailures),
		OpenedAt:             toNanos(s.OpenedAt),
		Cooldown:             int64(s.Cooldown),
		TrialBudget:          s.TrialBudget,
		TrialsInFlight:       s.TrialsInFlight,
		LastTrialAt:          toNanos(s.LastTrialAt),
		Fingerprint:          s.Fingerprint,
	})
}

// Decode parses a breaker written by Encode.
func Decode(data []byte) (Snapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode breaker state: %w", err)
	}
	state, err := ParseState(w.State)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		State:                state,
		ConsecutiveFailures:  w.ConsecutiveFailures,
		ConsecutiveSuccesses: w.ConsecutiveSuccesses,
		RecentFailures:       decodeTimes(w.RecentFailures),
		OpenedAt:             fromNanos(w.OpenedAt),
		Cooldown:             time.Duration(w.Cooldown),
		TrialBudget:          w.TrialBudget,
		TrialsInFlight:       w.TrialsInFlight,
		LastTrialAt:          fromNanos(w.LastTrialAt),
		Fingerprint:          w.Fingerprint,
	}, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func encodeTimes(ts []time.Time) []int64 {
	if len(ts) == 0 {
		return nil
	}
	out := make([]int64, len(ts))
	for i, t := range ts {
		out[i] = t.UnixNano()
	}
	return out
}

func decodeTimes(ns []int64) []time.Time {
	if len(ns) == 0 {
		return nil
	}
	out := make([]time.Time, len(ns))
	for i, n := range ns {
		out[i] = time.Unix(0, n)
	}
	return out
}
