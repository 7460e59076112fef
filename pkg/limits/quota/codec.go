package quota

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireState is the stored form of State. Timestamps are Unix nanoseconds.
type wireState struct {
	Capacity    int64   `json:"capacity"`
	Tokens      float64 `json:"tokens_remaining"`
	RefillRate  float64 `json:"refill_rate_per_second"`
	LastRefill  int64   `json:"last_refill_at"`
	Fingerprint string  `json:"fingerprint,omitempty"`
}

// Encode serializes a bucket for the state store.
func Encode(s State) ([]byte, error) {
	return json.Marshal(wireState{
		Capacity:    s.Capacity,
		Tokens:      s.Tokens,
		RefillRate:  s.RefillRate,
		LastRefill:  s.LastRefill.UnixNano(),
		Fingerprint: s.Fingerprint,
	})
}

// Decode parses a bucket written by Encode.
func Decode(data []byte) (State, error) {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return State{}, fmt.Errorf("failed to decode bucket state: %w", err)
	}
	return State{
		Capacity:    w.Capacity,
		Tokens:      w.Tokens,
		RefillRate:  w.RefillRate,
		LastRefill:  time.Unix(0, w.LastRefill),
		Fingerprint: w.Fingerprint,
	}, nil
}
