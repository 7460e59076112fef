package quota

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// minTTL is the floor for the expiry of a stored bucket.
const minTTL = 60 * time.Second

// ErrInvalidCost is returned when a cost is outside [1, capacity].
var ErrInvalidCost = errors.New("invalid permit cost")

// Config describes the token bucket of one source.
type Config struct {
	// Capacity is the burst size and the maximum number of tokens.
	Capacity int64

	// RefillRate is the number of tokens added per second.
	RefillRate float64
}

// Validate checks that the bucket can ever grant a permit.
func (c Config) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", c.Capacity)
	}
	if c.RefillRate <= 0 || math.IsNaN(c.RefillRate) || math.IsInf(c.RefillRate, 0) {
		return fmt.Errorf("refill rate must be a positive number, got %v", c.RefillRate)
	}
	return nil
}

// ValidateCost checks 1 <= cost <= capacity.
func (c Config) ValidateCost(cost int64) error {
	if cost < 1 || cost > c.Capacity {
		return fmt.Errorf("%w: cost %d outside [1, %d]", ErrInvalidCost, cost, c.Capacity)
	}
	return nil
}

// Fingerprint identifies the configuration a stored bucket was built with.
func (c Config) Fingerprint() string {
	return "cap=" + strconv.FormatInt(c.Capacity, 10) + ",rate=" + strconv.FormatFloat(c.RefillRate, 'g', -1, 64)
}

// TTL is the expiry applied to a stored bucket: long enough for the bucket
// to refill completely several times over, and never below one minute.
func (c Config) TTL() time.Duration {
	fill := time.Duration(float64(c.Capacity) / c.RefillRate * 4 * float64(time.Second))
	if fill < minTTL {
		return minTTL
	}
	return fill
}

// State is the token bucket of one source.
//
// Refill is continuous: each observation adds elapsed*RefillRate tokens,
// capped at Capacity. Fractional tokens are kept across calls. All methods
// are pure and return the next state.
type State struct {
	Capacity    int64
	Tokens      float64
	RefillRate  float64
	LastRefill  time.Time
	Fingerprint string
}

// NewState returns a full bucket for cfg.
func NewState(cfg Config, now time.Time) State {
	return State{
		Capacity:    cfg.Capacity,
		Tokens:      float64(cfg.Capacity),
		RefillRate:  cfg.RefillRate,
		LastRefill:  now,
		Fingerprint: cfg.Fingerprint(),
	}
}

// Refill adds the tokens accrued since LastRefill. A clock that moved
// backwards adds nothing and leaves LastRefill where it was.
func (s State) Refill(now time.Time) State {
	elapsed := now.Sub(s.LastRefill)
	if elapsed <= 0 {
		return s
	}

	s.Tokens += elapsed.Seconds() * s.RefillRate
	if s.Tokens > float64(s.Capacity) {
		s.Tokens = float64(s.Capacity)
	}
	s.LastRefill = now
	return s
}

// Take consumes cost tokens if they are available. When they are not, it
// returns the time until they will be.
func (s State) Take(cost int64) (State, bool, time.Duration) {
	if s.Tokens >= float64(cost) {
		s.Tokens -= float64(cost)
		return s, true, 0
	}
	return s, false, s.TimeUntilAvailable(cost)
}

// TimeUntilAvailable returns how long until cost tokens will be available.
// Returns 0 if they are available now.
func (s State) TimeUntilAvailable(cost int64) time.Duration {
	missing := float64(cost) - s.Tokens
	if missing <= 0 {
		return 0
	}
	seconds := missing / s.RefillRate
	return time.Duration(math.Ceil(seconds * float64(time.Second)))
}

// Refund gives back cost tokens, up to Capacity.
func (s State) Refund(cost int64) State {
	s.Tokens += float64(cost)
	if s.Tokens > float64(s.Capacity) {
		s.Tokens = float64(s.Capacity)
	}
	return s
}

// Drain empties the bucket.
func (s State) Drain() State {
	s.Tokens = 0
	return s
}

// clamp restores 0 <= Tokens <= Capacity on state read from a store.
func (s State) clamp() State {
	switch {
	case math.IsNaN(s.Tokens) || s.Tokens < 0:
		s.Tokens = 0
	case s.Tokens > float64(s.Capacity):
		s.Tokens = float64(s.Capacity)
	}
	return s
}
