package metrics

import "sync"

// OverflowLabel replaces label values once a limiter is full.
const OverflowLabel = "_other"

// CardinalityLimiter bounds the number of distinct values a label may
// take. A fleet can scrape an unbounded set of hosts; past the limit new
// values are folded into OverflowLabel so the series count stays fixed.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting maxCardinality values.
// A non-positive limit admits every value.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is tracked, admitting it if there is room.
func (cl *CardinalityLimiter) Allow(value string) bool {
	if cl.maxCardinality <= 0 {
		return true
	}

	cl.mu.RLock()
	_, exists := cl.current[value]
	cl.mu.RUnlock()
	if exists {
		return true
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	// Double-check after acquiring write lock
	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Label returns value if it is tracked and OverflowLabel otherwise.
func (cl *CardinalityLimiter) Label(value string) string {
	if cl.Allow(value) {
		return value
	}
	return OverflowLabel
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
