package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryStore implements Store in process memory.
//
// Each key has its own lock, so operations on different keys never
// contend. It is the process-local fallback used by the failover
// coordinator, and the default backend for single-process deployments.
type MemoryStore struct {
	entries sync.Map // string -> *memoryEntry
	size    atomic.Int64
	version atomic.Int64
	clock   clockwork.Clock

	// cleanupInterval is how often expired entries are swept.
	cleanupInterval time.Duration

	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

type memoryEntry struct {
	mu        sync.Mutex
	value     []byte
	version   int64
	expiresAt time.Time // zero = no expiry
	present   bool
	dead      bool // removed from the map; callers must reload
}

// MemoryStoreConfig configures the memory store.
type MemoryStoreConfig struct {
	// CleanupInterval is how often to sweep expired entries.
	// Default: 1 minute. Negative disables the sweeper.
	CleanupInterval time.Duration

	// Clock is the time source. Default: the real clock.
	Clock clockwork.Clock
}

// NewMemoryStore creates a memory store with default settings.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryStoreConfig{})
}

// NewMemoryStoreWithConfig creates a memory store with custom configuration.
func NewMemoryStoreWithConfig(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	m := &MemoryStore{
		clock:           cfg.Clock,
		cleanupInterval: cfg.CleanupInterval,
		done:            make(chan struct{}),
	}

	if cfg.CleanupInterval > 0 {
		go m.cleanupLoop()
	}

	return m
}

// Get returns the entry for key, or nil if absent or expired.
func (m *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	if m.closed.Load() {
		return nil, unavailable("memory", "get", key, ErrClosed)
	}

	v, ok := m.entries.Load(key)
	if !ok {
		return nil, nil
	}
	e := v.(*memoryEntry)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.liveLocked(m.clock.Now()) {
		return nil, nil
	}

	value := make([]byte, len(e.value))
	copy(value, e.value)
	return &Entry{Value: value, Version: e.version}, nil
}

// CompareAndSwap writes value if the current version equals expected.
func (m *MemoryStore) CompareAndSwap(ctx context.Context, key string, expected int64, value []byte, ttl time.Duration) (bool, error) {
	if m.closed.Load() {
		return false, unavailable("memory", "cas", key, ErrClosed)
	}

	var swapped bool
	m.withEntry(key, func(e *memoryEntry, now time.Time) {
		current := int64(0)
		if e.liveLocked(now) {
			current = e.version
		}
		if current != expected {
			return
		}
		m.writeLocked(e, value, ttl, now)
		swapped = true
	})

	return swapped, nil
}

// Set writes value unconditionally.
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.closed.Load() {
		return unavailable("memory", "set", key, ErrClosed)
	}

	m.withEntry(key, func(e *memoryEntry, now time.Time) {
		m.writeLocked(e, value, ttl, now)
	})
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if m.closed.Load() {
		return unavailable("memory", "delete", key, ErrClosed)
	}

	v, ok := m.entries.Load(key)
	if !ok {
		return nil
	}
	e := v.(*memoryEntry)

	e.mu.Lock()
	defer e.mu.Unlock()
	m.removeLocked(key, e)
	return nil
}

// Ping always succeeds on an open memory store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return unavailable("memory", "ping", "", ErrClosed)
	}
	return nil
}

// Close stops the sweeper. Close is idempotent.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.done)
	})
	return nil
}

// Export returns the live value of key and its remaining time to live
// (0 = no expiry). It is used to copy local state into a shared store.
func (m *MemoryStore) Export(key string) ([]byte, time.Duration, bool) {
	v, ok := m.entries.Load(key)
	if !ok {
		return nil, 0, false
	}
	e := v.(*memoryEntry)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := m.clock.Now()
	if !e.liveLocked(now) {
		return nil, 0, false
	}

	value := make([]byte, len(e.value))
	copy(value, e.value)

	var ttl time.Duration
	if !e.expiresAt.IsZero() {
		ttl = e.expiresAt.Sub(now)
	}
	return value, ttl, true
}

// Size returns the number of entries currently held, including expired
// entries not yet swept.
func (m *MemoryStore) Size() int {
	return int(m.size.Load())
}

// Sweep removes expired entries and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	now := m.clock.Now()
	removed := 0

	m.entries.Range(func(k, v any) bool {
		e := v.(*memoryEntry)
		e.mu.Lock()
		if !e.liveLocked(now) {
			m.removeLocked(k.(string), e)
			removed++
		}
		e.mu.Unlock()
		return true
	})

	return removed
}

// withEntry locks the entry for key, creating it if needed, and runs fn.
// Entries removed concurrently by Delete or Sweep are reloaded.
func (m *MemoryStore) withEntry(key string, fn func(e *memoryEntry, now time.Time)) {
	for {
		v, loaded := m.entries.LoadOrStore(key, &memoryEntry{})
		if !loaded {
			m.size.Add(1)
		}
		e := v.(*memoryEntry)

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		fn(e, m.clock.Now())
		e.mu.Unlock()
		return
	}
}

// writeLocked stores value in e. Caller must hold e.mu.
func (m *MemoryStore) writeLocked(e *memoryEntry, value []byte, ttl time.Duration, now time.Time) {
	e.value = make([]byte, len(value))
	copy(e.value, value)
	e.version = m.version.Add(1)
	e.present = true
	e.expiresAt = time.Time{}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
}

// removeLocked drops e from the map. Caller must hold e.mu.
func (m *MemoryStore) removeLocked(key string, e *memoryEntry) {
	if e.dead {
		return
	}
	e.dead = true
	e.present = false
	if m.entries.CompareAndDelete(key, e) {
		m.size.Add(-1)
	}
}

// liveLocked reports whether e holds an unexpired value. Caller must hold e.mu.
func (e *memoryEntry) liveLocked(now time.Time) bool {
	if !e.present || e.dead {
		return false
	}
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// cleanupLoop runs periodic sweeps of expired entries.
func (m *MemoryStore) cleanupLoop() {
	ticker := m.clock.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			m.Sweep()
		case <-m.done:
			return
		}
	}
}
