// Package storagetest provides store doubles for exercising outage and
// slow-backend behaviour.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/governor/pkg/limits/storage"
)

// ErrInjected is the cause carried by failures injected by FlakyStore.
var ErrInjected = errors.New("injected store failure")

// FlakyStore wraps a Store and can simulate an outage or a slow backend.
type FlakyStore struct {
	inner storage.Store

	down    atomic.Bool
	mu      sync.Mutex
	latency time.Duration

	calls    atomic.Int64
	failures atomic.Int64
}

// NewFlakyStore wraps inner. The wrapper starts healthy.
func NewFlakyStore(inner storage.Store) *FlakyStore {
	return &FlakyStore{inner: inner}
}

// SetDown turns the simulated outage on or off.
func (f *FlakyStore) SetDown(down bool) {
	f.down.Store(down)
}

// SetLatency delays every call by d (honouring context deadlines).
func (f *FlakyStore) SetLatency(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = d
}

// Calls returns the total number of calls made through the wrapper.
func (f *FlakyStore) Calls() int64 {
	return f.calls.Load()
}

// Failures returns the number of calls that failed.
func (f *FlakyStore) Failures() int64 {
	return f.failures.Load()
}

func (f *FlakyStore) before(ctx context.Context, op, key string) error {
	f.calls.Add(1)

	f.mu.Lock()
	latency := f.latency
	f.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			f.failures.Add(1)
			return ctx.Err()
		}
	}

	if f.down.Load() {
		f.failures.Add(1)
		return &storage.UnavailableError{Backend: "flaky", Op: op, Key: key, Err: ErrInjected}
	}
	return nil
}

func (f *FlakyStore) Get(ctx context.Context, key string) (*storage.Entry, error) {
	if err := f.before(ctx, "get", key); err != nil {
		return nil, err
	}
	return f.inner.Get(ctx, key)
}

func (f *FlakyStore) CompareAndSwap(ctx context.Context, key string, expected int64, value []byte, ttl time.Duration) (bool, error) {
	if err := f.before(ctx, "cas", key); err != nil {
		return false, err
	}
	return f.inner.CompareAndSwap(ctx, key, expected, value, ttl)
}

func (f *FlakyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := f.before(ctx, "set", key); err != nil {
		return err
	}
	return f.inner.Set(ctx, key, value, ttl)
}

func (f *FlakyStore) Delete(ctx context.Context, key string) error {
	if err := f.before(ctx, "delete", key); err != nil {
		return err
	}
	return f.inner.Delete(ctx, key)
}

func (f *FlakyStore) Ping(ctx context.Context) error {
	if err := f.before(ctx, "ping", ""); err != nil {
		return err
	}
	return f.inner.Ping(ctx)
}

func (f *FlakyStore) Close() error {
	return f.inner.Close()
}
