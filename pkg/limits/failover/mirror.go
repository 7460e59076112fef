package failover

import (
	"context"
	"time"

	"mercator-hq/governor/pkg/limits/storage"
)

// mirroredStore serves reads from the shared store and copies every
// successful write into the local store, so a switch to local fallback
// starts from recent state instead of fresh buckets.
type mirroredStore struct {
	storage.Store
	local *storage.MemoryStore
}

func (m *mirroredStore) CompareAndSwap(ctx context.Context, key string, expected int64, value []byte, ttl time.Duration) (bool, error) {
	ok, err := m.Store.CompareAndSwap(ctx, key, expected, value, ttl)
	if err == nil && ok {
		m.local.Set(ctx, key, value, ttl)
	}
	return ok, err
}

func (m *mirroredStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.Store.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	m.local.Set(ctx, key, value, ttl)
	return nil
}

func (m *mirroredStore) Delete(ctx context.Context, key string) error {
	if err := m.Store.Delete(ctx, key); err != nil {
		return err
	}
	m.local.Delete(ctx, key)
	return nil
}
