package storage

import (
	"context"
	"time"
)

// DefaultMaxRetries is the CAS retry bound used when UpdateOptions leaves
// MaxRetries at zero.
const DefaultMaxRetries = 8

// MutateFunc computes the next value of a key from its current value.
// current is nil when the key is absent. Returning write=false leaves the
// key untouched and ends the update successfully.
type MutateFunc func(current []byte) (next []byte, write bool, err error)

// UpdateOptions controls a read-modify-write cycle.
type UpdateOptions struct {
	// TTL applied on every write. 0 means no expiry.
	TTL time.Duration

	// MaxRetries bounds the number of CAS attempts.
	MaxRetries int
}

// Update runs a bounded compare-and-swap loop on key. On a lost race the
// mutation is recomputed against freshly read state. After MaxRetries
// conflicts it gives up with ErrConflict. Errors returned by mutate are
// passed through unchanged.
func Update(ctx context.Context, s Store, key string, opts UpdateOptions, mutate MutateFunc) error {
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}

	for attempt := 0; attempt < retries; attempt++ {
		entry, err := s.Get(ctx, key)
		if err != nil {
			return err
		}

		var (
			current  []byte
			expected int64
		)
		if entry != nil {
			current = entry.Value
			expected = entry.Version
		}

		next, write, err := mutate(current)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}

		ok, err := s.CompareAndSwap(ctx, key, expected, next, opts.TTL)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	return ErrConflict
}
