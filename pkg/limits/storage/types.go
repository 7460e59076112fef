package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store is a versioned key/value store with compare-and-swap semantics.
// It is the contract every shared-state backend (and the process-local
// fallback) implements. Implementations must be safe for concurrent use.
//
// Versions are opaque, strictly positive and change on every successful
// write. Version 0 means "the key does not exist".
type Store interface {
	// Get returns the current entry for key, or nil if the key is absent
	// or expired.
	Get(ctx context.Context, key string) (*Entry, error)

	// CompareAndSwap writes value if the current version of key equals
	// expected (0 = the key must be absent). A ttl of 0 means no expiry.
	// It reports whether the write happened.
	CompareAndSwap(ctx context.Context, key string, expected int64, value []byte, ttl time.Duration) (bool, error)

	// Set writes value unconditionally.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// Entry is a stored value together with its version.
type Entry struct {
	Value   []byte
	Version int64
}

var (
	// ErrUnavailable marks I/O failures against a backend. Callers match it
	// with errors.Is; the concrete error is an *UnavailableError.
	ErrUnavailable = errors.New("state store unavailable")

	// ErrConflict is returned by Update when every CAS attempt lost a race.
	ErrConflict = errors.New("state store conflict: retries exhausted")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("state store closed")
)

// UnavailableError describes a failed backend operation.
type UnavailableError struct {
	// Backend is the backend name (memory, sqlite, postgres, redis).
	Backend string

	// Op is the store operation that failed (get, cas, set, delete, ping).
	Op string

	// Key is the key involved, if any.
	Key string

	// Err is the underlying driver error.
	Err error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s %q: %v", e.Backend, e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrUnavailable) match.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func unavailable(backend, op, key string, err error) error {
	return &UnavailableError{Backend: backend, Op: op, Key: key, Err: err}
}

// IsUnavailable reports whether err should be treated as a store failure.
// Deadline expiry counts: a store that does not answer in time is down as
// far as the request path is concerned.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrClosed)
}
