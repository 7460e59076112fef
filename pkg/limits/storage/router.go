package storage

import "context"

// Router decides which store serves an operation on key. The failover
// coordinator routes between the shared and the local store; Direct always
// uses one store.
type Router interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context, s Store) error) error
}

// RouterFunc adapts a function to the Router interface.
type RouterFunc func(ctx context.Context, key string, fn func(ctx context.Context, s Store) error) error

// Do calls f.
func (f RouterFunc) Do(ctx context.Context, key string, fn func(ctx context.Context, s Store) error) error {
	return f(ctx, key, fn)
}

// Direct returns a Router that runs every operation against s.
func Direct(s Store) Router {
	return RouterFunc(func(ctx context.Context, _ string, fn func(ctx context.Context, s Store) error) error {
		return fn(ctx, s)
	})
}
