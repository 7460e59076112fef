package storage

import (
	"context"
	"time"
)

// prefixed namespaces every key of an underlying store.
type prefixed struct {
	Store
	prefix string
}

// WithPrefix returns a Store that prepends prefix to every key. An empty
// prefix returns s unchanged.
func WithPrefix(s Store, prefix string) Store {
	if prefix == "" {
		return s
	}
	return &prefixed{Store: s, prefix: prefix}
}

func (p *prefixed) Get(ctx context.Context, key string) (*Entry, error) {
	return p.Store.Get(ctx, p.prefix+key)
}

func (p *prefixed) CompareAndSwap(ctx context.Context, key string, expected int64, value []byte, ttl time.Duration) (bool, error) {
	return p.Store.CompareAndSwap(ctx, p.prefix+key, expected, value, ttl)
}

func (p *prefixed) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.Store.Set(ctx, p.prefix+key, value, ttl)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	return p.Store.Delete(ctx, p.prefix+key)
}
