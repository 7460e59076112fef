package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), RedisStoreConfig{Address: mr.Addr()})
	if err != nil {
		t.Fatalf("Failed to create Redis store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore_Conformance(t *testing.T) {
	s, _ := newTestRedisStore(t)
	runStoreConformance(t, s)
}

func TestRedisStore_Expiry(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "ttl", []byte("x"), 5*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got := mr.TTL("ttl"); got != 5*time.Second {
		t.Errorf("Expected server ttl 5s, got %v", got)
	}

	mr.FastForward(6 * time.Second)

	entry, err := s.Get(ctx, "ttl")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry != nil {
		t.Errorf("Expected expired key to read as absent, got %+v", entry)
	}
}

func TestRedisStore_PersistClearsTTL(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("x"), time.Minute)
	_ = s.Set(ctx, "k", []byte("y"), 0)

	if got := mr.TTL("k"); got != 0 {
		t.Errorf("Expected ttl to be cleared, got %v", got)
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	s, mr := newTestRedisStore(t)
	mr.Close()

	_, err := s.Get(context.Background(), "k")
	if !IsUnavailable(err) {
		t.Errorf("Expected unavailable error with server down, got %v", err)
	}
	if err := s.Ping(context.Background()); !IsUnavailable(err) {
		t.Errorf("Expected Ping to report unavailability, got %v", err)
	}
}

func TestRedisStore_FromClientNotClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStoreFromClient(client)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Errorf("Expected borrowed client to stay open, got %v", err)
	}
}

func TestTTLMillis(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int64
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Microsecond, 1},
		{1500 * time.Millisecond, 1500},
	}

	for _, tt := range tests {
		if got := ttlMillis(tt.ttl); got != tt.want {
			t.Errorf("ttlMillis(%v): expected %d, got %d", tt.ttl, tt.want, got)
		}
	}
}
