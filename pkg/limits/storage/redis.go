package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Each key is a hash with two fields: "v" (version) and "d" (data).
// Writes go through Lua scripts so the version check and the write are a
// single atomic step on the server.
var (
	casScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if not cur then cur = '0' end
if cur ~= ARGV[1] then return 0 end
local nextv = tonumber(cur) + 1
redis.call('HSET', KEYS[1], 'v', nextv, 'd', ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
else
	redis.call('PERSIST', KEYS[1])
end
return nextv
`)

	setScript = redis.NewScript(`
local nextv = redis.call('HINCRBY', KEYS[1], 'v', 1)
redis.call('HSET', KEYS[1], 'd', ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
else
	redis.call('PERSIST', KEYS[1])
end
return nextv
`)
)

// RedisStore implements Store on Redis.
type RedisStore struct {
	client redis.UniversalClient
	owned  bool
}

// RedisStoreConfig configures the Redis store.
type RedisStoreConfig struct {
	// Address is host:port of the Redis server.
	Address string

	// Password for AUTH. Optional.
	Password string

	// DB is the logical database number.
	DB int

	// DialTimeout bounds connection establishment. Default: 2s
	DialTimeout time.Duration

	// ReadTimeout and WriteTimeout bound single commands. Default: 500ms
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// PoolSize is the maximum number of connections. Default: go-redis default
	PoolSize int
}

// NewRedisStore creates a Redis-backed store. The connection is verified
// with PING before returning.
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	return &RedisStore{client: client, owned: true}, nil
}

// NewRedisStoreFromClient wraps an existing client. Close does not close
// a client it did not create.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the entry for key.
func (r *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	vals, err := r.client.HMGet(ctx, key, "v", "d").Result()
	if err != nil {
		return nil, unavailable("redis", "get", key, err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, nil
	}

	rawVersion, ok := vals[0].(string)
	if !ok {
		return nil, fmt.Errorf("redis get %q: unexpected version type %T", key, vals[0])
	}
	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis get %q: invalid version: %w", key, err)
	}
	data, ok := vals[1].(string)
	if !ok {
		return nil, fmt.Errorf("redis get %q: unexpected data type %T", key, vals[1])
	}

	return &Entry{Value: []byte(data), Version: version}, nil
}

// CompareAndSwap writes value if the hash version equals expected.
func (r *RedisStore) CompareAndSwap(ctx context.Context, key string, expected int64, value []byte, ttl time.Duration) (bool, error) {
	next, err := casScript.Run(ctx, r.client, []string{key},
		strconv.FormatInt(expected, 10), value, ttlMillis(ttl)).Int64()
	if err != nil {
		return false, unavailable("redis", "cas", key, err)
	}
	return next > 0, nil
}

// Set writes value unconditionally.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := setScript.Run(ctx, r.client, []string{key}, value, ttlMillis(ttl)).Err(); err != nil {
		return unavailable("redis", "set", key, err)
	}
	return nil
}

// Delete removes key.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return unavailable("redis", "delete", key, err)
	}
	return nil
}

// Ping checks the connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("redis", "ping", "", err)
	}
	return nil
}

// Close closes the client if this store created it.
func (r *RedisStore) Close() error {
	if !r.owned {
		return nil
	}
	if err := r.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

// ttlMillis converts ttl to whole milliseconds, rounding sub-millisecond
// ttls up so they still expire.
func ttlMillis(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	ms := ttl.Milliseconds()
	if ms == 0 {
		ms = 1
	}
	return ms
}
