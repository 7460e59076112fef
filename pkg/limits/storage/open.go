package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// OpenConfig selects and configures a shared-state backend.
type OpenConfig struct {
	// Backend is one of memory, sqlite, postgres, redis.
	Backend string

	// KeyPrefix namespaces every key written by this governor.
	KeyPrefix string

	SQLite   SQLiteStoreConfig
	Postgres PostgresStoreConfig
	Redis    RedisStoreConfig

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Open creates the configured backend. The returned Store must be closed
// by the caller.
func Open(ctx context.Context, cfg OpenConfig) (Store, error) {
	var (
		s   Store
		err error
	)

	switch cfg.Backend {
	case BackendMemory, "":
		s = NewMemoryStoreWithConfig(MemoryStoreConfig{Clock: cfg.Clock})
	case BackendSQLite:
		sc := cfg.SQLite
		if sc.Clock == nil {
			sc.Clock = cfg.Clock
		}
		if sc.Logger == nil {
			sc.Logger = cfg.Logger
		}
		s, err = NewSQLiteStoreWithConfig(ctx, sc)
	case BackendPostgres:
		pc := cfg.Postgres
		if pc.Clock == nil {
			pc.Clock = cfg.Clock
		}
		if pc.Logger == nil {
			pc.Logger = cfg.Logger
		}
		s, err = NewPostgresStore(ctx, pc)
	case BackendRedis:
		s, err = NewRedisStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", cfg.Backend, err)
	}

	return WithPrefix(s, cfg.KeyPrefix), nil
}
