package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store on a SQLite database file.
//
// Several processes on one host can share the same file: the database
// runs in WAL mode and every write is a version-checked statement, so
// concurrent governors never lose updates. It is the shared backend for
// single-host worker fleets.
type SQLiteStore struct {
	*sqlStore
	dbPath string
}

// SQLiteStoreConfig configures the SQLite store.
type SQLiteStoreConfig struct {
	// Path is the path to the SQLite database file.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// PruneSchedule is the cron schedule for deleting expired keys.
	// Default: "@every 1m". Set to "-" to disable.
	PruneSchedule string

	// Clock is the time source for expiry. Default: the real clock.
	Clock clockwork.Clock

	// Logger receives pruning errors. Default: slog.Default()
	Logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) a SQLite store at path with
// default settings.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(ctx, SQLiteStoreConfig{Path: path})
}

// NewSQLiteStoreWithConfig opens a SQLite store with custom configuration.
func NewSQLiteStoreWithConfig(ctx context.Context, cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer per connection pool
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	inner, err := newSQLStore(ctx, db, sqliteDialect, cfg.Clock, cfg.Logger, pruneSchedule(cfg.PruneSchedule))
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{sqlStore: inner, dbPath: cfg.Path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// pruneSchedule maps the configured schedule to the one handed to cron.
func pruneSchedule(schedule string) string {
	switch schedule {
	case "":
		return DefaultPruneSchedule
	case "-":
		return ""
	default:
		return schedule
	}
}
