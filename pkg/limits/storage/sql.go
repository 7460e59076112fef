package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule is the cron schedule for deleting expired rows.
const DefaultPruneSchedule = "@every 1m"

// sqlDialect captures the differences between SQL backends.
type sqlDialect struct {
	// name is used in errors and logs.
	name string

	// schema is executed statement by statement on open.
	schema []string

	// positional rewrites "?" placeholders into "$n".
	positional bool
}

var sqliteDialect = sqlDialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS governor_state (
			state_key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			version INTEGER NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_governor_state_expires ON governor_state(expires_at)`,
	},
}

var postgresDialect = sqlDialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS governor_state (
			state_key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			version BIGINT NOT NULL,
			expires_at BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_governor_state_expires ON governor_state(expires_at)`,
	},
	positional: true,
}

// bind rewrites "?" placeholders into "$n" for dialects that need it.
func (d sqlDialect) bind(query string) string {
	if !d.positional {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// sqlStore implements Store on top of database/sql. Every row carries a
// version column; CompareAndSwap is a conditional UPDATE (or an upsert
// guarded by expiry when the key is expected to be absent), so concurrent
// processes sharing the database never lose updates.
type sqlStore struct {
	db      *sql.DB
	dialect sqlDialect
	clock   clockwork.Clock
	logger  *slog.Logger

	getStmt    *sql.Stmt
	insertStmt *sql.Stmt
	updateStmt *sql.Stmt
	setStmt    *sql.Stmt
	deleteStmt *sql.Stmt
	pruneStmt  *sql.Stmt

	pruner    *cron.Cron
	closeOnce sync.Once
}

func newSQLStore(ctx context.Context, db *sql.DB, dialect sqlDialect, clock clockwork.Clock, logger *slog.Logger, pruneSchedule string) (*sqlStore, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &sqlStore{
		db:      db,
		dialect: dialect,
		clock:   clock,
		logger:  logger.With("component", "storage", "backend", dialect.name),
	}

	for _, stmt := range dialect.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	if err := s.prepareStatements(ctx); err != nil {
		s.closeStatements()
		return nil, err
	}

	if pruneSchedule != "" {
		s.pruner = cron.New()
		if _, err := s.pruner.AddFunc(pruneSchedule, s.pruneScheduled); err != nil {
			s.closeStatements()
			return nil, fmt.Errorf("invalid prune schedule %q: %w", pruneSchedule, err)
		}
		s.pruner.Start()
	}

	return s, nil
}

// prepareStatements prepares SQL statements for reuse.
func (s *sqlStore) prepareStatements(ctx context.Context) error {
	prepare := func(name, query string) (*sql.Stmt, error) {
		stmt, err := s.db.PrepareContext(ctx, s.dialect.bind(query))
		if err != nil {
			return nil, fmt.Errorf("failed to prepare %s statement: %w", name, err)
		}
		return stmt, nil
	}

	var err error
	if s.getStmt, err = prepare("get", `
		SELECT value, version FROM governor_state
		WHERE state_key = ? AND (expires_at = 0 OR expires_at > ?)`); err != nil {
		return err
	}
	if s.insertStmt, err = prepare("insert", `
		INSERT INTO governor_state (state_key, value, version, expires_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (state_key) DO UPDATE SET
			value = excluded.value,
			version = governor_state.version + 1,
			expires_at = excluded.expires_at
		WHERE governor_state.expires_at <> 0 AND governor_state.expires_at <= ?`); err != nil {
		return err
	}
	if s.updateStmt, err = prepare("update", `
		UPDATE governor_state SET value = ?, version = version + 1, expires_at = ?
		WHERE state_key = ? AND version = ? AND (expires_at = 0 OR expires_at > ?)`); err != nil {
		return err
	}
	if s.setStmt, err = prepare("set", `
		INSERT INTO governor_state (state_key, value, version, expires_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (state_key) DO UPDATE SET
			value = excluded.value,
			version = governor_state.version + 1,
			expires_at = excluded.expires_at`); err != nil {
		return err
	}
	if s.deleteStmt, err = prepare("delete", `DELETE FROM governor_state WHERE state_key = ?`); err != nil {
		return err
	}
	if s.pruneStmt, err = prepare("prune", `
		DELETE FROM governor_state WHERE expires_at <> 0 AND expires_at <= ?`); err != nil {
		return err
	}
	return nil
}

// Get returns the live entry for key.
func (s *sqlStore) Get(ctx context.Context, key string) (*Entry, error) {
	var (
		value   []byte
		version int64
	)
	err := s.getStmt.QueryRowContext(ctx, key, s.clock.Now().UnixNano()).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(s.dialect.name, "get", key, err)
	}
	return &Entry{Value: value, Version: version}, nil
}

// CompareAndSwap writes value if the row version equals expected.
func (s *sqlStore) CompareAndSwap(ctx context.Context, key string, expected int64, value []byte, ttl time.Duration) (bool, error) {
	now := s.clock.Now()
	expiresAt := expiryNanos(now, ttl)

	var (
		result sql.Result
		err    error
	)
	if expected == 0 {
		result, err = s.insertStmt.ExecContext(ctx, key, value, expiresAt, now.UnixNano())
	} else {
		result, err = s.updateStmt.ExecContext(ctx, value, expiresAt, key, expected, now.UnixNano())
	}
	if err != nil {
		return false, unavailable(s.dialect.name, "cas", key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, unavailable(s.dialect.name, "cas", key, err)
	}
	return affected == 1, nil
}

// Set writes value unconditionally.
func (s *sqlStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if _, err := s.setStmt.ExecContext(ctx, key, value, expiryNanos(s.clock.Now(), ttl)); err != nil {
		return unavailable(s.dialect.name, "set", key, err)
	}
	return nil
}

// Delete removes key.
func (s *sqlStore) Delete(ctx context.Context, key string) error {
	if _, err := s.deleteStmt.ExecContext(ctx, key); err != nil {
		return unavailable(s.dialect.name, "delete", key, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *sqlStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable(s.dialect.name, "ping", "", err)
	}
	return nil
}

// PruneExpired deletes expired rows and returns how many were removed.
func (s *sqlStore) PruneExpired(ctx context.Context) (int64, error) {
	result, err := s.pruneStmt.ExecContext(ctx, s.clock.Now().UnixNano())
	if err != nil {
		return 0, unavailable(s.dialect.name, "prune", "", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

func (s *sqlStore) pruneScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := s.PruneExpired(ctx)
	if err != nil {
		s.logger.Warn("prune of expired keys failed", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Debug("pruned expired keys", "deleted", deleted)
	}
}

// Close stops the pruner and closes the database. Close is idempotent.
func (s *sqlStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		if s.pruner != nil {
			<-s.pruner.Stop().Done()
		}
		s.closeStatements()
		closeErr = s.db.Close()
	})

	return closeErr
}

func (s *sqlStore) closeStatements() {
	for _, stmt := range []*sql.Stmt{s.getStmt, s.insertStmt, s.updateStmt, s.setStmt, s.deleteStmt, s.pruneStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
}

// expiryNanos converts a ttl into an absolute expiry (0 = never).
func expiryNanos(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixNano()
}
