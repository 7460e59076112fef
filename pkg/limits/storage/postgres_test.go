package storage

import (
	"context"
	"os"
	"testing"
)

// Postgres tests run only when GOVERNOR_TEST_POSTGRES_DSN points at a
// disposable database.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := os.Getenv("GOVERNOR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GOVERNOR_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	s, err := NewPostgresStore(ctx, PostgresStoreConfig{DSN: dsn, PruneSchedule: "-"})
	if err != nil {
		t.Fatalf("Failed to create Postgres store: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM governor_state`); err != nil {
		t.Fatalf("Failed to clear table: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresStore_Conformance(t *testing.T) {
	runStoreConformance(t, newTestPostgresStore(t))
}

func TestPostgresDialect_Bind(t *testing.T) {
	got := postgresDialect.bind(`UPDATE t SET a = ? WHERE b = ? AND c = ?`)
	want := `UPDATE t SET a = $1 WHERE b = $2 AND c = $3`
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	query := `SELECT ? FROM t`
	if got := sqliteDialect.bind(query); got != query {
		t.Errorf("Expected sqlite query unchanged, got %q", got)
	}
}

func TestNewPostgresStore_EmptyDSN(t *testing.T) {
	if _, err := NewPostgresStore(context.Background(), PostgresStoreConfig{}); err == nil {
		t.Error("Expected error for empty DSN")
	}
}
