package integration

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/governor/pkg/limits"
	"mercator-hq/governor/pkg/limits/breaker"
	"mercator-hq/governor/pkg/limits/failover"
	"mercator-hq/governor/pkg/limits/outcome"
	"mercator-hq/governor/pkg/limits/storage"
	"mercator-hq/governor/pkg/limits/storage/storagetest"
	"mercator-hq/governor/pkg/server"
	"mercator-hq/governor/pkg/telemetry/health"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sourceDefaults() limits.SourceConfig {
	return limits.SourceConfig{
		Capacity:          10,
		RefillRate:        0.001,
		FailureThreshold:  3,
		FailureWindow:     time.Minute,
		CooldownBase:      time.Minute,
		CooldownMax:       10 * time.Minute,
		TrialBudget:       1,
		RecoveryThreshold: 1,
		TrialTimeout:      30 * time.Second,
	}
}

// worker is one governor process with its own connection to the
// shared database.
type worker struct {
	store   storage.Store
	manager *limits.Manager
}

func openSharedDB(t *testing.T, path string) storage.Store {
	t.Helper()
	store, err := storage.Open(context.Background(), storage.OpenConfig{
		Backend:   storage.BackendSQLite,
		KeyPrefix: "it:",
		SQLite:    storage.SQLiteStoreConfig{Path: path, PruneSchedule: "-"},
		Logger:    quietLogger(),
	})
	if err != nil {
		t.Fatalf("Failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newWorker(t *testing.T, path string) *worker {
	t.Helper()

	store := openSharedDB(t, path)
	sources, err := limits.NewSources(sourceDefaults(), nil)
	if err != nil {
		t.Fatalf("NewSources failed: %v", err)
	}
	manager, err := limits.NewManager(limits.Config{
		Sources:       sources,
		Router:        storage.Direct(store),
		Metrics:       limits.NewMetrics(prometheus.NewRegistry()),
		CASMaxRetries: 1000,
		Logger:        quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return &worker{store: store, manager: manager}
}

func TestSharedQuotaAcrossProcesses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	workers := []*worker{newWorker(t, path), newWorker(t, path)}
	ctx := context.Background()

	var (
		granted atomic.Int64
		wg      sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		w := workers[i%len(workers)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				d, err := w.manager.Permit(ctx, "api.example.com", 1)
				if err != nil {
					t.Errorf("Permit failed: %v", err)
					return
				}
				if d.Granted {
					granted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := granted.Load(); got != 10 {
		t.Errorf("Expected exactly 10 grants across both processes, got %d", got)
	}
}

func TestBreakerSharedAcrossProcesses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	a, b := newWorker(t, path), newWorker(t, path)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := a.manager.Permit(ctx, "flaky.example.com", 1)
		if err != nil || !d.Granted {
			t.Fatalf("Permit %d: expected grant, got %+v, %v", i, d, err)
		}
		if _, err := a.manager.Report(ctx, "flaky.example.com", d, outcome.TransientFailure); err != nil {
			t.Fatalf("Report failed: %v", err)
		}
	}

	d, err := b.manager.Permit(ctx, "flaky.example.com", 1)
	if err != nil {
		t.Fatalf("Permit failed: %v", err)
	}
	if d.Granted || d.Reason != limits.ReasonBreakerOpen {
		t.Errorf("Expected the other process to see the open breaker, got %+v", d)
	}
	if d.RetryAfter <= 0 {
		t.Errorf("Expected positive retry hint, got %v", d.RetryAfter)
	}

	if err := b.manager.ResetBreaker(ctx, "flaky.example.com"); err != nil {
		t.Fatalf("ResetBreaker failed: %v", err)
	}
	if d, _ := a.manager.Permit(ctx, "flaky.example.com", 1); !d.Granted {
		t.Errorf("Expected grant after reset from the other process, got %+v", d)
	}
}

func TestOutageFallbackOverSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	flaky := storagetest.NewFlakyStore(openSharedDB(t, path))
	ctx := context.Background()

	coord, err := failover.New(failover.Config{
		Shared:           flaky,
		ProbeInterval:    time.Hour,
		ProbeTimeout:     100 * time.Millisecond,
		OpTimeout:        100 * time.Millisecond,
		FailThreshold:    2,
		RecoverThreshold: 1,
		InstanceID:       "sqlite-it",
		Logger:           quietLogger(),
	})
	if err != nil {
		t.Fatalf("failover.New failed: %v", err)
	}
	defer coord.Close()

	sources, _ := limits.NewSources(sourceDefaults(), nil)
	manager, err := limits.NewManager(limits.Config{
		Sources:     sources,
		Coordinator: coord,
		Logger:      quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		if d, _ := manager.Permit(ctx, "src", 1); !d.Granted {
			t.Fatalf("Permit %d denied before the outage", i)
		}
	}

	flaky.SetDown(true)
	coord.ProbeOnce(ctx)
	coord.ProbeOnce(ctx)
	if manager.Mode() != failover.LocalFallback {
		t.Fatalf("Expected LocalFallback, got %s", manager.Mode())
	}

	granted := 0
	for i := 0; i < 10; i++ {
		if d, err := manager.Permit(ctx, "src", 1); err == nil && d.Granted {
			granted++
		}
	}
	if granted != 6 {
		t.Errorf("Expected 6 local grants from the mirrored bucket, got %d", granted)
	}

	flaky.SetDown(false)
	coord.ProbeOnce(ctx)
	if manager.Mode() != failover.Shared {
		t.Fatalf("Expected Shared after recovery, got %s", manager.Mode())
	}

	// A second process attached to the database sees the reconciled bucket.
	other := newWorker(t, path)
	in, err := other.manager.Inspect(ctx, "src")
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if in.Bucket.Tokens >= 1 {
		t.Errorf("Expected reconciled bucket to be empty, got %v tokens", in.Bucket.Tokens)
	}
}

func TestOpsServerEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	w := newWorker(t, path)
	ctx := context.Background()

	reg := prometheus.NewRegistry()
	sources, _ := limits.NewSources(sourceDefaults(), nil)
	manager, err := limits.NewManager(limits.Config{
		Sources: sources,
		Router:  storage.Direct(w.store),
		Metrics: limits.NewMetrics(reg),
		Logger:  quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	checker := health.New(time.Second)
	checker.RegisterCheck("store", health.StoreCheck(w.store, false))

	srv := httptest.NewServer(server.New(server.Config{
		MetricsPath: "/metrics",
		Gatherer:    reg,
		Health:      checker,
		Admin:       manager,
		Logger:      quietLogger(),
	}).Handler())
	defer srv.Close()

	for i := 0; i < 3; i++ {
		d, _ := manager.Permit(ctx, "down.example.com", 1)
		manager.Report(ctx, "down.example.com", d, outcome.FromHTTPStatus(http.StatusBadGateway))
	}

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	if code, body := get("/admin/sources/down.example.com"); code != http.StatusOK || !strings.Contains(body, `"state":"`+breaker.Open.String()+`"`) {
		t.Errorf("Expected open breaker in inspection, got %d %s", code, body)
	}
	if code, body := get("/metrics"); code != http.StatusOK || !strings.Contains(body, `governor_breaker_transitions_total{from="closed",reason=`) {
		t.Errorf("Expected breaker transition metric, got %d", code)
	}
	if code, _ := get("/health/ready"); code != http.StatusOK {
		t.Errorf("Expected ready, got %d", code)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/admin/sources/down.example.com/breaker", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}

	// The reset is visible to every process sharing the database.
	if d, _ := w.manager.Permit(ctx, "down.example.com", 1); !d.Granted {
		t.Errorf("Expected grant after admin reset, got %+v", d)
	}
}
