package limits

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/governor/pkg/limits/failover"
	"mercator-hq/governor/pkg/limits/quota"
	"mercator-hq/governor/pkg/limits/storage"
	"mercator-hq/governor/pkg/limits/storage/storagetest"
)

type outageFixture struct {
	manager *Manager
	coord   *failover.Coordinator
	flaky   *storagetest.FlakyStore
	shared  *storage.MemoryStore
	clock   *clockwork.FakeClock
}

func newOutageFixture(t *testing.T) *outageFixture {
	t.Helper()

	clock := clockwork.NewFakeClock()
	shared := storage.NewMemoryStoreWithConfig(storage.MemoryStoreConfig{Clock: clock, CleanupInterval: -1})
	local := storage.NewMemoryStoreWithConfig(storage.MemoryStoreConfig{Clock: clock, CleanupInterval: -1})
	t.Cleanup(func() {
		shared.Close()
		local.Close()
	})

	metrics := NewMetrics(prometheus.NewRegistry())
	flaky := storagetest.NewFlakyStore(shared)
	coord, err := failover.New(failover.Config{
		Shared:           flaky,
		Local:            local,
		OpTimeout:        50 * time.Millisecond,
		FailThreshold:    3,
		RecoverThreshold: 2,
		InstanceID:       "it",
		Observer:         metrics,
		Clock:            clock,
	})
	if err != nil {
		t.Fatalf("failover.New failed: %v", err)
	}

	sources, _ := NewSources(testDefaults(), nil)
	manager, err := NewManager(Config{
		Sources:     sources,
		Coordinator: coord,
		Metrics:     metrics,
		Clock:       clock,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	return &outageFixture{manager: manager, coord: coord, flaky: flaky, shared: shared, clock: clock}
}

func (f *outageFixture) sharedTokens(t *testing.T, source string) float64 {
	t.Helper()
	entry, err := f.shared.Get(context.Background(), quota.StoreKey(source))
	if err != nil || entry == nil {
		t.Fatalf("Expected shared bucket for %s, got entry=%v err=%v", source, entry, err)
	}
	state, err := quota.Decode(entry.Value)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return state.Tokens
}

// TestIntegration_OutageFallbackRecovery walks a full outage: shared
// accounting, probe failures, local accounting with the same limits, and
// a single reconciliation on recovery.
func TestIntegration_OutageFallbackRecovery(t *testing.T) {
	f := newOutageFixture(t)
	ctx := context.Background()

	// Shared mode: 3 of 10 tokens spent
	for i := 0; i < 3; i++ {
		if d, _ := f.manager.Permit(ctx, "src", 1); !d.Granted {
			t.Fatalf("Permit %d denied in shared mode", i)
		}
	}
	if got := f.sharedTokens(t, "src"); got != 7 {
		t.Fatalf("Expected 7 shared tokens, got %v", got)
	}

	// Outage
	f.flaky.SetDown(true)
	for i := 0; i < 3; i++ {
		f.coord.ProbeOnce(ctx)
	}
	if f.manager.Mode() != failover.LocalFallback {
		t.Fatal("Expected LocalFallback after 3 failed probes")
	}

	// Local accounting continues from the mirrored state and still
	// honours capacity.
	granted := 0
	for i := 0; i < 10; i++ {
		d, err := f.manager.Permit(ctx, "src", 1)
		if err != nil {
			t.Fatalf("Permit failed during outage: %v", err)
		}
		if d.Granted {
			granted++
		}
	}
	if granted != 7 {
		t.Errorf("Expected 7 local grants out of the mirrored bucket, got %d", granted)
	}

	// Recovery
	f.flaky.SetDown(false)
	f.coord.ProbeOnce(ctx)
	f.coord.ProbeOnce(ctx)
	if f.manager.Mode() != failover.Shared {
		t.Fatal("Expected Shared after 2 successful probes")
	}
	if got := f.sharedTokens(t, "src"); got != 0 {
		t.Errorf("Expected reconciled shared bucket with 0 tokens, got %v", got)
	}

	// Replaying reconciliation does not change shared state
	before, _ := f.shared.Get(ctx, quota.StoreKey("src"))
	if err := f.coord.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	after, _ := f.shared.Get(ctx, quota.StoreKey("src"))
	if before.Version != after.Version {
		t.Error("Expected replayed reconciliation to write nothing")
	}

	// Back on shared state: refill works from the reconciled bucket
	f.clock.Advance(2 * time.Second)
	d, _ := f.manager.Permit(ctx, "src", 2)
	if !d.Granted {
		t.Errorf("Expected grant after refill on shared state, got %+v", d)
	}
}

func TestIntegration_SlowStoreStillAnswers(t *testing.T) {
	f := newOutageFixture(t)
	f.flaky.SetLatency(time.Second)

	start := time.Now()
	d, err := f.manager.Permit(context.Background(), "src", 1)
	if err != nil {
		t.Fatalf("Permit failed: %v", err)
	}
	if !d.Granted {
		t.Errorf("Expected local answer to grant, got %+v", d)
	}
	if elapsed := time.Since(start); elapsed > 800*time.Millisecond {
		t.Errorf("Expected bounded latency, took %v", elapsed)
	}
}
