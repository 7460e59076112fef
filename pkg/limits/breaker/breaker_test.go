package breaker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"

	"mercator-hq/governor/pkg/limits/outcome"
	"mercator-hq/governor/pkg/limits/storage"
)

var testConfig = Config{
	FailureThreshold:  5,
	FailureWindow:     time.Minute,
	CooldownBase:      30 * time.Second,
	CooldownMax:       5 * time.Minute,
	TrialBudget:       1,
	RecoveryThreshold: 2,
	TrialTimeout:      10 * time.Second,
}

// recordingObserver captures committed transitions.
type recordingObserver struct {
	mu          sync.Mutex
	transitions []Transition
	states      map[string]State
}

func (r *recordingObserver) BreakerTransition(source string, t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recordingObserver) BreakerState(source string, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states == nil {
		r.states = make(map[string]State)
	}
	r.states[source] = s
}

func (r *recordingObserver) all() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.transitions...)
}

func newTestBreaker(t *testing.T, cfg Config) (*Breaker, *clockwork.FakeClock, *recordingObserver) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	store := storage.NewMemoryStoreWithConfig(storage.MemoryStoreConfig{Clock: clock, CleanupInterval: -1})
	t.Cleanup(func() { store.Close() })

	observer := &recordingObserver{}
	b, err := New(Options{
		Router:     storage.Direct(store),
		Configs:    Static(cfg),
		Observer:   observer,
		MaxRetries: 1000,
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return b, clock, observer
}

func recordN(t *testing.T, b *Breaker, n int, o outcome.Outcome) State {
	t.Helper()
	var state State
	for i := 0; i < n; i++ {
		var err error
		state, err = b.Record(context.Background(), "src", o, false)
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	return state
}

// recordTrial reports the outcome of a HalfOpen trial.
func recordTrial(t *testing.T, b *Breaker, o outcome.Outcome) State {
	t.Helper()
	state, err := b.Record(context.Background(), "src", o, true)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	return state
}

// ============================================================================
// Scenarios
// ============================================================================

func TestBreaker_OpensAtThresholdAndTrialsAfterCooldown(t *testing.T) {
	b, clock, observer := newTestBreaker(t, testConfig)
	ctx := context.Background()

	if state := recordN(t, b, 4, outcome.TransientFailure); state != Closed {
		t.Fatalf("Expected Closed after 4 failures, got %v", state)
	}
	if state := recordN(t, b, 1, outcome.TransientFailure); state != Open {
		t.Fatalf("Expected Open after 5 failures, got %v", state)
	}

	clock.Advance(29 * time.Second)
	adm, err := b.Allow(ctx, "src")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if adm.Allowed || adm.State != Open {
		t.Errorf("Expected denial while Open, got %+v", adm)
	}
	if adm.RetryAfter != time.Second {
		t.Errorf("Expected retry after 1s, got %v", adm.RetryAfter)
	}

	clock.Advance(time.Second)
	adm, _ = b.Allow(ctx, "src")
	if !adm.Allowed || !adm.Trial || adm.State != HalfOpen {
		t.Errorf("Expected trial admission in HalfOpen, got %+v", adm)
	}

	want := []Transition{
		{From: Closed, To: Open, Reason: ReasonFailureThreshold},
		{From: Open, To: HalfOpen, Reason: ReasonCooldownElapsed},
	}
	if diff := cmp.Diff(want, observer.all()); diff != "" {
		t.Errorf("Transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestBreaker_RateLimitSignalForcesOpen(t *testing.T) {
	b, _, observer := newTestBreaker(t, testConfig)

	if state := recordN(t, b, 1, outcome.RateLimitSignal); state != Open {
		t.Fatalf("Expected Open after one rate limit signal, got %v", state)
	}

	transitions := observer.all()
	if len(transitions) != 1 || transitions[0].Reason != ReasonRateLimitSignal {
		t.Errorf("Expected one rate limit transition, got %+v", transitions)
	}
}

func TestBreaker_RateLimitWhileOpenRearms(t *testing.T) {
	b, clock, _ := newTestBreaker(t, testConfig)
	ctx := context.Background()

	recordN(t, b, 1, outcome.RateLimitSignal)
	clock.Advance(20 * time.Second)
	recordN(t, b, 1, outcome.RateLimitSignal)

	clock.Advance(20 * time.Second)
	adm, _ := b.Allow(ctx, "src")
	if adm.Allowed {
		t.Error("Expected re-armed cooldown to still deny")
	}

	clock.Advance(10 * time.Second)
	adm, _ = b.Allow(ctx, "src")
	if !adm.Allowed {
		t.Error("Expected trial once the re-armed cooldown elapsed")
	}
}

func TestBreaker_HalfOpenBudgetUnderConcurrency(t *testing.T) {
	b, clock, _ := newTestBreaker(t, testConfig)
	ctx := context.Background()

	recordN(t, b, 1, outcome.RateLimitSignal)
	clock.Advance(testConfig.CooldownBase)

	var granted, deniedHalfOpen atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			adm, err := b.Allow(ctx, "src")
			if err != nil {
				t.Errorf("Allow failed: %v", err)
				return
			}
			if adm.Allowed {
				granted.Add(1)
			} else if adm.State == HalfOpen {
				deniedHalfOpen.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if granted.Load() != 1 || deniedHalfOpen.Load() != 1 {
		t.Errorf("Expected 1 grant and 1 HalfOpen denial, got %d grants, %d denials",
			granted.Load(), deniedHalfOpen.Load())
	}
}

func TestBreaker_TrialFailureDoublesCooldown(t *testing.T) {
	b, clock, _ := newTestBreaker(t, testConfig)
	ctx := context.Background()
	recordN(t, b, 1, outcome.RateLimitSignal)

	cooldown := testConfig.CooldownBase
	for _, want := range []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute, 5 * time.Minute, 5 * time.Minute} {
		clock.Advance(cooldown)
		if adm, _ := b.Allow(ctx, "src"); !adm.Trial {
			t.Fatalf("Expected trial after %v", cooldown)
		}
		recordTrial(t, b, outcome.TransientFailure)

		snapshot, err := b.Inspect(ctx, "src")
		if err != nil {
			t.Fatalf("Inspect failed: %v", err)
		}
		if snapshot.State != Open || snapshot.Cooldown != want {
			t.Fatalf("Expected Open with cooldown %v, got %v with %v", want, snapshot.State, snapshot.Cooldown)
		}
		cooldown = want
	}
}

func TestBreaker_RecoveryResetsCooldown(t *testing.T) {
	b, clock, _ := newTestBreaker(t, testConfig)
	ctx := context.Background()

	recordN(t, b, 1, outcome.RateLimitSignal)
	clock.Advance(30 * time.Second)
	b.Allow(ctx, "src")
	recordTrial(t, b, outcome.TransientFailure) // cooldown 1m

	clock.Advance(time.Minute)
	b.Allow(ctx, "src")
	if state := recordTrial(t, b, outcome.Success); state != HalfOpen {
		t.Fatalf("Expected HalfOpen after one success, got %v", state)
	}
	b.Allow(ctx, "src")
	if state := recordTrial(t, b, outcome.Success); state != Closed {
		t.Fatalf("Expected Closed after recovery threshold, got %v", state)
	}

	snapshot, _ := b.Inspect(ctx, "src")
	if snapshot.Cooldown != testConfig.CooldownBase {
		t.Errorf("Expected cooldown reset to %v, got %v", testConfig.CooldownBase, snapshot.Cooldown)
	}
}

func TestBreaker_PermanentFailureDoesNotCount(t *testing.T) {
	b, _, _ := newTestBreaker(t, testConfig)

	if state := recordN(t, b, 20, outcome.PermanentFailure); state != Closed {
		t.Errorf("Expected permanent failures to leave breaker Closed, got %v", state)
	}
}

func TestBreaker_PermanentFailureFreesTrialSlot(t *testing.T) {
	b, clock, _ := newTestBreaker(t, testConfig)
	ctx := context.Background()

	recordN(t, b, 1, outcome.RateLimitSignal)
	clock.Advance(30 * time.Second)
	b.Allow(ctx, "src")

	if adm, _ := b.Allow(ctx, "src"); adm.Allowed {
		t.Fatal("Expected budget of 1 to be exhausted")
	}
	recordTrial(t, b, outcome.PermanentFailure)
	if adm, _ := b.Allow(ctx, "src"); !adm.Allowed {
		t.Error("Expected freed slot to admit another trial")
	}
}

func TestBreaker_CancelTrial(t *testing.T) {
	b, clock, _ := newTestBreaker(t, testConfig)
	ctx := context.Background()

	recordN(t, b, 1, outcome.RateLimitSignal)
	clock.Advance(30 * time.Second)
	b.Allow(ctx, "src")

	if err := b.CancelTrial(ctx, "src"); err != nil {
		t.Fatalf("CancelTrial failed: %v", err)
	}
	if adm, _ := b.Allow(ctx, "src"); !adm.Allowed {
		t.Error("Expected cancelled slot to admit another trial")
	}
}

func TestBreaker_TrialTimeoutReclaimsSlot(t *testing.T) {
	b, clock, _ := newTestBreaker(t, testConfig)
	ctx := context.Background()

	recordN(t, b, 1, outcome.RateLimitSignal)
	clock.Advance(30 * time.Second)
	b.Allow(ctx, "src")

	clock.Advance(5 * time.Second)
	adm, _ := b.Allow(ctx, "src")
	if adm.Allowed {
		t.Fatal("Expected denial before trial timeout")
	}
	if adm.RetryAfter != 5*time.Second {
		t.Errorf("Expected retry after 5s, got %v", adm.RetryAfter)
	}

	clock.Advance(5 * time.Second)
	if adm, _ := b.Allow(ctx, "src"); !adm.Allowed {
		t.Error("Expected abandoned trial slot to be reclaimed")
	}
}

func TestBreaker_FailureWindowDropsStaleFailures(t *testing.T) {
	b, clock, _ := newTestBreaker(t, testConfig)

	recordN(t, b, 4, outcome.TransientFailure)
	clock.Advance(2 * time.Minute)

	if state := recordN(t, b, 1, outcome.TransientFailure); state != Closed {
		t.Errorf("Expected failures outside the window to be dropped, got %v", state)
	}

	snapshot, _ := b.Inspect(context.Background(), "src")
	if snapshot.ConsecutiveFailures != 1 {
		t.Errorf("Expected 1 failure in the window, got %d", snapshot.ConsecutiveFailures)
	}
}

func TestBreaker_FailureWindowSlides(t *testing.T) {
	tests := []struct {
		name      string
		offsets   []time.Duration
		wantState State
		wantCount int
	}{
		{
			name:      "threshold reached inside window after an old failure",
			offsets:   []time.Duration{0, 50 * time.Second, 61 * time.Second, 62 * time.Second, 63 * time.Second, 64 * time.Second},
			wantState: Open,
		},
		{
			name:      "failures spread wider than the window",
			offsets:   []time.Duration{0, 20 * time.Second, 40 * time.Second, 61 * time.Second, 82 * time.Second},
			wantState: Closed,
			wantCount: 3,
		},
		{
			name:      "all failures at the same instant",
			offsets:   []time.Duration{0, 0, 0, 0, 0},
			wantState: Open,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, clock, _ := newTestBreaker(t, testConfig)
			start := clock.Now()

			var state State
			for _, offset := range tt.offsets {
				clock.Advance(start.Add(offset).Sub(clock.Now()))
				state = recordN(t, b, 1, outcome.TransientFailure)
			}
			if state != tt.wantState {
				t.Errorf("Expected %v, got %v", tt.wantState, state)
			}

			snapshot, _ := b.Inspect(context.Background(), "src")
			if snapshot.ConsecutiveFailures != tt.wantCount {
				t.Errorf("Expected %d failures in the window, got %d", tt.wantCount, snapshot.ConsecutiveFailures)
			}
			if len(snapshot.RecentFailures) > testConfig.FailureThreshold {
				t.Errorf("Expected at most %d stored failures, got %d", testConfig.FailureThreshold, len(snapshot.RecentFailures))
			}
		})
	}
}

func TestBreaker_NonTrialOutcomesIgnoredWhileHalfOpen(t *testing.T) {
	tests := []struct {
		name string
		o    outcome.Outcome
	}{
		{"success", outcome.Success},
		{"permanent failure", outcome.PermanentFailure},
		{"transient failure", outcome.TransientFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig
			cfg.RecoveryThreshold = 1
			b, clock, _ := newTestBreaker(t, cfg)
			ctx := context.Background()

			recordN(t, b, 1, outcome.RateLimitSignal)
			clock.Advance(cfg.CooldownBase)
			if adm, _ := b.Allow(ctx, "src"); !adm.Trial {
				t.Fatal("Expected trial admission")
			}

			// Outcome of a request admitted before the breaker opened.
			if state := recordN(t, b, 1, tt.o); state != HalfOpen {
				t.Errorf("Expected breaker to stay HalfOpen, got %v", state)
			}
			if adm, _ := b.Allow(ctx, "src"); adm.Allowed {
				t.Error("Expected the outstanding trial to keep holding the only slot")
			}

			if state := recordTrial(t, b, outcome.Success); state != Closed {
				t.Errorf("Expected trial success to close the breaker, got %v", state)
			}
		})
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _, _ := newTestBreaker(t, testConfig)

	recordN(t, b, 4, outcome.TransientFailure)
	recordN(t, b, 1, outcome.Success)
	if state := recordN(t, b, 4, outcome.TransientFailure); state != Closed {
		t.Errorf("Expected success to reset the streak, got %v", state)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _, observer := newTestBreaker(t, testConfig)
	ctx := context.Background()

	recordN(t, b, 1, outcome.RateLimitSignal)
	if err := b.Reset(ctx, "src"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	adm, _ := b.Allow(ctx, "src")
	if !adm.Allowed || adm.State != Closed {
		t.Errorf("Expected Closed admission after reset, got %+v", adm)
	}

	transitions := observer.all()
	last := transitions[len(transitions)-1]
	if last.To != Closed || last.Reason != ReasonReset {
		t.Errorf("Expected reset transition, got %+v", last)
	}
}

func TestBreaker_StoreFailureDenies(t *testing.T) {
	store := storage.NewMemoryStore()
	store.Close()

	b, _ := New(Options{Router: storage.Direct(store), Configs: Static(testConfig)})
	adm, err := b.Allow(context.Background(), "src")
	if err != nil {
		t.Fatalf("Expected store failure to be absorbed, got %v", err)
	}
	if adm.Allowed || adm.RetryAfter <= 0 {
		t.Errorf("Expected denial with retry hint, got %+v", adm)
	}
}

// ============================================================================
// State and codec
// ============================================================================

func TestCodec_RoundTrip(t *testing.T) {
	original := Snapshot{
		State:                HalfOpen,
		ConsecutiveFailures:  3,
		ConsecutiveSuccesses: 1,
		RecentFailures: []time.Time{
			time.Unix(1700000000, 1),
			time.Unix(1700000010, 500),
			time.Unix(1700000020, 999999999),
		},
		OpenedAt:             time.Unix(1700000100, 999999999),
		Cooldown:             90 * time.Second,
		TrialBudget:          2,
		TrialsInFlight:       1,
		LastTrialAt:          time.Unix(1700000200, 42),
		Fingerprint:          testConfig.Fingerprint(),
	}

	data, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(original, decoded); diff != "" {
		t.Errorf("Round trip mismatch (-want +got):\n%s", diff)
	}

	// Zero timestamps stay zero
	fresh := NewSnapshot(testConfig)
	data, _ = Encode(fresh)
	decoded, _ = Decode(data)
	if diff := cmp.Diff(fresh, decoded); diff != "" {
		t.Errorf("Fresh round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseState(t *testing.T) {
	for _, s := range []State{Closed, Open, HalfOpen} {
		parsed, err := ParseState(s.String())
		if err != nil || parsed != s {
			t.Errorf("ParseState(%q): expected %v, got %v, %v", s.String(), s, parsed, err)
		}
	}
	if _, err := ParseState("ajar"); err == nil {
		t.Error("Expected error for unknown state")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero threshold", func(c *Config) { c.FailureThreshold = 0 }, true},
		{"max below base", func(c *Config) { c.CooldownMax = time.Second }, true},
		{"zero trial budget", func(c *Config) { c.TrialBudget = 0 }, true},
		{"zero recovery", func(c *Config) { c.RecoveryThreshold = 0 }, true},
		{"zero trial timeout", func(c *Config) { c.TrialTimeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSnapshot_ConfigChangeRecreates(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := storage.NewMemoryStoreWithConfig(storage.MemoryStoreConfig{Clock: clock, CleanupInterval: -1})
	defer store.Close()
	ctx := context.Background()

	old, _ := New(Options{Router: storage.Direct(store), Configs: Static(testConfig), Clock: clock})
	old.Record(ctx, "src", outcome.RateLimitSignal, false)

	changed := testConfig
	changed.FailureThreshold = 10
	updated, _ := New(Options{Router: storage.Direct(store), Configs: Static(changed), Clock: clock})

	adm, _ := updated.Allow(ctx, "src")
	if !adm.Allowed || adm.State != Closed {
		t.Errorf("Expected new configuration to start Closed, got %+v", adm)
	}
}
