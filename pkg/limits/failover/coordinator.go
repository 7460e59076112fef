package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"mercator-hq/governor/pkg/limits/storage"
)

// Defaults for Config fields left at zero.
const (
	DefaultProbeInterval    = 2 * time.Second
	DefaultProbeTimeout     = 500 * time.Millisecond
	DefaultOpTimeout        = 250 * time.Millisecond
	DefaultFailThreshold    = 3
	DefaultRecoverThreshold = 3
)

var errProbeMismatch = errors.New("probe value did not read back")

// Config configures a Coordinator.
type Config struct {
	// Shared is the store shared with other processes. Required.
	Shared storage.Store

	// Local is the in-process fallback store. Default: a new MemoryStore
	// owned by the coordinator.
	Local *storage.MemoryStore

	// ProbeInterval is the time between health probes.
	ProbeInterval time.Duration

	// ProbeTimeout bounds one probe round trip.
	ProbeTimeout time.Duration

	// OpTimeout bounds every shared store call on the request path.
	OpTimeout time.Duration

	// FailThreshold is the number of consecutive store errors that
	// switches the process to local fallback.
	FailThreshold int

	// RecoverThreshold is the number of consecutive successful probes in
	// local fallback that triggers reconciliation.
	RecoverThreshold int

	// InstanceID names this process in the probe key. Default: a UUID.
	InstanceID string

	Observer Observer
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	Mode                      Mode      `json:"mode"`
	InstanceID                string    `json:"instance_id"`
	ConsecutiveFailures       int64     `json:"consecutive_failures"`
	ConsecutiveProbeSuccesses int64     `json:"consecutive_probe_successes"`
	TouchedKeys               int       `json:"touched_keys"`
	LastProbeAt               time.Time `json:"last_probe_at"`
	LastProbeError            string    `json:"last_probe_error,omitempty"`
	LastTransitionAt          time.Time `json:"last_transition_at"`
	Transitions               int64     `json:"transitions"`
	ReconciledKeys            int64     `json:"reconciled_keys"`
}

// Coordinator owns the process-wide store mode. It implements
// storage.Router: in Shared mode operations run against the shared store
// with a bounded timeout, and in LocalFallback mode against the local
// store. Keys written locally during an outage are pushed back to the
// shared store once it has recovered.
type Coordinator struct {
	shared    storage.Store
	mirror    *mirroredStore
	local     *storage.MemoryStore
	ownsLocal bool

	probeInterval    time.Duration
	probeTimeout     time.Duration
	opTimeout        time.Duration
	failThreshold    int64
	recoverThreshold int64
	instanceID       string
	healthKey        string

	observer Observer
	clock    clockwork.Clock
	logger   *slog.Logger

	mode           atomic.Int32
	failures       atomic.Int64
	probeSuccesses atomic.Int64

	// mu guards mode transitions and the status fields below.
	mu               sync.Mutex
	lastProbeAt      time.Time
	lastProbeErr     string
	lastTransitionAt time.Time
	transitions      int64
	reconciled       int64

	// touched holds keys written locally while in LocalFallback.
	touched sync.Map

	// localOps is held shared by local operations so reconciliation can
	// wait for the ones that started before the switch back.
	localOps    sync.RWMutex
	reconcileMu sync.Mutex
}

// New creates a Coordinator in Shared mode. Call Run to start probing.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Shared == nil {
		return nil, fmt.Errorf("failover coordinator requires a shared store")
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = DefaultFailThreshold
	}
	if cfg.RecoverThreshold <= 0 {
		cfg.RecoverThreshold = DefaultRecoverThreshold
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ownsLocal := false
	if cfg.Local == nil {
		cfg.Local = storage.NewMemoryStoreWithConfig(storage.MemoryStoreConfig{Clock: cfg.Clock})
		ownsLocal = true
	}

	return &Coordinator{
		shared:           cfg.Shared,
		mirror:           &mirroredStore{Store: cfg.Shared, local: cfg.Local},
		local:            cfg.Local,
		ownsLocal:        ownsLocal,
		probeInterval:    cfg.ProbeInterval,
		probeTimeout:     cfg.ProbeTimeout,
		opTimeout:        cfg.OpTimeout,
		failThreshold:    int64(cfg.FailThreshold),
		recoverThreshold: int64(cfg.RecoverThreshold),
		instanceID:       cfg.InstanceID,
		healthKey:        "health:" + cfg.InstanceID,
		observer:         cfg.Observer,
		clock:            cfg.Clock,
		logger:           cfg.Logger.With("component", "failover", "instance", cfg.InstanceID),
	}, nil
}

// Mode returns the current mode.
func (c *Coordinator) Mode() Mode {
	return Mode(c.mode.Load())
}

// InstanceID returns the identity used in the probe key.
func (c *Coordinator) InstanceID() string {
	return c.instanceID
}

// Local returns the fallback store.
func (c *Coordinator) Local() *storage.MemoryStore {
	return c.local
}

// Do runs fn against the store selected by the current mode. A shared
// store error is counted and fn is run again against the local store, so
// callers always get an answer within OpTimeout plus the local call.
func (c *Coordinator) Do(ctx context.Context, key string, fn func(ctx context.Context, s storage.Store) error) error {
	if ran, err := c.runIfFallback(ctx, key, fn); ran {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	err := fn(opCtx, c.mirror)
	cancel()

	if err == nil {
		if c.failures.Load() != 0 {
			c.failures.Store(0)
		}
		return nil
	}
	if ctx.Err() != nil || !storage.IsUnavailable(err) {
		return err
	}

	c.logger.Debug("shared store call failed, using local state", "key", key, "error", err)
	c.storeError("request", err)
	return c.runLocal(ctx, key, fn)
}

// runIfFallback runs fn against the local store and marks key when the
// process is in LocalFallback. The mode is read under localOps, so a call
// either finishes before Reconcile's drain or sees Shared and is not run.
func (c *Coordinator) runIfFallback(ctx context.Context, key string, fn func(ctx context.Context, s storage.Store) error) (bool, error) {
	c.localOps.RLock()
	defer c.localOps.RUnlock()

	if c.Mode() != LocalFallback {
		return false, nil
	}
	err := fn(ctx, c.local)
	c.touched.Store(key, struct{}{})
	return true, err
}

// runLocal answers a single failed shared call from the local store. The
// key is marked for reconciliation only if the process has become
// LocalFallback meanwhile.
func (c *Coordinator) runLocal(ctx context.Context, key string, fn func(ctx context.Context, s storage.Store) error) error {
	c.localOps.RLock()
	defer c.localOps.RUnlock()

	err := fn(ctx, c.local)
	if c.Mode() == LocalFallback {
		c.touched.Store(key, struct{}{})
	}
	return err
}

// Run probes the shared store every ProbeInterval until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.probeInterval)
	defer ticker.Stop()

	c.logger.Info("failover coordinator started",
		"probe_interval", c.probeInterval,
		"fail_threshold", c.failThreshold,
		"recover_threshold", c.recoverThreshold,
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("failover coordinator stopped")
			return nil
		case <-ticker.Chan():
			c.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce performs one health probe and applies its result. In
// LocalFallback, the RecoverThreshold-th consecutive success runs
// Reconcile before returning.
func (c *Coordinator) ProbeOnce(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	err := c.probe(probeCtx)
	cancel()

	c.mu.Lock()
	c.lastProbeAt = c.clock.Now()
	c.lastProbeErr = ""
	if err != nil {
		c.lastProbeErr = err.Error()
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("state store probe failed", "error", err, "consecutive_failures", c.failures.Load()+1)
		c.storeError("probe", err)
		return err
	}

	c.failures.Store(0)
	if c.Mode() == Shared {
		return nil
	}
	if c.probeSuccesses.Add(1) < c.recoverThreshold {
		return nil
	}
	return c.Reconcile(ctx)
}

// probe writes a fresh token under the health key and reads it back.
func (c *Coordinator) probe(ctx context.Context) error {
	token := []byte(strconv.FormatInt(c.clock.Now().UnixNano(), 10))
	if err := c.shared.Set(ctx, c.healthKey, token, 3*c.probeInterval); err != nil {
		return err
	}
	entry, err := c.shared.Get(ctx, c.healthKey)
	if err != nil {
		return err
	}
	if entry == nil || string(entry.Value) != string(token) {
		return &storage.UnavailableError{Backend: "probe", Op: "get", Key: c.healthKey, Err: errProbeMismatch}
	}
	return nil
}

// Reconcile overwrites the shared state of every locally touched key with
// the local state, then switches to Shared. Pushing is an overwrite, so
// running it again for the same keys applies nothing twice. If a push
// fails the key stays touched and the process stays in LocalFallback.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()

	pushed, err := c.pushTouched(ctx)
	if err != nil {
		c.probeSuccesses.Store(0)
		c.storeError("reconcile", err)
		c.recordReconciled(pushed)
		c.logger.Warn("reconciliation failed, staying in local fallback", "pushed", pushed, "error", err)
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	c.setMode(Shared)

	// Local operations that began before the switch may still mark keys.
	c.localOps.Lock()
	c.localOps.Unlock()

	drained, err := c.pushTouched(ctx)
	c.recordReconciled(pushed + drained)
	if err != nil {
		c.storeError("reconcile", err)
		c.setMode(LocalFallback)
		c.logger.Warn("reconciliation drain failed, back in local fallback", "error", err)
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	if pushed+drained > 0 {
		c.logger.Info("reconciled local state into shared store", "keys", pushed+drained)
	}
	return nil
}

// pushTouched pushes every touched key and returns how many were pushed.
// The mark is cleared before the push so a concurrent local write marks
// the key again.
func (c *Coordinator) pushTouched(ctx context.Context) (int, error) {
	var (
		pushed  int
		pushErr error
	)
	c.touched.Range(func(k, _ any) bool {
		key := k.(string)
		c.touched.Delete(key)
		if err := c.push(ctx, key); err != nil {
			c.touched.Store(key, struct{}{})
			pushErr = err
			return false
		}
		pushed++
		return true
	})
	return pushed, pushErr
}

// push copies the local entry for key, with its remaining TTL, into the
// shared store. A key that no longer exists locally is deleted.
func (c *Coordinator) push(ctx context.Context, key string) error {
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	value, ttl, ok := c.local.Export(key)
	if !ok {
		return c.shared.Delete(opCtx, key)
	}
	return c.shared.Set(opCtx, key, value, ttl)
}

func (c *Coordinator) storeError(op string, err error) {
	if c.observer != nil {
		c.observer.StoreError(op)
	}
	c.probeSuccesses.Store(0)
	if c.failures.Add(1) >= c.failThreshold && c.Mode() == Shared {
		if c.setMode(LocalFallback) {
			c.logger.Warn("shared state store unavailable, switched to local fallback",
				"op", op, "error", err, "fail_threshold", c.failThreshold)
		}
	}
}

// setMode switches to m and reports whether the mode changed.
func (c *Coordinator) setMode(m Mode) bool {
	c.mu.Lock()
	from := c.Mode()
	if from == m {
		c.mu.Unlock()
		return false
	}
	c.mode.Store(int32(m))
	c.probeSuccesses.Store(0)
	c.transitions++
	c.lastTransitionAt = c.clock.Now()
	c.mu.Unlock()

	c.logger.Info("failover mode changed", "from", from.String(), "to", m.String())
	if c.observer != nil {
		c.observer.FailoverTransition(from, m)
	}
	return true
}

func (c *Coordinator) recordReconciled(n int) {
	if n == 0 {
		return
	}
	c.mu.Lock()
	c.reconciled += int64(n)
	c.mu.Unlock()
	if c.observer != nil {
		c.observer.KeysReconciled(n)
	}
}

// Status returns a snapshot of the coordinator state.
func (c *Coordinator) Status() Status {
	touched := 0
	c.touched.Range(func(_, _ any) bool {
		touched++
		return true
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Mode:                      c.Mode(),
		InstanceID:                c.instanceID,
		ConsecutiveFailures:       c.failures.Load(),
		ConsecutiveProbeSuccesses: c.probeSuccesses.Load(),
		TouchedKeys:               touched,
		LastProbeAt:               c.lastProbeAt,
		LastProbeError:            c.lastProbeErr,
		LastTransitionAt:          c.lastTransitionAt,
		Transitions:               c.transitions,
		ReconciledKeys:            c.reconciled,
	}
}

// Close releases the local store if the coordinator created it. The
// shared store belongs to the caller.
func (c *Coordinator) Close() error {
	if c.ownsLocal {
		return c.local.Close()
	}
	return nil
}
