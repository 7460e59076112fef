package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"mercator-hq/governor/pkg/limits/outcome"
	"mercator-hq/governor/pkg/limits/storage"
)

// DefaultConflictRetryAfter is the retry hint returned when an admission
// gives up after losing every compare-and-swap race.
const DefaultConflictRetryAfter = 50 * time.Millisecond

// StoreKey returns the state store key of a source's breaker.
func StoreKey(source string) string {
	return "breaker:" + source
}

// ConfigSource resolves the breaker configuration of a source.
type ConfigSource interface {
	BreakerConfig(source string) (Config, error)
}

// Static serves the same configuration for every source.
type Static Config

// BreakerConfig implements ConfigSource.
func (s Static) BreakerConfig(string) (Config, error) {
	return Config(s), nil
}

// Observer is notified after breaker changes are committed.
type Observer interface {
	BreakerTransition(source string, t Transition)
	BreakerState(source string, s State)
}

// Options configures a Breaker.
type Options struct {
	// Router selects the store for every operation. Required.
	Router storage.Router

	// Configs resolves per-source configuration. Required.
	Configs ConfigSource

	// Observer receives transitions. Optional.
	Observer Observer

	// MaxRetries bounds compare-and-swap attempts. Default: storage.DefaultMaxRetries
	MaxRetries int

	// ConflictRetryAfter is the hint returned when retries run out. Default: 50ms
	ConflictRetryAfter time.Duration

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Breaker runs one circuit breaker state machine per source. State lives
// in a state store under "breaker:{source}" so every worker sharing the
// store sees the same breaker.
type Breaker struct {
	router        storage.Router
	configs       ConfigSource
	observer      Observer
	maxRetries    int
	conflictRetry time.Duration
	clock         clockwork.Clock
	logger        *slog.Logger
}

// New creates a Breaker.
func New(opts Options) (*Breaker, error) {
	if opts.Router == nil {
		return nil, fmt.Errorf("breaker requires a router")
	}
	if opts.Configs == nil {
		return nil, fmt.Errorf("breaker requires a config source")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = storage.DefaultMaxRetries
	}
	if opts.ConflictRetryAfter <= 0 {
		opts.ConflictRetryAfter = DefaultConflictRetryAfter
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Breaker{
		router:        opts.Router,
		configs:       opts.Configs,
		observer:      opts.Observer,
		maxRetries:    opts.MaxRetries,
		conflictRetry: opts.ConflictRetryAfter,
		clock:         opts.Clock,
		logger:        opts.Logger.With("component", "breaker"),
	}, nil
}

// Allow decides whether a request to source may proceed. Only
// configuration errors are returned; when the state cannot be read or
// written the request is denied.
func (b *Breaker) Allow(ctx context.Context, source string) (Admission, error) {
	cfg, err := b.configs.BreakerConfig(source)
	if err != nil {
		return Admission{}, err
	}

	step, err := b.apply(ctx, source, cfg, func(s Snapshot, now time.Time) Step {
		return s.Allow(cfg, now)
	})
	if err != nil {
		b.logger.Warn("admission failed closed", "source", source, "error", err)
		return Admission{State: step.Next.State, RetryAfter: b.conflictRetry}, nil
	}
	return step.Admission, nil
}

// Record feeds the outcome of a permitted request into source's breaker
// and returns the resulting state. trial must be the Trial flag of the
// request's Admission.
func (b *Breaker) Record(ctx context.Context, source string, o outcome.Outcome, trial bool) (State, error) {
	if !o.Valid() {
		return Closed, fmt.Errorf("invalid outcome %d", int(o))
	}
	cfg, err := b.configs.BreakerConfig(source)
	if err != nil {
		return Closed, err
	}

	step, err := b.apply(ctx, source, cfg, func(s Snapshot, now time.Time) Step {
		return s.Record(cfg, o, trial, now)
	})
	if err != nil {
		b.logger.Warn("outcome dropped", "source", source, "outcome", o.String(), "error", err)
	}
	return step.Next.State, nil
}

// CancelTrial frees a HalfOpen trial slot whose request was never made.
// Call it only for admissions with Trial set.
func (b *Breaker) CancelTrial(ctx context.Context, source string) error {
	cfg, err := b.configs.BreakerConfig(source)
	if err != nil {
		return err
	}

	_, err = b.apply(ctx, source, cfg, func(s Snapshot, now time.Time) Step {
		return s.CancelTrial(cfg, now)
	})
	if err != nil {
		b.logger.Warn("trial cancellation dropped", "source", source, "error", err)
	}
	return nil
}

// Reset clears source's breaker. It is the only way a stored breaker is
// removed.
func (b *Breaker) Reset(ctx context.Context, source string) error {
	cfg, err := b.configs.BreakerConfig(source)
	if err != nil {
		return err
	}

	key := StoreKey(source)
	var previous Snapshot
	err = b.router.Do(ctx, key, func(ctx context.Context, s storage.Store) error {
		entry, err := s.Get(ctx, key)
		if err != nil {
			return err
		}
		previous = b.load(source, entry, cfg)
		return s.Delete(ctx, key)
	})
	if err != nil {
		return fmt.Errorf("failed to reset breaker for %s: %w", source, err)
	}

	b.logger.Info("breaker reset", "source", source, "previous", previous.State.String())
	if previous.State != Closed {
		b.emit(source, Step{
			Next:       NewSnapshot(cfg),
			Changed:    true,
			Transition: &Transition{From: previous.State, To: Closed, Reason: ReasonReset},
		})
	} else if b.observer != nil {
		b.observer.BreakerState(source, Closed)
	}
	return nil
}

// Inspect returns source's stored breaker without changing it.
func (b *Breaker) Inspect(ctx context.Context, source string) (Snapshot, error) {
	cfg, err := b.configs.BreakerConfig(source)
	if err != nil {
		return Snapshot{}, err
	}

	key := StoreKey(source)
	var snapshot Snapshot
	err = b.router.Do(ctx, key, func(ctx context.Context, s storage.Store) error {
		entry, err := s.Get(ctx, key)
		if err != nil {
			return err
		}
		snapshot = b.load(source, entry, cfg)
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read breaker for %s: %w", source, err)
	}
	return snapshot, nil
}

// apply runs event against source's snapshot inside a compare-and-swap
// loop and reports the committed step. The returned step is the last one
// computed even when the write failed.
func (b *Breaker) apply(ctx context.Context, source string, cfg Config, event func(Snapshot, time.Time) Step) (Step, error) {
	key := StoreKey(source)
	opts := storage.UpdateOptions{MaxRetries: b.maxRetries}

	var step Step
	err := b.router.Do(ctx, key, func(ctx context.Context, s storage.Store) error {
		return storage.Update(ctx, s, key, opts, func(current []byte) ([]byte, bool, error) {
			step = event(b.decode(source, current, cfg), b.clock.Now())
			if !step.Changed {
				return nil, false, nil
			}
			data, err := Encode(step.Next)
			if err != nil {
				return nil, false, err
			}
			return data, true, nil
		})
	})
	if err != nil {
		return step, err
	}

	b.emit(source, step)
	return step, nil
}

func (b *Breaker) emit(source string, step Step) {
	if step.Transition != nil {
		t := *step.Transition
		attrs := []any{"source", source, "from", t.From.String(), "to", t.To.String(), "reason", t.Reason}
		if t.To == Open {
			attrs = append(attrs, "cooldown", step.Next.Cooldown)
			b.logger.Warn("breaker opened", attrs...)
		} else {
			b.logger.Info("breaker transition", attrs...)
		}
		if b.observer != nil {
			b.observer.BreakerTransition(source, t)
		}
	}
	if step.Changed && b.observer != nil {
		b.observer.BreakerState(source, step.Next.State)
	}
}

func (b *Breaker) load(source string, entry *storage.Entry, cfg Config) Snapshot {
	if entry == nil {
		return NewSnapshot(cfg)
	}
	return b.decode(source, entry.Value, cfg)
}

// decode parses a stored breaker. Absent or unreadable state, and state
// built for another configuration, becomes a fresh Closed breaker.
func (b *Breaker) decode(source string, data []byte, cfg Config) Snapshot {
	if data == nil {
		return NewSnapshot(cfg)
	}
	snapshot, err := Decode(data)
	if err != nil {
		b.logger.Warn("discarding unreadable breaker state", "source", source, "error", err)
		return NewSnapshot(cfg)
	}
	if snapshot.Fingerprint != cfg.Fingerprint() {
		b.logger.Debug("breaker configuration changed, recreating", "source", source)
		return NewSnapshot(cfg)
	}
	return snapshot
}
