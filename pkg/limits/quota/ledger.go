package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"mercator-hq/governor/pkg/limits/storage"
)

// DefaultConflictRetryAfter is the retry hint returned when an acquire
// gives up after losing every compare-and-swap race.
const DefaultConflictRetryAfter = 50 * time.Millisecond

// StoreKey returns the state store key of a source's bucket.
func StoreKey(source string) string {
	return "quota:" + source
}

// ConfigSource resolves the bucket configuration of a source. It returns
// an error for sources that must not be used.
type ConfigSource interface {
	QuotaConfig(source string) (Config, error)
}

// Static serves the same configuration for every source.
type Static Config

// QuotaConfig implements ConfigSource.
func (s Static) QuotaConfig(string) (Config, error) {
	return Config(s), nil
}

// Result is the answer to an acquire.
type Result struct {
	// Granted is true when the tokens were consumed.
	Granted bool

	// RetryAfter is set on denial: the time until the cost is affordable.
	RetryAfter time.Duration

	// Remaining is the token count after the operation.
	Remaining float64
}

// LedgerConfig configures a Ledger.
type LedgerConfig struct {
	// Router selects the store for every operation. Required.
	Router storage.Router

	// Configs resolves per-source bucket configuration. Required.
	Configs ConfigSource

	// MaxRetries bounds compare-and-swap attempts. Default: storage.DefaultMaxRetries
	MaxRetries int

	// ConflictRetryAfter is the hint returned when retries run out.
	// Default: 50ms
	ConflictRetryAfter time.Duration

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Ledger keeps one token bucket per source in a state store. Every
// mutation is a compare-and-swap loop, so workers in many processes
// sharing a store never lose updates. Acquire never waits for tokens.
type Ledger struct {
	router        storage.Router
	configs       ConfigSource
	maxRetries    int
	conflictRetry time.Duration
	clock         clockwork.Clock
	logger        *slog.Logger
}

// NewLedger creates a ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Router == nil {
		return nil, fmt.Errorf("quota ledger requires a router")
	}
	if cfg.Configs == nil {
		return nil, fmt.Errorf("quota ledger requires a config source")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = storage.DefaultMaxRetries
	}
	if cfg.ConflictRetryAfter <= 0 {
		cfg.ConflictRetryAfter = DefaultConflictRetryAfter
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Ledger{
		router:        cfg.Router,
		configs:       cfg.Configs,
		maxRetries:    cfg.MaxRetries,
		conflictRetry: cfg.ConflictRetryAfter,
		clock:         cfg.Clock,
		logger:        cfg.Logger.With("component", "quota"),
	}, nil
}

// Acquire consumes cost tokens from source's bucket if they are available.
//
// The only errors are configuration errors: an unusable source or a cost
// outside [1, capacity]. Store failures and exhausted retries are turned
// into a denial with a short retry hint.
func (l *Ledger) Acquire(ctx context.Context, source string, cost int64) (Result, error) {
	cfg, err := l.resolve(source, cost)
	if err != nil {
		return Result{}, err
	}

	var result Result
	err = l.update(ctx, source, cfg, func(s State) (State, bool) {
		next, granted, retryAfter := s.Take(cost)
		result = Result{Granted: granted, RetryAfter: retryAfter, Remaining: next.Tokens}
		// A denial changes nothing worth persisting.
		return next, granted
	})
	if err != nil {
		l.logger.Warn("acquire failed closed", "source", source, "error", err)
		return Result{RetryAfter: l.conflictRetry}, nil
	}
	return result, nil
}

// ReleaseUnused refunds cost tokens to source's bucket, up to capacity.
func (l *Ledger) ReleaseUnused(ctx context.Context, source string, cost int64) error {
	cfg, err := l.resolve(source, cost)
	if err != nil {
		return err
	}

	err = l.update(ctx, source, cfg, func(s State) (State, bool) {
		return s.Refund(cost), true
	})
	if err != nil {
		l.logger.Warn("release of unused tokens dropped", "source", source, "cost", cost, "error", err)
	}
	return nil
}

// Drain empties source's bucket. It is used when the source signals that
// it is limiting us.
func (l *Ledger) Drain(ctx context.Context, source string) error {
	cfg, err := l.configs.QuotaConfig(source)
	if err != nil {
		return err
	}

	err = l.update(ctx, source, cfg, func(s State) (State, bool) {
		return s.Drain(), s.Tokens > 0
	})
	if err != nil {
		l.logger.Warn("drain dropped", "source", source, "error", err)
	}
	return nil
}

// Inspect returns source's bucket as it would be observed now, without
// writing anything.
func (l *Ledger) Inspect(ctx context.Context, source string) (State, error) {
	cfg, err := l.configs.QuotaConfig(source)
	if err != nil {
		return State{}, err
	}

	var state State
	err = l.router.Do(ctx, StoreKey(source), func(ctx context.Context, s storage.Store) error {
		entry, err := s.Get(ctx, StoreKey(source))
		if err != nil {
			return err
		}
		var current []byte
		if entry != nil {
			current = entry.Value
		}
		now := l.clock.Now()
		state = l.load(source, current, cfg, now).Refill(now)
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("failed to read bucket for %s: %w", source, err)
	}
	return state, nil
}

func (l *Ledger) resolve(source string, cost int64) (Config, error) {
	cfg, err := l.configs.QuotaConfig(source)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ValidateCost(cost); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// update runs one read-refill-mutate-write cycle on source's bucket. apply
// returns the next state and whether it should be written.
func (l *Ledger) update(ctx context.Context, source string, cfg Config, apply func(State) (State, bool)) error {
	key := StoreKey(source)
	opts := storage.UpdateOptions{TTL: cfg.TTL(), MaxRetries: l.maxRetries}

	return l.router.Do(ctx, key, func(ctx context.Context, s storage.Store) error {
		return storage.Update(ctx, s, key, opts, func(current []byte) ([]byte, bool, error) {
			now := l.clock.Now()
			next, write := apply(l.load(source, current, cfg, now).Refill(now))
			if !write {
				return nil, false, nil
			}
			data, err := Encode(next)
			if err != nil {
				return nil, false, err
			}
			return data, true, nil
		})
	})
}

// load decodes a stored bucket. Absent or unreadable state, and state built
// for another configuration, is replaced by a full bucket.
func (l *Ledger) load(source string, data []byte, cfg Config, now time.Time) State {
	if data == nil {
		return NewState(cfg, now)
	}
	state, err := Decode(data)
	if err != nil {
		l.logger.Warn("discarding unreadable bucket state", "source", source, "error", err)
		return NewState(cfg, now)
	}
	if state.Fingerprint != cfg.Fingerprint() {
		l.logger.Debug("bucket configuration changed, recreating", "source", source)
		return NewState(cfg, now)
	}
	return state.clamp()
}
