package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// refPattern matches ${secret:name} references.
var refPattern = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Providers are consulted in order; the first value found wins.
	Providers []Provider

	// CacheTTL keeps resolved values for this long. 0 disables caching.
	CacheTTL time.Duration

	Clock  clockwork.Clock
	Logger *slog.Logger
}

type cached struct {
	value     string
	expiresAt time.Time
}

// Resolver resolves secret names and references through its providers.
type Resolver struct {
	providers []Provider
	ttl       time.Duration
	clock     clockwork.Clock
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[string]cached
}

// NewResolver creates a resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{
		providers: cfg.Providers,
		ttl:       cfg.CacheTTL,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With("component", "secrets"),
		cache:     make(map[string]cached),
	}
}

// Lookup returns the value of name from the first provider that has it.
func (r *Resolver) Lookup(ctx context.Context, name string) (string, error) {
	if value, ok := r.cached(name); ok {
		return value, nil
	}

	var errs []error
	for _, p := range r.providers {
		value, err := p.Lookup(ctx, name)
		if err == nil {
			r.logger.Debug("secret resolved", "name", redactName(name), "provider", p.Name())
			r.store(name, value)
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	if len(errs) > 0 {
		return "", fmt.Errorf("failed to get secret %q: %w", name, errors.Join(errs...))
	}
	return "", fmt.Errorf("%w: %q (no provider has it)", ErrNotFound, name)
}

// Resolve replaces every ${secret:name} reference in input. Unresolvable
// references are left in place and reported together in the error.
func (r *Resolver) Resolve(ctx context.Context, input string) (string, error) {
	if !strings.Contains(input, "${secret:") {
		return input, nil
	}

	var errs []error
	output := refPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := refPattern.FindStringSubmatch(match)[1]
		value, err := r.Lookup(ctx, name)
		if err != nil {
			errs = append(errs, err)
			return match
		}
		return value
	})
	if len(errs) > 0 {
		return output, fmt.Errorf("failed to resolve secret references: %w", errors.Join(errs...))
	}
	return output, nil
}

// Clear drops every cached value.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.cache)
}

func (r *Resolver) cached(name string) (string, bool) {
	if r.ttl <= 0 {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[name]
	if !ok || !r.clock.Now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

func (r *Resolver) store(name, value string) {
	if r.ttl <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[name] = cached{value: value, expiresAt: r.clock.Now().Add(r.ttl)}
}

// redactName keeps the first and last two characters of a secret name.
func redactName(name string) string {
	if len(name) <= 4 {
		return "***"
	}
	return name[:2] + "..." + name[len(name)-2:]
}
