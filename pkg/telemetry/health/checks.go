package health

import (
	"context"
	"fmt"

	"mercator-hq/governor/pkg/limits/failover"
)

// Pinger is implemented by every shared state store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreCheck reports the shared store unhealthy when it does not answer a
// ping. When fallback is enabled a failed ping only degrades the process,
// since requests are still answered from local state.
func StoreCheck(store Pinger, fallback bool) CheckFunc {
	return func(ctx context.Context) error {
		if err := store.Ping(ctx); err != nil {
			if fallback {
				return fmt.Errorf("%w: shared store unreachable: %v", ErrDegraded, err)
			}
			return fmt.Errorf("shared store unreachable: %w", err)
		}
		return nil
	}
}

// ModeSource reports the current failover mode.
type ModeSource interface {
	Mode() failover.Mode
}

// FailoverCheck reports local fallback as degraded, or as unhealthy when
// readyInFallback is false so load balancers can drain the instance.
func FailoverCheck(src ModeSource, readyInFallback bool) CheckFunc {
	return func(ctx context.Context) error {
		if src.Mode() != failover.LocalFallback {
			return nil
		}
		if readyInFallback {
			return fmt.Errorf("%w: running on local state", ErrDegraded)
		}
		return fmt.Errorf("running on local state")
	}
}
