package config

import (
	"context"
	"log/slog"

	"mercator-hq/governor/pkg/secrets"
)

// NewSecretResolver builds the resolver described by cfg: the
// environment first, then the secrets directory if one is set.
func NewSecretResolver(cfg SecretsConfig, logger *slog.Logger) (*secrets.Resolver, error) {
	providers := []secrets.Provider{secrets.NewEnvProvider(cfg.EnvPrefix)}
	if cfg.Dir != "" {
		fp, err := secrets.NewFileProvider(cfg.Dir)
		if err != nil {
			return nil, err
		}
		providers = append(providers, fp)
	}
	return secrets.NewResolver(secrets.ResolverConfig{
		Providers: providers,
		CacheTTL:  cfg.CacheTTL,
		Logger:    logger,
	}), nil
}

// ResolveSecrets replaces ${secret:name} references in the store
// credentials and the tracing endpoint. Every unresolvable field is
// reported in the returned ValidationError.
func ResolveSecrets(ctx context.Context, cfg *Config, r *secrets.Resolver) error {
	fields := []struct {
		name  string
		value *string
	}{
		{"store.postgres.dsn", &cfg.Store.Postgres.DSN},
		{"store.redis.address", &cfg.Store.Redis.Address},
		{"store.redis.password", &cfg.Store.Redis.Password},
		{"telemetry.tracing.endpoint", &cfg.Telemetry.Tracing.Endpoint},
	}

	var errs []FieldError
	for _, f := range fields {
		resolved, err := r.Resolve(ctx, *f.value)
		if err != nil {
			errs = append(errs, FieldError{Field: f.name, Message: err.Error()})
			continue
		}
		*f.value = resolved
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
