package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/governor/pkg/cli"
	"mercator-hq/governor/pkg/config"
	"mercator-hq/governor/pkg/limits"
	"mercator-hq/governor/pkg/limits/failover"
	"mercator-hq/governor/pkg/limits/storage"
	"mercator-hq/governor/pkg/telemetry/health"
	"mercator-hq/governor/pkg/telemetry/logging"
	"mercator-hq/governor/pkg/telemetry/metrics"
	"mercator-hq/governor/pkg/telemetry/tracing"
)

// app holds the components built from one configuration.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       storage.Store
	coordinator *failover.Coordinator
	manager     *limits.Manager
	registry    *prometheus.Registry
	tracer      *tracing.Tracer
	instanceID  string
}

// appOptions selects what newApp builds.
type appOptions struct {
	// failover routes state through a coordinator. One-shot commands
	// talk to the store directly so that outages surface as errors.
	failover bool

	// tracing exports spans. Only the long-running process does.
	tracing bool
}

// loadConfig loads the configuration file with environment overrides
// and resolves secret references.
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	resolver, err := config.NewSecretResolver(cfg.Secrets, slog.Default())
	if err != nil {
		return nil, cli.NewConfigError("secrets.dir", err.Error())
	}
	if err := config.ResolveSecrets(ctx, cfg, resolver); err != nil {
		return nil, cli.NewConfigError("secrets", err.Error())
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.New(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
		Writer:    os.Stderr,
	})
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	return logger, nil
}

func storeOpenConfig(cfg *config.Config, logger *slog.Logger) storage.OpenConfig {
	sc := cfg.Store
	return storage.OpenConfig{
		Backend:   sc.Backend,
		KeyPrefix: sc.KeyPrefix,
		SQLite: storage.SQLiteStoreConfig{
			Path:          sc.SQLite.Path,
			BusyTimeout:   sc.SQLite.BusyTimeout,
			PruneSchedule: sc.SQLite.PruneSchedule,
		},
		Postgres: storage.PostgresStoreConfig{
			DSN:             sc.Postgres.DSN,
			MaxOpenConns:    sc.Postgres.MaxOpenConns,
			ConnMaxLifetime: sc.Postgres.ConnMaxLifetime,
			PruneSchedule:   sc.Postgres.PruneSchedule,
		},
		Redis: storage.RedisStoreConfig{
			Address:      sc.Redis.Address,
			Password:     sc.Redis.Password,
			DB:           sc.Redis.DB,
			DialTimeout:  sc.Redis.DialTimeout,
			ReadTimeout:  sc.Redis.ReadTimeout,
			WriteTimeout: sc.Redis.WriteTimeout,
			PoolSize:     sc.Redis.PoolSize,
		},
		Logger: logger,
	}
}

// storeLocation describes where the configured backend lives, with
// credentials removed.
func storeLocation(sc config.StoreConfig) string {
	switch sc.Backend {
	case storage.BackendSQLite:
		return sc.SQLite.Path
	case storage.BackendPostgres:
		return logging.RedactURL(sc.Postgres.DSN)
	case storage.BackendRedis:
		return sc.Redis.Address
	default:
		return "memory"
	}
}

// newApp opens the store and builds the manager. The caller must Close
// the returned app.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{
		cfg:        cfg,
		logger:     logger,
		registry:   metrics.NewRegistry(),
		instanceID: cfg.Governor.InstanceID,
	}
	if a.instanceID == "" {
		a.instanceID = uuid.NewString()
	}

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        opts.tracing && cfg.Telemetry.Tracing.Enabled,
		Endpoint:       cfg.Telemetry.Tracing.Endpoint,
		Insecure:       cfg.Telemetry.Tracing.Insecure,
		Sampler:        cfg.Telemetry.Tracing.Sampler,
		SampleRatio:    cfg.Telemetry.Tracing.SampleRatio,
		ServiceName:    cfg.Telemetry.Tracing.ServiceName,
		ServiceVersion: Version,
		InstanceID:     a.instanceID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracer = tracer

	store, err := storage.Open(ctx, storeOpenConfig(cfg, logger))
	if err != nil {
		a.Close(context.Background())
		return nil, err
	}
	a.store = store
	logger.Info("shared store opened", "backend", cfg.Store.Backend, "location", storeLocation(cfg.Store))

	sources, err := limits.NewSources(cfg.Sources.Defaults, cfg.Sources.Overrides)
	if err != nil {
		a.Close(context.Background())
		return nil, cli.NewConfigError("sources.defaults", err.Error())
	}

	m := limits.NewMetricsWithLimit(a.registry, cfg.Telemetry.Metrics.MaxSourceLabels)
	managerCfg := limits.Config{
		Sources:            sources,
		Metrics:            m,
		Tracer:             tracer.Tracer(),
		CASMaxRetries:      cfg.Governor.CASMaxRetries,
		ConflictRetryAfter: cfg.Governor.ConflictRetryAfter,
		Logger:             logger,
	}

	if opts.failover && cfg.Failover.IsEnabled() {
		a.coordinator, err = failover.New(failover.Config{
			Shared:           store,
			ProbeInterval:    cfg.Failover.ProbeInterval,
			ProbeTimeout:     cfg.Failover.ProbeTimeout,
			OpTimeout:        cfg.Failover.OpTimeout,
			FailThreshold:    cfg.Failover.FailThreshold,
			RecoverThreshold: cfg.Failover.RecoverThreshold,
			InstanceID:       a.instanceID,
			Observer:         m,
			Logger:           logger,
		})
		if err != nil {
			a.Close(context.Background())
			return nil, fmt.Errorf("failed to create failover coordinator: %w", err)
		}
		managerCfg.Coordinator = a.coordinator
	} else {
		managerCfg.Router = storage.Direct(store)
	}

	a.manager, err = limits.NewManager(managerCfg)
	if err != nil {
		a.Close(context.Background())
		return nil, err
	}

	for _, rejected := range config.SourceErrors(cfg) {
		logger.Warn("source disabled by invalid override", "field", rejected.Field, "error", rejected.Message)
	}

	return a, nil
}

// healthChecker registers the readiness checks of a running process.
func (a *app) healthChecker() *health.Checker {
	checker := health.New(a.cfg.Telemetry.Health.CheckTimeout)
	checker.RegisterCheck("store", health.StoreCheck(a.store, a.coordinator != nil))
	if a.coordinator != nil {
		checker.RegisterCheck("failover", health.FailoverCheck(a.coordinator, a.cfg.Telemetry.Health.IsReadyInFallback()))
	}
	return checker
}

// applySources pushes reloaded per-source configuration to the manager.
func (a *app) applySources(cfg *config.Config) {
	if _, err := a.manager.ApplySources(cfg.Sources.Defaults, cfg.Sources.Overrides); err != nil {
		a.logger.Error("failed to apply reloaded source configuration", "error", err)
	}
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.coordinator != nil {
		errs = append(errs, a.coordinator.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.tracer != nil {
		errs = append(errs, a.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
