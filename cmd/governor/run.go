package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mercator-hq/governor/pkg/cli"
	"mercator-hq/governor/pkg/config"
	"mercator-hq/governor/pkg/server"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	noWatch       bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the governor process",
	Long: `Start the governor with the specified configuration.

The process probes the shared store for failover, watches the configuration
file for per-source changes, and serves metrics, health and admin endpoints.

Examples:
  # Start with default config
  governor run

  # Start with custom config
  governor run --config /etc/governor/governor.yaml

  # Override listen address
  governor run --listen 0.0.0.0:9090

  # Validate config and connect to the store without serving
  governor run --dry-run`,
	RunE: runGovernor,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override ops server listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "build every component, then exit")
	runCmd.Flags().BoolVar(&runFlags.noWatch, "no-watch", false, "do not reload the config file on change")
}

func runGovernor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{failover: true, tracing: !runFlags.dryRun})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid, store reachable")
		return nil
	}

	logger.Info("governor starting",
		"version", Version,
		"instance_id", a.instanceID,
		"store_backend", cfg.Store.Backend,
		"failover", cfg.Failover.IsEnabled(),
		"sources", len(cfg.Sources.Overrides),
	)

	g, gctx := errgroup.WithContext(ctx)

	if a.coordinator != nil {
		g.Go(func() error {
			return a.coordinator.Run(gctx)
		})
	}

	if !runFlags.noWatch {
		watcher, err := config.NewWatcher(config.WatcherConfig{Path: cfgFile, Logger: logger})
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		g.Go(func() error {
			return watcher.Watch(gctx, a.applySources)
		})
	}

	g.Go(func() error {
		reloadOnHangup(gctx, logger, a)
		return nil
	})

	if cfg.Server.IsEnabled() {
		srv := server.New(serverConfig(cfg, logger, a))
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return cli.NewCommandError("run", err)
	}
	logger.Info("governor stopped")
	return nil
}

func serverConfig(cfg *config.Config, logger *slog.Logger, a *app) server.Config {
	sc := server.Config{
		ListenAddress:   cfg.Server.ListenAddress,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Health:          a.healthChecker(),
		Version:         Version,
		Commit:          GitCommit,
		BuildTime:       BuildDate,
		Logger:          logger,
	}
	if cfg.Telemetry.Metrics.IsEnabled() {
		sc.MetricsPath = cfg.Telemetry.Metrics.Path
		sc.Gatherer = a.registry
	}
	if cfg.Server.IsAdminEnabled() {
		sc.Admin = a.manager
	}
	return sc
}

// reloadOnHangup re-reads the config file on SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, logger *slog.Logger, a *app) {
	hangups, stop := cli.ReloadSignals()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hangups:
			start := time.Now()
			cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
			if err != nil {
				logger.Error("config reload failed, keeping previous configuration", "error", err)
				continue
			}
			a.applySources(cfg)
			logger.Info("config reloaded on SIGHUP", "duration_ms", time.Since(start).Milliseconds())
		}
	}
}
