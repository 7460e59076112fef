package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/governor/pkg/cli"
	"mercator-hq/governor/pkg/limits"
)

var inspectFlags struct {
	timeout time.Duration
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [source...]",
	Short: "Show bucket and breaker state of sources",
	Long: `Show the shared token bucket and circuit breaker of each source, read
directly from the configured store. Without arguments every source with an
explicit override is shown.

Examples:
  governor inspect api.example.com
  governor inspect --output json`,
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().DurationVar(&inspectFlags.timeout, "timeout", 10*time.Second, "overall timeout")
}

func runInspect(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), inspectFlags.timeout)
	defer cancel()

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return cli.NewCommandError("inspect", err)
	}
	defer a.Close(context.Background())

	sources := args
	if len(sources) == 0 {
		sources = a.manager.Sources().Configured()
	}

	results := make([]limits.Inspection, 0, len(sources))
	for _, source := range sources {
		in, err := a.manager.Inspect(ctx, source)
		if err != nil {
			return cli.NewCommandError("inspect", err)
		}
		results = append(results, in)
	}

	return cli.NewFormatter(format).Inspections(cmd.OutOrStdout(), results)
}
