package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/governor/pkg/cli"
)

var resetFlags struct {
	timeout time.Duration
}

var resetCmd = &cobra.Command{
	Use:   "reset <source>...",
	Short: "Clear the circuit breaker of sources",
	Long: `Clear the circuit breaker of each source in the configured store. The
breaker is recreated Closed on the next permit request. Token buckets are
not touched.

Examples:
  governor reset api.example.com`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().DurationVar(&resetFlags.timeout, "timeout", 10*time.Second, "overall timeout")
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), resetFlags.timeout)
	defer cancel()

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return cli.NewCommandError("reset", err)
	}
	defer a.Close(context.Background())

	for _, source := range args {
		if err := a.manager.ResetBreaker(ctx, source); err != nil {
			return cli.NewCommandError("reset", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Breaker reset: %s\n", source)
	}
	return nil
}
