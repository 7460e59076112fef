package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/governor/pkg/cli"
)

var (
	// Global flags
	cfgFile      string
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "governor",
	Short: "Governor - adaptive admission control for scraping fleets",
	Long: `Governor decides, for every outbound request of a scraping fleet, whether
the request may be sent now.

It combines, per upstream source:
  - A token bucket quota shared by every worker
  - A circuit breaker that backs off from failing sources
  - Failover to local state while the shared store is unreachable`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return cli.ExitCode(err)
	}
	return cli.ExitOK
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "governor.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
}
