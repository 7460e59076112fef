/*
Package cli provides command-line helpers for the governor command.

Output Formatting:

Command results render as go-pretty tables or indented JSON:

	format, err := cli.ParseFormat(flagValue)
	if err != nil {
		return err
	}
	formatter := cli.NewFormatter(format)
	if err := formatter.Inspections(os.Stdout, results); err != nil {
		return err
	}

Errors and Exit Codes:

ConfigError marks problems with the configuration file or flags and maps
to exit code 2 through ExitCode. CommandError wraps any other failure of a
subcommand.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

ReloadSignals delivers SIGHUP for on-demand configuration reloads.
*/
package cli
