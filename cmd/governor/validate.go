package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/governor/pkg/cli"
	"mercator-hq/governor/pkg/config"
)

var validateFlags struct {
	strict bool
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Validate the configuration file without starting the governor.

Process-level problems make the file unusable. Invalid per-source overrides
only disable their source; they are listed as well, and fail validation
with --strict.

Examples:
  governor validate --config governor.yaml
  governor validate --strict --output json`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateFlags.strict, "strict", false, "treat invalid source overrides as errors")
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	formatter := cli.NewFormatter(format)
	out := cmd.OutOrStdout()

	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		var verr config.ValidationError
		if errors.As(err, &verr) {
			if ferr := formatter.FieldErrors(out, verr.Errors); ferr != nil {
				return ferr
			}
			return cli.NewConfigError("", fmt.Sprintf("%d validation error(s) in %s", len(verr.Errors), cfgFile))
		}
		return cli.NewConfigError("", err.Error())
	}

	sourceErrs := config.SourceErrors(cfg)
	if err := formatter.FieldErrors(out, sourceErrs); err != nil {
		return err
	}
	if validateFlags.strict && len(sourceErrs) > 0 {
		return cli.NewConfigError("sources.overrides", fmt.Sprintf("%d source override(s) rejected", len(sourceErrs)))
	}
	return nil
}
