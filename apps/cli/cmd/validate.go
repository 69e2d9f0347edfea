package cmd

import (
	"fmt"

	"github.com/sourcegraph/conc/iter"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/minitest/packages/core/script"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file|directory|pattern...]",
	Short: "Validate minitest scripts for syntax errors",
	Long: `Validate .mt files for syntax errors without executing them.

Examples:
  minitest validate
  minitest validate test/math.mt
  minitest validate ./test/`,
	RunE: validateCommand,
}

func validateCommand(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return &ExitError{Code: ExitConfigError, Err: err}
	}

	files, err := collectFiles(args, cfg.TestMatch, cfg.Ignore)
	if err != nil {
		return &ExitError{Code: ExitUsageError, Err: err}
	}
	if len(files) == 0 {
		return &ExitError{Code: ExitUsageError, Err: fmt.Errorf("no %s files found", script.Extension)}
	}

	errs := iter.Map(files, func(file *string) error {
		_, err := script.Check(*file)
		return err
	})

	hasErrors := false
	for i, file := range files {
		if errs[i] != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error in %s: %v\n", file, errs[i])
			hasErrors = true
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Valid: %s\n", file)
		}
	}

	if hasErrors {
		return &ExitError{Code: ExitParseError, Err: fmt.Errorf("validation failed")}
	}
	return nil
}
