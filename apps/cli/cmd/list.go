package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/minitest/packages/core/parser"
	"github.com/abdul-hamid-achik/minitest/packages/core/script"
)

var listCmd = &cobra.Command{
	Use:   "list [file|directory|pattern...]",
	Short: "List all suites and tests in minitest scripts",
	Long: `List the describe blocks and tests declared in .mt files.

Examples:
  minitest list
  minitest list test/math.mt
  minitest list ./test/`,
	RunE: listCommand,
}

func listCommand(cmd *cobra.Command, args []string) error {
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

	failed := false
	for _, file := range files {
		f, err := script.Check(file)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error parsing %s: %v\n", file, err)
			failed = true
			continue
		}

		fmt.Fprintf(cmd.OutOrStdout(), "\n%s (%d tests):\n", file, f.CountTests())
		listItems(cmd.OutOrStdout(), f.Items, 1)
	}

	if failed {
		return &ExitError{Code: ExitParseError}
	}
	return nil
}

func listItems(w io.Writer, items []parser.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, item := range items {
		switch v := item.(type) {
		case *parser.Describe:
			fmt.Fprintf(w, "%s%s\n", indent, v.Name)
			listItems(w, v.Items, depth+1)
		case *parser.Test:
			fmt.Fprintf(w, "%s- %s", indent, v.Name)
			if v.Skip {
				fmt.Fprintf(w, " (skip")
				if v.SkipReason != "" {
					fmt.Fprintf(w, ": %s", v.SkipReason)
				}
				fmt.Fprintf(w, ")")
			}
			if v.Timeout > 0 {
				fmt.Fprintf(w, " [timeout %s]", v.Timeout)
			}
			fmt.Fprintln(w)
		}
	}
}
