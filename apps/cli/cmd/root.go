package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "minitest",
	Short: "Concurrent test runner for plain text scripts.",
	Long: `minitest runs test scripts (.mt files) made of describe blocks, tests
and hooks. Files run one after another or on a bounded pool of workers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute(v, bt string) {
	version = v
	buildTime = bt
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &ExitError{Code: ExitUsageError, Err: err}
	})

	rootCmd.PersistentFlags().StringVar(&configFlag, "config", getEnvString("MINITEST_CONFIG", ""), "Path to config file (env: MINITEST_CONFIG)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
}
