package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/minitest/packages/core/config"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new minitest project",
	Long: `Initialize a new minitest project in the current directory.

This creates:
  - minitest.config.json - Configuration file with the default settings
  - test/example.mt      - Example test script

Examples:
  minitest init
  minitest init --force`,
	RunE: initCommand,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite existing files")
}

const exampleScript = `# Example minitest script. Run it with: minitest run
set greeting = "hello"

describe "example" {
  beforeEach {
    log "starting a test"
  }

  test "echo prints its argument" {
    exec "echo {{greeting}}"
    expect stdout == "hello"
    expect exitCode == 0
  }

  test "json output" timeout 2000 {
    exec "echo '{\"items\": [1, 2, 3]}'"
    expect stdout.items length 3
    expect stdout.items includes 2
  }

  test "not written yet" skip "waiting for the feature"
}
`

func initCommand(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	return initProject(cmd, cwd)
}

func initProject(cmd *cobra.Command, dir string) error {
	configFile := filepath.Join(dir, "minitest.config.json")
	exampleFile := filepath.Join(dir, "test", "example.mt")

	if !forceInit {
		for _, f := range []string{configFile, exampleFile} {
			if _, err := os.Stat(f); err == nil {
				return &ExitError{Code: ExitUsageError, Err: fmt.Errorf("file already exists: %s (use --force to overwrite)", f)}
			}
		}
	}

	if err := config.DefaultConfig().SaveConfig(configFile); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created: %s\n", configFile)

	if err := os.MkdirAll(filepath.Dir(exampleFile), 0755); err != nil {
		return fmt.Errorf("failed to create test directory: %w", err)
	}
	if err := os.WriteFile(exampleFile, []byte(exampleScript), 0644); err != nil {
		return fmt.Errorf("failed to create example file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created: %s\n", exampleFile)

	fmt.Fprintf(cmd.OutOrStdout(), "\nminitest project initialized!\n")
	fmt.Fprintf(cmd.OutOrStdout(), "Run 'minitest run' to execute the example tests.\n")

	return nil
}
