// Package cmd implements the minitest CLI commands using Cobra.
//
// Available commands:
//   - run: Execute .mt test scripts, sequentially or on a worker pool
//   - validate: Check script syntax without executing
//   - list: Display the suites and tests declared in scripts
//   - init: Create a config file and an example script
//   - version: Show minitest version information
//
// The hidden worker command is started by the run command when workers are
// isolated in processes.
package cmd
