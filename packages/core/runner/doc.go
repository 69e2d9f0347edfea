// Package runner executes minitest test files.
//
// It provides functionality for:
//   - Running files sequentially, one fresh session per file
//   - Dispatching multi-file runs to the parallel worker pool
//   - Falling back to sequential execution when the pool fails
//   - Enforcing the per-file deadline on both paths
//
// Both paths produce the same suite.Aggregate for the same files, so
// reporters never need to know which one ran.
package runner
