// Package suite implements the in-file execution model of minitest.
//
// It provides:
//   - Case: a named, timeout-bounded unit of test logic
//   - Suite: an ordered, nestable group of cases, child suites and hooks
//   - Session: the per-file registration context that builds a Suite tree
//   - Loader: the contract used to evaluate a test file against a Session
//
// Execution inside one file is strictly sequential. Hooks declared on a suite
// are inherited by its direct children only.
package suite
