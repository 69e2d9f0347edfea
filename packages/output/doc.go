// Package output renders run results for people and CI systems.
//
// Formats:
//   - console: coloured per-file summaries and a run total, printed as files finish
//   - json: the run aggregate, field for field
//   - junit: one <testsuite> per file, load failures as <error>
//   - tap: TAP version 13 with YAML diagnostics for failures
//
// Streaming formats write from FormatResult. Formats that need the whole run
// implement Flushable and write once in Flush.
package output
