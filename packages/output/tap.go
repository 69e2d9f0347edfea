package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/abdul-hamid-achik/minitest/packages/core/suite"
)

// TAPFormatter formats test results in TAP (Test Anything Protocol) format
type TAPFormatter struct {
	writer    io.Writer
	testCount int
	results   []tapResult
}

type tapResult struct {
	number  int
	name    string
	file    string
	status  suite.Status
	message string
}

type TAPOption func(*TAPFormatter)

func NewTAPFormatter(opts ...TAPOption) *TAPFormatter {
	f := &TAPFormatter{
		writer:  os.Stdout,
		results: make([]tapResult, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func TAPWithWriter(w io.Writer) TAPOption {
	return func(f *TAPFormatter) {
		f.writer = w
	}
}

func (f *TAPFormatter) FormatResult(result *suite.FileResult) {
	result.Walk(func(path []string, t suite.TestResult) {
		f.testCount++
		f.results = append(f.results, tapResult{
			number:  f.testCount,
			name:    testName(path, t.Name),
			file:    result.File,
			status:  t.Status,
			message: t.Error,
		})
	})
}

func (f *TAPFormatter) FormatError(err error) {
	// Errors are included in individual test results
}

func (f *TAPFormatter) FormatHeader(version string) {
	// Header is written in Flush
}

// Flush writes the accumulated TAP output
func (f *TAPFormatter) Flush(agg *suite.Aggregate) error {
	fmt.Fprintf(f.writer, "TAP version 13\n")
	fmt.Fprintf(f.writer, "1..%d\n", f.testCount)

	for _, r := range f.results {
		switch r.status {
		case suite.StatusSkipped:
			reason := r.message
			if reason == "" {
				reason = "skipped"
			}
			fmt.Fprintf(f.writer, "ok %d - %s # SKIP %s\n", r.number, r.name, reason)
		case suite.StatusPassed:
			fmt.Fprintf(f.writer, "ok %d - %s\n", r.number, r.name)
		default:
			fmt.Fprintf(f.writer, "not ok %d - %s\n", r.number, r.name)
			fmt.Fprintf(f.writer, "  ---\n")
			fmt.Fprintf(f.writer, "  file: %s\n", escapeYAML(r.file))
			if r.message != "" {
				fmt.Fprintf(f.writer, "  message: %s\n", escapeYAML(r.message))
			}
			fmt.Fprintf(f.writer, "  severity: fail\n")
			fmt.Fprintf(f.writer, "  ...\n")
		}
	}

	fmt.Fprintf(f.writer, "# pass %d\n# fail %d\n# skip %d\n", agg.Passed, agg.Failed, agg.Skipped)
	return nil
}

func escapeYAML(s string) string {
	// Simple YAML escaping - wrap in quotes if contains special chars
	if strings.ContainsAny(s, ":\n\"'[]{}#&*!|>%@`") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		return "\"" + s + "\""
	}
	return s
}
