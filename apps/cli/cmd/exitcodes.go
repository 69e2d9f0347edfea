package cmd

import (
	"errors"
	"fmt"

	"github.com/abdul-hamid-achik/minitest/packages/core/suite"
)

// Exit codes for minitest CLI
const (
	// ExitSuccess indicates all tests passed
	ExitSuccess = 0

	// ExitTestFailure indicates one or more tests failed
	ExitTestFailure = 1

	// ExitParseError indicates a test file could not be loaded
	ExitParseError = 2

	// ExitConfigError indicates a configuration error
	ExitConfigError = 3

	// ExitUsageError indicates invalid CLI usage
	ExitUsageError = 64
)

// ExitError carries the process exit code of a failed command. A nil Err
// means the outcome was already reported.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitCode maps a command error to a process exit code. Errors raised by
// cobra itself (unknown command, wrong argument count) are usage errors.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitUsageError
}

// resultCode returns the exit code of a finished run: load failures win over
// test failures.
func resultCode(agg *suite.Aggregate) int {
	code := ExitSuccess
	for _, f := range agg.Files {
		if f.Error != "" {
			return ExitParseError
		}
		if f.Failed > 0 {
			code = ExitTestFailure
		}
	}
	return code
}

// resultError turns a run outcome into the error returned by RunE.
func resultError(agg *suite.Aggregate) error {
	if code := resultCode(agg); code != ExitSuccess {
		return &ExitError{Code: code}
	}
	return nil
}
