package suite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"
)

// DefaultTimeout is applied to cases registered without an explicit timeout.
const DefaultTimeout = 5000 * time.Millisecond

// Status is the lifecycle state of a Case.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Func is a case body or a hook. The context is cancelled once the case has
// settled, so bodies that honour it can release their resources early.
type Func func(ctx context.Context) error

// ErrSkip marks a case as skipped when returned (possibly wrapped) by its body.
var ErrSkip = errors.New("skipped")

// Skip returns an error that marks the running case as skipped.
func Skip(reason string) error {
	if reason == "" {
		return ErrSkip
	}
	return fmt.Errorf("%w: %s", ErrSkip, reason)
}

// TimeoutError is reported when a case body does not settle in time.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%q timeout after %dms", e.Name, e.Timeout.Milliseconds())
}

// Case is a single test. It is mutated only by its own Run.
type Case struct {
	Name       string
	Body       Func
	Timeout    time.Duration
	SkipReason string

	Status   Status
	Err      error
	Duration time.Duration
}

// NewCase creates a pending case. A non-positive timeout selects DefaultTimeout.
func NewCase(name string, body Func, timeout time.Duration) *Case {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Case{
		Name:    name,
		Body:    body,
		Timeout: timeout,
		Status:  StatusPending,
	}
}

// Run executes the case body, racing it against the case timeout.
// A body that loses the race keeps running in the background; its outcome is
// discarded.
func (c *Case) Run(ctx context.Context) {
	c.Status = StatusRunning
	c.Err = nil
	start := time.Now()

	if c.SkipReason != "" || c.Body == nil {
		c.Status = StatusSkipped
		c.Duration = time.Since(start)
		return
	}

	err := c.race(ctx)
	c.Duration = time.Since(start)

	switch {
	case err == nil:
		c.Status = StatusPassed
	case errors.Is(err, ErrSkip):
		c.Status = StatusSkipped
		c.SkipReason = err.Error()
	default:
		c.Status = StatusFailed
		c.Err = err
	}
}

func (c *Case) race(ctx context.Context) error {
	bodyCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// buffered so a body that loses the race never blocks on send
	done := make(chan error, 1)
	go func() {
		done <- call(bodyCtx, c.Body)
	}()

	timer := time.NewTimer(c.Timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return &TimeoutError{Name: c.Name, Timeout: c.Timeout}
	case <-ctx.Done():
		return fmt.Errorf("%s aborted: %w", c.Name, ctx.Err())
	}
}

// call runs fn and converts a panic into an error.
func call(ctx context.Context, fn Func) (err error) {
	var pc panics.Catcher
	pc.Try(func() {
		err = fn(ctx)
	})
	if r := pc.Recovered(); r != nil {
		return r.AsError()
	}
	return err
}
