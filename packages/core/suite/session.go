package suite

import (
	"time"
)

// RootName is the name of the root suite of every file.
const RootName = "root"

// CaseOption configures a case registered through a Session.
type CaseOption func(*Case)

// WithTimeout overrides the session default timeout of a case.
func WithTimeout(d time.Duration) CaseOption {
	return func(c *Case) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithSkip registers the case as skipped.
func WithSkip(reason string) CaseOption {
	return func(c *Case) {
		if reason == "" {
			reason = "skipped"
		}
		c.SkipReason = reason
	}
}

// Session is the registration context for a single file load. Declarations
// attach to the innermost suite currently being described. A Session is not
// safe for concurrent use and must not be reused across files.
type Session struct {
	root           *Suite
	stack          []*Suite
	defaultTimeout time.Duration
}

// NewSession returns a session with an empty root suite. A non-positive
// defaultTimeout selects DefaultTimeout.
func NewSession(defaultTimeout time.Duration) *Session {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	root := New(RootName)
	return &Session{
		root:           root,
		stack:          []*Suite{root},
		defaultTimeout: defaultTimeout,
	}
}

// Root returns the suite tree built so far.
func (s *Session) Root() *Suite {
	return s.root
}

// DefaultTimeout returns the timeout applied to cases without WithTimeout.
func (s *Session) DefaultTimeout() time.Duration {
	return s.defaultTimeout
}

func (s *Session) current() *Suite {
	return s.stack[len(s.stack)-1]
}

// Describe creates a child suite of the current suite and runs fn with the
// child as the current suite. Panics in fn propagate to the caller.
func (s *Session) Describe(name string, fn func()) *Suite {
	child := New(name)
	s.current().AddSuite(child)

	s.stack = append(s.stack, child)
	defer func() { s.stack = s.stack[:len(s.stack)-1] }()

	if fn != nil {
		fn()
	}
	return child
}

// Test registers a case on the current suite.
func (s *Session) Test(name string, body Func, opts ...CaseOption) *Case {
	c := NewCase(name, body, s.defaultTimeout)
	for _, opt := range opts {
		opt(c)
	}
	s.current().AddCase(c)
	return c
}

// Skip registers a case that is reported as skipped without running.
func (s *Session) Skip(name, reason string) *Case {
	return s.Test(name, nil, WithSkip(reason))
}

func (s *Session) BeforeAll(fn Func)  { s.current().AddHook(BeforeAll, fn) }
func (s *Session) AfterAll(fn Func)   { s.current().AddHook(AfterAll, fn) }
func (s *Session) BeforeEach(fn Func) { s.current().AddHook(BeforeEach, fn) }
func (s *Session) AfterEach(fn Func)  { s.current().AddHook(AfterEach, fn) }
