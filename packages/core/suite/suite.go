package suite

import (
	"context"
	"fmt"
	"time"
)

// HookType names one of the four hook lists of a suite.
type HookType string

const (
	BeforeAll  HookType = "beforeAll"
	AfterAll   HookType = "afterAll"
	BeforeEach HookType = "beforeEach"
	AfterEach  HookType = "afterEach"
)

// Hooks holds the lifecycle hooks of a suite in declaration order.
type Hooks struct {
	BeforeAll  []Func
	AfterAll   []Func
	BeforeEach []Func
	AfterEach  []Func
}

// HookError wraps an error returned (or panicked) by a hook. It aborts the
// rest of the suite it belongs to.
type HookError struct {
	Suite string
	Type  HookType
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook failed: %v", e.Type, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Observer is notified after every case of a run settles.
type Observer func(suite *Suite, c *Case)

// Suite is an ordered container of cases, child suites and hooks.
type Suite struct {
	Name     string
	Cases    []*Case
	Children []*Suite
	Hooks    Hooks
}

// New creates an empty suite.
func New(name string) *Suite {
	return &Suite{Name: name}
}

func (s *Suite) AddCase(c *Case) {
	s.Cases = append(s.Cases, c)
}

func (s *Suite) AddSuite(child *Suite) {
	s.Children = append(s.Children, child)
}

// AddHook appends fn to the list named by t. Unknown types are ignored.
func (s *Suite) AddHook(t HookType, fn Func) {
	switch t {
	case BeforeAll:
		s.Hooks.BeforeAll = append(s.Hooks.BeforeAll, fn)
	case AfterAll:
		s.Hooks.AfterAll = append(s.Hooks.AfterAll, fn)
	case BeforeEach:
		s.Hooks.BeforeEach = append(s.Hooks.BeforeEach, fn)
	case AfterEach:
		s.Hooks.AfterEach = append(s.Hooks.AfterEach, fn)
	}
}

func (s *Suite) hooks(t HookType) []Func {
	switch t {
	case BeforeAll:
		return s.Hooks.BeforeAll
	case AfterAll:
		return s.Hooks.AfterAll
	case BeforeEach:
		return s.Hooks.BeforeEach
	case AfterEach:
		return s.Hooks.AfterEach
	}
	return nil
}

// CountCases returns the number of cases in s and all of its descendants.
func (s *Suite) CountCases() int {
	n := len(s.Cases)
	for _, child := range s.Children {
		n += child.CountCases()
	}
	return n
}

// Run executes the suite. Hooks of parent, when given, run ahead of the
// suite's own hooks of the same type. Grandparent hooks are not inherited.
func (s *Suite) Run(ctx context.Context, parent *Suite) *ResultTree {
	return s.RunWith(ctx, parent, nil)
}

// RunWith is Run with an observer notified after each case.
func (s *Suite) RunWith(ctx context.Context, parent *Suite, obs Observer) *ResultTree {
	result := newResultTree(s.Name)
	start := time.Now()

	if err := s.run(ctx, parent, obs, result); err != nil {
		result.Failed++
		result.Tests = append(result.Tests, TestResult{
			Name:   "Suite: " + s.Name,
			Status: StatusFailed,
			Error:  err.Error(),
		})
	}

	result.Duration = time.Since(start).Milliseconds()
	return result
}

func (s *Suite) run(ctx context.Context, parent *Suite, obs Observer, result *ResultTree) error {
	if err := s.runHooks(ctx, BeforeAll, parent); err != nil {
		return err
	}

	for _, c := range s.Cases {
		if err := s.runHooks(ctx, BeforeEach, parent); err != nil {
			return err
		}
		c.Run(ctx)
		if err := s.runHooks(ctx, AfterEach, parent); err != nil {
			return err
		}
		result.addCase(c)
		if obs != nil {
			obs(s, c)
		}
	}

	for _, child := range s.Children {
		result.addSuite(child.RunWith(ctx, s, obs))
	}

	return s.runHooks(ctx, AfterAll, parent)
}

func (s *Suite) runHooks(ctx context.Context, t HookType, parent *Suite) error {
	var lists [][]Func
	if parent != nil {
		lists = append(lists, parent.hooks(t))
	}
	lists = append(lists, s.hooks(t))

	for _, list := range lists {
		for _, hook := range list {
			if err := call(ctx, hook); err != nil {
				return &HookError{Suite: s.Name, Type: t, Err: err}
			}
		}
	}
	return nil
}
