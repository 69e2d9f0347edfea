package parser

import (
	"fmt"
	"time"
)

// File is a parsed test script.
type File struct {
	Path       string
	Directives []*Directive
	Items      []Node
}

// Node is a top-level or describe-level declaration: *Describe, *Test,
// *Hook or a *Step of kind StepSet.
type Node interface {
	Pos() Position
}

type Position struct {
	Line   int
	Column int
}

func (p Position) Pos() Position { return p }

// Directive is a file-level @name value line.
type Directive struct {
	Name  string
	Value string
	Position
}

type Describe struct {
	Name  string
	Items []Node
	Position
}

type Test struct {
	Name       string
	Timeout    time.Duration
	Skip       bool
	SkipReason string
	Steps      []*Step
	Position
}

type HookType string

const (
	HookBeforeAll  HookType = "beforeAll"
	HookAfterAll   HookType = "afterAll"
	HookBeforeEach HookType = "beforeEach"
	HookAfterEach  HookType = "afterEach"
)

type Hook struct {
	Type  HookType
	Steps []*Step
	Position
}

type StepKind int

const (
	StepExec StepKind = iota
	StepExpect
	StepCapture
	StepSet
	StepSleep
	StepLog
	StepQuery
	StepFail
	StepSkip
)

func (k StepKind) String() string {
	switch k {
	case StepExec:
		return "exec"
	case StepExpect:
		return "expect"
	case StepCapture:
		return "capture"
	case StepSet:
		return "set"
	case StepSleep:
		return "sleep"
	case StepLog:
		return "log"
	case StepQuery:
		return "query"
	case StepFail:
		return "fail"
	case StepSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Step is one statement of a test or hook body.
//
// Arg holds the command (exec), message (log, fail), SQL (query), reason
// (skip) or target name (capture, set). Value holds the captured subject or
// the assigned value.
type Step struct {
	Kind          StepKind
	Arg           string
	Value         string
	Duration      time.Duration
	IgnoreFailure bool
	Assertion     *Assertion
	Position
}

type Assertion struct {
	Subject  string
	Operator AssertionOperator
	Expected any
	Line     int
}

type AssertionOperator int

const (
	OpEquals AssertionOperator = iota
	OpNotEquals
	OpGreaterThan
	OpGreaterOrEqual
	OpLessThan
	OpLessOrEqual
	OpContains
	OpNotContains
	OpStartsWith
	OpEndsWith
	OpMatches
	OpExists
	OpNotExists
	OpLength
	OpIncludes
	OpNotIncludes
	OpIn
	OpNotIn
	OpType
	OpEach
	OpSchema
)

func (op AssertionOperator) String() string {
	switch op {
	case OpEquals:
		return "=="
	case OpNotEquals:
		return "!="
	case OpGreaterThan:
		return ">"
	case OpGreaterOrEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessOrEqual:
		return "<="
	case OpContains:
		return "contains"
	case OpNotContains:
		return "!contains"
	case OpStartsWith:
		return "startsWith"
	case OpEndsWith:
		return "endsWith"
	case OpMatches:
		return "matches"
	case OpExists:
		return "exists"
	case OpNotExists:
		return "!exists"
	case OpLength:
		return "length"
	case OpIncludes:
		return "includes"
	case OpNotIncludes:
		return "!includes"
	case OpIn:
		return "in"
	case OpNotIn:
		return "!in"
	case OpType:
		return "type"
	case OpEach:
		return "each"
	case OpSchema:
		return "schema"
	default:
		return "unknown"
	}
}

// CountTests returns the number of tests declared in f, skipped ones included.
func (f *File) CountTests() int {
	return countTests(f.Items)
}

func countTests(items []Node) int {
	n := 0
	for _, item := range items {
		switch v := item.(type) {
		case *Test:
			n++
		case *Describe:
			n += countTests(v.Items)
		}
	}
	return n
}

type ParseError struct {
	File    string
	Line    int
	Column  int
	Message string
	Snippet string
}

func (e *ParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}
