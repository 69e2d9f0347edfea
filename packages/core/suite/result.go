package suite

import (
	"path/filepath"
)

// TestResult is the recorded outcome of one case.
type TestResult struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Duration int64  `json:"duration"`
	Error    string `json:"error,omitempty"`
}

// ResultTree mirrors the suite tree after a run. Duration fields are in
// milliseconds.
type ResultTree struct {
	Name     string        `json:"name"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Duration int64         `json:"duration"`
	Tests    []TestResult  `json:"tests"`
	Suites   []*ResultTree `json:"suites"`
}

func newResultTree(name string) *ResultTree {
	return &ResultTree{
		Name:   name,
		Tests:  []TestResult{},
		Suites: []*ResultTree{},
	}
}

// Total returns passed+failed+skipped.
func (r *ResultTree) Total() int {
	return r.Passed + r.Failed + r.Skipped
}

func (r *ResultTree) addCase(c *Case) {
	tr := TestResult{
		Name:     c.Name,
		Status:   c.Status,
		Duration: c.Duration.Milliseconds(),
	}
	switch {
	case c.Err != nil:
		tr.Error = c.Err.Error()
	case c.Status == StatusSkipped:
		tr.Error = c.SkipReason
	}
	r.Tests = append(r.Tests, tr)

	switch c.Status {
	case StatusPassed:
		r.Passed++
	case StatusFailed:
		r.Failed++
	case StatusSkipped:
		r.Skipped++
	}
}

func (r *ResultTree) addSuite(child *ResultTree) {
	r.Suites = append(r.Suites, child)
	r.Passed += child.Passed
	r.Failed += child.Failed
	r.Skipped += child.Skipped
}

// Walk calls fn for every test result in the tree, depth first, together with
// the names of the suites enclosing it (root excluded).
func (r *ResultTree) Walk(fn func(path []string, t TestResult)) {
	r.walk(nil, fn)
}

func (r *ResultTree) walk(path []string, fn func([]string, TestResult)) {
	for _, t := range r.Tests {
		fn(path, t)
	}
	for _, child := range r.Suites {
		next := append(append([]string(nil), path...), child.Name)
		child.walk(next, fn)
	}
}

// FileResult is the result of one test file as consumed by reporters.
type FileResult struct {
	File     string `json:"file"`
	WorkerID string `json:"workerId,omitempty"`
	Error    string `json:"error,omitempty"`
	ResultTree
}

// NewFileResult wraps the result tree of file.
func NewFileResult(file string, tree *ResultTree) *FileResult {
	return &FileResult{File: file, ResultTree: *tree}
}

// LoadFailure is the result recorded for a file that could not be evaluated.
func LoadFailure(file string, err error) *FileResult {
	msg := err.Error()
	return &FileResult{
		File:  file,
		Error: msg,
		ResultTree: ResultTree{
			Name:   filepath.Base(file),
			Failed: 1,
			Tests: []TestResult{{
				Name:   "Loading " + file,
				Status: StatusFailed,
				Error:  msg,
			}},
			Suites: []*ResultTree{},
		},
	}
}

// Aggregate is the result of a whole run.
type Aggregate struct {
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Duration int64         `json:"duration"`
	Files    []*FileResult `json:"files"`
}

// NewAggregate returns an empty aggregate with a non-nil file list.
func NewAggregate() *Aggregate {
	return &Aggregate{Files: []*FileResult{}}
}

// Add appends f and rolls its counters into the totals.
func (a *Aggregate) Add(f *FileResult) {
	a.Files = append(a.Files, f)
	a.Passed += f.Passed
	a.Failed += f.Failed
	a.Skipped += f.Skipped
}

// Total returns passed+failed+skipped.
func (a *Aggregate) Total() int {
	return a.Passed + a.Failed + a.Skipped
}
