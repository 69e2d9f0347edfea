package output

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/minitest/packages/core/suite"
)

func sampleAggregate() *suite.Aggregate {
	tree := &suite.ResultTree{
		Name:     "root",
		Passed:   2,
		Failed:   1,
		Skipped:  1,
		Duration: 12,
		Tests: []suite.TestResult{
			{Name: "top", Status: suite.StatusPassed, Duration: 1},
		},
		Suites: []*suite.ResultTree{{
			Name:    "math",
			Passed:  1,
			Failed:  1,
			Skipped: 1,
			Tests: []suite.TestResult{
				{Name: "adds", Status: suite.StatusPassed, Duration: 2},
				{Name: "divides", Status: suite.StatusFailed, Duration: 3, Error: "expected 2, got 3"},
				{Name: "later", Status: suite.StatusSkipped, Error: "todo"},
			},
			Suites: []*suite.ResultTree{},
		}},
	}

	agg := suite.NewAggregate()
	agg.Add(suite.NewFileResult("a.mt", tree))
	agg.Add(suite.LoadFailure("broken.mt", errors.New("syntax error")))
	agg.Duration = 20
	return agg
}

func render(t *testing.T, name string, opts Options) string {
	t.Helper()
	var buf bytes.Buffer
	f, err := New(name, &buf, opts)
	require.NoError(t, err)

	agg := sampleAggregate()
	for _, fr := range agg.Files {
		f.FormatResult(fr)
	}
	if fl, ok := f.(Flushable); ok {
		require.NoError(t, fl.Flush(agg))
	}
	return buf.String()
}

func TestNew_UnknownFormat(t *testing.T) {
	_, err := New("html", &bytes.Buffer{}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown output format "html"`)
}

func TestNew_KnownFormats(t *testing.T) {
	for _, name := range append([]string{""}, Formats...) {
		f, err := New(name, &bytes.Buffer{}, Options{})
		require.NoError(t, err, name)
		_, ok := f.(Flushable)
		assert.True(t, ok, name)
	}
}

func TestConsoleFormatter(t *testing.T) {
	out := render(t, "console", Options{NoColor: true})

	assert.Contains(t, out, "Running: a.mt")
	assert.Contains(t, out, "✓ top (1ms)")
	assert.Contains(t, out, "  math\n")
	assert.Contains(t, out, "✗ divides (3ms)")
	assert.Contains(t, out, "→ expected 2, got 3")
	assert.Contains(t, out, "- later (todo)")
	assert.Contains(t, out, "Running: broken.mt")
	assert.Contains(t, out, "→ syntax error")
	assert.Contains(t, out, "Summary")
	assert.Contains(t, out, "Files: 2 failed, 2 total")
	assert.Contains(t, out, "Tests: 2 passed, 2 failed, 1 skipped, 5 total")
	assert.Contains(t, out, "Time:  20ms")
}

func TestConsoleFormatter_VerboseShowsWorker(t *testing.T) {
	var buf bytes.Buffer
	f := NewConsoleFormatter(WithWriter(&buf), WithVerbose(true), WithNoColor(true))

	fr := suite.LoadFailure("a.mt", errors.New("x"))
	fr.WorkerID = "w-1"
	f.FormatResult(fr)

	assert.Contains(t, buf.String(), "(worker w-1)")
}

func TestJSONFormatter(t *testing.T) {
	out := render(t, "json", Options{})

	var got suite.Aggregate
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, *sampleAggregate(), got)

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &raw))
	for _, key := range []string{"passed", "failed", "skipped", "duration", "files"} {
		assert.Contains(t, raw, key)
	}
}

func TestJUnitFormatter(t *testing.T) {
	out := render(t, "junit", Options{})
	require.True(t, strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8"?>`))

	var suites JUnitTestSuites
	require.NoError(t, xml.Unmarshal([]byte(out), &suites))

	assert.Equal(t, "minitest", suites.Name)
	assert.Equal(t, 5, suites.Tests)
	assert.Equal(t, 1, suites.Failures)
	assert.Equal(t, 1, suites.Errors)
	assert.Equal(t, 1, suites.Skipped)
	require.Len(t, suites.TestSuites, 2)

	a := suites.TestSuites[0]
	assert.Equal(t, "a.mt", a.Name)
	require.Len(t, a.TestCases, 4)
	assert.Equal(t, "a.mt", a.TestCases[0].ClassName)
	assert.Equal(t, "a.mt > math", a.TestCases[1].ClassName)
	require.NotNil(t, a.TestCases[2].Failure)
	assert.Equal(t, "expected 2, got 3", a.TestCases[2].Failure.Message)
	require.NotNil(t, a.TestCases[3].Skipped)
	assert.Equal(t, "todo", a.TestCases[3].Skipped.Message)

	broken := suites.TestSuites[1]
	assert.Equal(t, 1, broken.Errors)
	assert.Zero(t, broken.Failures)
	require.NotNil(t, broken.TestCases[0].Error)
	assert.Equal(t, "LoadError", broken.TestCases[0].Error.Type)
}

func TestTAPFormatter(t *testing.T) {
	out := render(t, "tap", Options{})
	lines := strings.Split(strings.TrimSpace(out), "\n")

	assert.Equal(t, "TAP version 13", lines[0])
	assert.Equal(t, "1..5", lines[1])
	assert.Contains(t, lines, "ok 1 - top")
	assert.Contains(t, lines, "ok 2 - math > adds")
	assert.Contains(t, lines, "not ok 3 - math > divides")
	assert.Contains(t, lines, "  message: expected 2, got 3")
	assert.Contains(t, lines, "ok 4 - math > later # SKIP todo")
	assert.Contains(t, lines, "not ok 5 - Loading broken.mt")
	assert.Equal(t, "# skip 1", lines[len(lines)-1])
}

func TestEscapeYAML(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"a: b", `"a: b"`},
		{"two\nlines", `"two\nlines"`},
		{`say "hi"`, `"say \"hi\""`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeYAML(tt.in))
	}
}
