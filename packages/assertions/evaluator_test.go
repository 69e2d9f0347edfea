package assertions

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/minitest/packages/core/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonOutput(stdout string) *Output {
	return &Output{
		Stdout:   stdout,
		ExitCode: 0,
		Duration: 120 * time.Millisecond,
	}
}

func TestEvaluator_ExitCode(t *testing.T) {
	e := NewEvaluator(&Output{ExitCode: 2})

	result := e.Evaluate(&parser.Assertion{
		Subject:  "exitCode",
		Operator: parser.OpEquals,
		Expected: 2,
	})

	assert.True(t, result.Passed)
	assert.Equal(t, 2, result.Actual)
}

func TestEvaluator_ExitCodeNotEquals(t *testing.T) {
	e := NewEvaluator(&Output{ExitCode: 1})

	result := e.Evaluate(&parser.Assertion{
		Subject:  "exitCode",
		Operator: parser.OpNotEquals,
		Expected: 0,
	})

	assert.True(t, result.Passed)
}

func TestEvaluator_Stdout_JSONPath(t *testing.T) {
	e := NewEvaluator(jsonOutput(`{"user": {"name": "John", "age": 30}, "items": [1, 2, 3]}` + "\n"))

	tests := []struct {
		name     string
		subject  string
		operator parser.AssertionOperator
		expected any
		passed   bool
	}{
		{"nested path equals", "stdout.user.name", parser.OpEquals, "John", true},
		{"nested path numeric", "stdout.user.age", parser.OpEquals, 30, true},
		{"greater than", "stdout.user.age", parser.OpGreaterThan, 25, true},
		{"less than fails", "stdout.user.age", parser.OpLessThan, 18, false},
		{"bracket index", "stdout.items[1]", parser.OpEquals, 2, true},
		{"gjson count", "stdout.items.#", parser.OpEquals, 3, true},
		{"missing path", "stdout.user.email", parser.OpNotExists, nil, true},
		{"exists", "stdout.user", parser.OpExists, nil, true},
		{"length", "stdout.items", parser.OpLength, 3, true},
		{"includes", "stdout.items", parser.OpIncludes, 2, true},
		{"not includes", "stdout.items", parser.OpNotIncludes, 9, true},
		{"type array", "stdout.items", parser.OpType, "array", true},
		{"type object", "stdout.user", parser.OpType, "object", true},
		{"each", "stdout.items", parser.OpEach, map[string]any{"operator": ">", "value": 0}, true},
		{"each fails", "stdout.items", parser.OpEach, map[string]any{"operator": "<", "value": 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := e.Evaluate(&parser.Assertion{
				Subject:  tt.subject,
				Operator: tt.operator,
				Expected: tt.expected,
			})
			assert.Equal(t, tt.passed, result.Passed, "Message: %s", result.Message)
		})
	}
}

func TestEvaluator_PlainStdout(t *testing.T) {
	e := NewEvaluator(&Output{Stdout: "hello world\n", Stderr: "warning: deprecated\n"})

	tests := []struct {
		name     string
		subject  string
		operator parser.AssertionOperator
		expected any
		passed   bool
	}{
		{"equals trims newline", "stdout", parser.OpEquals, "hello world", true},
		{"contains", "stdout", parser.OpContains, "world", true},
		{"not contains", "stdout", parser.OpNotContains, "panic", true},
		{"startsWith", "stdout", parser.OpStartsWith, "hello", true},
		{"endsWith", "stdout", parser.OpEndsWith, "world", true},
		{"matches", "stdout", parser.OpMatches, "/^hello\\s\\w+$/", true},
		{"in", "stdout", parser.OpIn, []any{"hi", "hello world"}, true},
		{"not in", "stdout", parser.OpNotIn, []any{"hi"}, true},
		{"stderr", "stderr", parser.OpStartsWith, "warning", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := e.Evaluate(&parser.Assertion{
				Subject:  tt.subject,
				Operator: tt.operator,
				Expected: tt.expected,
			})
			assert.Equal(t, tt.passed, result.Passed, "Message: %s", result.Message)
		})
	}

	result := e.Evaluate(&parser.Assertion{Subject: "stdout.field", Operator: parser.OpExists})
	assert.False(t, result.Passed)
	assert.Contains(t, result.Message, "not JSON")
}

func TestEvaluator_Duration(t *testing.T) {
	e := NewEvaluator(jsonOutput(""))

	result := e.Evaluate(&parser.Assertion{
		Subject:  "duration",
		Operator: parser.OpLessThan,
		Expected: 500,
	})

	assert.True(t, result.Passed)
	assert.Equal(t, int64(120), result.Actual)
}

func TestEvaluator_Rows(t *testing.T) {
	e := NewEvaluator(&Output{Rows: []map[string]any{
		{"id": int64(1), "name": "Alice"},
		{"id": int64(2), "name": "Bob"},
	}})

	assert.True(t, e.Evaluate(&parser.Assertion{Subject: "rows", Operator: parser.OpLength, Expected: 2}).Passed)
	assert.True(t, e.Evaluate(&parser.Assertion{Subject: "rows.1.name", Operator: parser.OpEquals, Expected: "Bob"}).Passed)
	assert.True(t, e.Evaluate(&parser.Assertion{Subject: "rows.0.id", Operator: parser.OpEquals, Expected: 1}).Passed)

	noQuery := NewEvaluator(&Output{})
	result := noQuery.Evaluate(&parser.Assertion{Subject: "rows", Operator: parser.OpExists})
	assert.False(t, result.Passed)
	assert.Contains(t, result.Message, "no query")
}

func TestEvaluator_Vars(t *testing.T) {
	vars := map[string]any{
		"token": "abc",
		"user":  map[string]any{"id": 7},
	}
	e := NewEvaluator(&Output{}, WithLookup(func(name string) (any, bool) {
		v, ok := vars[name]
		return v, ok
	}))

	assert.True(t, e.Evaluate(&parser.Assertion{Subject: "var.token", Operator: parser.OpEquals, Expected: "abc"}).Passed)
	assert.True(t, e.Evaluate(&parser.Assertion{Subject: "var.user.id", Operator: parser.OpEquals, Expected: 7}).Passed)
	assert.True(t, e.Evaluate(&parser.Assertion{Subject: "var.missing", Operator: parser.OpNotExists}).Passed)
}

func TestEvaluator_UnknownSubject(t *testing.T) {
	result := NewEvaluator(&Output{}).Evaluate(&parser.Assertion{Subject: "status", Operator: parser.OpEquals, Expected: 200})

	assert.False(t, result.Passed)
	assert.Contains(t, result.Message, "unknown subject")
}

func TestEvaluator_Schema(t *testing.T) {
	dir := t.TempDir()
	schema := `{
  "type": "object",
  "required": ["id", "name"],
  "properties": {
    "id": {"type": "integer"},
    "name": {"type": "string"}
  }
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user.json"), []byte(schema), 0644))

	valid := NewEvaluator(jsonOutput(`{"id": 1, "name": "Ada"}`), WithBaseDir(dir))
	result := valid.Evaluate(&parser.Assertion{Subject: "stdout", Operator: parser.OpSchema, Expected: "user.json"})
	assert.True(t, result.Passed, result.Message)

	invalid := NewEvaluator(jsonOutput(`{"id": "x"}`), WithBaseDir(dir))
	result = invalid.Evaluate(&parser.Assertion{Subject: "stdout", Operator: parser.OpSchema, Expected: "user.json"})
	assert.False(t, result.Passed)
	assert.Contains(t, result.Message, "schema validation failed")

	escape := invalid.Evaluate(&parser.Assertion{Subject: "stdout", Operator: parser.OpSchema, Expected: "../outside.json"})
	assert.False(t, escape.Passed)
	assert.Contains(t, escape.Message, "path traversal")
}

func TestEvaluator_Check(t *testing.T) {
	e := NewEvaluator(&Output{ExitCode: 1})

	err := e.Check(&parser.Assertion{Subject: "exitCode", Operator: parser.OpEquals, Expected: 0, Line: 4})
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "line 4: expect exitCode == 0: expected 0, got 1", err.Error())

	assert.NoError(t, e.Check(&parser.Assertion{Subject: "exitCode", Operator: parser.OpEquals, Expected: 1}))
}

func TestEvaluateAll(t *testing.T) {
	results := EvaluateAll(jsonOutput(`{"ok": true}`), []*parser.Assertion{
		{Subject: "stdout.ok", Operator: parser.OpEquals, Expected: true},
		{Subject: "exitCode", Operator: parser.OpEquals, Expected: 3},
	})

	require.Len(t, results, 2)
	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed)
}
