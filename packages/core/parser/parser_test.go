package parser

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_FullScript(t *testing.T) {
	input := `@db sqlite://fixtures.db
# top-level variables
set greeting = "hello"

describe "math" {
  beforeAll { exec "echo setup" }
  beforeEach {
    log "starting"
  }

  test "adds" timeout 200 {
    exec "echo '{\"sum\": 3}'"
    expect stdout.sum == 3
    expect exitCode == 0
  }

  test "pending" skip "not yet"
  afterEach { }
  afterAll { }
}

test "top level" { fail "boom" }
`

	file, err := Parse(input, "math.mt")
	require.NoError(t, err)

	require.Len(t, file.Directives, 1)
	assert.Equal(t, "db", file.Directives[0].Name)
	assert.Equal(t, "sqlite://fixtures.db", file.Directives[0].Value)

	require.Len(t, file.Items, 3)

	set, ok := file.Items[0].(*Step)
	require.True(t, ok)
	assert.Equal(t, StepSet, set.Kind)
	assert.Equal(t, "greeting", set.Arg)
	assert.Equal(t, "hello", set.Value)

	describe, ok := file.Items[1].(*Describe)
	require.True(t, ok)
	assert.Equal(t, "math", describe.Name)
	require.Len(t, describe.Items, 6)

	beforeAll := describe.Items[0].(*Hook)
	assert.Equal(t, HookBeforeAll, beforeAll.Type)
	require.Len(t, beforeAll.Steps, 1)
	assert.Equal(t, StepExec, beforeAll.Steps[0].Kind)
	assert.Equal(t, "echo setup", beforeAll.Steps[0].Arg)

	adds := describe.Items[2].(*Test)
	assert.Equal(t, "adds", adds.Name)
	assert.Equal(t, 200*time.Millisecond, adds.Timeout)
	require.Len(t, adds.Steps, 3)
	assert.Equal(t, `echo '{"sum": 3}'`, adds.Steps[0].Arg)
	require.NotNil(t, adds.Steps[1].Assertion)
	assert.Equal(t, "stdout.sum", adds.Steps[1].Assertion.Subject)
	assert.Equal(t, OpEquals, adds.Steps[1].Assertion.Operator)
	assert.Equal(t, 3, adds.Steps[1].Assertion.Expected)

	pending := describe.Items[3].(*Test)
	assert.True(t, pending.Skip)
	assert.Equal(t, "not yet", pending.SkipReason)
	assert.Empty(t, pending.Steps)

	afterEach := describe.Items[4].(*Hook)
	assert.Empty(t, afterEach.Steps)

	top := file.Items[2].(*Test)
	require.Len(t, top.Steps, 1)
	assert.Equal(t, StepFail, top.Steps[0].Kind)
	assert.Equal(t, "boom", top.Steps[0].Arg)

	assert.Equal(t, 3, file.CountTests())
}

func TestParser_Steps(t *testing.T) {
	input := `test "steps" {
  exec - "false"
  exec "-rm missing"
  capture token from stdout.token
  capture code exitCode
  set retries = 3
  sleep 1.5s
  sleep 20
  query "SELECT 1"
  skip "later"
  skip
}`

	file, err := Parse(input, "steps.mt")
	require.NoError(t, err)
	steps := file.Items[0].(*Test).Steps
	require.Len(t, steps, 10)

	assert.True(t, steps[0].IgnoreFailure)
	assert.Equal(t, "false", steps[0].Arg)
	assert.True(t, steps[1].IgnoreFailure)
	assert.Equal(t, "rm missing", steps[1].Arg)

	assert.Equal(t, StepCapture, steps[2].Kind)
	assert.Equal(t, "token", steps[2].Arg)
	assert.Equal(t, "stdout.token", steps[2].Value)
	assert.Equal(t, "exitCode", steps[3].Value)

	assert.Equal(t, StepSet, steps[4].Kind)
	assert.Equal(t, "3", steps[4].Value)

	assert.Equal(t, 1500*time.Millisecond, steps[5].Duration)
	assert.Equal(t, 20*time.Millisecond, steps[6].Duration)

	assert.Equal(t, StepQuery, steps[7].Kind)
	assert.Equal(t, "SELECT 1", steps[7].Arg)

	assert.Equal(t, StepSkip, steps[8].Kind)
	assert.Equal(t, "later", steps[8].Arg)
	assert.Equal(t, "", steps[9].Arg)
}

func TestParser_Assertions(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		subject  string
		operator AssertionOperator
		expected any
	}{
		{"implicit equals", `expect exitCode 0`, "exitCode", OpEquals, 0},
		{"not equals", `expect exitCode != 1`, "exitCode", OpNotEquals, 1},
		{"greater", `expect duration < 500`, "duration", OpLessThan, 500},
		{"float", `expect stdout.ratio >= 0.5`, "stdout.ratio", OpGreaterOrEqual, 0.5},
		{"contains", `expect stdout contains "ok"`, "stdout", OpContains, "ok"},
		{"not contains", `expect stderr !contains "panic"`, "stderr", OpNotContains, "panic"},
		{"startsWith", `expect stdout startsWith "v1"`, "stdout", OpStartsWith, "v1"},
		{"matches", `expect stdout matches "^[a-z]+$"`, "stdout", OpMatches, "^[a-z]+$"},
		{"exists", `expect stdout.id exists`, "stdout.id", OpExists, nil},
		{"not exists", `expect stdout.error !exists`, "stdout.error", OpNotExists, nil},
		{"length", `expect stdout.items length 3`, "stdout.items", OpLength, 3},
		{"in", `expect exitCode in [0, 1]`, "exitCode", OpIn, []any{0, 1}},
		{"type", `expect stdout.items type array`, "stdout.items", OpType, "array"},
		{"boolean", `expect stdout.ok == true`, "stdout.ok", OpEquals, true},
		{"null", `expect stdout.err == null`, "stdout.err", OpEquals, nil},
		{"schema", `expect stdout schema "user.schema.json"`, "stdout", OpSchema, "user.schema.json"},
		{"gjson count", `expect stdout.items.# == 2`, "stdout.items.#", OpEquals, 2},
		{"each", `expect stdout.items each > 0`, "stdout.items", OpEach, map[string]any{"operator": ">", "value": 0}},
		{"each type", `expect rows each type object`, "rows", OpEach, map[string]any{"operator": "type", "value": "object"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, err := Parse("test \"a\" {\n  "+tt.line+"\n}\n", "a.mt")
			require.NoError(t, err)

			steps := file.Items[0].(*Test).Steps
			require.Len(t, steps, 1)
			a := steps[0].Assertion
			require.NotNil(t, a)
			assert.Equal(t, tt.subject, a.Subject)
			assert.Equal(t, tt.operator, a.Operator)
			assert.Equal(t, tt.expected, a.Expected)
		})
	}
}

func TestParser_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		line    int
		message string
	}{
		{"unknown step", "test \"a\" {\n  explode\n}", 2, `unknown step "explode"`},
		{"unclosed describe", "describe \"a\" {\n  test \"b\" { }\n", 3, "unclosed describe"},
		{"unclosed block", "test \"a\" {\n  exec \"x\"\n", 3, "unclosed block"},
		{"missing name", "test {\n}", 1, "expected test name string"},
		{"unterminated string", "test \"a\" {\n  exec \"oops\n}", 2, "unterminated string"},
		{"missing expected", "test \"a\" {\n  expect stdout ==\n}", 2, "missing expected value"},
		{"bad top level", "exec \"x\"", 1, `unexpected "exec"`},
		{"bad duration", "test \"a\" timeout 5parsecs { }", 1, "invalid duration"},
		{"trailing tokens", "test \"a\" {\n  log \"x\" \"y\"\n}", 2, "expected end of line"},
		{"no body", "test \"a\"\n", 1, "expected '{'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input, "bad.mt")
			require.Error(t, err)

			var pe *ParseError
			require.True(t, errors.As(err, &pe), "expected *ParseError, got %T", err)
			assert.Equal(t, "bad.mt", pe.File)
			assert.Equal(t, tt.line, pe.Line)
			assert.Contains(t, pe.Message, tt.message)
			assert.Contains(t, pe.Error(), "bad.mt:")
		})
	}
}

func TestParser_ErrorColumn(t *testing.T) {
	_, err := Parse("test \"a\" {\n    explode\n}", "col.mt")

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 2, pe.Line)
	assert.Equal(t, 5, pe.Column)
	assert.Equal(t, "    explode", pe.Snippet)
	assert.Equal(t, `col.mt:2:5: unknown step "explode"`, pe.Error())
}

func TestParser_Comments(t *testing.T) {
	input := `// leading comment
test "a" { # trailing
  # inside
  exec "echo hi" // after step
}
`
	file, err := Parse(input, "c.mt")
	require.NoError(t, err)
	require.Len(t, file.Items, 1)
	assert.Len(t, file.Items[0].(*Test).Steps, 1)
}

func TestParser_RawStrings(t *testing.T) {
	input := "test \"sql\" {\n  query `SELECT *\n  FROM users`\n  exec 'echo \"quoted\"'\n}"

	file, err := Parse(input, "raw.mt")
	require.NoError(t, err)
	steps := file.Items[0].(*Test).Steps
	require.Len(t, steps, 2)
	assert.Equal(t, "SELECT *\n  FROM users", steps[0].Arg)
	assert.Equal(t, `echo "quoted"`, steps[1].Arg)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.mt")
	require.NoError(t, os.WriteFile(path, []byte("test \"a\" { }\n"), 0644))

	file, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, file.Path)
	assert.Equal(t, 1, file.CountTests())

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.mt"))
	assert.Error(t, err)
}
