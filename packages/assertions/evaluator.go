package assertions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/minitest/packages/core/parser"
	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"
)

// Output is what the steps of a case have produced so far.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	Rows     []map[string]any
}

// Lookup resolves var.<name> subjects.
type Lookup func(name string) (any, bool)

type Result struct {
	Passed   bool
	Message  string
	Expected any
	Actual   any
	Subject  string
	Operator string
}

// Failure is the error a case fails with when an expect step does not hold.
type Failure struct {
	Result *Result
	Line   int
}

func (f *Failure) Error() string {
	r := f.Result
	msg := fmt.Sprintf("expect %s %s", r.Subject, r.Operator)
	if r.Expected != nil {
		msg += fmt.Sprintf(" %v", r.Expected)
	}
	if f.Line > 0 {
		msg = fmt.Sprintf("line %d: %s", f.Line, msg)
	}
	if r.Message != "" {
		msg += ": " + r.Message
	}
	return msg
}

type Evaluator struct {
	output  *Output
	stdout  gjson.Result
	rows    gjson.Result
	lookup  Lookup
	baseDir string // base directory for resolving schema file paths
}

// EvaluatorOption is a functional option for configuring an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithBaseDir sets the directory schema paths are resolved against.
func WithBaseDir(dir string) EvaluatorOption {
	return func(e *Evaluator) {
		e.baseDir = dir
	}
}

// WithLookup sets the resolver for var.<name> subjects.
func WithLookup(fn Lookup) EvaluatorOption {
	return func(e *Evaluator) {
		e.lookup = fn
	}
}

func NewEvaluator(out *Output, opts ...EvaluatorOption) *Evaluator {
	if out == nil {
		out = &Output{}
	}
	e := &Evaluator{output: out}
	if trimmed := strings.TrimSpace(out.Stdout); gjson.Valid(trimmed) {
		e.stdout = gjson.Parse(trimmed)
	}
	if out.Rows != nil {
		if data, err := json.Marshal(out.Rows); err == nil {
			e.rows = gjson.ParseBytes(data)
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) Evaluate(assertion *parser.Assertion) *Result {
	result := &Result{
		Subject:  assertion.Subject,
		Operator: assertion.Operator.String(),
		Expected: assertion.Expected,
	}

	actual, err := e.Value(assertion.Subject)
	if err != nil {
		result.Message = err.Error()
		return result
	}
	result.Actual = actual

	result.Passed, result.Message = e.compare(actual, assertion.Operator, assertion.Expected)

	// For length operator, show the computed length as the actual value
	if assertion.Operator == parser.OpLength {
		result.Actual = computeLength(actual)
	}

	return result
}

// Check evaluates assertion and returns a *Failure when it does not hold.
func (e *Evaluator) Check(assertion *parser.Assertion) error {
	if r := e.Evaluate(assertion); !r.Passed {
		return &Failure{Result: r, Line: assertion.Line}
	}
	return nil
}

// Value returns the current value of subject. Missing JSON paths yield nil.
func (e *Evaluator) Value(subject string) (any, error) {
	head, path, _ := strings.Cut(subject, ".")
	switch head {
	case "stdout":
		if path == "" {
			if e.stdout.Exists() {
				return e.stdout.Value(), nil
			}
			return strings.TrimRight(e.output.Stdout, "\n"), nil
		}
		if !e.stdout.Exists() {
			return nil, fmt.Errorf("stdout is not JSON, cannot read %s", subject)
		}
		return jsonValue(e.stdout, path), nil
	case "stderr":
		return strings.TrimRight(e.output.Stderr, "\n"), nil
	case "exitCode":
		return e.output.ExitCode, nil
	case "duration":
		return e.output.Duration.Milliseconds(), nil
	case "rows":
		if !e.rows.Exists() {
			return nil, fmt.Errorf("no query has run, cannot read %s", subject)
		}
		if path == "" {
			return e.rows.Value(), nil
		}
		return jsonValue(e.rows, path), nil
	case "var":
		if path == "" {
			return nil, fmt.Errorf("var subject needs a name")
		}
		if e.lookup == nil {
			return nil, nil
		}
		name, rest, _ := strings.Cut(path, ".")
		v, ok := e.lookup(name)
		if !ok {
			return nil, nil
		}
		if rest == "" {
			return v, nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("var %s is not addressable: %w", name, err)
		}
		return jsonValue(gjson.ParseBytes(data), rest), nil
	}
	return nil, fmt.Errorf("unknown subject %q", subject)
}

var bracketIndex = regexp.MustCompile(`\[(\d+)\]`)

// jsonValue reads a gjson path, accepting items[0].id as well as items.0.id.
func jsonValue(doc gjson.Result, path string) any {
	path = strings.TrimPrefix(bracketIndex.ReplaceAllString(path, ".$1"), ".")
	r := doc.Get(path)
	if !r.Exists() {
		return nil
	}
	return r.Value()
}

func (e *Evaluator) compare(actual any, op parser.AssertionOperator, expected any) (bool, string) {
	switch op {
	case parser.OpNotEquals, parser.OpNotContains, parser.OpNotExists, parser.OpNotIncludes, parser.OpNotIn:
		positive := map[parser.AssertionOperator]parser.AssertionOperator{
			parser.OpNotEquals:   parser.OpEquals,
			parser.OpNotContains: parser.OpContains,
			parser.OpNotExists:   parser.OpExists,
			parser.OpNotIncludes: parser.OpIncludes,
			parser.OpNotIn:       parser.OpIn,
		}[op]
		if passed, _ := e.compare(actual, positive, expected); passed {
			if op == parser.OpNotExists {
				return false, "expected not to exist"
			}
			return false, fmt.Sprintf("expected %v not to %s %v", actual, verb(positive), expected)
		}
		return true, ""
	case parser.OpEquals:
		return equals(actual, expected)
	case parser.OpGreaterThan, parser.OpGreaterOrEqual, parser.OpLessThan, parser.OpLessOrEqual:
		return compareNumeric(actual, expected, op.String())
	case parser.OpContains, parser.OpStartsWith, parser.OpEndsWith:
		return matchString(actual, expected, op)
	case parser.OpMatches:
		return matches(actual, expected)
	case parser.OpExists:
		if actual == nil {
			return false, "expected to exist"
		}
		return true, ""
	case parser.OpLength:
		return length(actual, expected)
	case parser.OpIncludes:
		return includes(actual, expected)
	case parser.OpIn:
		return in(actual, expected)
	case parser.OpType:
		return typeCheck(actual, expected)
	case parser.OpSchema:
		return e.schema(actual, expected)
	case parser.OpEach:
		return e.each(actual, expected)
	}
	return false, fmt.Sprintf("unknown operator: %v", op)
}

func verb(op parser.AssertionOperator) string {
	switch op {
	case parser.OpEquals:
		return "equal"
	case parser.OpIn:
		return "be in"
	case parser.OpContains:
		return "contain"
	case parser.OpIncludes:
		return "include"
	default:
		return op.String()
	}
}

func equals(actual, expected any) (bool, string) {
	if reflect.DeepEqual(actual, expected) {
		return true, ""
	}

	actualNum, aOk := toFloat64(actual)
	expectedNum, eOk := toFloat64(expected)
	if aOk && eOk && actualNum == expectedNum {
		return true, ""
	}

	if fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", expected) {
		return true, ""
	}

	return false, fmt.Sprintf("expected %v, got %v", expected, actual)
}

func compareNumeric(actual, expected any, op string) (bool, string) {
	a, aOk := toFloat64(actual)
	b, bOk := toFloat64(expected)
	if !aOk || !bOk {
		return false, fmt.Sprintf("cannot compare non-numeric values: %v %s %v", actual, op, expected)
	}

	var passed bool
	switch op {
	case ">":
		passed = a > b
	case ">=":
		passed = a >= b
	case "<":
		passed = a < b
	case "<=":
		passed = a <= b
	}
	if passed {
		return true, ""
	}
	return false, fmt.Sprintf("expected %v %s %v", actual, op, expected)
}

func matchString(actual, expected any, op parser.AssertionOperator) (bool, string) {
	s := fmt.Sprintf("%v", actual)
	want := fmt.Sprintf("%v", expected)

	var passed bool
	var phrase string
	switch op {
	case parser.OpContains:
		passed, phrase = strings.Contains(s, want), "contain"
	case parser.OpStartsWith:
		passed, phrase = strings.HasPrefix(s, want), "start with"
	case parser.OpEndsWith:
		passed, phrase = strings.HasSuffix(s, want), "end with"
	}
	if passed {
		return true, ""
	}
	return false, fmt.Sprintf("expected '%v' to %s '%v'", actual, phrase, expected)
}

func matches(actual, expected any) (bool, string) {
	pattern := strings.TrimSuffix(strings.TrimPrefix(fmt.Sprintf("%v", expected), "/"), "/")

	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Sprintf("invalid regex pattern: %v", err)
	}
	if re.MatchString(fmt.Sprintf("%v", actual)) {
		return true, ""
	}
	return false, fmt.Sprintf("expected '%v' to match /%v/", actual, pattern)
}

// computeLength returns the length of a value, or -1 if length cannot be computed
func computeLength(actual any) int {
	rv := reflect.ValueOf(actual)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len()
	}
	return -1
}

func length(actual, expected any) (bool, string) {
	want, ok := toInt(expected)
	if !ok {
		return false, fmt.Sprintf("expected length must be a number, got %v", expected)
	}

	got := computeLength(actual)
	if got == -1 {
		return false, fmt.Sprintf("cannot get length of %T", actual)
	}
	if got == want {
		return true, ""
	}
	return false, fmt.Sprintf("expected length %d, got %d", want, got)
}

func includes(actual, expected any) (bool, string) {
	arr, ok := actual.([]any)
	if !ok {
		return false, fmt.Sprintf("expected array, got %T", actual)
	}
	for _, item := range arr {
		if passed, _ := equals(item, expected); passed {
			return true, ""
		}
	}
	return false, fmt.Sprintf("expected array to include %v", expected)
}

func in(actual, expected any) (bool, string) {
	arr, ok := expected.([]any)
	if !ok {
		return false, fmt.Sprintf("expected array for 'in' operator, got %T", expected)
	}
	for _, item := range arr {
		if passed, _ := equals(actual, item); passed {
			return true, ""
		}
	}
	return false, fmt.Sprintf("expected %v to be in %v", actual, expected)
}

func typeOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return reflect.TypeOf(v).String()
}

func typeCheck(actual, expected any) (bool, string) {
	want := fmt.Sprintf("%v", expected)
	if got := typeOf(actual); got != want {
		return false, fmt.Sprintf("expected type %s, got %s", want, got)
	}
	return true, ""
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	if f, ok := toFloat64(v); ok {
		return int(f), true
	}
	return 0, false
}

// EvaluateAll evaluates every assertion against out.
func EvaluateAll(out *Output, assertions []*parser.Assertion, opts ...EvaluatorOption) []*Result {
	evaluator := NewEvaluator(out, opts...)
	results := make([]*Result, len(assertions))
	for i, a := range assertions {
		results[i] = evaluator.Evaluate(a)
	}
	return results
}

// validatePathWithinBase checks that the resolved path stays within the base directory
func validatePathWithinBase(path, baseDir string) error {
	if baseDir == "" {
		return nil
	}

	cleanBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %v", err)
	}
	cleanPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %v", err)
	}

	if !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) && cleanPath != cleanBase {
		return fmt.Errorf("path traversal detected: %s is outside allowed directory %s", path, baseDir)
	}
	return nil
}

func (e *Evaluator) schema(actual, expected any) (bool, string) {
	schemaPath := fmt.Sprintf("%v", expected)
	if !filepath.IsAbs(schemaPath) && e.baseDir != "" {
		schemaPath = filepath.Join(e.baseDir, schemaPath)
	}
	if err := validatePathWithinBase(schemaPath, e.baseDir); err != nil {
		return false, err.Error()
	}

	schemaData, err := os.ReadFile(schemaPath)
	if err != nil {
		return false, fmt.Sprintf("failed to read schema file: %v", err)
	}
	actualJSON, err := json.Marshal(actual)
	if err != nil {
		return false, fmt.Sprintf("failed to marshal actual value: %v", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaData),
		gojsonschema.NewBytesLoader(actualJSON),
	)
	if err != nil {
		return false, fmt.Sprintf("schema validation error: %v", err)
	}
	if result.Valid() {
		return true, ""
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return false, fmt.Sprintf("schema validation failed: %s", strings.Join(problems, "; "))
}

// each applies a nested check to every element. expected is either a plain
// value (equality) or {"operator": op, "value": v} as produced by the parser.
func (e *Evaluator) each(actual, expected any) (bool, string) {
	arr, ok := actual.([]any)
	if !ok {
		return false, fmt.Sprintf("expected array for 'each' operator, got %T", actual)
	}

	op := parser.OpEquals
	value := expected
	if m, isMap := expected.(map[string]any); isMap {
		if name, hasOp := m["operator"]; hasOp {
			parsed, known := operatorByName(fmt.Sprintf("%v", name))
			if !known || parsed == parser.OpEach {
				return false, fmt.Sprintf("unknown operator in each: %v", name)
			}
			op, value = parsed, m["value"]
		}
	}

	for i, item := range arr {
		if passed, msg := e.compare(item, op, value); !passed {
			return false, fmt.Sprintf("item[%d]: %s", i, msg)
		}
	}
	return true, ""
}

func operatorByName(name string) (parser.AssertionOperator, bool) {
	for op := parser.OpEquals; op <= parser.OpSchema; op++ {
		if op.String() == name {
			return op, true
		}
	}
	return parser.OpEquals, false
}
