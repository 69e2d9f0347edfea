package parser

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Parser struct {
	lexer    *Lexer
	curToken Token
	file     string
	lines    []string
}

func NewParser(input string) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
		lines: strings.Split(input, "\n"),
	}
	p.nextToken()
	return p
}

func ParseFile(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(content), path)
}

func Parse(input, filename string) (*File, error) {
	p := NewParser(input)
	p.file = filename
	return p.ParseFile()
}

func (p *Parser) nextToken() {
	p.curToken = p.lexer.NextToken()
	for p.curToken.Type == TokenComment {
		p.curToken = p.lexer.NextToken()
	}
}

func (p *Parser) skipNewlines() {
	for p.curToken.Type == TokenNewline {
		p.nextToken()
	}
}

func (p *Parser) errorf(tok Token, format string, args ...any) *ParseError {
	msg := fmt.Sprintf(format, args...)
	if tok.Type == TokenIllegal {
		if tok.Value == "unterminated string" {
			msg = "unterminated string"
		} else {
			msg = fmt.Sprintf("unexpected character %q", tok.Value)
		}
	}
	err := &ParseError{
		File:    p.file,
		Line:    tok.Line,
		Column:  tok.Column,
		Message: msg,
	}
	if tok.Line > 0 && tok.Line <= len(p.lines) {
		err.Snippet = strings.TrimRight(p.lines[tok.Line-1], "\r")
	}
	return err
}

func describeToken(tok Token) string {
	switch tok.Type {
	case TokenEOF, TokenNewline:
		return tok.Type.String()
	}
	return fmt.Sprintf("%s %q", tok.Type, tok.Value)
}

func (p *Parser) ParseFile() (*File, error) {
	file := &File{Path: p.file}
	p.skipNewlines()

	for p.curToken.Type != TokenEOF {
		if p.curToken.Type == TokenAnnotation {
			file.Directives = append(file.Directives, &Directive{
				Name:     p.curToken.Value,
				Value:    p.curToken.Literal.(string),
				Position: p.position(),
			})
			p.nextToken()
		} else {
			item, err := p.parseItem()
			if err != nil {
				return nil, err
			}
			file.Items = append(file.Items, item)
			if err := p.endOfStatement(); err != nil {
				return nil, err
			}
		}
		p.skipNewlines()
	}

	return file, nil
}

func (p *Parser) position() Position {
	return Position{Line: p.curToken.Line, Column: p.curToken.Column}
}

// endOfStatement requires a newline, a closing brace or the end of input.
// Closing braces are left for the enclosing block.
func (p *Parser) endOfStatement() error {
	switch p.curToken.Type {
	case TokenNewline:
		p.nextToken()
		return nil
	case TokenEOF, TokenRightBrace:
		return nil
	}
	return p.errorf(p.curToken, "expected end of line, got %s", describeToken(p.curToken))
}

func (p *Parser) parseItem() (Node, error) {
	if p.curToken.Type != TokenIdentifier {
		return nil, p.errorf(p.curToken, "expected describe, test, hook or set, got %s", describeToken(p.curToken))
	}

	switch p.curToken.Value {
	case "describe":
		return p.parseDescribe()
	case "test", "it":
		return p.parseTest()
	case "beforeAll", "afterAll", "beforeEach", "afterEach":
		return p.parseHook()
	case "set":
		return p.parseSet()
	}
	return nil, p.errorf(p.curToken, "unexpected %q, expected describe, test, hook or set", p.curToken.Value)
}

func (p *Parser) expectString(what string) (string, error) {
	if p.curToken.Type != TokenString {
		return "", p.errorf(p.curToken, "expected %s string, got %s", what, describeToken(p.curToken))
	}
	v := p.curToken.Value
	p.nextToken()
	return v, nil
}

func (p *Parser) parseDescribe() (*Describe, error) {
	d := &Describe{Position: p.position()}
	p.nextToken()

	name, err := p.expectString("describe name")
	if err != nil {
		return nil, err
	}
	d.Name = name

	if p.curToken.Type != TokenLeftBrace {
		return nil, p.errorf(p.curToken, "expected '{' after describe name, got %s", describeToken(p.curToken))
	}
	p.nextToken()

	for {
		p.skipNewlines()
		if p.curToken.Type == TokenRightBrace {
			p.nextToken()
			return d, nil
		}
		if p.curToken.Type == TokenEOF {
			return nil, p.errorf(p.curToken, "unclosed describe %q opened at line %d", d.Name, d.Line)
		}
		item, err := p.parseItem()
		if err != nil {
			return nil, err
		}
		d.Items = append(d.Items, item)
		if err := p.endOfStatement(); err != nil {
			return nil, err
		}
	}
}

func (p *Parser) parseTest() (*Test, error) {
	t := &Test{Position: p.position()}
	p.nextToken()

	name, err := p.expectString("test name")
	if err != nil {
		return nil, err
	}
	t.Name = name

	for p.curToken.Type == TokenIdentifier {
		switch p.curToken.Value {
		case "timeout":
			p.nextToken()
			d, err := p.parseDuration()
			if err != nil {
				return nil, err
			}
			t.Timeout = d
		case "skip":
			p.nextToken()
			t.Skip = true
			if p.curToken.Type == TokenString {
				t.SkipReason = p.curToken.Value
				p.nextToken()
			}
		default:
			return nil, p.errorf(p.curToken, "unknown test option %q", p.curToken.Value)
		}
	}

	if p.curToken.Type == TokenLeftBrace {
		steps, err := p.parseSteps()
		if err != nil {
			return nil, err
		}
		t.Steps = steps
		return t, nil
	}

	if !t.Skip {
		return nil, p.errorf(p.curToken, "expected '{' to open test %q, got %s", t.Name, describeToken(p.curToken))
	}
	return t, nil
}

func (p *Parser) parseHook() (*Hook, error) {
	h := &Hook{Type: HookType(p.curToken.Value), Position: p.position()}
	p.nextToken()

	if p.curToken.Type != TokenLeftBrace {
		return nil, p.errorf(p.curToken, "expected '{' after %s, got %s", h.Type, describeToken(p.curToken))
	}
	steps, err := p.parseSteps()
	if err != nil {
		return nil, err
	}
	h.Steps = steps
	return h, nil
}

func (p *Parser) parseSteps() ([]*Step, error) {
	open := p.curToken
	p.nextToken()

	var steps []*Step
	for {
		p.skipNewlines()
		switch p.curToken.Type {
		case TokenRightBrace:
			p.nextToken()
			return steps, nil
		case TokenEOF:
			return nil, p.errorf(p.curToken, "unclosed block opened at line %d", open.Line)
		}

		step, err := p.parseStep()
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
		if err := p.endOfStatement(); err != nil {
			return nil, err
		}
	}
}

func (p *Parser) parseStep() (*Step, error) {
	if p.curToken.Type != TokenIdentifier {
		return nil, p.errorf(p.curToken, "expected step, got %s", describeToken(p.curToken))
	}

	step := &Step{Position: p.position()}
	keyword := p.curToken.Value

	switch keyword {
	case "exec":
		step.Kind = StepExec
		p.nextToken()
		if p.curToken.Type == TokenMinus {
			step.IgnoreFailure = true
			p.nextToken()
		}
		cmd, err := p.expectString("command")
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(cmd, "-") {
			step.IgnoreFailure = true
			cmd = strings.TrimSpace(cmd[1:])
		}
		step.Arg = cmd
	case "expect":
		step.Kind = StepExpect
		assertion, err := p.parseAssertion()
		if err != nil {
			return nil, err
		}
		step.Assertion = assertion
	case "capture":
		step.Kind = StepCapture
		p.nextToken()
		if p.curToken.Type != TokenIdentifier {
			return nil, p.errorf(p.curToken, "expected capture name, got %s", describeToken(p.curToken))
		}
		step.Arg = p.curToken.Value
		p.nextToken()
		if p.curToken.Type == TokenIdentifier && p.curToken.Value == "from" {
			p.nextToken()
		}
		if p.curToken.Type != TokenIdentifier {
			return nil, p.errorf(p.curToken, "expected capture subject, got %s", describeToken(p.curToken))
		}
		step.Value = p.curToken.Value
		p.nextToken()
	case "set":
		set, err := p.parseSet()
		if err != nil {
			return nil, err
		}
		return set, nil
	case "sleep":
		step.Kind = StepSleep
		p.nextToken()
		d, err := p.parseDuration()
		if err != nil {
			return nil, err
		}
		step.Duration = d
	case "log":
		step.Kind = StepLog
		p.nextToken()
		msg, err := p.expectString("log message")
		if err != nil {
			return nil, err
		}
		step.Arg = msg
	case "query":
		step.Kind = StepQuery
		p.nextToken()
		sql, err := p.expectString("SQL")
		if err != nil {
			return nil, err
		}
		step.Arg = sql
	case "fail":
		step.Kind = StepFail
		p.nextToken()
		step.Arg = "failed"
		if p.curToken.Type == TokenString {
			step.Arg = p.curToken.Value
			p.nextToken()
		}
	case "skip":
		step.Kind = StepSkip
		p.nextToken()
		if p.curToken.Type == TokenString {
			step.Arg = p.curToken.Value
			p.nextToken()
		}
	default:
		return nil, p.errorf(p.curToken, "unknown step %q", keyword)
	}

	return step, nil
}

func (p *Parser) parseSet() (*Step, error) {
	step := &Step{Kind: StepSet, Position: p.position()}
	p.nextToken()

	if p.curToken.Type != TokenIdentifier {
		return nil, p.errorf(p.curToken, "expected variable name, got %s", describeToken(p.curToken))
	}
	step.Arg = p.curToken.Value
	p.nextToken()

	if p.curToken.Type != TokenEquals {
		return nil, p.errorf(p.curToken, "expected '=' after %s, got %s", step.Arg, describeToken(p.curToken))
	}
	p.nextToken()

	switch p.curToken.Type {
	case TokenString, TokenNumber, TokenDuration, TokenBoolean, TokenIdentifier:
		step.Value = p.curToken.Value
		p.nextToken()
	case TokenNull:
		p.nextToken()
	default:
		return nil, p.errorf(p.curToken, "expected value for %s, got %s", step.Arg, describeToken(p.curToken))
	}
	return step, nil
}

// parseDuration accepts a bare number of milliseconds or a Go duration.
func (p *Parser) parseDuration() (time.Duration, error) {
	tok := p.curToken
	switch tok.Type {
	case TokenNumber:
		ms, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil || ms < 0 {
			return 0, p.errorf(tok, "invalid duration %q", tok.Value)
		}
		p.nextToken()
		return time.Duration(ms * float64(time.Millisecond)), nil
	case TokenDuration:
		d, err := time.ParseDuration(tok.Value)
		if err != nil || d < 0 {
			return 0, p.errorf(tok, "invalid duration %q", tok.Value)
		}
		p.nextToken()
		return d, nil
	}
	return 0, p.errorf(tok, "expected duration, got %s", describeToken(tok))
}

func (p *Parser) parseAssertion() (*Assertion, error) {
	line := p.curToken.Line
	p.nextToken()

	if p.curToken.Type != TokenIdentifier {
		return nil, p.errorf(p.curToken, "expected assertion subject, got %s", describeToken(p.curToken))
	}
	subject := p.curToken.Value
	p.nextToken()

	operator, err := p.parseAssertionOperator()
	if err != nil {
		return nil, err
	}

	var expected any
	if operator == OpEach {
		expected, err = p.parseEachExpected(subject)
		if err != nil {
			return nil, err
		}
	} else if operator != OpExists && operator != OpNotExists {
		if p.atStatementEnd() {
			return nil, p.errorf(p.curToken, "missing expected value for %s %s", subject, operator)
		}
		expected, err = p.parseAssertionExpected()
		if err != nil {
			return nil, err
		}
	}

	return &Assertion{
		Subject:  subject,
		Operator: operator,
		Expected: expected,
		Line:     line,
	}, nil
}

// parseEachExpected reads the element check of an each assertion, e.g.
// "expect stdout.items each > 0". A bare value means equality.
func (p *Parser) parseEachExpected(subject string) (any, error) {
	nested, err := p.parseAssertionOperator()
	if err != nil {
		return nil, err
	}
	if nested == OpEach {
		return nil, p.errorf(p.curToken, "each cannot be nested")
	}

	var value any
	if nested != OpExists && nested != OpNotExists {
		if p.atStatementEnd() {
			return nil, p.errorf(p.curToken, "missing expected value for %s each %s", subject, nested)
		}
		value, err = p.parseAssertionExpected()
		if err != nil {
			return nil, err
		}
	}
	return map[string]any{"operator": nested.String(), "value": value}, nil
}

func (p *Parser) atStatementEnd() bool {
	switch p.curToken.Type {
	case TokenNewline, TokenEOF, TokenRightBrace:
		return true
	}
	return false
}

func (p *Parser) parseAssertionOperator() (AssertionOperator, error) {
	if p.curToken.Type != TokenOperator {
		return OpEquals, nil
	}

	tok := p.curToken
	op := strings.ToLower(tok.Value)
	p.nextToken()

	switch op {
	case "==":
		return OpEquals, nil
	case "!=":
		return OpNotEquals, nil
	case ">":
		return OpGreaterThan, nil
	case ">=":
		return OpGreaterOrEqual, nil
	case "<":
		return OpLessThan, nil
	case "<=":
		return OpLessOrEqual, nil
	case "contains":
		return OpContains, nil
	case "!contains":
		return OpNotContains, nil
	case "startswith":
		return OpStartsWith, nil
	case "endswith":
		return OpEndsWith, nil
	case "matches":
		return OpMatches, nil
	case "exists":
		return OpExists, nil
	case "!exists":
		return OpNotExists, nil
	case "length":
		return OpLength, nil
	case "includes":
		return OpIncludes, nil
	case "!includes":
		return OpNotIncludes, nil
	case "in":
		return OpIn, nil
	case "!in":
		return OpNotIn, nil
	case "type":
		return OpType, nil
	case "each":
		return OpEach, nil
	case "schema":
		return OpSchema, nil
	}

	return OpEquals, p.errorf(tok, "unknown operator: %s", op)
}

func (p *Parser) parseAssertionExpected() (any, error) {
	tok := p.curToken
	switch tok.Type {
	case TokenString:
		p.nextToken()
		return tok.Literal, nil
	case TokenNumber:
		p.nextToken()
		if strings.Contains(tok.Value, ".") {
			if f, err := strconv.ParseFloat(tok.Value, 64); err == nil {
				return f, nil
			}
		}
		if i, err := strconv.Atoi(tok.Value); err == nil {
			return i, nil
		}
		return tok.Value, nil
	case TokenBoolean:
		p.nextToken()
		return tok.Literal, nil
	case TokenNull:
		p.nextToken()
		return nil, nil
	case TokenLeftBracket:
		return p.parseArray()
	case TokenIdentifier, TokenDuration:
		p.nextToken()
		return tok.Value, nil
	}
	return nil, p.errorf(tok, "unexpected %s in expected value", describeToken(tok))
}

func (p *Parser) parseArray() ([]any, error) {
	open := p.curToken
	p.nextToken()

	arr := []any{}
	for p.curToken.Type != TokenRightBracket {
		switch p.curToken.Type {
		case TokenComma, TokenNewline:
			p.nextToken()
			continue
		case TokenEOF:
			return nil, p.errorf(p.curToken, "unclosed array opened at line %d", open.Line)
		}
		v, err := p.parseAssertionExpected()
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	p.nextToken()
	return arr, nil
}
