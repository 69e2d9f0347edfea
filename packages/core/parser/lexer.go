package parser

import (
	"strings"
	"unicode"
)

type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIllegal
	TokenNewline
	TokenComment
	TokenAnnotation
	TokenIdentifier
	TokenString
	TokenNumber
	TokenDuration
	TokenBoolean
	TokenNull
	TokenOperator
	TokenEquals
	TokenLeftBrace
	TokenRightBrace
	TokenLeftBracket
	TokenRightBracket
	TokenComma
	TokenMinus
)

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "end of file"
	case TokenIllegal:
		return "illegal token"
	case TokenNewline:
		return "newline"
	case TokenComment:
		return "comment"
	case TokenAnnotation:
		return "directive"
	case TokenIdentifier:
		return "identifier"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenDuration:
		return "duration"
	case TokenBoolean:
		return "boolean"
	case TokenNull:
		return "null"
	case TokenOperator:
		return "operator"
	case TokenEquals:
		return "'='"
	case TokenLeftBrace:
		return "'{'"
	case TokenRightBrace:
		return "'}'"
	case TokenLeftBracket:
		return "'['"
	case TokenRightBracket:
		return "']'"
	case TokenComma:
		return "','"
	case TokenMinus:
		return "'-'"
	default:
		return "unknown"
	}
}

type Token struct {
	Type    TokenType
	Value   string
	Line    int
	Column  int
	Literal any
}

type Lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
	line    int
	column  int
}

func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
	}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.column = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
	l.column++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) NextToken() Token {
	l.skipWhitespaceInLine()

	tok := Token{Line: l.line, Column: l.column}

	switch l.ch {
	case 0:
		tok.Type = TokenEOF
	case '\n':
		tok.Type = TokenNewline
		tok.Value = "\n"
		l.readChar()
	case '\r':
		l.readChar()
		return l.NextToken()
	case '#':
		tok.Type = TokenComment
		tok.Value = l.readComment()
	case '/':
		if l.peekChar() == '/' {
			tok.Type = TokenComment
			tok.Value = l.readComment()
		} else {
			tok = l.illegal(tok)
		}
	case '@':
		l.readChar()
		tok.Type = TokenAnnotation
		tok.Value = l.readIdentifier()
		l.skipWhitespaceInLine()
		tok.Literal = strings.TrimSpace(l.readToEndOfLine())
	case '{':
		tok.Type = TokenLeftBrace
		tok.Value = "{"
		l.readChar()
	case '}':
		tok.Type = TokenRightBrace
		tok.Value = "}"
		l.readChar()
	case '[':
		tok.Type = TokenLeftBracket
		tok.Value = "["
		l.readChar()
	case ']':
		tok.Type = TokenRightBracket
		tok.Value = "]"
		l.readChar()
	case ',':
		tok.Type = TokenComma
		tok.Value = ","
		l.readChar()
	case '=':
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			tok.Type = TokenOperator
			tok.Value = "=="
		} else {
			tok.Type = TokenEquals
			tok.Value = "="
			l.readChar()
		}
	case '!':
		switch {
		case l.peekChar() == '=':
			l.readChar()
			l.readChar()
			tok.Type = TokenOperator
			tok.Value = "!="
		case isLetter(l.peekChar()):
			l.readChar()
			tok.Type = TokenOperator
			tok.Value = "!" + strings.ToLower(l.readIdentifier())
		default:
			tok = l.illegal(tok)
		}
	case '>', '<':
		op := string(l.ch)
		l.readChar()
		if l.ch == '=' {
			op += "="
			l.readChar()
		}
		tok.Type = TokenOperator
		tok.Value = op
	case '"':
		return l.readString(tok, '"', true)
	case '\'':
		return l.readString(tok, '\'', false)
	case '`':
		return l.readString(tok, '`', false)
	case '-':
		if isDigit(l.peekChar()) {
			return l.readNumber(tok)
		}
		tok.Type = TokenMinus
		tok.Value = "-"
		l.readChar()
	default:
		switch {
		case isDigit(l.ch):
			return l.readNumber(tok)
		case isLetter(l.ch):
			return l.readWord(tok)
		default:
			tok = l.illegal(tok)
		}
	}

	return tok
}

func (l *Lexer) illegal(tok Token) Token {
	tok.Type = TokenIllegal
	tok.Value = string(l.ch)
	l.readChar()
	return tok
}

func (l *Lexer) readComment() string {
	if l.ch == '/' {
		l.readChar()
	}
	l.readChar()
	return strings.TrimSpace(l.readToEndOfLine())
}

// readString reads a quoted literal. Only double-quoted strings honour
// backslash escapes; single quotes and backticks are raw and backticks may
// span lines.
func (l *Lexer) readString(tok Token, quote byte, escapes bool) Token {
	l.readChar()
	var builder strings.Builder
	for l.ch != quote {
		if l.ch == 0 || (l.ch == '\n' && quote != '`') {
			tok.Type = TokenIllegal
			tok.Value = "unterminated string"
			return tok
		}
		if escapes && l.ch == '\\' {
			l.readChar()
			switch l.ch {
			case 'n':
				builder.WriteByte('\n')
			case 't':
				builder.WriteByte('\t')
			case 0:
				continue
			default:
				builder.WriteByte(l.ch)
			}
			l.readChar()
			continue
		}
		builder.WriteByte(l.ch)
		l.readChar()
	}
	l.readChar()

	tok.Type = TokenString
	tok.Value = builder.String()
	tok.Literal = tok.Value
	return tok
}

// readNumber reads an integer or decimal. Letters directly following the
// digits turn the token into a duration such as 200ms or 1.5s.
func (l *Lexer) readNumber(tok Token) Token {
	var builder strings.Builder
	if l.ch == '-' {
		builder.WriteByte(l.ch)
		l.readChar()
	}
	for isDigit(l.ch) {
		builder.WriteByte(l.ch)
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		builder.WriteByte(l.ch)
		l.readChar()
		for isDigit(l.ch) {
			builder.WriteByte(l.ch)
			l.readChar()
		}
	}

	tok.Type = TokenNumber
	if isLetter(l.ch) {
		for isLetter(l.ch) || isDigit(l.ch) {
			builder.WriteByte(l.ch)
			l.readChar()
		}
		tok.Type = TokenDuration
	}
	tok.Value = builder.String()
	return tok
}

func (l *Lexer) readWord(tok Token) Token {
	word := l.readPath()
	tok.Value = word

	switch strings.ToLower(word) {
	case "true", "false":
		tok.Type = TokenBoolean
		tok.Literal = strings.ToLower(word) == "true"
	case "null":
		tok.Type = TokenNull
	case "contains", "startswith", "endswith", "matches", "exists", "length",
		"includes", "in", "type", "each", "schema":
		tok.Type = TokenOperator
		tok.Value = strings.ToLower(word)
	default:
		tok.Type = TokenIdentifier
	}
	return tok
}

// readPath reads an identifier that may continue with path characters so
// subjects like stdout.items.#.id or rows.0.name lex as one word.
func (l *Lexer) readPath() string {
	var builder strings.Builder
	for isLetter(l.ch) || isDigit(l.ch) || isPathChar(l.ch) {
		builder.WriteByte(l.ch)
		l.readChar()
	}
	return builder.String()
}

func (l *Lexer) readIdentifier() string {
	var builder strings.Builder
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '-' {
		builder.WriteByte(l.ch)
		l.readChar()
	}
	return builder.String()
}

func (l *Lexer) readToEndOfLine() string {
	var builder strings.Builder
	for l.ch != 0 && l.ch != '\n' && l.ch != '\r' {
		builder.WriteByte(l.ch)
		l.readChar()
	}
	return builder.String()
}

func (l *Lexer) skipWhitespaceInLine() {
	for l.ch == ' ' || l.ch == '\t' {
		l.readChar()
	}
}

func isLetter(ch byte) bool {
	return unicode.IsLetter(rune(ch)) || ch == '_'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isPathChar(ch byte) bool {
	switch ch {
	case '.', '#', '-', '*', '?', '|', '$':
		return true
	}
	return false
}
