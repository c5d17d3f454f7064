// Package sqlref scans SQL text for relation and column references.
//
// It is a lexer-level tool, not a parser: it understands string literals,
// comments, quoted identifiers and parenthesis nesting well enough to find and
// rewrite table references without touching anything else.
package sqlref

import (
	"strings"
	"unicode"
)

// Lexer tokenizes SQL input.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
	line    int  // current line number (1-based)
	col     int  // current column number (1-based)
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++

	if l.ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) currentPos() Position {
	return Position{Line: l.line, Column: l.col, Offset: l.pos}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.currentPos()
	tok := Token{Pos: pos}

	switch {
	case l.ch == 0 && l.pos >= len(l.input):
		tok.Type = TOKEN_EOF
		tok.End = len(l.input)
		return tok
	case l.ch == '\'':
		tok.Type = TOKEN_STRING
		tok.Literal = l.readDelimited('\'')
		tok.End = l.pos
		return tok
	case l.ch == '"':
		tok.Type = TOKEN_IDENT
		tok.Quoted = true
		tok.Literal = l.readDelimited('"')
		tok.End = l.pos
		return tok
	case isLetter(l.ch) || l.ch == '_':
		tok.Literal = l.readIdentifier()
		tok.End = l.pos
		tok.Type = TOKEN_IDENT
		if kw := upper(tok.Literal); keywords[kw] {
			tok.Type = TOKEN_KEYWORD
			tok.Keyword = kw
		}
		return tok
	case isDigit(l.ch):
		tok.Type = TOKEN_NUMBER
		tok.Literal = l.readNumber()
		tok.End = l.pos
		return tok
	}

	switch l.ch {
	case '.':
		tok.Type = TOKEN_DOT
	case ',':
		tok.Type = TOKEN_COMMA
	case '(':
		tok.Type = TOKEN_LPAREN
	case ')':
		tok.Type = TOKEN_RPAREN
	case ';':
		tok.Type = TOKEN_SEMICOLON
	case '*':
		tok.Type = TOKEN_STAR
	case '+', '-', '/', '%', '=', '<', '>', '!', '|', ':', '^', '&', '~', '[', ']', '{', '}', '?', '$', '@':
		tok.Type = TOKEN_OPERATOR
		for isOperatorChar(l.peekChar()) && !l.commentAhead() {
			l.readChar()
		}
	default:
		tok.Type = TOKEN_ILLEGAL
	}
	l.readChar()
	tok.End = l.pos
	tok.Literal = l.input[pos.Offset:tok.End]
	return tok
}

// commentAhead reports whether the next two bytes open a comment.
func (l *Lexer) commentAhead() bool {
	if l.readPos+1 >= len(l.input) {
		return false
	}
	pair := l.input[l.readPos : l.readPos+2]
	return pair == "--" || pair == "/*"
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
			l.readChar()
		}
		if l.ch == '-' && l.peekChar() == '-' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}
		if l.ch == '/' && l.peekChar() == '*' {
			l.skipBlockComment()
			continue
		}
		break
	}
}

func (l *Lexer) skipBlockComment() {
	l.readChar() // skip '/'
	l.readChar() // skip '*'
	for l.pos < len(l.input) {
		if l.ch == '*' && l.peekChar() == '/' {
			l.readChar()
			l.readChar()
			return
		}
		l.readChar()
	}
}

// readDelimited reads a quoted literal where a doubled quote is an escape.
func (l *Lexer) readDelimited(quote byte) string {
	l.readChar() // skip opening quote

	var result strings.Builder
	for l.pos < len(l.input) {
		if l.ch == quote {
			if l.peekChar() == quote {
				result.WriteByte(quote)
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // skip closing quote
			break
		}
		result.WriteByte(l.ch)
		l.readChar()
	}
	return result.String()
}

func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' || l.ch == '$' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func (l *Lexer) readNumber() string {
	start := l.pos
	for isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if (l.ch == 'e' || l.ch == 'E') && (isDigit(l.peekChar()) || l.peekChar() == '+' || l.peekChar() == '-') {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[start:l.pos]
}

func isLetter(ch byte) bool {
	return ch >= 0x80 || unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isOperatorChar(ch byte) bool {
	switch ch {
	case '+', '-', '/', '%', '=', '<', '>', '!', '|', ':', '^', '&', '~', '@':
		return true
	}
	return false
}

func upper(s string) string {
	return strings.ToUpper(s)
}

// Tokenize returns all tokens from the input, excluding the trailing EOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		if tok.Type == TOKEN_EOF {
			return tokens
		}
		tokens = append(tokens, tok)
	}
}
