package dsl

import (
	"strings"
	"unicode"
)

// Lexer tokenizes rule source text. The grammar has no statements, so the
// whole input is tokenized eagerly and handed to the parser as a slice.
type Lexer struct {
	input  string
	pos    int
	line   int
	column int
	tokens []Token
}

// NewLexer creates a lexer for the given rule source.
func NewLexer(input string) *Lexer {
	return &Lexer{
		input:  input,
		pos:    0,
		line:   1,
		column: 1,
		tokens: make([]Token, 0),
	}
}

// Tokenize converts the input into tokens. A lexical error aborts the whole
// scan with a *ParseError pointing at the offending character.
func (l *Lexer) Tokenize() ([]Token, error) {
	for l.pos < len(l.input) {
		ch := l.current()

		if unicode.IsSpace(ch) {
			if ch == '\n' {
				l.line++
				l.column = 1
			} else {
				l.column++
			}
			l.pos++
			continue
		}

		switch ch {
		case '.':
			l.addToken(TokenDot, ".")
			l.advance()
			continue
		case ',':
			l.addToken(TokenComma, ",")
			l.advance()
			continue
		case '(':
			l.addToken(TokenLParen, "(")
			l.advance()
			continue
		case ')':
			l.addToken(TokenRParen, ")")
			l.advance()
			continue
		case '[':
			l.addToken(TokenLBracket, "[")
			l.advance()
			continue
		case ']':
			l.addToken(TokenRBracket, "]")
			l.advance()
			continue
		}

		if l.pos+1 < len(l.input) {
			switch l.input[l.pos : l.pos+2] {
			case "==":
				l.addToken(TokenEqual, "==")
				l.advance()
				l.advance()
				continue
			case "!=":
				l.addToken(TokenNotEqual, "!=")
				l.advance()
				l.advance()
				continue
			case ">=":
				l.addToken(TokenGreaterEqual, ">=")
				l.advance()
				l.advance()
				continue
			case "<=":
				l.addToken(TokenLessEqual, "<=")
				l.advance()
				l.advance()
				continue
			}
		}

		switch ch {
		case '>':
			l.addToken(TokenGreater, ">")
			l.advance()
			continue
		case '<':
			l.addToken(TokenLess, "<")
			l.advance()
			continue
		}

		if ch == '"' {
			if err := l.scanString(); err != nil {
				return nil, err
			}
			continue
		}

		if unicode.IsDigit(ch) {
			l.scanNumber()
			continue
		}

		if unicode.IsLetter(ch) || ch == '_' {
			l.scanIdentifier()
			continue
		}

		return nil, newParseError(l.line, l.column, "unexpected character %q", string(ch))
	}

	l.addToken(TokenEOF, "")
	return l.tokens, nil
}

func (l *Lexer) current() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	return rune(l.input[l.pos])
}

func (l *Lexer) peek() rune {
	if l.pos+1 >= len(l.input) {
		return 0
	}
	return rune(l.input[l.pos+1])
}

func (l *Lexer) advance() {
	if l.pos < len(l.input) {
		l.pos++
		l.column++
	}
}

func (l *Lexer) addToken(tokenType TokenType, lexeme string) {
	l.tokens = append(l.tokens, Token{
		Type:   tokenType,
		Lexeme: lexeme,
		Line:   l.line,
		Column: l.column,
	})
}

func (l *Lexer) scanString() error {
	startCol := l.column

	// Skip opening quote
	l.advance()

	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.current()

		if ch == '"' {
			l.advance()
			l.tokens = append(l.tokens, Token{
				Type:   TokenString,
				Lexeme: sb.String(),
				Line:   l.line,
				Column: startCol,
			})
			return nil
		}

		if ch == '\\' && l.peek() == '"' {
			l.advance()
			sb.WriteRune('"')
			l.advance()
			continue
		}

		if ch == '\n' {
			return newParseError(l.line, startCol, "unterminated string")
		}

		// Copy the raw byte: the scan only inspects ASCII delimiters, so
		// multi-byte UTF-8 sequences pass through intact.
		sb.WriteByte(l.input[l.pos])
		l.advance()
	}

	return newParseError(l.line, startCol, "unterminated string (reached end of input)")
}

func (l *Lexer) scanNumber() {
	start := l.pos
	startCol := l.column

	for unicode.IsDigit(l.current()) {
		l.advance()
	}
	if l.current() == '.' && unicode.IsDigit(l.peek()) {
		l.advance()
		for unicode.IsDigit(l.current()) {
			l.advance()
		}
	}

	l.tokens = append(l.tokens, Token{
		Type:   TokenNumber,
		Lexeme: l.input[start:l.pos],
		Line:   l.line,
		Column: startCol,
	})
}

// scanIdentifier scans an identifier or keyword. A '.' directly followed by a
// letter, digit or underscore is folded into the identifier so that dotted
// operation names like "payment.charge_card" and accessor chains like
// "trace.has" arrive as a single token; the parser splits on the dots.
func (l *Lexer) scanIdentifier() {
	start := l.pos
	startCol := l.column

	l.advance()
	for l.pos < len(l.input) {
		ch := l.current()
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' {
			l.advance()
		} else if ch == '.' && (unicode.IsLetter(l.peek()) || unicode.IsDigit(l.peek()) || l.peek() == '_') {
			l.advance()
		} else {
			break
		}
	}

	lexeme := l.input[start:l.pos]
	tokenType := TokenIdentifier
	if kw, ok := keywords[lexeme]; ok {
		tokenType = kw
	}
	l.tokens = append(l.tokens, Token{
		Type:   tokenType,
		Lexeme: lexeme,
		Line:   l.line,
		Column: startCol,
	})
}
