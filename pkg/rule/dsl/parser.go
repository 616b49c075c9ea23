package dsl

import (
	"strconv"
	"strings"
)

// Parser converts tokens into an AST. Any lexical or grammatical error aborts
// the whole parse with a single *ParseError; a partial AST is never returned.
type Parser struct {
	tokens  []Token
	current int
}

// Parse parses rule source text into a trace-level expression.
func Parse(source string) (Expr, error) {
	tokens, err := NewLexer(source).Tokenize()
	if err != nil {
		return nil, err
	}

	p := &Parser{tokens: tokens}
	expr, perr := p.parseOr()
	if perr != nil {
		return nil, perr
	}
	if !p.isAtEnd() {
		tok := p.peek()
		return nil, newParseError(tok.Line, tok.Column, "unexpected token %q after expression", tok.Lexeme)
	}
	return expr, nil
}

// parseOr parses trace-level or-expressions (lowest precedence).
func (p *Parser) parseOr() (Expr, *ParseError) {
	expr, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.match(TokenOr) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		expr = &BinaryExpr{Left: expr, Op: LogicOr, Right: right}
	}
	return expr, nil
}

func (p *Parser) parseAnd() (Expr, *ParseError) {
	expr, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.match(TokenAnd) {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		expr = &BinaryExpr{Left: expr, Op: LogicAnd, Right: right}
	}
	return expr, nil
}

func (p *Parser) parseUnary() (Expr, *ParseError) {
	if p.match(TokenNot) {
		expr, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Expr: expr}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, *ParseError) {
	if p.match(TokenLParen) {
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen, "')' to close grouped expression"); err != nil {
			return nil, err
		}
		return expr, nil
	}

	tok := p.peek()
	if tok.Type == TokenEOF {
		return nil, newParseError(tok.Line, tok.Column, "unexpected end of input, expected expression")
	}
	if tok.Type != TokenIdentifier {
		return nil, newParseError(tok.Line, tok.Column, "unexpected token %q, expected a trace expression", tok.Lexeme)
	}

	switch tok.Lexeme {
	case "trace.has":
		return p.parseHas()
	case "trace.spans.filter":
		return p.parseFilterCount()
	case "trace.duration_ms":
		return p.parseDuration()
	}
	if tok.Lexeme == "trace" || strings.HasPrefix(tok.Lexeme, "trace.") {
		return nil, newParseError(tok.Line, tok.Column,
			"unknown trace operation %q, expected trace.has, trace.spans.filter or trace.duration_ms", tok.Lexeme)
	}
	return nil, newParseError(tok.Line, tok.Column, "unexpected identifier %q, expected a trace expression", tok.Lexeme)
}

// parseHas parses trace.has(<span-predicate>) with optional .where() suffixes.
func (p *Parser) parseHas() (Expr, *ParseError) {
	p.advance() // consume trace.has
	if _, err := p.expect(TokenLParen, "'(' after trace.has"); err != nil {
		return nil, err
	}
	pred, err := p.parseSpanOr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRParen, "')' to close trace.has"); err != nil {
		return nil, err
	}
	pred, err = p.parseWhereSuffixes(pred)
	if err != nil {
		return nil, err
	}
	return &HasExpr{Pred: pred}, nil
}

// parseFilterCount parses
// trace.spans.filter(<pred>)[.where(<pred>)...].length <cmp> <number>.
func (p *Parser) parseFilterCount() (Expr, *ParseError) {
	p.advance() // consume trace.spans.filter
	if _, err := p.expect(TokenLParen, "'(' after trace.spans.filter"); err != nil {
		return nil, err
	}
	pred, err := p.parseSpanOr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRParen, "')' to close filter predicate"); err != nil {
		return nil, err
	}

	sawLength := false
	for p.match(TokenDot) {
		name, err := p.expect(TokenIdentifier, "'where' or 'length' after '.'")
		if err != nil {
			return nil, err
		}
		if name.Lexeme == "length" {
			sawLength = true
			break
		}
		if name.Lexeme != "where" {
			return nil, newParseError(name.Line, name.Column,
				"unexpected %q after filter, expected 'where' or 'length'", name.Lexeme)
		}
		narrow, perr := p.parseWhereClause()
		if perr != nil {
			return nil, perr
		}
		pred = &SpanBinaryExpr{Left: pred, Op: LogicAnd, Right: narrow}
	}
	if !sawLength {
		tok := p.peek()
		return nil, newParseError(tok.Line, tok.Column, "expected '.length' after filter")
	}

	op, err := p.parseCompareOp()
	if err != nil {
		return nil, err
	}
	value, err := p.parseNumber("span count")
	if err != nil {
		return nil, err
	}
	return &CountExpr{Pred: pred, Op: op, Value: value}, nil
}

// parseDuration parses trace.duration_ms <cmp> <number>.
func (p *Parser) parseDuration() (Expr, *ParseError) {
	p.advance() // consume trace.duration_ms
	op, err := p.parseCompareOp()
	if err != nil {
		return nil, err
	}
	value, err := p.parseNumber("duration in milliseconds")
	if err != nil {
		return nil, err
	}
	return &DurationExpr{Op: op, Millis: value}, nil
}

// parseWhereSuffixes folds trailing .where(<pred>) clauses into pred with
// logical and.
func (p *Parser) parseWhereSuffixes(pred SpanExpr) (SpanExpr, *ParseError) {
	for p.check(TokenDot) && p.checkIdentAt(1, "where") {
		p.advance() // consume '.'
		p.advance() // consume 'where'
		narrow, err := p.parseWhereClause()
		if err != nil {
			return nil, err
		}
		pred = &SpanBinaryExpr{Left: pred, Op: LogicAnd, Right: narrow}
	}
	return pred, nil
}

func (p *Parser) parseWhereClause() (SpanExpr, *ParseError) {
	if _, err := p.expect(TokenLParen, "'(' after where"); err != nil {
		return nil, err
	}
	pred, err := p.parseSpanOr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRParen, "')' to close where clause"); err != nil {
		return nil, err
	}
	return pred, nil
}

// Span-predicate grammar mirrors the trace-level precedence:
// or < and < not < comparison < primary.

func (p *Parser) parseSpanOr() (SpanExpr, *ParseError) {
	expr, err := p.parseSpanAnd()
	if err != nil {
		return nil, err
	}
	for p.match(TokenOr) {
		right, err := p.parseSpanAnd()
		if err != nil {
			return nil, err
		}
		expr = &SpanBinaryExpr{Left: expr, Op: LogicOr, Right: right}
	}
	return expr, nil
}

func (p *Parser) parseSpanAnd() (SpanExpr, *ParseError) {
	expr, err := p.parseSpanUnary()
	if err != nil {
		return nil, err
	}
	for p.match(TokenAnd) {
		right, err := p.parseSpanUnary()
		if err != nil {
			return nil, err
		}
		expr = &SpanBinaryExpr{Left: expr, Op: LogicAnd, Right: right}
	}
	return expr, nil
}

func (p *Parser) parseSpanUnary() (SpanExpr, *ParseError) {
	if p.match(TokenNot) {
		pred, err := p.parseSpanUnary()
		if err != nil {
			return nil, err
		}
		return &SpanNotExpr{Pred: pred}, nil
	}
	return p.parseSpanPrimary()
}

func (p *Parser) parseSpanPrimary() (SpanExpr, *ParseError) {
	if p.match(TokenLParen) {
		pred, err := p.parseSpanOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen, "')' to close grouped predicate"); err != nil {
			return nil, err
		}
		return pred, nil
	}

	tok := p.peek()
	if tok.Type != TokenIdentifier {
		return nil, newParseError(tok.Line, tok.Column, "unexpected token %q, expected a span predicate", tok.Lexeme)
	}
	p.advance()

	segments := strings.Split(tok.Lexeme, ".")
	if segments[0] == "span" && len(segments) > 1 {
		return p.parseSpanFieldTerm(tok, segments)
	}
	return p.parseShorthandTerm(tok, segments)
}

// parseSpanFieldTerm handles span.name / span.service / span.status /
// span.attributes["key"], each followed by a comparison or a string method.
func (p *Parser) parseSpanFieldTerm(tok Token, segments []string) (SpanExpr, *ParseError) {
	var field FieldRef
	switch segments[1] {
	case "name":
		field = FieldRef{Kind: FieldName}
	case "service":
		field = FieldRef{Kind: FieldService}
	case "status":
		field = FieldRef{Kind: FieldStatus}
	case "attributes":
		if len(segments) != 2 {
			return nil, newParseError(tok.Line, tok.Column,
				"attribute access requires bracket notation: span.attributes[\"key\"]")
		}
		if _, err := p.expect(TokenLBracket, "'[' after span.attributes"); err != nil {
			return nil, err
		}
		key, err := p.expect(TokenString, "quoted attribute key")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRBracket, "']' after attribute key"); err != nil {
			return nil, err
		}
		field = FieldRef{Kind: FieldAttribute, Key: key.Lexeme}
		if p.check(TokenDot) {
			return p.parseStringMethod(field)
		}
		return p.parseComparison(field)
	default:
		return nil, newParseError(tok.Line, tok.Column,
			"unknown span field %q, expected name, service, status or attributes", segments[1])
	}

	// The lexer folds a trailing string method into the identifier:
	// span.name.contains arrives as one token.
	if len(segments) == 3 {
		if op, ok := stringMethodOp(segments[2]); ok {
			return p.parseStringMethodCall(field, op)
		}
		return nil, newParseError(tok.Line, tok.Column, "unknown method %q on %s", segments[2], field)
	}
	if len(segments) > 3 {
		return nil, newParseError(tok.Line, tok.Column, "field %s has no sub-fields", field)
	}
	return p.parseComparison(field)
}

// parseShorthandTerm handles bare identifiers inside predicates:
// a dotted operation name (payment.charge_card) is span.name equality,
// an identifier followed by a comparison is an attribute shorthand, and an
// identifier ending in a string method is an attribute method call.
func (p *Parser) parseShorthandTerm(tok Token, segments []string) (SpanExpr, *ParseError) {
	last := segments[len(segments)-1]
	if op, ok := stringMethodOp(last); ok && len(segments) > 1 && p.check(TokenLParen) {
		attr := strings.Join(segments[:len(segments)-1], ".")
		return p.parseStringMethodCall(FieldRef{Kind: FieldAttribute, Key: attr}, op)
	}
	if p.isCompareToken(p.peek().Type) {
		return p.parseComparison(FieldRef{Kind: FieldAttribute, Key: tok.Lexeme})
	}
	return &CompareExpr{
		Field: FieldRef{Kind: FieldName},
		Op:    OpEqual,
		Value: Literal{Kind: LiteralString, Str: tok.Lexeme},
	}, nil
}

func (p *Parser) parseStringMethod(field FieldRef) (SpanExpr, *ParseError) {
	p.advance() // consume '.'
	name, err := p.expect(TokenIdentifier, "string method after '.'")
	if err != nil {
		return nil, err
	}
	op, ok := stringMethodOp(name.Lexeme)
	if !ok {
		return nil, newParseError(name.Line, name.Column,
			"unknown method %q, expected contains, startsWith or endsWith", name.Lexeme)
	}
	return p.parseStringMethodCall(field, op)
}

func (p *Parser) parseStringMethodCall(field FieldRef, op CompareOp) (SpanExpr, *ParseError) {
	if _, err := p.expect(TokenLParen, "'(' after string method"); err != nil {
		return nil, err
	}
	arg, err := p.expect(TokenString, "quoted string argument")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRParen, "')' after string argument"); err != nil {
		return nil, err
	}
	return &CompareExpr{
		Field: field,
		Op:    op,
		Value: Literal{Kind: LiteralString, Str: arg.Lexeme},
	}, nil
}

func (p *Parser) parseComparison(field FieldRef) (SpanExpr, *ParseError) {
	op, err := p.parseCompareOp()
	if err != nil {
		return nil, err
	}
	value, perr := p.parseLiteral()
	if perr != nil {
		return nil, perr
	}
	return &CompareExpr{Field: field, Op: op, Value: value}, nil
}

func (p *Parser) parseCompareOp() (CompareOp, *ParseError) {
	tok := p.peek()
	switch tok.Type {
	case TokenEqual:
		p.advance()
		return OpEqual, nil
	case TokenNotEqual:
		p.advance()
		return OpNotEqual, nil
	case TokenGreater:
		p.advance()
		return OpGreater, nil
	case TokenGreaterEqual:
		p.advance()
		return OpGreaterEqual, nil
	case TokenLess:
		p.advance()
		return OpLess, nil
	case TokenLessEqual:
		p.advance()
		return OpLessEqual, nil
	default:
		return 0, newParseError(tok.Line, tok.Column, "expected comparison operator, got %q", tok.Lexeme)
	}
}

func (p *Parser) parseLiteral() (Literal, *ParseError) {
	tok := p.peek()
	switch tok.Type {
	case TokenString:
		p.advance()
		return Literal{Kind: LiteralString, Str: tok.Lexeme}, nil
	case TokenNumber:
		p.advance()
		num, err := strconv.ParseFloat(tok.Lexeme, 64)
		if err != nil {
			return Literal{}, newParseError(tok.Line, tok.Column, "invalid number %q", tok.Lexeme)
		}
		return Literal{Kind: LiteralNumber, Num: num}, nil
	case TokenTrue:
		p.advance()
		return Literal{Kind: LiteralBool, Bool: true}, nil
	case TokenFalse:
		p.advance()
		return Literal{Kind: LiteralBool, Bool: false}, nil
	case TokenIdentifier:
		// Unquoted enum-like values (e.g. USD, premium).
		p.advance()
		return Literal{Kind: LiteralString, Str: tok.Lexeme}, nil
	default:
		return Literal{}, newParseError(tok.Line, tok.Column, "expected literal value, got %q", tok.Lexeme)
	}
}

func (p *Parser) parseNumber(what string) (float64, *ParseError) {
	tok, err := p.expect(TokenNumber, what)
	if err != nil {
		return 0, err
	}
	num, perr := strconv.ParseFloat(tok.Lexeme, 64)
	if perr != nil {
		return 0, newParseError(tok.Line, tok.Column, "invalid number %q", tok.Lexeme)
	}
	return num, nil
}

func stringMethodOp(name string) (CompareOp, bool) {
	switch name {
	case "contains":
		return OpContains, true
	case "startsWith":
		return OpStartsWith, true
	case "endsWith":
		return OpEndsWith, true
	default:
		return 0, false
	}
}

func (p *Parser) isCompareToken(t TokenType) bool {
	switch t {
	case TokenEqual, TokenNotEqual, TokenGreater, TokenGreaterEqual, TokenLess, TokenLessEqual:
		return true
	default:
		return false
	}
}

func (p *Parser) match(types ...TokenType) bool {
	for _, t := range types {
		if p.check(t) {
			p.advance()
			return true
		}
	}
	return false
}

func (p *Parser) check(t TokenType) bool {
	return p.peek().Type == t
}

func (p *Parser) checkIdentAt(offset int, lexeme string) bool {
	idx := p.current + offset
	if idx >= len(p.tokens) {
		return false
	}
	tok := p.tokens[idx]
	return tok.Type == TokenIdentifier && tok.Lexeme == lexeme
}

func (p *Parser) advance() Token {
	tok := p.peek()
	if p.current < len(p.tokens)-1 {
		p.current++
	}
	return tok
}

func (p *Parser) expect(t TokenType, what string) (Token, *ParseError) {
	tok := p.peek()
	if tok.Type != t {
		return Token{}, newParseError(tok.Line, tok.Column, "expected %s, got %q", what, tok.Lexeme)
	}
	p.advance()
	return tok, nil
}

func (p *Parser) peek() Token {
	if p.current >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.current]
}

func (p *Parser) isAtEnd() bool {
	return p.peek().Type == TokenEOF
}
