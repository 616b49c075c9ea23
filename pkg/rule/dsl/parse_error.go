package dsl

import "fmt"

// ParseError describes the first offending token of a malformed rule.
// Line and Column are 1-based positions into the original source, suitable
// for highlighting the rule text in a management UI.
type ParseError struct {
	Line    int
	Column  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Line, e.Column, e.Message)
}

func newParseError(line, column int, format string, args ...interface{}) *ParseError {
	return &ParseError{
		Line:    line,
		Column:  column,
		Message: fmt.Sprintf(format, args...),
	}
}
