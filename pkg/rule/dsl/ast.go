package dsl

import (
	"fmt"
	"strconv"
)

// The AST is a closed set of node kinds. The evaluator is a total match over
// this set: there is no node that can reach host code, reflection or I/O, so
// a hostile rule can only express nonsense within the grammar.

// LogicOp is a logical combinator (and / or).
type LogicOp int

const (
	LogicAnd LogicOp = iota
	LogicOr
)

func (op LogicOp) String() string {
	if op == LogicAnd {
		return "and"
	}
	return "or"
}

// CompareOp is a comparison operator.
type CompareOp int

const (
	OpEqual CompareOp = iota
	OpNotEqual
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
	OpContains
	OpStartsWith
	OpEndsWith
)

func (op CompareOp) String() string {
	switch op {
	case OpEqual:
		return "=="
	case OpNotEqual:
		return "!="
	case OpGreater:
		return ">"
	case OpGreaterEqual:
		return ">="
	case OpLess:
		return "<"
	case OpLessEqual:
		return "<="
	case OpContains:
		return "contains"
	case OpStartsWith:
		return "startsWith"
	case OpEndsWith:
		return "endsWith"
	default:
		return "UNKNOWN"
	}
}

// Expr is a trace-level rule expression.
type Expr interface {
	expr()
	String() string
}

// BinaryExpr combines two trace-level expressions with and/or.
type BinaryExpr struct {
	Left  Expr
	Op    LogicOp
	Right Expr
}

func (b *BinaryExpr) expr() {}
func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}

// NotExpr negates a trace-level expression.
type NotExpr struct {
	Expr Expr
}

func (n *NotExpr) expr()          {}
func (n *NotExpr) String() string { return fmt.Sprintf("(not %s)", n.Expr) }

// HasExpr is trace.has(<span-predicate>), optionally narrowed by .where()
// suffixes that the parser folds into Pred with logical and.
type HasExpr struct {
	Pred SpanExpr
}

func (h *HasExpr) expr()          {}
func (h *HasExpr) String() string { return fmt.Sprintf("trace.has(%s)", h.Pred) }

// CountExpr is trace.spans.filter(<span-predicate>).length <cmp> <number>.
type CountExpr struct {
	Pred  SpanExpr
	Op    CompareOp
	Value float64
}

func (c *CountExpr) expr() {}
func (c *CountExpr) String() string {
	return fmt.Sprintf("trace.spans.filter(%s).length %s %s", c.Pred, c.Op, formatNumber(c.Value))
}

// DurationExpr is trace.duration_ms <cmp> <number>.
type DurationExpr struct {
	Op     CompareOp
	Millis float64
}

func (d *DurationExpr) expr() {}
func (d *DurationExpr) String() string {
	return fmt.Sprintf("trace.duration_ms %s %s", d.Op, formatNumber(d.Millis))
}

// SpanExpr is a predicate over a single span.
type SpanExpr interface {
	spanExpr()
	String() string
}

// SpanBinaryExpr combines two span predicates with and/or.
type SpanBinaryExpr struct {
	Left  SpanExpr
	Op    LogicOp
	Right SpanExpr
}

func (b *SpanBinaryExpr) spanExpr() {}
func (b *SpanBinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}

// SpanNotExpr negates a span predicate.
type SpanNotExpr struct {
	Pred SpanExpr
}

func (n *SpanNotExpr) spanExpr()      {}
func (n *SpanNotExpr) String() string { return fmt.Sprintf("(not %s)", n.Pred) }

// CompareExpr compares one span field against a literal.
type CompareExpr struct {
	Field FieldRef
	Op    CompareOp
	Value Literal
}

func (c *CompareExpr) spanExpr() {}
func (c *CompareExpr) String() string {
	switch c.Op {
	case OpContains, OpStartsWith, OpEndsWith:
		return fmt.Sprintf("%s.%s(%s)", c.Field, c.Op, c.Value)
	default:
		return fmt.Sprintf("%s %s %s", c.Field, c.Op, c.Value)
	}
}

// FieldKind selects which span field a predicate reads.
type FieldKind int

const (
	FieldName FieldKind = iota
	FieldService
	FieldStatus
	FieldAttribute
)

// FieldRef references a span field. Key is set only for FieldAttribute.
type FieldRef struct {
	Kind FieldKind
	Key  string
}

func (f FieldRef) String() string {
	switch f.Kind {
	case FieldName:
		return "span.name"
	case FieldService:
		return "span.service"
	case FieldStatus:
		return "span.status"
	case FieldAttribute:
		return fmt.Sprintf("span.attributes[%q]", f.Key)
	default:
		return "span.?"
	}
}

// LiteralKind is the type tag of a literal value.
type LiteralKind int

const (
	LiteralString LiteralKind = iota
	LiteralNumber
	LiteralBool
)

// Literal is a constant comparison operand.
type Literal struct {
	Kind LiteralKind
	Str  string
	Num  float64
	Bool bool
}

func (l Literal) String() string {
	switch l.Kind {
	case LiteralString:
		return strconv.Quote(l.Str)
	case LiteralNumber:
		return formatNumber(l.Num)
	case LiteralBool:
		return strconv.FormatBool(l.Bool)
	default:
		return "?"
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
