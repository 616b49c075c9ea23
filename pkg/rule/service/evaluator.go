package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spanguard/spanguard/pkg/rule/dsl"
	rulemodel "github.com/spanguard/spanguard/pkg/rule/model"
	tracemodel "github.com/spanguard/spanguard/pkg/trace/model"
	violationmodel "github.com/spanguard/spanguard/pkg/violation/model"
)

// ViolationSource tags violations emitted by this engine.
const ViolationSource = "rule-engine"

// Resource limits bound a single evaluation. An AST cannot loop (the parser
// only builds trees), so the limits cap recursion depth and input size.
const (
	maxExprDepth          = 100
	maxSpansPerEvaluation = 100_000
	cancelCheckInterval   = 1024
)

var (
	ErrDepthExceeded = errors.New("expression depth exceeds maximum")
	ErrTooManySpans  = errors.New("span count exceeds maximum per evaluation")
)

// Evaluator walks rule ASTs against buffered trace data. The walk is a total
// match over the closed AST node set: no reflection, no I/O, no access to
// anything outside the supplied spans and the AST itself. Its only observable
// effect is appending to the RuleContext it is given.
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate evaluates a single expression against a trace snapshot. It honours
// ctx cancellation cooperatively: the walk checks the context periodically and
// aborts with the context's error.
func (e *Evaluator) Evaluate(ctx context.Context, expr dsl.Expr, spans []tracemodel.Span) (bool, error) {
	rctx := NewRuleContext("", "", spans)
	return e.evaluate(ctx, expr, rctx)
}

// EvaluateAll evaluates every rule against the trace held by rctx, recording
// one violation per rule whose expected pattern is not observed. A fault in
// one rule is contained: it is recorded on rctx and the pass continues.
// Context cancellation aborts the whole pass; the caller is expected to
// discard rctx in that case so no partial violation list escapes.
func (e *Evaluator) EvaluateAll(ctx context.Context, rules map[string]*rulemodel.Rule, rctx *RuleContext) error {
	if len(rules) == 0 || len(rctx.spans) == 0 {
		return nil
	}

	for ruleID, rule := range rules {
		satisfied, err := e.evaluate(ctx, rule.Expression, rctx)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			rctx.recordFault(ruleID, err)
			continue
		}
		if satisfied {
			continue
		}
		rctx.recordViolation(violationmodel.Violation{
			TenantID:    rctx.TenantID,
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			RuleVersion: rule.Version,
			TraceID:     rctx.TraceID,
			Severity:    string(rule.Severity),
			Message:     violationMessage(rule),
			Attributes: map[string]string{
				"span_count":      strconv.Itoa(len(rctx.spans)),
				"rule_expression": rule.Expression.String(),
			},
			Source: ViolationSource,
		})
	}
	return nil
}

func violationMessage(rule *rulemodel.Rule) string {
	if rule.Description != "" {
		return fmt.Sprintf("rule %q not satisfied: %s", rule.Name, rule.Description)
	}
	return fmt.Sprintf("rule %q not satisfied", rule.Name)
}

func (e *Evaluator) evaluate(ctx context.Context, expr dsl.Expr, rctx *RuleContext) (bool, error) {
	if expr == nil {
		return false, errors.New("nil expression")
	}
	if len(rctx.spans) > maxSpansPerEvaluation {
		return false, fmt.Errorf("%w: %d spans", ErrTooManySpans, len(rctx.spans))
	}
	w := &walker{ctx: ctx, rctx: rctx}
	return w.evalExpr(expr, 0)
}

type walker struct {
	ctx  context.Context
	rctx *RuleContext
	ops  int
}

func (w *walker) checkCancelled() error {
	w.ops++
	if w.ops%cancelCheckInterval != 0 {
		return nil
	}
	if err := w.ctx.Err(); err != nil {
		return fmt.Errorf("evaluation cancelled: %w", err)
	}
	return nil
}

func (w *walker) evalExpr(expr dsl.Expr, depth int) (bool, error) {
	if depth > maxExprDepth {
		return false, ErrDepthExceeded
	}
	if err := w.checkCancelled(); err != nil {
		return false, err
	}

	switch node := expr.(type) {
	case *dsl.BinaryExpr:
		left, err := w.evalExpr(node.Left, depth+1)
		if err != nil {
			return false, err
		}
		// Short-circuit.
		if node.Op == dsl.LogicAnd && !left {
			return false, nil
		}
		if node.Op == dsl.LogicOr && left {
			return true, nil
		}
		return w.evalExpr(node.Right, depth+1)

	case *dsl.NotExpr:
		inner, err := w.evalExpr(node.Expr, depth+1)
		if err != nil {
			return false, err
		}
		return !inner, nil

	case *dsl.HasExpr:
		return w.evalHas(node, depth)

	case *dsl.CountExpr:
		count, err := w.countMatches(node.Pred, depth)
		if err != nil {
			return false, err
		}
		return compareNumbers(float64(count), node.Value, node.Op)

	case *dsl.DurationExpr:
		millis := float64(tracemodel.Duration(w.rctx.spans).Milliseconds())
		return compareNumbers(millis, node.Millis, node.Op)

	default:
		return false, fmt.Errorf("unsupported expression node %T", expr)
	}
}

func (w *walker) evalHas(node *dsl.HasExpr, depth int) (bool, error) {
	if idxs, ok := w.indexedMatches(node.Pred); ok {
		return len(idxs) > 0, nil
	}
	for i := range w.rctx.spans {
		if err := w.checkCancelled(); err != nil {
			return false, err
		}
		match, err := w.evalSpanPred(node.Pred, &w.rctx.spans[i], depth+1)
		if err != nil {
			return false, err
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

func (w *walker) countMatches(pred dsl.SpanExpr, depth int) (int, error) {
	if idxs, ok := w.indexedMatches(pred); ok {
		return len(idxs), nil
	}
	count := 0
	for i := range w.rctx.spans {
		if err := w.checkCancelled(); err != nil {
			return 0, err
		}
		match, err := w.evalSpanPred(pred, &w.rctx.spans[i], depth+1)
		if err != nil {
			return 0, err
		}
		if match {
			count++
		}
	}
	return count, nil
}

// indexedMatches resolves simple equality predicates through the context's
// prebuilt indexes so repeated rules over the same trace skip the span scan.
func (w *walker) indexedMatches(pred dsl.SpanExpr) ([]int, bool) {
	ce, ok := pred.(*dsl.CompareExpr)
	if !ok || ce.Op != dsl.OpEqual || ce.Value.Kind != dsl.LiteralString {
		return nil, false
	}
	switch ce.Field.Kind {
	case dsl.FieldName:
		return w.rctx.spansNamed(ce.Value.Str), true
	case dsl.FieldService:
		return w.rctx.spansFromService(ce.Value.Str), true
	default:
		return nil, false
	}
}

func (w *walker) evalSpanPred(pred dsl.SpanExpr, span *tracemodel.Span, depth int) (bool, error) {
	if depth > maxExprDepth {
		return false, ErrDepthExceeded
	}

	switch node := pred.(type) {
	case *dsl.SpanBinaryExpr:
		left, err := w.evalSpanPred(node.Left, span, depth+1)
		if err != nil {
			return false, err
		}
		if node.Op == dsl.LogicAnd && !left {
			return false, nil
		}
		if node.Op == dsl.LogicOr && left {
			return true, nil
		}
		return w.evalSpanPred(node.Right, span, depth+1)

	case *dsl.SpanNotExpr:
		inner, err := w.evalSpanPred(node.Pred, span, depth+1)
		if err != nil {
			return false, err
		}
		return !inner, nil

	case *dsl.CompareExpr:
		return evalCompare(node, span), nil

	default:
		return false, fmt.Errorf("unsupported span predicate node %T", pred)
	}
}

// evalCompare compares one span field against a literal. An absent attribute
// is the designated missing value: every comparison against it is false, so a
// rule referencing an unknown key degrades to "not satisfied" rather than
// failing.
func evalCompare(node *dsl.CompareExpr, span *tracemodel.Span) bool {
	actual, present := fieldValue(node.Field, span)
	if !present {
		return false
	}

	switch node.Value.Kind {
	case dsl.LiteralNumber:
		num, numeric := parseNumber(actual)
		switch node.Op {
		case dsl.OpEqual:
			return numeric && num == node.Value.Num
		case dsl.OpNotEqual:
			return !numeric || num != node.Value.Num
		default:
			if !numeric {
				return false
			}
			ok, _ := compareNumbers(num, node.Value.Num, node.Op)
			return ok
		}

	case dsl.LiteralBool:
		b, err := strconv.ParseBool(actual)
		switch node.Op {
		case dsl.OpEqual:
			return err == nil && b == node.Value.Bool
		case dsl.OpNotEqual:
			return err != nil || b != node.Value.Bool
		default:
			return false
		}

	default: // string literal
		expected := node.Value.Str
		switch node.Op {
		case dsl.OpEqual:
			return actual == expected
		case dsl.OpNotEqual:
			return actual != expected
		case dsl.OpContains:
			return strings.Contains(actual, expected)
		case dsl.OpStartsWith:
			return strings.HasPrefix(actual, expected)
		case dsl.OpEndsWith:
			return strings.HasSuffix(actual, expected)
		default:
			// Ordering: numeric when both sides parse as numbers,
			// lexicographic otherwise.
			if a, aok := parseNumber(actual); aok {
				if b, bok := parseNumber(expected); bok {
					ok, _ := compareNumbers(a, b, node.Op)
					return ok
				}
			}
			ok, _ := compareOrdering(strings.Compare(actual, expected), node.Op)
			return ok
		}
	}
}

func fieldValue(field dsl.FieldRef, span *tracemodel.Span) (string, bool) {
	switch field.Kind {
	case dsl.FieldName:
		return span.OperationName, true
	case dsl.FieldService:
		return span.ServiceName, true
	case dsl.FieldStatus:
		return span.Status, true
	case dsl.FieldAttribute:
		val, ok := span.Attributes[field.Key]
		return val, ok
	default:
		return "", false
	}
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func compareNumbers(a, b float64, op dsl.CompareOp) (bool, error) {
	switch op {
	case dsl.OpEqual:
		return a == b, nil
	case dsl.OpNotEqual:
		return a != b, nil
	case dsl.OpGreater:
		return a > b, nil
	case dsl.OpGreaterEqual:
		return a >= b, nil
	case dsl.OpLess:
		return a < b, nil
	case dsl.OpLessEqual:
		return a <= b, nil
	default:
		return false, fmt.Errorf("operator %s is not a numeric comparison", op)
	}
}

func compareOrdering(cmp int, op dsl.CompareOp) (bool, error) {
	switch op {
	case dsl.OpGreater:
		return cmp > 0, nil
	case dsl.OpGreaterEqual:
		return cmp >= 0, nil
	case dsl.OpLess:
		return cmp < 0, nil
	case dsl.OpLessEqual:
		return cmp <= 0, nil
	default:
		return false, fmt.Errorf("operator %s is not an ordering comparison", op)
	}
}
