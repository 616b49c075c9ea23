package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spanguard/spanguard/pkg/rule/dsl"
	rulemodel "github.com/spanguard/spanguard/pkg/rule/model"
	tracemodel "github.com/spanguard/spanguard/pkg/trace/model"
)

func mustParse(t *testing.T, source string) dsl.Expr {
	t.Helper()
	expr, err := dsl.Parse(source)
	assert.NoError(t, err)
	return expr
}

func span(name, service, status string, attrs map[string]string) tracemodel.Span {
	return tracemodel.Span{
		SpanID:        name + "-id",
		TraceID:       "trace-1",
		OperationName: name,
		ServiceName:   service,
		Status:        status,
		Attributes:    attrs,
	}
}

func TestEvaluatorEvaluate(t *testing.T) {
	evaluator := NewEvaluator()
	ctx := context.Background()

	paymentTrace := []tracemodel.Span{
		span("payment.charge_card", "payment", "ok", map[string]string{"amount": "250", "currency": "USD"}),
		span("fraud.check_transaction", "fraud", "ok", nil),
	}

	t.Run("Has is true when a span with the name exists", func(t *testing.T) {
		result, err := evaluator.Evaluate(ctx, mustParse(t, "trace.has(payment.charge_card)"), paymentTrace)
		assert.NoError(t, err)
		assert.True(t, result)
	})

	t.Run("Has is false when no span matches", func(t *testing.T) {
		result, err := evaluator.Evaluate(ctx, mustParse(t, "trace.has(payment.refund)"), paymentTrace)
		assert.NoError(t, err)
		assert.False(t, result)
	})

	t.Run("Where clauses narrow the has predicate", func(t *testing.T) {
		result, err := evaluator.Evaluate(ctx,
			mustParse(t, "trace.has(payment.charge_card).where(amount > 100).where(currency == USD)"), paymentTrace)
		assert.NoError(t, err)
		assert.True(t, result)

		result, err = evaluator.Evaluate(ctx,
			mustParse(t, "trace.has(payment.charge_card).where(amount > 1000)"), paymentTrace)
		assert.NoError(t, err)
		assert.False(t, result)
	})

	t.Run("Filter length counts matching spans", func(t *testing.T) {
		spans := []tracemodel.Span{
			span("a", "svc", "error", nil),
			span("b", "svc", "error", nil),
			span("c", "svc", "ok", nil),
		}
		result, err := evaluator.Evaluate(ctx,
			mustParse(t, `trace.spans.filter(span.status == "error").length == 2`), spans)
		assert.NoError(t, err)
		assert.True(t, result)
	})

	t.Run("Duration spans min start to max end across all spans", func(t *testing.T) {
		base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		spans := []tracemodel.Span{
			{OperationName: "a", StartTime: base, EndTime: base.Add(100 * time.Millisecond)},
			{OperationName: "b", StartTime: base.Add(50 * time.Millisecond), EndTime: base.Add(200 * time.Millisecond)},
		}
		result, err := evaluator.Evaluate(ctx, mustParse(t, "trace.duration_ms == 200"), spans)
		assert.NoError(t, err)
		assert.True(t, result)
	})

	t.Run("Missing attribute fails every comparison without an error", func(t *testing.T) {
		spans := []tracemodel.Span{span("checkout", "shop", "ok", nil)}
		for _, source := range []string{
			`trace.has(span.attributes["amount"] > 10)`,
			`trace.has(span.attributes["amount"] == "x")`,
			`trace.has(span.attributes["amount"] != "x")`,
		} {
			result, err := evaluator.Evaluate(ctx, mustParse(t, source), spans)
			assert.NoError(t, err, "source: %s", source)
			assert.False(t, result, "source: %s", source)
		}
	})

	t.Run("Numeric comparison parses attribute strings as numbers", func(t *testing.T) {
		spans := []tracemodel.Span{span("req", "api", "ok", map[string]string{"http.status_code": "503"})}
		result, err := evaluator.Evaluate(ctx,
			mustParse(t, `trace.has(span.attributes["http.status_code"] >= 500)`), spans)
		assert.NoError(t, err)
		assert.True(t, result)
	})

	t.Run("Not equal against a number is true for unparseable present values", func(t *testing.T) {
		spans := []tracemodel.Span{span("req", "api", "ok", map[string]string{"amount": "lots"})}
		result, err := evaluator.Evaluate(ctx,
			mustParse(t, `trace.has(span.attributes["amount"] != 100)`), spans)
		assert.NoError(t, err)
		assert.True(t, result)
	})

	t.Run("String methods evaluate against field values", func(t *testing.T) {
		spans := []tracemodel.Span{span("db.query.users", "db", "ok", map[string]string{"sql.query": "SELECT * FROM users"})}
		result, err := evaluator.Evaluate(ctx,
			mustParse(t, `trace.has(span.name.startsWith("db.") and span.attributes["sql.query"].contains("SELECT"))`), spans)
		assert.NoError(t, err)
		assert.True(t, result)
	})

	t.Run("Logical operators short-circuit", func(t *testing.T) {
		// The right operand would overflow the depth limit if evaluated.
		deep := mustParse(t, "trace.has(a)")
		for i := 0; i < maxExprDepth+10; i++ {
			deep = &dsl.NotExpr{Expr: deep}
		}
		expr := &dsl.BinaryExpr{
			Left:  mustParse(t, "trace.has(payment.charge_card)"),
			Op:    dsl.LogicOr,
			Right: deep,
		}
		result, err := evaluator.Evaluate(ctx, expr, paymentTrace)
		assert.NoError(t, err)
		assert.True(t, result)
	})

	t.Run("Depth limit aborts pathological expressions", func(t *testing.T) {
		deep := mustParse(t, "trace.has(a)")
		for i := 0; i < maxExprDepth+10; i++ {
			deep = &dsl.NotExpr{Expr: deep}
		}
		_, err := evaluator.Evaluate(ctx, deep, paymentTrace)
		assert.ErrorIs(t, err, ErrDepthExceeded)
	})

	t.Run("Span limit rejects oversized traces", func(t *testing.T) {
		spans := make([]tracemodel.Span, maxSpansPerEvaluation+1)
		_, err := evaluator.Evaluate(ctx, mustParse(t, "trace.has(a)"), spans)
		assert.ErrorIs(t, err, ErrTooManySpans)
	})

	t.Run("Empty trace has zero duration", func(t *testing.T) {
		result, err := evaluator.Evaluate(ctx, mustParse(t, "trace.duration_ms == 0"), nil)
		assert.NoError(t, err)
		assert.True(t, result)
	})
}

func TestEvaluatorEvaluateAll(t *testing.T) {
	evaluator := NewEvaluator()
	ctx := context.Background()

	chargeOnly := []tracemodel.Span{
		span("payment.charge_card", "payment", "ok", map[string]string{"amount": "250"}),
	}

	fraudRule := &rulemodel.Rule{
		ID:       "rule-fraud",
		Name:     "fraud-check-before-charge",
		Severity: rulemodel.SeverityHigh,
		Version:  1,
		Expression: mustParse(t,
			"not trace.has(payment.charge_card) or trace.has(fraud.check_transaction)"),
	}

	t.Run("Records a violation when a rule is not satisfied", func(t *testing.T) {
		rctx := NewRuleContext("tenant-a", "trace-1", chargeOnly)
		err := evaluator.EvaluateAll(ctx, map[string]*rulemodel.Rule{"rule-fraud": fraudRule}, rctx)
		assert.NoError(t, err)
		violations := rctx.Violations()
		assert.Len(t, violations, 1)
		v := violations[0]
		assert.Equal(t, "tenant-a", v.TenantID)
		assert.Equal(t, "trace-1", v.TraceID)
		assert.Equal(t, "rule-fraud", v.RuleID)
		assert.Equal(t, "fraud-check-before-charge", v.RuleName)
		assert.Equal(t, string(rulemodel.SeverityHigh), v.Severity)
		assert.Equal(t, ViolationSource, v.Source)
		assert.Equal(t, "1", v.Attributes["span_count"])
		assert.NotEmpty(t, v.Attributes["rule_expression"])
	})

	t.Run("Records nothing when the rule is satisfied", func(t *testing.T) {
		spans := append([]tracemodel.Span{}, chargeOnly...)
		spans = append(spans, span("fraud.check_transaction", "fraud", "ok", nil))
		rctx := NewRuleContext("tenant-a", "trace-1", spans)
		err := evaluator.EvaluateAll(ctx, map[string]*rulemodel.Rule{"rule-fraud": fraudRule}, rctx)
		assert.NoError(t, err)
		assert.Empty(t, rctx.Violations())
	})

	t.Run("Contains a faulty rule and keeps evaluating the rest", func(t *testing.T) {
		deep := mustParse(t, "trace.has(a)")
		for i := 0; i < maxExprDepth+10; i++ {
			deep = &dsl.NotExpr{Expr: deep}
		}
		rules := map[string]*rulemodel.Rule{
			"rule-bad":   {ID: "rule-bad", Name: "bad", Expression: deep, Severity: rulemodel.SeverityLow},
			"rule-fraud": fraudRule,
		}
		rctx := NewRuleContext("tenant-a", "trace-1", chargeOnly)
		err := evaluator.EvaluateAll(ctx, rules, rctx)
		assert.NoError(t, err)
		assert.Len(t, rctx.Faults(), 1)
		assert.Equal(t, "rule-bad", rctx.Faults()[0].RuleID)
		assert.Len(t, rctx.Violations(), 1)
	})

	t.Run("Aborts the whole pass when the context is cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		spans := make([]tracemodel.Span, 0, 4096)
		for i := 0; i < 4096; i++ {
			spans = append(spans, span("bulk", "svc", "ok", nil))
		}
		rules := map[string]*rulemodel.Rule{
			"rule-scan": {
				ID:         "rule-scan",
				Name:       "scan",
				Expression: mustParse(t, `trace.has(span.attributes["x"] == "y")`),
			},
		}
		rctx := NewRuleContext("tenant-a", "trace-1", spans)
		err := evaluator.EvaluateAll(cancelled, rules, rctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("No rules means no work and no violations", func(t *testing.T) {
		rctx := NewRuleContext("tenant-a", "trace-1", chargeOnly)
		err := evaluator.EvaluateAll(ctx, nil, rctx)
		assert.NoError(t, err)
		assert.Empty(t, rctx.Violations())
	})
}
