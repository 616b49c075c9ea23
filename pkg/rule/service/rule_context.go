package service

import (
	tracemodel "github.com/spanguard/spanguard/pkg/trace/model"
	violationmodel "github.com/spanguard/spanguard/pkg/violation/model"
)

// RuleContext carries the state of one multi-rule evaluation pass over a
// single trace. It collects violations and faults, and caches derived lookups
// (a span-by-name and span-by-service index) so they are computed once per
// trace instead of once per rule.
type RuleContext struct {
	TenantID string
	TraceID  string

	spans     []tracemodel.Span
	byName    map[string][]int
	byService map[string][]int

	violations []violationmodel.Violation
	faults     []RuleFault
}

// RuleFault records a per-rule evaluation failure that was contained within
// the pass. The pass continues with the remaining rules.
type RuleFault struct {
	RuleID string
	Err    error
}

// NewRuleContext creates a context for evaluating one trace's spans.
func NewRuleContext(tenantID, traceID string, spans []tracemodel.Span) *RuleContext {
	return &RuleContext{
		TenantID: tenantID,
		TraceID:  traceID,
		spans:    spans,
	}
}

// Spans returns the trace snapshot under evaluation.
func (c *RuleContext) Spans() []tracemodel.Span {
	return c.spans
}

// Violations returns the violations recorded so far.
func (c *RuleContext) Violations() []violationmodel.Violation {
	return c.violations
}

// Faults returns the contained per-rule failures recorded so far.
func (c *RuleContext) Faults() []RuleFault {
	return c.faults
}

func (c *RuleContext) recordViolation(v violationmodel.Violation) {
	c.violations = append(c.violations, v)
}

func (c *RuleContext) recordFault(ruleID string, err error) {
	c.faults = append(c.faults, RuleFault{RuleID: ruleID, Err: err})
}

// spansNamed returns the indexes of spans whose operation name equals name,
// building the name index on first use.
func (c *RuleContext) spansNamed(name string) []int {
	if c.byName == nil {
		c.byName = make(map[string][]int, len(c.spans))
		for i, span := range c.spans {
			c.byName[span.OperationName] = append(c.byName[span.OperationName], i)
		}
	}
	return c.byName[name]
}

// spansFromService returns the indexes of spans from the named service,
// building the service index on first use.
func (c *RuleContext) spansFromService(service string) []int {
	if c.byService == nil {
		c.byService = make(map[string][]int, len(c.spans))
		for i, span := range c.spans {
			c.byService[span.ServiceName] = append(c.byService[span.ServiceName], i)
		}
	}
	return c.byService[service]
}
