package model

import "time"

// Violation records that a rule's expected pattern was not observed in a
// trace. Created during a single trace evaluation; ownership transfers to the
// downstream sink immediately.
type Violation struct {
	ID          string            `json:"_id,omitempty"`
	TenantID    string            `json:"tenant_id"`
	RuleID      string            `json:"rule_id"`
	RuleName    string            `json:"rule_name"`
	RuleVersion int               `json:"rule_version"`
	TraceID     string            `json:"trace_id"`
	Severity    string            `json:"severity"`
	Message     string            `json:"message"`
	Attributes  map[string]string `json:"attributes"`
	Source      string            `json:"source"`
	CreatedAt   time.Time         `json:"created_at"`
}
