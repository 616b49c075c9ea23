package server

import "time"

// ViolationDTO represents one detected rule breach.
// @swagger:model ViolationDTO
type ViolationDTO struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	RuleID      string            `json:"rule_id"`
	RuleName    string            `json:"rule_name"`
	RuleVersion int               `json:"rule_version"`
	TraceID     string            `json:"trace_id"`
	Severity    string            `json:"severity"`
	Message     string            `json:"message"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Source      string            `json:"source"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ViolationsResponseDTO wraps the list of violations matching a query.
// @swagger:model ViolationsResponseDTO
type ViolationsResponseDTO struct {
	Violations []ViolationDTO `json:"violations"`
}

// ViolationCountDTO reports how many violations match a query.
// @swagger:model ViolationCountDTO
type ViolationCountDTO struct {
	Count int64 `json:"count"`
}
