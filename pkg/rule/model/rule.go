package model

import (
	"fmt"

	"github.com/spanguard/spanguard/pkg/rule/dsl"
)

// Severity classifies how serious a rule breach is.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ParseSeverity validates a severity string. An empty severity defaults to
// MEDIUM.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), nil
	case "":
		return SeverityMedium, nil
	default:
		return "", fmt.Errorf("invalid severity %q: must be one of LOW, MEDIUM, HIGH, CRITICAL", s)
	}
}

// Definition is the authoring shape of a rule, as received from the
// management collaborator. Source is uncompiled DSL text.
type Definition struct {
	Name        string
	Source      string
	Description string
	Severity    Severity
}

// Rule is a compiled rule. It is immutable once compiled and is replaced
// wholesale on update, never mutated in place, so it may be shared read-only
// across goroutines.
type Rule struct {
	ID          string
	Name        string
	Description string
	Severity    Severity
	Version     int
	Expression  dsl.Expr
}
