package model

import "time"

// Span is one timed operation within a trace. Spans are immutable once
// constructed; the trace buffer that holds them is the owner.
type Span struct {
	SpanID        string            `json:"span_id"`
	TraceID       string            `json:"trace_id"`
	ParentSpanID  string            `json:"parent_span_id"`
	OperationName string            `json:"operation_name"`
	ServiceName   string            `json:"service_name"`
	Status        string            `json:"status"`
	StartTime     time.Time         `json:"start_time"`
	EndTime       time.Time         `json:"end_time"`
	Attributes    map[string]string `json:"attributes"`
}

// IsRoot reports whether the span has no parent. The pipeline treats a root
// span as a heuristic signal that its trace is structurally complete.
func (s Span) IsRoot() bool {
	return s.ParentSpanID == ""
}

// Duration computes the widest span-time envelope (max end time minus min
// start time) across the given spans. A trace with no spans has zero duration.
func Duration(spans []Span) time.Duration {
	if len(spans) == 0 {
		return 0
	}
	minStart := spans[0].StartTime
	maxEnd := spans[0].EndTime
	for _, span := range spans[1:] {
		if span.StartTime.Before(minStart) {
			minStart = span.StartTime
		}
		if span.EndTime.After(maxEnd) {
			maxEnd = span.EndTime
		}
	}
	if maxEnd.Before(minStart) {
		return 0
	}
	return maxEnd.Sub(minStart)
}
