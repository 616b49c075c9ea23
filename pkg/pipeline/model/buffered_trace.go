package model

import (
	"time"

	tracemodel "github.com/spanguard/spanguard/pkg/trace/model"
)

// BufferedTrace is one trace's spans accumulated across ingestion batches,
// waiting until the trace is complete or stale enough to evaluate.
type BufferedTrace struct {
	TenantID   string
	TraceID    string
	Spans      []tracemodel.Span
	LastUpdate time.Time

	// Deadline caps evaluation of this trace when set. Stale traces evicted
	// together share one batch deadline; zero means only the per-trace
	// timeout applies.
	Deadline time.Time
}

// HasRoot reports whether a root span has arrived. A buffered trace with a
// root is treated as complete and handed to evaluation immediately.
func (bt *BufferedTrace) HasRoot() bool {
	for i := range bt.Spans {
		if bt.Spans[i].IsRoot() {
			return true
		}
	}
	return false
}
