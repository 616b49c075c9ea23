package service

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/spanguard/spanguard/pkg/elasticsearch/bootstrapper"
	"github.com/spanguard/spanguard/pkg/event_bus"
	"github.com/spanguard/spanguard/pkg/violation/model"
	"github.com/spanguard/spanguard/pkg/write_buffer"
)

// ElasticsearchWriter subscribes to the violation topic and batches violations
// into the violation index through the write buffer.
type ElasticsearchWriter struct {
	buffer write_buffer.DatabaseWriteBuffer[model.Violation]
	logger *zap.Logger
}

func NewElasticsearchWriter(
	buffer write_buffer.DatabaseWriteBuffer[model.Violation],
	logger *zap.Logger,
) *ElasticsearchWriter {
	return &ElasticsearchWriter{
		buffer: buffer,
		logger: logger,
	}
}

// SubscribeTo registers the writer on the violation topic.
func (w *ElasticsearchWriter) SubscribeTo(
	bus event_bus.EngineEventBus[model.Violation, model.Violation],
) error {
	err := bus.Subscribe(event_bus.TopicViolations, w.handle, false)
	if err != nil {
		return fmt.Errorf("failed to subscribe violation writer: %w", err)
	}
	return nil
}

// Flush drains the write buffer. Called on shutdown.
func (w *ElasticsearchWriter) Flush() error {
	return w.buffer.Flush()
}

func (w *ElasticsearchWriter) handle(v model.Violation) error {
	w.buffer.WriteToBuffer([]model.Violation{v})
	w.logger.Debug("Buffered violation for indexing",
		zap.String("tenant_id", v.TenantID),
		zap.String("rule_id", v.RuleID),
		zap.String("trace_id", v.TraceID),
		zap.String("index", bootstrapper.ViolationIndexName),
	)
	return nil
}
