package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/spanguard/spanguard/pkg/metrics"
	rulemodel "github.com/spanguard/spanguard/pkg/rule/model"
	"github.com/spanguard/spanguard/pkg/rule/registry"
	ruleservice "github.com/spanguard/spanguard/pkg/rule/service"
	tracemodel "github.com/spanguard/spanguard/pkg/trace/model"
	violationservice "github.com/spanguard/spanguard/pkg/violation/service"
)

func newTestPipeline(t *testing.T) (*EnginePipeline, *capturingBus, *registry.TenantRegistry) {
	t.Helper()
	logger := zap.NewNop()
	reg := registry.NewTenantRegistry(logger)
	bus := &capturingBus{}
	store := violationservice.NewMemoryStore(100, logger)
	em := metrics.NewEngineMetrics(prometheus.NewRegistry())
	evalService := NewEvaluationService(
		reg, ruleservice.NewEvaluator(), bus, store, em, 2, 64, time.Second, logger)
	pipeline, err := NewEnginePipeline(
		NewTraceBuffer(4, logger), evalService, em, "@every 1s", 50*time.Millisecond, time.Second, time.Minute, logger)
	assert.NoError(t, err)
	return pipeline, bus, reg
}

func TestEnginePipeline(t *testing.T) {
	rootSpan := tracemodel.Span{SpanID: "root", TraceID: "trace-1", OperationName: "payment.charge_card"}
	childSpan := tracemodel.Span{
		SpanID: "child", TraceID: "trace-1", ParentSpanID: "root", OperationName: "db.query",
	}

	failingRule := rulemodel.Definition{
		Name:   "requires-fraud-check",
		Source: "trace.has(fraud.check_transaction)",
	}

	t.Run("A completed trace flows through to a violation", func(t *testing.T) {
		pipeline, bus, reg := newTestPipeline(t)
		_, err := reg.AddRule("tenant-a", failingRule)
		assert.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		assert.NoError(t, pipeline.Start(ctx))
		defer func() {
			cancel()
			pipeline.Stop()
		}()

		pipeline.Ingest("tenant-a", map[string][]tracemodel.Span{
			"trace-1": {rootSpan, childSpan},
		})

		assert.Eventually(t, func() bool {
			return len(bus.violations()) == 1
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, "trace-1", bus.violations()[0].TraceID)
	})

	t.Run("Spans without a tenant are never buffered", func(t *testing.T) {
		pipeline, _, _ := newTestPipeline(t)
		pipeline.Ingest("", map[string][]tracemodel.Span{"trace-1": {rootSpan}})
		assert.Equal(t, 0, pipeline.buffer.Len())
	})

	t.Run("A rootless trace waits for the staleness sweep", func(t *testing.T) {
		pipeline, bus, reg := newTestPipeline(t)
		_, err := reg.AddRule("tenant-a", failingRule)
		assert.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pipeline.evalService.Start(ctx)

		pipeline.Ingest("tenant-a", map[string][]tracemodel.Span{"trace-1": {childSpan}})
		assert.Empty(t, bus.violations())
		assert.Equal(t, 1, pipeline.buffer.Len())

		time.Sleep(60 * time.Millisecond)
		pipeline.sweep()

		assert.Eventually(t, func() bool {
			return len(bus.violations()) == 1
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, 0, pipeline.buffer.Len())
	})

	t.Run("Late spans for an evaluated trace are dropped", func(t *testing.T) {
		pipeline, _, reg := newTestPipeline(t)
		_, err := reg.AddRule("tenant-a", failingRule)
		assert.NoError(t, err)

		pipeline.Ingest("tenant-a", map[string][]tracemodel.Span{"trace-1": {rootSpan}})
		assert.Equal(t, 0, pipeline.buffer.Len())

		// Ristretto applies sets asynchronously.
		pipeline.evaluated.Wait()

		pipeline.Ingest("tenant-a", map[string][]tracemodel.Span{"trace-1": {childSpan}})
		assert.Equal(t, 0, pipeline.buffer.Len())
	})

	t.Run("Tenants do not share the late arrival guard", func(t *testing.T) {
		pipeline, _, _ := newTestPipeline(t)
		pipeline.dispatch("tenant-a", "trace-1")
		pipeline.evaluated.Wait()

		pipeline.Ingest("tenant-b", map[string][]tracemodel.Span{"trace-1": {childSpan}})
		assert.Equal(t, 1, pipeline.buffer.Len())
	})
}
