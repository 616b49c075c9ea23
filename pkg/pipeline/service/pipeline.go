package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spanguard/spanguard/pkg/metrics"
	tracemodel "github.com/spanguard/spanguard/pkg/trace/model"
)

const (
	evaluatedCacheCounters = 1_000_000
	evaluatedCacheMaxCost  = 100_000
	evaluatedCacheBuffers  = 64
)

// EnginePipeline ties ingestion to evaluation. Spans arrive in tenant-tagged
// batches, buffer per trace, and are evaluated when the trace completes or a
// periodic sweep finds it stale. Evaluated trace IDs are remembered for a TTL
// so spans that straggle in afterwards are dropped instead of forming a
// phantom second trace.
type EnginePipeline struct {
	buffer      *TraceBuffer
	evalService *EvaluationService
	evaluated   *ristretto.Cache
	metrics     *metrics.EngineMetrics
	logger      *zap.Logger

	cron          *cron.Cron
	sweepSchedule string
	staleness     time.Duration
	batchTimeout  time.Duration
	evaluatedTTL  time.Duration
}

func NewEnginePipeline(
	buffer *TraceBuffer,
	evalService *EvaluationService,
	engineMetrics *metrics.EngineMetrics,
	sweepSchedule string,
	staleness time.Duration,
	batchTimeout time.Duration,
	evaluatedTTL time.Duration,
	logger *zap.Logger,
) (*EnginePipeline, error) {
	evaluated, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: evaluatedCacheCounters,
		MaxCost:     evaluatedCacheMaxCost,
		BufferItems: evaluatedCacheBuffers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluated trace cache: %w", err)
	}
	return &EnginePipeline{
		buffer:        buffer,
		evalService:   evalService,
		evaluated:     evaluated,
		metrics:       engineMetrics,
		logger:        logger,
		cron:          cron.New(),
		sweepSchedule: sweepSchedule,
		staleness:     staleness,
		batchTimeout:  batchTimeout,
		evaluatedTTL:  evaluatedTTL,
	}, nil
}

// Start launches the evaluation workers and the staleness sweep.
func (p *EnginePipeline) Start(ctx context.Context) error {
	p.evalService.Start(ctx)
	if _, err := p.cron.AddFunc(p.sweepSchedule, p.sweep); err != nil {
		return fmt.Errorf("failed to schedule staleness sweep: %w", err)
	}
	p.cron.Start()
	return nil
}

// Stop halts the sweep and waits for in-flight evaluations. The workers
// themselves exit when the context passed to Start is cancelled.
func (p *EnginePipeline) Stop() {
	stopCtx := p.cron.Stop()
	<-stopCtx.Done()
	p.evalService.Wait()
}

// Ingest buffers one tenant's spans, grouped by trace ID. Spans without a
// tenant never reach a buffer, and spans for traces that were already
// evaluated within the TTL are dropped as late arrivals.
func (p *EnginePipeline) Ingest(tenantID string, spansByTrace map[string][]tracemodel.Span) {
	now := time.Now()
	for traceID, spans := range spansByTrace {
		if len(spans) == 0 {
			continue
		}
		if tenantID == "" {
			p.metrics.RecordDroppedSpans(metrics.DropReasonMissingTenant, len(spans))
			p.logger.Warn("Dropping spans without a tenant",
				zap.String("trace_id", traceID),
				zap.Int("span_count", len(spans)),
			)
			continue
		}
		if _, found := p.evaluated.Get(evaluatedKey(tenantID, traceID)); found {
			p.metrics.RecordDroppedSpans(metrics.DropReasonLateArrival, len(spans))
			p.logger.Debug("Dropping late spans for evaluated trace",
				zap.String("tenant_id", tenantID),
				zap.String("trace_id", traceID),
				zap.Int("span_count", len(spans)),
			)
			continue
		}

		if complete := p.buffer.Append(tenantID, traceID, spans, now); complete != nil {
			p.dispatch(complete.TenantID, complete.TraceID)
			p.evalService.Submit(complete)
		}
	}
	p.metrics.SetBufferedTraces(p.buffer.Len())
}

// sweep hands every stale trace to evaluation. The whole batch shares one
// deadline so a sweep full of slow traces cannot occupy the workers
// indefinitely.
func (p *EnginePipeline) sweep() {
	cutoff := time.Now().Add(-p.staleness)
	stale := p.buffer.EvictStale(cutoff)
	deadline := time.Now().Add(p.batchTimeout)
	for _, bt := range stale {
		bt.Deadline = deadline
		p.dispatch(bt.TenantID, bt.TraceID)
		p.evalService.Submit(bt)
	}
	p.metrics.SetBufferedTraces(p.buffer.Len())
}

// dispatch marks a trace as evaluated before it is queued, so spans racing
// the evaluation are treated as late.
func (p *EnginePipeline) dispatch(tenantID, traceID string) {
	p.evaluated.SetWithTTL(evaluatedKey(tenantID, traceID), struct{}{}, 1, p.evaluatedTTL)
}

func evaluatedKey(tenantID, traceID string) string {
	return tenantID + "/" + traceID
}
