package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spanguard/spanguard/pkg/event_bus"
	"github.com/spanguard/spanguard/pkg/metrics"
	"github.com/spanguard/spanguard/pkg/pipeline/model"
	rulemodel "github.com/spanguard/spanguard/pkg/rule/model"
	"github.com/spanguard/spanguard/pkg/rule/registry"
	ruleservice "github.com/spanguard/spanguard/pkg/rule/service"
	violationmodel "github.com/spanguard/spanguard/pkg/violation/model"
	violationservice "github.com/spanguard/spanguard/pkg/violation/service"
)

const (
	outcomeOK      = "ok"
	outcomeTimeout = "timeout"
	outcomeError   = "error"
	outcomeNoRules = "no_rules"
)

// RulePassRunner runs every rule against the trace held by the context.
// Satisfied by ruleservice.Evaluator.
type RulePassRunner interface {
	EvaluateAll(ctx context.Context, rules map[string]*rulemodel.Rule, rctx *ruleservice.RuleContext) error
}

// EvaluationService runs rule passes over completed traces on a bounded
// worker pool. Each trace gets its own deadline; a rule pass that blows it is
// abandoned and counted, never allowed to wedge a worker beyond the timeout.
type EvaluationService struct {
	registry  *registry.TenantRegistry
	evaluator RulePassRunner
	bus       event_bus.EngineEventBus[violationmodel.Violation, violationmodel.Violation]
	store     *violationservice.MemoryStore
	metrics   *metrics.EngineMetrics
	logger    *zap.Logger

	queue       chan *model.BufferedTrace
	workerCount int
	evalTimeout time.Duration
	wg          sync.WaitGroup
}

func NewEvaluationService(
	reg *registry.TenantRegistry,
	evaluator RulePassRunner,
	bus event_bus.EngineEventBus[violationmodel.Violation, violationmodel.Violation],
	store *violationservice.MemoryStore,
	engineMetrics *metrics.EngineMetrics,
	workerCount int,
	queueSize int,
	evalTimeout time.Duration,
	logger *zap.Logger,
) *EvaluationService {
	return &EvaluationService{
		registry:    reg,
		evaluator:   evaluator,
		bus:         bus,
		store:       store,
		metrics:     engineMetrics,
		logger:      logger,
		queue:       make(chan *model.BufferedTrace, queueSize),
		workerCount: workerCount,
		evalTimeout: evalTimeout,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled and the
// queue has drained.
func (s *EvaluationService) Start(ctx context.Context) {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case bt := <-s.queue:
					s.evaluateTrace(ctx, bt)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (s *EvaluationService) Wait() {
	s.wg.Wait()
}

// Submit enqueues a trace for evaluation. It never blocks ingestion: a full
// queue drops the trace and reports false.
func (s *EvaluationService) Submit(bt *model.BufferedTrace) bool {
	select {
	case s.queue <- bt:
		return true
	default:
		s.metrics.RecordDroppedSpans(metrics.DropReasonOverflow, len(bt.Spans))
		s.logger.Warn("Evaluation queue full, dropping trace",
			zap.String("tenant_id", bt.TenantID),
			zap.String("trace_id", bt.TraceID),
			zap.Int("span_count", len(bt.Spans)),
		)
		return false
	}
}

func (s *EvaluationService) evaluateTrace(ctx context.Context, bt *model.BufferedTrace) {
	rules := s.registry.GetRulesForTenant(bt.TenantID)
	if len(rules) == 0 {
		s.metrics.RecordEvaluation(bt.TenantID, outcomeNoRules, 0)
		return
	}

	evalCtx, cancel := context.WithTimeout(ctx, s.evalTimeout)
	defer cancel()
	if !bt.Deadline.IsZero() {
		var cancelBatch context.CancelFunc
		evalCtx, cancelBatch = context.WithDeadline(evalCtx, bt.Deadline)
		defer cancelBatch()
	}

	start := time.Now()
	rctx := ruleservice.NewRuleContext(bt.TenantID, bt.TraceID, bt.Spans)
	err := s.runRulePass(evalCtx, rules, rctx)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.metrics.RecordTimeout()
			s.metrics.RecordEvaluation(bt.TenantID, outcomeTimeout, elapsed)
			s.logger.Warn("Trace evaluation timed out",
				zap.String("tenant_id", bt.TenantID),
				zap.String("trace_id", bt.TraceID),
				zap.Duration("elapsed", elapsed),
			)
		} else {
			s.metrics.RecordEvaluation(bt.TenantID, outcomeError, elapsed)
			s.logger.Error("Trace evaluation failed",
				zap.String("tenant_id", bt.TenantID),
				zap.String("trace_id", bt.TraceID),
				zap.Error(err),
			)
		}
		return
	}

	for _, fault := range rctx.Faults() {
		s.metrics.RecordRuleFault(bt.TenantID)
		s.logger.Warn("Rule evaluation fault",
			zap.String("tenant_id", bt.TenantID),
			zap.String("trace_id", bt.TraceID),
			zap.String("rule_id", fault.RuleID),
			zap.Error(fault.Err),
		)
	}

	s.publishViolations(rctx.Violations())
	s.metrics.RecordEvaluation(bt.TenantID, outcomeOK, elapsed)
}

// runRulePass contains a panicking rule pass so one poisoned trace cannot
// take down a worker.
func (s *EvaluationService) runRulePass(
	ctx context.Context,
	rules map[string]*rulemodel.Rule,
	rctx *ruleservice.RuleContext,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule pass panicked: %v", r)
		}
	}()
	return s.evaluator.EvaluateAll(ctx, rules, rctx)
}

func (s *EvaluationService) publishViolations(violations []violationmodel.Violation) {
	now := time.Now().UTC()
	for _, v := range violations {
		v.ID = uuid.NewString()
		v.CreatedAt = now
		s.store.Record(v)
		s.metrics.RecordViolation(v.TenantID, v.Severity)
		if err := s.bus.Publish(event_bus.TopicViolations, v); err != nil {
			s.logger.Error("Failed to publish violation",
				zap.String("tenant_id", v.TenantID),
				zap.String("rule_id", v.RuleID),
				zap.Error(err),
			)
		}
	}
}
