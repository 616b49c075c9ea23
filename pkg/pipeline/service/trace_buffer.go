package service

import (
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spanguard/spanguard/pkg/pipeline/model"
	tracemodel "github.com/spanguard/spanguard/pkg/trace/model"
)

// TraceBuffer accumulates spans per trace until the trace completes or goes
// stale. Entries are keyed by tenant and trace ID, so two tenants reusing the
// same trace ID never share a buffer. It is sharded by that key so concurrent
// ingestion batches rarely contend on the same lock, and the
// append-then-check-root step is atomic per trace: two batches carrying
// halves of the same trace can never both take it, and a trace is never
// evaluated while a writer still holds its shard.
type TraceBuffer struct {
	shards []*bufferShard
	logger *zap.Logger
}

type bufferShard struct {
	mu     sync.Mutex
	traces map[string]*model.BufferedTrace
}

func NewTraceBuffer(shardCount int, logger *zap.Logger) *TraceBuffer {
	if shardCount <= 0 {
		shardCount = 1
	}
	shards := make([]*bufferShard, shardCount)
	for i := range shards {
		shards[i] = &bufferShard{traces: make(map[string]*model.BufferedTrace)}
	}
	return &TraceBuffer{shards: shards, logger: logger}
}

// Append adds spans to the trace's buffer. If the trace now contains a root
// span it is removed from the buffer and returned for immediate evaluation;
// otherwise nil is returned and the trace keeps waiting.
func (b *TraceBuffer) Append(tenantID, traceID string, spans []tracemodel.Span, now time.Time) *model.BufferedTrace {
	key := bufferKey(tenantID, traceID)
	shard := b.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	bt, ok := shard.traces[key]
	if !ok {
		bt = &model.BufferedTrace{TenantID: tenantID, TraceID: traceID}
		shard.traces[key] = bt
	}
	bt.Spans = append(bt.Spans, spans...)
	bt.LastUpdate = now

	if bt.HasRoot() {
		delete(shard.traces, key)
		return bt
	}
	return nil
}

// EvictStale removes and returns every trace that has not received spans
// since before the cutoff. Stale traces are evaluated with whatever spans
// arrived; a root that never came does not hold the trace forever.
func (b *TraceBuffer) EvictStale(cutoff time.Time) []*model.BufferedTrace {
	var stale []*model.BufferedTrace
	for _, shard := range b.shards {
		shard.mu.Lock()
		for key, bt := range shard.traces {
			if bt.LastUpdate.Before(cutoff) {
				stale = append(stale, bt)
				delete(shard.traces, key)
			}
		}
		shard.mu.Unlock()
	}
	return stale
}

// Len reports the number of buffered traces across all shards.
func (b *TraceBuffer) Len() int {
	total := 0
	for _, shard := range b.shards {
		shard.mu.Lock()
		total += len(shard.traces)
		shard.mu.Unlock()
	}
	return total
}

func (b *TraceBuffer) shard(key string) *bufferShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return b.shards[h.Sum32()%uint32(len(b.shards))]
}

func bufferKey(tenantID, traceID string) string {
	return tenantID + "/" + traceID
}
