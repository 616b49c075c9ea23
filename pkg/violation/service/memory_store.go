package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spanguard/spanguard/pkg/violation/model"
)

const DefaultStoreCapacity = 10_000

// ViolationQuery filters stored violations. Zero values match everything.
type ViolationQuery struct {
	TenantID string
	RuleID   string
	TraceID  string
	Severity string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// MemoryStore keeps the most recent violations in memory for inspection and
// debugging. It is a ring: once capacity is reached the oldest violations are
// discarded. Durable persistence is Elasticsearch's job.
type MemoryStore struct {
	mu         sync.RWMutex
	violations []model.Violation
	capacity   int
	logger     *zap.Logger
}

func NewMemoryStore(capacity int, logger *zap.Logger) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultStoreCapacity
	}
	return &MemoryStore{
		violations: make([]model.Violation, 0, capacity),
		capacity:   capacity,
		logger:     logger,
	}
}

// Record appends a violation, evicting the oldest when full.
func (s *MemoryStore) Record(v model.Violation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.violations) >= s.capacity {
		evicted := len(s.violations) - s.capacity + 1
		s.violations = s.violations[evicted:]
	}
	s.violations = append(s.violations, v)
}

// Query returns violations matching q, newest first.
func (s *MemoryStore) Query(q ViolationQuery) []model.Violation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []model.Violation
	for i := len(s.violations) - 1; i >= 0; i-- {
		v := s.violations[i]
		if !matches(q, v) {
			continue
		}
		results = append(results, v)
		if q.Limit > 0 && len(results) >= q.Limit {
			break
		}
	}
	return results
}

// Count returns how many stored violations match q.
func (s *MemoryStore) Count(q ViolationQuery) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, v := range s.violations {
		if matches(q, v) {
			count++
		}
	}
	return count
}

// MemoryReader adapts MemoryStore to the ViolationReader surface used by the
// management handlers when no Elasticsearch cluster is configured.
type MemoryReader struct {
	store *MemoryStore
}

func NewMemoryReader(store *MemoryStore) *MemoryReader {
	return &MemoryReader{store: store}
}

func (r *MemoryReader) Query(_ context.Context, q ViolationQuery) ([]model.Violation, error) {
	return r.store.Query(q), nil
}

func (r *MemoryReader) Count(_ context.Context, q ViolationQuery) (int64, error) {
	return int64(r.store.Count(q)), nil
}

func matches(q ViolationQuery, v model.Violation) bool {
	if q.TenantID != "" && v.TenantID != q.TenantID {
		return false
	}
	if q.RuleID != "" && v.RuleID != q.RuleID {
		return false
	}
	if q.TraceID != "" && v.TraceID != q.TraceID {
		return false
	}
	if q.Severity != "" && v.Severity != q.Severity {
		return false
	}
	if !q.Since.IsZero() && v.CreatedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && v.CreatedAt.After(q.Until) {
		return false
	}
	return true
}
