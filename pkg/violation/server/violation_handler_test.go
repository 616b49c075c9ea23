package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/spanguard/spanguard/pkg/violation/model"
	violationService "github.com/spanguard/spanguard/pkg/violation/service"
)

func seededRouter(t *testing.T) http.Handler {
	t.Helper()
	store := violationService.NewMemoryStore(100, zap.NewNop())
	store.Record(model.Violation{
		ID:        "violation-1",
		TenantID:  "tenant-a",
		RuleID:    "tenant-a/fraud-check-before-charge",
		TraceID:   "trace-1",
		Severity:  "HIGH",
		Source:    "rule-engine",
		CreatedAt: time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC),
	})
	store.Record(model.Violation{
		ID:        "violation-2",
		TenantID:  "tenant-b",
		RuleID:    "tenant-b/no-slow-traces",
		TraceID:   "trace-2",
		Severity:  "MEDIUM",
		Source:    "rule-engine",
		CreatedAt: time.Date(2026, 8, 31, 11, 0, 0, 0, time.UTC),
	})
	return CreateRouter(context.Background(), violationService.NewMemoryReader(store), zap.NewNop())
}

func TestViolationHandlers(t *testing.T) {
	t.Run("Lists violations filtered by tenant", func(t *testing.T) {
		router := seededRouter(t)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/violations?tenant_id=tenant-a", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var response ViolationsResponseDTO
		assert.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		assert.Len(t, response.Violations, 1)
		assert.Equal(t, "violation-1", response.Violations[0].ID)
		assert.Equal(t, "tenant-a", response.Violations[0].TenantID)
	})

	t.Run("Lists all violations newest first when unfiltered", func(t *testing.T) {
		router := seededRouter(t)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/violations", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var response ViolationsResponseDTO
		assert.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		assert.Len(t, response.Violations, 2)
		assert.Equal(t, "violation-2", response.Violations[0].ID)
	})

	t.Run("Counts violations matching severity", func(t *testing.T) {
		router := seededRouter(t)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/violations/count?severity=HIGH", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var response ViolationCountDTO
		assert.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		assert.Equal(t, int64(1), response.Count)
	})

	t.Run("Applies time bounds from since and until", func(t *testing.T) {
		router := seededRouter(t)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(
			http.MethodGet, "/violations?since=2026-08-31T10%3A30%3A00Z", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var response ViolationsResponseDTO
		assert.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		assert.Len(t, response.Violations, 1)
		assert.Equal(t, "violation-2", response.Violations[0].ID)
	})

	t.Run("Rejects a malformed limit", func(t *testing.T) {
		router := seededRouter(t)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/violations?limit=ten", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var response ErrorMessage
		assert.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		assert.Contains(t, response.Message, "limit")
	})

	t.Run("Rejects a malformed since timestamp", func(t *testing.T) {
		router := seededRouter(t)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/violations?since=yesterday", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Rejects non-GET methods", func(t *testing.T) {
		router := seededRouter(t)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/violations", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
