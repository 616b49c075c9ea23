package server

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	violationService "github.com/spanguard/spanguard/pkg/violation/service"
)

// ViolationsHandler creates a handler for listing violations matching the
// query parameters (tenant_id, rule_id, trace_id, severity, since, until,
// limit), newest first.
func ViolationsHandler(
	ctx context.Context,
	reader violationService.ViolationReader,
	logger *zap.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query, err := queryFromRequest(r)
		if err != nil {
			logger.Error("Error encountered when parsing query parameters", zap.Error(err))
			HttpError(w, err.Error(), http.StatusBadRequest, logger)
			return
		}

		violations, err := reader.Query(ctx, query)
		if err != nil {
			logger.Error("Error encountered when querying violations", zap.Error(err))
			HttpError(w, "Internal server error", http.StatusInternalServerError, logger)
			return
		}

		response := convertViolationsToResponseDTO(violations)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("Error encountered when encoding response", zap.Error(err))
			HttpError(w, "Internal server error", http.StatusInternalServerError, logger)
			return
		}
	}
}

// ViolationCountHandler creates a handler for counting violations matching
// the same query parameters as ViolationsHandler.
func ViolationCountHandler(
	ctx context.Context,
	reader violationService.ViolationReader,
	logger *zap.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query, err := queryFromRequest(r)
		if err != nil {
			logger.Error("Error encountered when parsing query parameters", zap.Error(err))
			HttpError(w, err.Error(), http.StatusBadRequest, logger)
			return
		}

		count, err := reader.Count(ctx, query)
		if err != nil {
			logger.Error("Error encountered when counting violations", zap.Error(err))
			HttpError(w, "Internal server error", http.StatusInternalServerError, logger)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(ViolationCountDTO{Count: count}); err != nil {
			logger.Error("Error encountered when encoding response", zap.Error(err))
			HttpError(w, "Internal server error", http.StatusInternalServerError, logger)
			return
		}
	}
}
