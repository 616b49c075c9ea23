package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/spanguard/spanguard/pkg/violation/model"
	violationService "github.com/spanguard/spanguard/pkg/violation/service"
)

// ErrorMessage is the JSON body returned on handler failure.
type ErrorMessage struct {
	Message string `json:"message"`
}

func HttpError(w http.ResponseWriter, message string, code int, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorMessage{Message: message}); err != nil {
		logger.Error("Error encountered when encoding error response", zap.Error(err))
	}
}

func queryFromRequest(r *http.Request) (violationService.ViolationQuery, error) {
	params := r.URL.Query()
	query := violationService.ViolationQuery{
		TenantID: params.Get("tenant_id"),
		RuleID:   params.Get("rule_id"),
		TraceID:  params.Get("trace_id"),
		Severity: params.Get("severity"),
	}
	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return query, fmt.Errorf("invalid limit %q", raw)
		}
		query.Limit = limit
	}
	if raw := params.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return query, fmt.Errorf("invalid since timestamp %q", raw)
		}
		query.Since = since
	}
	if raw := params.Get("until"); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return query, fmt.Errorf("invalid until timestamp %q", raw)
		}
		query.Until = until
	}
	return query, nil
}

func convertViolationsToResponseDTO(input []model.Violation) ViolationsResponseDTO {
	violations := make([]ViolationDTO, len(input))
	for i, v := range input {
		violations[i] = mapViolationToDTO(v)
	}
	return ViolationsResponseDTO{
		Violations: violations,
	}
}

func mapViolationToDTO(input model.Violation) ViolationDTO {
	return ViolationDTO{
		ID:          input.ID,
		TenantID:    input.TenantID,
		RuleID:      input.RuleID,
		RuleName:    input.RuleName,
		RuleVersion: input.RuleVersion,
		TraceID:     input.TraceID,
		Severity:    input.Severity,
		Message:     input.Message,
		Attributes:  input.Attributes,
		Source:      input.Source,
		CreatedAt:   input.CreatedAt,
	}
}
