package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spanguard/spanguard/pkg/elasticsearch/bootstrapper"
	"github.com/spanguard/spanguard/pkg/elasticsearch/client"
	"github.com/spanguard/spanguard/pkg/violation/model"
)

const readerTimeout = 10 * time.Second

// ViolationReader answers violation queries for the management surface.
// Backed by Elasticsearch when configured, by the in-memory store otherwise.
type ViolationReader interface {
	Query(ctx context.Context, query ViolationQuery) ([]model.Violation, error)
	Count(ctx context.Context, query ViolationQuery) (int64, error)
}

// ElasticsearchReader reads violations back out of the violation index.
type ElasticsearchReader struct {
	ec     client.EngineClient
	logger *zap.Logger
}

func NewElasticsearchReader(ec client.EngineClient, logger *zap.Logger) *ElasticsearchReader {
	return &ElasticsearchReader{
		ec:     ec,
		logger: logger,
	}
}

func (r *ElasticsearchReader) Query(
	ctx context.Context,
	query ViolationQuery,
) ([]model.Violation, error) {
	esQuery := getViolationsQuery(query)
	queryJson, err := json.Marshal(esQuery)
	if err != nil {
		r.logger.Error("Error when marshalling query to JSON", zap.Error(err))
		return nil, err
	}
	var querySize *int
	if query.Limit > 0 {
		limit := query.Limit
		querySize = &limit
	}
	queryCtx, cancel := context.WithTimeout(ctx, readerTimeout)
	defer cancel()
	res, err := r.ec.Search(
		queryCtx,
		string(queryJson),
		[]string{bootstrapper.ViolationIndexName},
		querySize,
	)
	if err != nil {
		r.logger.Error("Error when searching for violations", zap.Error(err))
		return nil, err
	}
	violations, err := getViolationsFromSearchResult(res)
	if err != nil {
		r.logger.Error("Error when converting search result to violations", zap.Error(err))
		return nil, err
	}
	return violations, nil
}

func (r *ElasticsearchReader) Count(
	ctx context.Context,
	query ViolationQuery,
) (int64, error) {
	esQuery := map[string]interface{}{
		"query": getViolationsFilter(query),
	}
	queryJson, err := json.Marshal(esQuery)
	if err != nil {
		r.logger.Error("Error when marshalling query to JSON", zap.Error(err))
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, readerTimeout)
	defer cancel()
	count, err := r.ec.Count(queryCtx, string(queryJson), []string{bootstrapper.ViolationIndexName})
	if err != nil {
		r.logger.Error("Error when counting violations", zap.Error(err))
		return 0, err
	}
	return count, nil
}

func getViolationsQuery(query ViolationQuery) map[string]interface{} {
	return map[string]interface{}{
		"query": getViolationsFilter(query),
		"sort": []map[string]interface{}{
			{
				"created_at": map[string]interface{}{
					"order": "desc",
				},
			},
		},
	}
}

func getViolationsFilter(query ViolationQuery) map[string]interface{} {
	must := make([]map[string]interface{}, 0)
	terms := []struct {
		field string
		value string
	}{
		{"tenant_id", query.TenantID},
		{"rule_id", query.RuleID},
		{"trace_id", query.TraceID},
		{"severity", query.Severity},
	}
	for _, term := range terms {
		if term.value == "" {
			continue
		}
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{
				term.field: term.value,
			},
		})
	}
	if !query.Since.IsZero() || !query.Until.IsZero() {
		createdAt := map[string]interface{}{}
		if !query.Since.IsZero() {
			createdAt["gte"] = query.Since
		}
		if !query.Until.IsZero() {
			createdAt["lte"] = query.Until
		}
		must = append(must, map[string]interface{}{
			"range": map[string]interface{}{
				"created_at": createdAt,
			},
		})
	}
	if len(must) == 0 {
		return map[string]interface{}{
			"match_all": map[string]interface{}{},
		}
	}
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"must": must,
		},
	}
}

func getViolationsFromSearchResult(res []map[string]interface{}) ([]model.Violation, error) {
	violations := make([]model.Violation, 0, len(res))
	for _, hit := range res {
		doc := model.Violation{}

		id, ok := hit["_id"].(string)
		if ok {
			doc.ID = id
		}

		tenantId, ok := hit["tenant_id"].(string)
		if !ok {
			return nil, fmt.Errorf("failed to convert tenant_id to string %v", hit["tenant_id"])
		}
		doc.TenantID = tenantId

		ruleId, ok := hit["rule_id"].(string)
		if !ok {
			return nil, fmt.Errorf("failed to convert rule_id to string %v", hit["rule_id"])
		}
		doc.RuleID = ruleId

		traceId, ok := hit["trace_id"].(string)
		if !ok {
			return nil, fmt.Errorf("failed to convert trace_id to string %v", hit["trace_id"])
		}
		doc.TraceID = traceId

		if ruleName, ok := hit["rule_name"].(string); ok {
			doc.RuleName = ruleName
		}
		if ruleVersion, ok := hit["rule_version"].(float64); ok {
			doc.RuleVersion = int(ruleVersion)
		}
		if severity, ok := hit["severity"].(string); ok {
			doc.Severity = severity
		}
		if message, ok := hit["message"].(string); ok {
			doc.Message = message
		}
		if source, ok := hit["source"].(string); ok {
			doc.Source = source
		}
		if attributes, ok := hit["attributes"].(map[string]interface{}); ok {
			doc.Attributes = make(map[string]string, len(attributes))
			for key, value := range attributes {
				if str, ok := value.(string); ok {
					doc.Attributes[key] = str
				}
			}
		}
		if createdAt, ok := hit["created_at"].(string); ok {
			parsed, err := time.Parse(time.RFC3339Nano, createdAt)
			if err != nil {
				return nil, fmt.Errorf("failed to convert created_at '%s' to time.Time: %v", createdAt, err)
			}
			doc.CreatedAt = parsed
		}

		violations = append(violations, doc)
	}
	return violations, nil
}
