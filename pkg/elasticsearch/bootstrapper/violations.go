package bootstrapper

const ViolationIndexName = "violation_index"

var violationIndex = map[string]interface{}{
	"settings": map[string]interface{}{
		"number_of_shards":   1,
		"number_of_replicas": 1,
	},
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"tenant_id": map[string]interface{}{
				"type": "keyword",
			},
			"rule_id": map[string]interface{}{
				"type": "keyword",
			},
			"rule_name": map[string]interface{}{
				"type": "keyword",
			},
			"rule_version": map[string]interface{}{
				"type": "integer",
			},
			"trace_id": map[string]interface{}{
				"type": "keyword",
			},
			"severity": map[string]interface{}{
				"type": "keyword",
			},
			"message": map[string]interface{}{
				"type": "text",
			},
			"attributes": map[string]interface{}{
				"type": "object",
			},
			"source": map[string]interface{}{
				"type": "keyword",
			},
			"created_at": map[string]interface{}{
				"type": "date",
			},
		},
	},
}
