package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/spanguard/spanguard/pkg/rule/model"
)

type definitionFile struct {
	Tenants map[string][]definitionEntry `yaml:"tenants"`
}

type definitionEntry struct {
	Name        string `yaml:"name"`
	Source      string `yaml:"source"`
	Description string `yaml:"description"`
	Severity    string `yaml:"severity"`
}

// LoadDefinitionsFile reads tenant rule definitions from a YAML file and
// installs them through UpdateRules, so each tenant's set is applied
// all-or-nothing.
func (r *TenantRegistry) LoadDefinitionsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	for tenantID, entries := range file.Tenants {
		defs := make([]model.Definition, 0, len(entries))
		for _, entry := range entries {
			severity, err := model.ParseSeverity(entry.Severity)
			if err != nil {
				return fmt.Errorf("rules file %s, tenant %s: %w", path, tenantID, err)
			}
			defs = append(defs, model.Definition{
				Name:        entry.Name,
				Source:      entry.Source,
				Description: entry.Description,
				Severity:    severity,
			})
		}
		if err := r.UpdateRules(tenantID, defs); err != nil {
			return fmt.Errorf("rules file %s, tenant %s: %w", path, tenantID, err)
		}
	}
	return nil
}
