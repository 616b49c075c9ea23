package registry

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/spanguard/spanguard/pkg/rule/dsl"
	"github.com/spanguard/spanguard/pkg/rule/model"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrRuleNotFound   = errors.New("rule not found")
	ErrEmptyRuleName  = errors.New("rule name must not be empty")
)

// TenantRegistry holds the compiled rules of every tenant. Each tenant has its
// own lock and rule map so updates for one tenant never block evaluation for
// another. Compiled rules are immutable: an update replaces the *model.Rule
// wholesale, so evaluations that already hold a snapshot keep using the
// version they started with.
type TenantRegistry struct {
	mu      sync.RWMutex
	tenants map[string]*tenantRules
	logger  *zap.Logger
}

type tenantRules struct {
	mu    sync.RWMutex
	rules map[string]*model.Rule
}

func NewTenantRegistry(logger *zap.Logger) *TenantRegistry {
	return &TenantRegistry{
		tenants: make(map[string]*tenantRules),
		logger:  logger,
	}
}

// AddRule compiles def and installs it for the tenant. If a rule with the same
// name already exists it is replaced and its version is bumped; otherwise the
// rule starts at version 1. The source is compiled before any lock is taken,
// so a rule that fails to parse leaves the registry untouched.
func (r *TenantRegistry) AddRule(tenantID string, def model.Definition) (*model.Rule, error) {
	compiled, err := r.compile(tenantID, def)
	if err != nil {
		return nil, err
	}

	tenant := r.tenant(tenantID)
	tenant.mu.Lock()
	defer tenant.mu.Unlock()

	if existing, ok := tenant.rules[def.Name]; ok {
		compiled.ID = existing.ID
		compiled.Version = existing.Version + 1
	}
	tenant.rules[def.Name] = compiled

	r.logger.Info("Installed rule",
		zap.String("tenant_id", tenantID),
		zap.String("rule_name", compiled.Name),
		zap.Int("version", compiled.Version),
	)
	return compiled, nil
}

// UpdateRules replaces the tenant's entire rule set atomically. Every
// definition is compiled before the swap; if any fails, the tenant keeps its
// previous rules.
func (r *TenantRegistry) UpdateRules(tenantID string, defs []model.Definition) error {
	compiled := make(map[string]*model.Rule, len(defs))
	for _, def := range defs {
		rule, err := r.compile(tenantID, def)
		if err != nil {
			return err
		}
		if _, dup := compiled[def.Name]; dup {
			return fmt.Errorf("duplicate rule name %q for tenant %s", def.Name, tenantID)
		}
		compiled[def.Name] = rule
	}

	tenant := r.tenant(tenantID)
	tenant.mu.Lock()
	for name, rule := range compiled {
		if existing, ok := tenant.rules[name]; ok {
			rule.ID = existing.ID
			rule.Version = existing.Version + 1
		}
	}
	tenant.rules = compiled
	tenant.mu.Unlock()

	r.logger.Info("Replaced tenant rule set",
		zap.String("tenant_id", tenantID),
		zap.Int("rule_count", len(compiled)),
	)
	return nil
}

// RemoveRule removes one rule by name.
func (r *TenantRegistry) RemoveRule(tenantID string, ruleName string) error {
	r.mu.RLock()
	tenant, ok := r.tenants[tenantID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}

	tenant.mu.Lock()
	defer tenant.mu.Unlock()
	if _, ok := tenant.rules[ruleName]; !ok {
		return fmt.Errorf("%w: %s for tenant %s", ErrRuleNotFound, ruleName, tenantID)
	}
	delete(tenant.rules, ruleName)
	return nil
}

// RemoveTenant drops a tenant and all of its rules.
func (r *TenantRegistry) RemoveTenant(tenantID string) {
	r.mu.Lock()
	delete(r.tenants, tenantID)
	r.mu.Unlock()
}

// GetRulesForTenant returns a snapshot of the tenant's rules keyed by rule ID.
// The map is a copy; the *model.Rule values are shared but immutable. An
// unknown tenant yields an empty map so a trace with no registered rules is
// simply evaluated against nothing.
func (r *TenantRegistry) GetRulesForTenant(tenantID string) map[string]*model.Rule {
	r.mu.RLock()
	tenant, ok := r.tenants[tenantID]
	r.mu.RUnlock()
	if !ok {
		return map[string]*model.Rule{}
	}

	tenant.mu.RLock()
	defer tenant.mu.RUnlock()
	snapshot := make(map[string]*model.Rule, len(tenant.rules))
	for _, rule := range tenant.rules {
		snapshot[rule.ID] = rule
	}
	return snapshot
}

// Stats reports how many rules each tenant has installed.
func (r *TenantRegistry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make(map[string]int, len(r.tenants))
	for tenantID, tenant := range r.tenants {
		tenant.mu.RLock()
		stats[tenantID] = len(tenant.rules)
		tenant.mu.RUnlock()
	}
	return stats
}

func (r *TenantRegistry) compile(tenantID string, def model.Definition) (*model.Rule, error) {
	if def.Name == "" {
		return nil, ErrEmptyRuleName
	}
	severity, err := model.ParseSeverity(string(def.Severity))
	if err != nil {
		return nil, fmt.Errorf("rule %q for tenant %s: %w", def.Name, tenantID, err)
	}
	expr, err := dsl.Parse(def.Source)
	if err != nil {
		return nil, fmt.Errorf("rule %q for tenant %s: %w", def.Name, tenantID, err)
	}
	return &model.Rule{
		ID:          tenantID + "/" + def.Name,
		Name:        def.Name,
		Description: def.Description,
		Severity:    severity,
		Version:     1,
		Expression:  expr,
	}, nil
}

func (r *TenantRegistry) tenant(tenantID string) *tenantRules {
	r.mu.RLock()
	tenant, ok := r.tenants[tenantID]
	r.mu.RUnlock()
	if ok {
		return tenant
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tenant, ok = r.tenants[tenantID]; ok {
		return tenant
	}
	tenant = &tenantRules{rules: make(map[string]*model.Rule)}
	r.tenants[tenantID] = tenant
	return tenant
}
