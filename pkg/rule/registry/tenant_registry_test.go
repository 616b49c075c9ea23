package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/spanguard/spanguard/pkg/rule/model"
)

func TestTenantRegistry(t *testing.T) {
	def := func(name, source string) model.Definition {
		return model.Definition{Name: name, Source: source, Severity: model.SeverityHigh}
	}

	t.Run("Adds a rule and retrieves it for the tenant", func(t *testing.T) {
		reg := NewTenantRegistry(zap.NewNop())
		rule, err := reg.AddRule("tenant-a", def("fraud-check", "trace.has(fraud.check_transaction)"))
		assert.NoError(t, err)
		assert.Equal(t, 1, rule.Version)
		assert.Equal(t, "tenant-a/fraud-check", rule.ID)

		rules := reg.GetRulesForTenant("tenant-a")
		assert.Len(t, rules, 1)
		assert.Same(t, rule, rules[rule.ID])
	})

	t.Run("Rejects a rule that fails to compile", func(t *testing.T) {
		reg := NewTenantRegistry(zap.NewNop())
		_, err := reg.AddRule("tenant-a", def("broken", "trace.has("))
		assert.Error(t, err)
		assert.Empty(t, reg.GetRulesForTenant("tenant-a"))
	})

	t.Run("Replacing a rule bumps its version and keeps its identifier", func(t *testing.T) {
		reg := NewTenantRegistry(zap.NewNop())
		first, err := reg.AddRule("tenant-a", def("latency", "trace.duration_ms < 500"))
		assert.NoError(t, err)
		second, err := reg.AddRule("tenant-a", def("latency", "trace.duration_ms < 250"))
		assert.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 2, second.Version)

		rules := reg.GetRulesForTenant("tenant-a")
		assert.Len(t, rules, 1)
		assert.Same(t, second, rules[second.ID])
	})

	t.Run("Tenants are isolated from each other", func(t *testing.T) {
		reg := NewTenantRegistry(zap.NewNop())
		_, err := reg.AddRule("tenant-a", def("only-a", "trace.has(a)"))
		assert.NoError(t, err)
		assert.Empty(t, reg.GetRulesForTenant("tenant-b"))
		assert.Len(t, reg.GetRulesForTenant("tenant-a"), 1)
	})

	t.Run("UpdateRules swaps the whole set atomically", func(t *testing.T) {
		reg := NewTenantRegistry(zap.NewNop())
		_, err := reg.AddRule("tenant-a", def("old", "trace.has(a)"))
		assert.NoError(t, err)

		err = reg.UpdateRules("tenant-a", []model.Definition{
			def("latency", "trace.duration_ms < 500"),
			def("errors", `trace.spans.filter(span.status == "error").length == 0`),
		})
		assert.NoError(t, err)

		rules := reg.GetRulesForTenant("tenant-a")
		assert.Len(t, rules, 2)
		for _, rule := range rules {
			assert.NotEqual(t, "old", rule.Name)
		}
	})

	t.Run("UpdateRules keeps the previous set when any definition fails", func(t *testing.T) {
		reg := NewTenantRegistry(zap.NewNop())
		_, err := reg.AddRule("tenant-a", def("keep-me", "trace.has(a)"))
		assert.NoError(t, err)

		err = reg.UpdateRules("tenant-a", []model.Definition{
			def("fine", "trace.has(b)"),
			def("broken", "trace.has("),
		})
		assert.Error(t, err)

		rules := reg.GetRulesForTenant("tenant-a")
		assert.Len(t, rules, 1)
		for _, rule := range rules {
			assert.Equal(t, "keep-me", rule.Name)
		}
	})

	t.Run("UpdateRules carries versions across the swap", func(t *testing.T) {
		reg := NewTenantRegistry(zap.NewNop())
		_, err := reg.AddRule("tenant-a", def("latency", "trace.duration_ms < 500"))
		assert.NoError(t, err)

		err = reg.UpdateRules("tenant-a", []model.Definition{def("latency", "trace.duration_ms < 100")})
		assert.NoError(t, err)

		rules := reg.GetRulesForTenant("tenant-a")
		assert.Len(t, rules, 1)
		for _, rule := range rules {
			assert.Equal(t, 2, rule.Version)
		}
	})

	t.Run("RemoveRule deletes one rule and errors on unknown names", func(t *testing.T) {
		reg := NewTenantRegistry(zap.NewNop())
		_, err := reg.AddRule("tenant-a", def("gone-soon", "trace.has(a)"))
		assert.NoError(t, err)

		assert.NoError(t, reg.RemoveRule("tenant-a", "gone-soon"))
		assert.ErrorIs(t, reg.RemoveRule("tenant-a", "gone-soon"), ErrRuleNotFound)
		assert.ErrorIs(t, reg.RemoveRule("tenant-b", "anything"), ErrTenantNotFound)
	})

	t.Run("RemoveTenant drops all rules for the tenant", func(t *testing.T) {
		reg := NewTenantRegistry(zap.NewNop())
		_, err := reg.AddRule("tenant-a", def("r1", "trace.has(a)"))
		assert.NoError(t, err)
		reg.RemoveTenant("tenant-a")
		assert.Empty(t, reg.GetRulesForTenant("tenant-a"))
	})

	t.Run("Snapshot is unaffected by later updates", func(t *testing.T) {
		reg := NewTenantRegistry(zap.NewNop())
		_, err := reg.AddRule("tenant-a", def("stable", "trace.has(a)"))
		assert.NoError(t, err)

		snapshot := reg.GetRulesForTenant("tenant-a")
		assert.NoError(t, reg.RemoveRule("tenant-a", "stable"))
		assert.Len(t, snapshot, 1)
	})

	t.Run("Stats counts rules per tenant", func(t *testing.T) {
		reg := NewTenantRegistry(zap.NewNop())
		_, err := reg.AddRule("tenant-a", def("r1", "trace.has(a)"))
		assert.NoError(t, err)
		_, err = reg.AddRule("tenant-a", def("r2", "trace.has(b)"))
		assert.NoError(t, err)
		_, err = reg.AddRule("tenant-b", def("r1", "trace.has(c)"))
		assert.NoError(t, err)

		assert.Equal(t, map[string]int{"tenant-a": 2, "tenant-b": 1}, reg.Stats())
	})

	t.Run("Concurrent adds and reads do not race", func(t *testing.T) {
		reg := NewTenantRegistry(zap.NewNop())
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := reg.AddRule("tenant-a", def("shared", "trace.has(a)"))
				assert.NoError(t, err)
			}()
			go func() {
				defer wg.Done()
				reg.GetRulesForTenant("tenant-a")
			}()
		}
		wg.Wait()
		assert.Len(t, reg.GetRulesForTenant("tenant-a"), 1)
	})
}
