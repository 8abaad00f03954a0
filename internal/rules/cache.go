package rules

import (
	"sync"

	"github.com/smartunderwrite/smartunderwrite/internal/domain"
	"github.com/smartunderwrite/smartunderwrite/internal/expr"
	"github.com/smartunderwrite/smartunderwrite/internal/ruledef"
)

// compiledRule is a rule definition with every clause/modifier expression
// already compiled to a predicate, ready for evaluation.
type compiledRule struct {
	rule  *domain.Rule
	def   *domain.RuleDefinition
	preds map[string]expr.Predicate // keyed by expression text
	errs  []string                  // compile errors for malformed clauses/modifiers
}

// definitionCache is a read-mostly map keyed by (ruleId, updatedAt), so a
// rule mutation invalidates its own entry without needing an explicit bust
// call from the Rule Service. Safe for concurrent readers and infrequent
// writers (spec §5).
type definitionCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]*compiledRule
}

type cacheKey struct {
	ruleID    int64
	updatedAt int64 // UnixNano
}

func newDefinitionCache() *definitionCache {
	return &definitionCache{entries: make(map[cacheKey]*compiledRule)}
}

func (c *definitionCache) get(rule *domain.Rule) (*compiledRule, bool) {
	key := cacheKey{ruleID: rule.ID, updatedAt: rule.UpdatedAt.UnixNano()}
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	return entry, ok
}

func (c *definitionCache) put(rule *domain.Rule, entry *compiledRule) {
	key := cacheKey{ruleID: rule.ID, updatedAt: rule.UpdatedAt.UnixNano()}
	c.mu.Lock()
	c.entries[key] = entry
	// Opportunistically evict stale entries for the same rule id so the
	// cache doesn't grow without bound across repeated updates.
	for k := range c.entries {
		if k.ruleID == rule.ID && k != key {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// compileAndCache parses rule.Definition and compiles every expression it
// contains, caching the result keyed by (rule.ID, rule.UpdatedAt). A
// malformed rule never errors here; compile failures are recorded on the
// returned compiledRule.errs for the engine to surface per §4.5(b).
func (c *definitionCache) compileAndCache(rule *domain.Rule) *compiledRule {
	if cached, ok := c.get(rule); ok {
		return cached
	}

	entry := &compiledRule{rule: rule, preds: make(map[string]expr.Predicate)}

	def, err := ruledef.ParseRuleDefinition([]byte(rule.Definition))
	if err != nil {
		entry.errs = append(entry.errs, err.Error())
		c.put(rule, entry)
		return entry
	}
	entry.def = def

	compileOne := func(expression string) {
		if expression == "" {
			return
		}
		if _, ok := entry.preds[expression]; ok {
			return
		}
		pred, err := expr.Compile(expression)
		if err != nil {
			entry.errs = append(entry.errs, err.Error())
			return
		}
		entry.preds[expression] = pred
	}

	for _, clause := range def.Clauses {
		compileOne(clause.If)
	}
	if def.Score != nil {
		for _, m := range def.Score.Add {
			compileOne(m.When)
		}
		for _, m := range def.Score.Subtract {
			compileOne(m.When)
		}
	}

	c.put(rule, entry)
	return entry
}
