package rules

import (
	"context"
	"fmt"

	"github.com/smartunderwrite/smartunderwrite/internal/domain"
)

// Engine is the Evaluation Engine (spec §4.5). It holds no mutable state of
// its own beyond the definition cache; the Rule Store is the only shared
// mutable resource. Treat every call as running on one worker with no
// internal parallelism — evaluation is CPU-bound once rules are loaded.
type Engine struct {
	store domain.RuleStore
	cache *definitionCache
}

// NewEngine builds an Engine reading active rules from store.
func NewEngine(store domain.RuleStore) *Engine {
	return &Engine{store: store, cache: newDefinitionCache()}
}

// Evaluate loads the active (global) rules from the Rule Store and
// evaluates application against them.
func (e *Engine) Evaluate(ctx context.Context, application *domain.Application) (*domain.EvaluationResult, error) {
	rules, err := e.store.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	return e.EvaluateWithRules(ctx, application, rules)
}

// EvaluateWithRules evaluates application against a caller-supplied rule
// set instead of the store's active rules, e.g. for dry-run validation of a
// not-yet-saved rule.
func (e *Engine) EvaluateWithRules(ctx context.Context, application *domain.Application, ruleSet []*domain.Rule) (*domain.EvaluationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}

	evalCtx := application.ToEvaluationContext()
	result := &domain.EvaluationResult{}

	if len(ruleSet) == 0 {
		result.Outcome = domain.OutcomeManual
		result.AppendReason("No active rules")
		return result, nil
	}

	// maxBase is the max base among rules whose clauses ran and that carry
	// a score block; haveBase records whether any such rule was seen.
	maxBase := 0
	haveBase := false
	var fired bool

	for _, rule := range ruleSet {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
		default:
		}

		compiled := e.cache.compileAndCache(rule)
		trace := domain.RuleTrace{RuleName: rule.Name}

		if compiled.def == nil {
			trace.Executed = false
			trace.Errors = compiled.errs
			result.RuleResults = append(result.RuleResults, trace)
			continue
		}

		trace.Executed = true

		outcome, reason, stop := evaluateClauses(compiled, evalCtx)
		if outcome != "" {
			fired = true
			trace.Outcome = outcome
			trace.Reason = reason
			result.SetOutcome(outcome)
			result.AppendReason(reason)
		}

		if compiled.def.Score != nil {
			if !haveBase || compiled.def.Score.Base > maxBase {
				maxBase = compiled.def.Score.Base
				haveBase = true
			}
			impact := applyModifiers(compiled, evalCtx, &trace)
			trace.ScoreImpact = impact
		}
		trace.Errors = append(trace.Errors, compiled.errs...)

		result.RuleResults = append(result.RuleResults, trace)

		if stop {
			break // REJECT is terminal; stop evaluating remaining rules.
		}
	}

	score := maxBase
	for _, trace := range result.RuleResults {
		score += trace.ScoreImpact
	}
	if score < 0 {
		score = 0
	}
	result.Score = score

	if !fired && result.Outcome == "" {
		result.Outcome = domain.OutcomeManual
		result.AppendReason("No rules matched")
	}

	return result, nil
}

// evaluateClauses walks a rule's clauses in declaration order; the first
// whose condition is true fires. Returns the fired outcome (empty if none
// fired), its reason, and whether evaluation of remaining rules must stop
// (true only for REJECT).
func evaluateClauses(compiled *compiledRule, ctx *domain.EvaluationContext) (domain.Outcome, string, bool) {
	for _, clause := range compiled.def.Clauses {
		pred, ok := compiled.preds[clause.If]
		if !ok {
			continue // clause failed to compile; already recorded in compiled.errs
		}
		if !pred(ctx) {
			continue
		}
		switch clause.Then {
		case domain.Reject:
			return domain.OutcomeReject, clause.Reason, true
		case domain.Approve:
			return domain.OutcomeApprove, clause.Reason, false
		case domain.Manual:
			return domain.OutcomeManual, clause.Reason, false
		}
		return "", "", false
	}
	return "", "", false
}

// applyModifiers adds/subtracts score points for every modifier whose
// condition holds, regardless of whether the rule's own clauses fired.
func applyModifiers(compiled *compiledRule, ctx *domain.EvaluationContext, trace *domain.RuleTrace) int {
	impact := 0
	for _, m := range compiled.def.Score.Add {
		pred, ok := compiled.preds[m.When]
		if !ok {
			continue
		}
		if pred(ctx) {
			impact += m.Points
		}
	}
	for _, m := range compiled.def.Score.Subtract {
		pred, ok := compiled.preds[m.When]
		if !ok {
			continue
		}
		if pred(ctx) {
			impact -= m.Points
		}
	}
	return impact
}

// GetActiveRules exposes the store's active-rule listing directly, per the
// §6 engine API shape.
func (e *Engine) GetActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	return e.store.GetActive(ctx)
}
