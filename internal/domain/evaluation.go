package domain

import "time"

// EvaluationContext is the transient, read-only projection of an application
// and applicant used to evaluate condition expressions. It is built per
// evaluation and never persisted. Amount and IncomeMonthly stay Decimal
// straight through from the Application that produced it, so the expression
// compiler's "exact decimal arithmetic" comparisons are exact with respect to
// the real decimal value, not an already-rounded float64.
type EvaluationContext struct {
	Amount          Decimal
	IncomeMonthly   Decimal
	CreditScore     *int64 // nullable
	EmploymentType  string
	ProductType     string
	ApplicationDate time.Time
	Additional      map[string]any
}

// Outcome is the final decision an evaluation reaches.
type Outcome string

const (
	OutcomeApprove Outcome = "APPROVE"
	OutcomeReject  Outcome = "REJECT"
	OutcomeManual  Outcome = "MANUAL"
)

// outcomeRank gives REJECT > MANUAL > APPROVE for tie-break comparisons.
var outcomeRank = map[Outcome]int{
	OutcomeApprove: 1,
	OutcomeManual:  2,
	OutcomeReject:  3,
}

// stronger reports whether candidate outranks current under REJECT > MANUAL > APPROVE.
func stronger(candidate, current Outcome) bool {
	if current == "" {
		return true
	}
	return outcomeRank[candidate] > outcomeRank[current]
}

// RuleTrace is the per-rule entry in an EvaluationResult's trace.
type RuleTrace struct {
	RuleName    string
	Executed    bool
	Outcome     Outcome // empty if no clause fired
	Reason      string
	ScoreImpact int
	Errors      []string
}

// EvaluationResult is the transient output of an evaluation.
type EvaluationResult struct {
	Outcome     Outcome
	Score       int
	Reasons     []string
	RuleResults []RuleTrace
}

// AppendReason appends reason to r.Reasons, deduplicating on first occurrence.
func (r *EvaluationResult) AppendReason(reason string) {
	if reason == "" {
		return
	}
	for _, existing := range r.Reasons {
		if existing == reason {
			return
		}
	}
	r.Reasons = append(r.Reasons, reason)
}

// SetOutcome applies candidate to r.Outcome following REJECT > MANUAL > APPROVE
// tie-break, except REJECT is terminal and can never be downgraded.
func (r *EvaluationResult) SetOutcome(candidate Outcome) {
	if r.Outcome == OutcomeReject {
		return
	}
	if stronger(candidate, r.Outcome) {
		r.Outcome = candidate
	}
}
