package domain

import "time"

// DecisionStatus is the lifecycle state of a Decision.
type DecisionStatus string

const (
	DecisionSubmitted    DecisionStatus = "SUBMITTED"
	DecisionEvaluated    DecisionStatus = "EVALUATED"
	DecisionApproved     DecisionStatus = "APPROVED"
	DecisionRejected     DecisionStatus = "REJECTED"
	DecisionManualReview DecisionStatus = "MANUAL_REVIEW"
)

// Decision records the outcome of evaluating an Application, and its
// subsequent disposition: an underwriter may only override a decision
// sitting in DecisionManualReview.
type Decision struct {
	ID            string         `json:"id"`
	ApplicationID string         `json:"applicationId"`
	AffiliateID   string         `json:"affiliateId"`
	Status        DecisionStatus `json:"status"`

	Result *EvaluationResult `json:"result,omitempty"`

	OverriddenBy     string `json:"overriddenBy,omitempty"`
	OverrideReason   string `json:"overrideReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Evaluate transitions a Submitted decision to Evaluated and stamps in the
// terminal status implied by result.Outcome.
func (d *Decision) Evaluate(result *EvaluationResult) {
	d.Result = result
	d.Status = DecisionEvaluated
	switch result.Outcome {
	case OutcomeApprove:
		d.Status = DecisionApproved
	case OutcomeReject:
		d.Status = DecisionRejected
	case OutcomeManual:
		d.Status = DecisionManualReview
	}
}

// CanOverride reports whether an underwriter may override this decision.
func (d *Decision) CanOverride() bool {
	return d.Status == DecisionManualReview
}

// Override applies an underwriter's final call to a decision currently
// sitting in manual review. outcome must be OutcomeApprove or OutcomeReject.
func (d *Decision) Override(outcome Outcome, underwriterID, reason string) error {
	if !d.CanOverride() {
		return ErrInvalidOverride
	}
	switch outcome {
	case OutcomeApprove:
		d.Status = DecisionApproved
	case OutcomeReject:
		d.Status = DecisionRejected
	default:
		return ErrInvalidOutcome
	}
	d.OverriddenBy = underwriterID
	d.OverrideReason = reason
	return nil
}
