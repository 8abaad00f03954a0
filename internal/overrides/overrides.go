// Package overrides implements the underwriter override operation: turning
// a Decision sitting in manual review into a final Approved or Rejected
// call, recording who made it and why.
package overrides

import (
	"context"
	"fmt"

	"github.com/smartunderwrite/smartunderwrite/internal/domain"
)

// DecisionStore is the minimal persistence surface overrides needs; the
// application service that owns Decision rows implements it.
type DecisionStore interface {
	GetDecision(ctx context.Context, id string) (*domain.Decision, error)
	SaveDecision(ctx context.Context, decision *domain.Decision) error
}

// Service applies underwriter overrides to decisions.
type Service struct {
	decisions DecisionStore
}

// NewService builds an overrides.Service over a DecisionStore.
func NewService(decisions DecisionStore) *Service {
	return &Service{decisions: decisions}
}

// Override loads decisionID, checks it is eligible (manual review only),
// and applies outcome as the underwriter's final call.
func (s *Service) Override(ctx context.Context, decisionID string, outcome domain.Outcome, underwriterID, reason string) (*domain.Decision, error) {
	decision, err := s.decisions.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}

	if err := decision.Override(outcome, underwriterID, reason); err != nil {
		return nil, err
	}

	if err := s.decisions.SaveDecision(ctx, decision); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	return decision, nil
}
