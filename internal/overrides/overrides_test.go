package overrides

import (
	"context"
	"testing"

	"github.com/smartunderwrite/smartunderwrite/internal/domain"
)

type memDecisionStore struct {
	decisions map[string]*domain.Decision
}

func newMemStore(d *domain.Decision) *memDecisionStore {
	return &memDecisionStore{decisions: map[string]*domain.Decision{d.ID: d}}
}

func (m *memDecisionStore) GetDecision(ctx context.Context, id string) (*domain.Decision, error) {
	d, ok := m.decisions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d, nil
}

func (m *memDecisionStore) SaveDecision(ctx context.Context, decision *domain.Decision) error {
	m.decisions[decision.ID] = decision
	return nil
}

func TestOverrideFromManualReview(t *testing.T) {
	d := &domain.Decision{ID: "d1", Status: domain.DecisionManualReview}
	store := newMemStore(d)
	svc := NewService(store)

	updated, err := svc.Override(context.Background(), "d1", domain.OutcomeApprove, "uw-1", "looks fine")
	if err != nil {
		t.Fatalf("Override failed: %v", err)
	}
	if updated.Status != domain.DecisionApproved {
		t.Errorf("Status = %s, want APPROVED", updated.Status)
	}
	if updated.OverriddenBy != "uw-1" {
		t.Errorf("OverriddenBy = %q", updated.OverriddenBy)
	}
}

func TestOverrideRejectedWhenNotManualReview(t *testing.T) {
	d := &domain.Decision{ID: "d1", Status: domain.DecisionApproved}
	store := newMemStore(d)
	svc := NewService(store)

	_, err := svc.Override(context.Background(), "d1", domain.OutcomeReject, "uw-1", "changed my mind")
	if err != domain.ErrInvalidOverride {
		t.Fatalf("expected ErrInvalidOverride, got %v", err)
	}
}

func TestOverrideUnknownDecision(t *testing.T) {
	svc := NewService(newMemStore(&domain.Decision{ID: "other"}))
	_, err := svc.Override(context.Background(), "missing", domain.OutcomeApprove, "uw-1", "")
	if err == nil {
		t.Fatal("expected error for unknown decision")
	}
}
