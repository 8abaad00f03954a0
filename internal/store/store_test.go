package store

import (
	"context"
	"testing"

	"github.com/smartunderwrite/smartunderwrite/internal/domain"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := New(domain.StoreConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule := &domain.Rule{Name: "r1", Priority: 10, Active: true, Definition: "{}"}
	if err := s.Create(ctx, rule); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if rule.ID == 0 {
		t.Fatal("expected non-zero ID after create")
	}

	got, err := s.GetByID(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Name != "r1" || got.Priority != 10 || !got.Active {
		t.Errorf("got = %+v", got)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetByID(context.Background(), 999)
	if err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetActiveOrderedByPriorityThenID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, "low", 10, true)
	mustCreate(t, s, "high", 5, true)
	mustCreate(t, s, "inactive", 1, false)
	mustCreate(t, s, "tie-a", 5, true)

	active, err := s.GetActive(ctx)
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("expected 3 active rules, got %d", len(active))
	}
	if active[0].Name != "high" || active[1].Name != "tie-a" || active[2].Name != "low" {
		names := make([]string, len(active))
		for i, r := range active {
			names[i] = r.Name
		}
		t.Fatalf("unexpected order: %v", names)
	}
}

func mustCreate(t *testing.T, s *SQLStore, name string, priority int, active bool) *domain.Rule {
	t.Helper()
	r := &domain.Rule{Name: name, Priority: priority, Active: active, Definition: "{}"}
	if err := s.Create(context.Background(), r); err != nil {
		t.Fatalf("Create(%s) failed: %v", name, err)
	}
	return r
}

func TestCreateVersionAssignsMonotonicNumbers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rule := mustCreate(t, s, "r", 1, true)

	v1, err := s.CreateVersion(ctx, &domain.RuleVersion{OriginalRuleID: rule.ID, Name: rule.Name, ChangeReason: domain.ReasonInitialVersion})
	if err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	if v1.Version != 1 {
		t.Fatalf("expected version 1, got %d", v1.Version)
	}

	v2, err := s.CreateVersion(ctx, &domain.RuleVersion{OriginalRuleID: rule.ID, Name: rule.Name, ChangeReason: domain.ReasonRuleUpdated})
	if err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	if v2.Version != 2 {
		t.Fatalf("expected version 2, got %d", v2.Version)
	}

	history, err := s.GetHistory(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 2 || history[0].Version != 1 || history[1].Version != 2 {
		t.Fatalf("unexpected history: %+v", history)
	}

	latest, err := s.GetLatestVersion(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetLatestVersion failed: %v", err)
	}
	if latest.Version != 2 {
		t.Fatalf("expected latest version 2, got %d", latest.Version)
	}
}

func TestUpdateNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.Update(context.Background(), &domain.Rule{ID: 404, Name: "x"})
	if err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.Delete(context.Background(), 404); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
