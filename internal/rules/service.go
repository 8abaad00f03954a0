package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smartunderwrite/smartunderwrite/internal/domain"
	"github.com/smartunderwrite/smartunderwrite/internal/ruledef"
)

// Service is the Rule Service (spec §4.4): it enforces the versioning
// discipline around the Rule Store so every mutation is preceded by an
// immutable snapshot of the pre-mutation state.
type Service struct {
	store domain.RuleStore
	log   *slog.Logger

	// events and cache are optional: when either is nil, the matching
	// publish/invalidate below becomes a no-op. cmd/smartunderwrite wires
	// both for every tier, so instances sharing the bus and cache drop their
	// cached rule definitions and learn about the mutation in real time.
	events domain.EventBus
	cache  domain.Cache

	// locks serializes mutations per originalRuleId so version numbers
	// stay monotonic under concurrent requests (spec §5). The Rule Store
	// itself also guards against races via CreateVersion's retry loop;
	// this mutex avoids the common case of retrying at all.
	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// NewService builds a Rule Service over store.
func NewService(store domain.RuleStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log, locks: make(map[int64]*sync.Mutex)}
}

// SetEventBus wires an EventBus so rule mutations publish TopicRuleChanged /
// TopicVersionCreated notifications. Optional; nil leaves publishing off.
func (s *Service) SetEventBus(events domain.EventBus) {
	s.events = events
}

// SetCache wires a distributed Cache so rule mutations invalidate any
// cached definition for the mutated rule. Optional; nil leaves it off.
func (s *Service) SetCache(cache domain.Cache) {
	s.cache = cache
}

// notify publishes a RuleChangedEvent and drops any cached definition for
// ruleID. Best-effort: failures are logged, never returned to the caller,
// since the mutation they describe already committed to the store.
func (s *Service) notify(ctx context.Context, topic string, ruleID int64, reason, changedBy string) {
	if s.cache != nil {
		if err := s.cache.Delete(ctx, domain.GlobalAffiliateID, cacheKeyForRule(ruleID)); err != nil {
			s.log.Warn("failed to invalidate cached rule definition", "ruleId", ruleID, "error", err)
		}
	}
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(domain.RuleChangedEvent{
		RuleID:    ruleID,
		Reason:    reason,
		ChangedBy: changedBy,
		At:        time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn("failed to marshal rule change event", "ruleId", ruleID, "error", err)
		return
	}
	if err := s.events.Publish(ctx, domain.GlobalAffiliateID, topic, payload); err != nil {
		s.log.Warn("failed to publish rule change event", "ruleId", ruleID, "topic", topic, "error", err)
	}
}

func cacheKeyForRule(ruleID int64) string {
	return fmt.Sprintf("rule-definition:%d", ruleID)
}

func (s *Service) lockFor(originalRuleID int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[originalRuleID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[originalRuleID] = l
	}
	return l
}

func (s *Service) GetAll(ctx context.Context) ([]*domain.Rule, error) {
	return s.store.GetAll(ctx)
}

func (s *Service) GetActive(ctx context.Context) ([]*domain.Rule, error) {
	return s.store.GetActive(ctx)
}

func (s *Service) GetByID(ctx context.Context, id int64) (*domain.Rule, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) GetHistory(ctx context.Context, originalRuleID int64) ([]*domain.RuleVersion, error) {
	return s.store.GetHistory(ctx, originalRuleID)
}

// ValidateDefinition runs the Rule Parser's structural+semantic checks
// without touching storage.
func (s *Service) ValidateDefinition(raw []byte) *ruledef.ValidationResult {
	return ruledef.ValidateRuleJson(raw)
}

// Create validates definition, inserts the new rule, and writes its
// initial version record. Storage is never touched on validation failure.
func (s *Service) Create(ctx context.Context, name, description string, priority int, active bool, definitionJSON []byte, createdBy string) (*domain.Rule, error) {
	def, validation, err := s.parseAndValidate(definitionJSON)
	if err != nil {
		return nil, err
	}

	rule := &domain.Rule{
		Name:        coalesce(name, def.Name),
		Description: description,
		Priority:    priority,
		Active:      active,
		Definition:  string(mustCanonical(definitionJSON, def)),
	}
	_ = validation

	if err := s.store.Create(ctx, rule); err != nil {
		return nil, err
	}

	lock := s.lockFor(rule.ID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.store.CreateVersion(ctx, rule.Snapshot(0, createdBy, domain.ReasonInitialVersion)); err != nil {
		s.log.Warn("failed to write initial version record", "ruleId", rule.ID, "error", err)
		return nil, err
	}

	s.notify(ctx, domain.TopicRuleChanged, rule.ID, domain.ReasonInitialVersion, createdBy)
	return rule, nil
}

// Update validates the new definition, snapshots the pre-mutation rule,
// then applies the change.
func (s *Service) Update(ctx context.Context, id int64, name, description string, priority int, definitionJSON []byte, changedBy string) (*domain.Rule, error) {
	def, _, err := s.parseAndValidate(definitionJSON)
	if err != nil {
		return nil, err
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.CreateVersion(ctx, current.Snapshot(0, changedBy, domain.ReasonRuleUpdated)); err != nil {
		return nil, err
	}

	current.Name = coalesce(name, def.Name)
	current.Description = description
	current.Priority = priority
	current.Definition = string(mustCanonical(definitionJSON, def))

	if err := s.store.Update(ctx, current); err != nil {
		return nil, err
	}
	s.notify(ctx, domain.TopicRuleChanged, current.ID, domain.ReasonRuleUpdated, changedBy)
	return current, nil
}

// Activate sets active=true. A no-op (with a logged warning) if already
// active, but still safe under concurrent requests via the per-rule lock.
func (s *Service) Activate(ctx context.Context, id int64, changedBy string) (*domain.Rule, error) {
	return s.setActive(ctx, id, true, domain.ReasonRuleActivated, changedBy)
}

// Deactivate sets active=false.
func (s *Service) Deactivate(ctx context.Context, id int64, changedBy string) (*domain.Rule, error) {
	return s.setActive(ctx, id, false, domain.ReasonRuleDeactivated, changedBy)
}

func (s *Service) setActive(ctx context.Context, id int64, target bool, reason, changedBy string) (*domain.Rule, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Active == target {
		s.log.Warn("rule already in target active state", "ruleId", id, "active", target)
		return current, nil
	}

	if _, err := s.store.CreateVersion(ctx, current.Snapshot(0, changedBy, reason)); err != nil {
		return nil, err
	}
	current.Active = target
	if err := s.store.Update(ctx, current); err != nil {
		return nil, err
	}
	s.notify(ctx, domain.TopicRuleChanged, current.ID, reason, changedBy)
	return current, nil
}

// Delete snapshots the rule's final state and removes the row.
func (s *Service) Delete(ctx context.Context, id int64, changedBy string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.store.CreateVersion(ctx, current.Snapshot(0, changedBy, domain.ReasonRuleDeleted)); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.notify(ctx, domain.TopicRuleChanged, id, domain.ReasonRuleDeleted, changedBy)
	return nil
}

// CreateNewVersion deactivates the current rule and inserts a new Rule row
// as its active successor (spec §4.4 step 5, and the preserved open
// question in §9: the new row gets a new id). The successor's version
// rows are keyed by its new id; no version row links it to the old rule.
func (s *Service) CreateNewVersion(ctx context.Context, id int64, definitionJSON []byte, changedBy string) (*domain.Rule, error) {
	def, _, err := s.parseAndValidate(definitionJSON)
	if err != nil {
		return nil, err
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	old, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.CreateVersion(ctx, old.Snapshot(0, changedBy, domain.ReasonRuleUpdated)); err != nil {
		return nil, err
	}
	old.Active = false
	if err := s.store.Update(ctx, old); err != nil {
		return nil, err
	}

	successor := &domain.Rule{
		Name:        coalesce(def.Name, old.Name),
		Description: old.Description,
		Priority:    old.Priority,
		Active:      true,
		Definition:  string(mustCanonical(definitionJSON, def)),
	}
	if err := s.store.Create(ctx, successor); err != nil {
		return nil, err
	}

	successorLock := s.lockFor(successor.ID)
	successorLock.Lock()
	defer successorLock.Unlock()
	if _, err := s.store.CreateVersion(ctx, successor.Snapshot(0, changedBy, domain.ReasonNewVersion)); err != nil {
		return nil, err
	}

	s.notify(ctx, domain.TopicVersionCreated, successor.ID, domain.ReasonNewVersion, changedBy)
	return successor, nil
}

func (s *Service) parseAndValidate(definitionJSON []byte) (*domain.RuleDefinition, *ruledef.ValidationResult, error) {
	result := ruledef.ValidateRuleJson(definitionJSON)
	if !result.IsValid {
		return nil, result, fmt.Errorf("%w: %v", domain.ErrInvalidRuleDefinition, result.Errors)
	}
	def, err := ruledef.ParseRuleDefinition(definitionJSON)
	if err != nil {
		return nil, result, fmt.Errorf("%w: %v", domain.ErrInvalidJSON, err)
	}
	return def, result, nil
}

func coalesce(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}

// mustCanonical re-serializes the parsed definition so the stored JSON is
// always the canonical form, even when the caller's raw JSON used
// non-canonical key casing or trailing commas.
func mustCanonical(raw []byte, def *domain.RuleDefinition) []byte {
	canon, err := ruledef.Serialize(def)
	if err != nil {
		return raw
	}
	return canon
}
