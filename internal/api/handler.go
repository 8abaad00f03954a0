package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/smartunderwrite/smartunderwrite/internal/domain"
	"github.com/smartunderwrite/smartunderwrite/internal/overrides"
	"github.com/smartunderwrite/smartunderwrite/internal/rules"
)

// DecisionStore is the persistence surface the API needs for decisions,
// beyond what overrides.DecisionStore already requires.
type DecisionStore interface {
	overrides.DecisionStore
	ListDecisions(ctx context.Context, affiliateID string) ([]*domain.Decision, error)
}

// Handler holds dependencies for API handlers.
type Handler struct {
	ruleService *rules.Service
	engine      *rules.Engine
	overrides   *overrides.Service
	decisions   DecisionStore
	metrics     *Metrics
	version     string
}

// NewHandler creates a new API handler.
func NewHandler(ruleService *rules.Service, engine *rules.Engine, overridesSvc *overrides.Service, decisions DecisionStore, metrics *Metrics, version string) *Handler {
	return &Handler{
		ruleService: ruleService,
		engine:      engine,
		overrides:   overridesSvc,
		decisions:   decisions,
		metrics:     metrics,
		version:     version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := h.engine.GetActiveRules(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

// --- Rule management ---

// CreateRuleRequest is the request body for POST /rules.
type CreateRuleRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Priority    int             `json:"priority"`
	Active      bool            `json:"active"`
	Definition  json.RawMessage `json:"definition"`
	CreatedBy   string          `json:"createdBy"`
}

// CreateRule handles POST /rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	rule, err := h.ruleService.Create(r.Context(), req.Name, req.Description, req.Priority, req.Active, req.Definition, req.CreatedBy)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// ListRules handles GET /rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.ruleService.GetAll(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": list, "count": len(list)})
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, err := ruleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule, err := h.ruleService.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// UpdateRuleRequest is the request body for PUT /rules/{id}.
type UpdateRuleRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Priority    int             `json:"priority"`
	Definition  json.RawMessage `json:"definition"`
	ChangedBy   string          `json:"changedBy"`
}

// UpdateRule handles PUT /rules/{id}.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := ruleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	rule, err := h.ruleService.Update(r.Context(), id, req.Name, req.Description, req.Priority, req.Definition, req.ChangedBy)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// activationRequest is the shared body for activate/deactivate.
type activationRequest struct {
	ChangedBy string `json:"changedBy"`
}

// ActivateRule handles POST /rules/{id}/activate.
func (h *Handler) ActivateRule(w http.ResponseWriter, r *http.Request) {
	id, err := ruleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req activationRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	rule, err := h.ruleService.Activate(r.Context(), id, req.ChangedBy)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// DeactivateRule handles POST /rules/{id}/deactivate.
func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	id, err := ruleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req activationRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	rule, err := h.ruleService.Deactivate(r.Context(), id, req.ChangedBy)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /rules/{id}.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := ruleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	changedBy := r.URL.Query().Get("changedBy")

	if err := h.ruleService.Delete(r.Context(), id, changedBy); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRuleVersions handles GET /rules/{id}/versions.
func (h *Handler) GetRuleVersions(w http.ResponseWriter, r *http.Request) {
	id, err := ruleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	history, err := h.ruleService.GetHistory(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": history, "count": len(history)})
}

// CreateRuleVersionRequest is the request body for POST /rules/{id}/versions.
type CreateRuleVersionRequest struct {
	Definition json.RawMessage `json:"definition"`
	ChangedBy  string          `json:"changedBy"`
}

// CreateRuleVersion handles POST /rules/{id}/versions: supersedes the rule
// at id with a new successor rule carrying the updated definition.
func (h *Handler) CreateRuleVersion(w http.ResponseWriter, r *http.Request) {
	id, err := ruleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req CreateRuleVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	successor, err := h.ruleService.CreateNewVersion(r.Context(), id, req.Definition, req.ChangedBy)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, successor)
}

// --- Evaluation ---

// EvaluateRequest is the request body for POST /evaluate. Amount and
// IncomeMonthly are domain.Decimal, not float64: json.Decoder hands
// Decimal.UnmarshalJSON the literal number text from the request body, so a
// value like 19.99 is parsed exactly instead of through an intermediate
// binary64.
type EvaluateRequest struct {
	ApplicantID    string         `json:"applicantId"`
	Amount         domain.Decimal `json:"amount"`
	ProductType    string         `json:"productType"`
	EmploymentType string         `json:"employmentType"`
	IncomeMonthly  domain.Decimal `json:"incomeMonthly"`
	CreditScore    *int64         `json:"creditScore,omitempty"`
}

// EvaluateResponse is the response body for POST /evaluate.
type EvaluateResponse struct {
	DecisionID    string                   `json:"decisionId"`
	ApplicationID string                   `json:"applicationId"`
	Status        domain.DecisionStatus    `json:"status"`
	Outcome       domain.Outcome           `json:"outcome"`
	Score         int                      `json:"score"`
	Reasons       []string                 `json:"reasons"`
	RuleResults   []domain.RuleTrace       `json:"ruleResults"`
}

// Evaluate handles POST /evaluate: builds an Application from the request,
// runs it through the Evaluation Engine, and records the resulting Decision.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	affiliateID := GetAffiliateID(ctx)

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.ApplicantID == "" {
		writeError(w, http.StatusBadRequest, "applicantId is required")
		return
	}
	if req.Amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	app := &domain.Application{
		ID:             uuid.New().String(),
		AffiliateID:    affiliateID,
		ApplicantID:    req.ApplicantID,
		Amount:         req.Amount,
		ProductType:    req.ProductType,
		EmploymentType: req.EmploymentType,
		IncomeMonthly:  req.IncomeMonthly,
		CreditScore:    req.CreditScore,
		CreatedAt:      time.Now().UTC(),
	}

	decision := &domain.Decision{
		ID:            uuid.New().String(),
		ApplicationID: app.ID,
		AffiliateID:   affiliateID,
		Status:        domain.DecisionSubmitted,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.decisions.SaveDecision(ctx, decision); err != nil {
		slog.Error("failed to save submitted decision", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record application")
		return
	}

	start := time.Now()
	result, err := h.engine.Evaluate(ctx, app)
	duration := time.Since(start)
	if err != nil {
		slog.Error("evaluation failed", "application_id", app.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}
	if h.metrics != nil {
		h.metrics.RecordEvaluation(string(result.Outcome), duration)
	}

	decision.Evaluate(result)
	if err := h.decisions.SaveDecision(ctx, decision); err != nil {
		slog.Error("failed to save evaluated decision", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record decision")
		return
	}

	writeJSON(w, http.StatusOK, EvaluateResponse{
		DecisionID:    decision.ID,
		ApplicationID: app.ID,
		Status:        decision.Status,
		Outcome:       result.Outcome,
		Score:         result.Score,
		Reasons:       result.Reasons,
		RuleResults:   result.RuleResults,
	})
}

// GetDecision handles GET /decisions/{id}.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	decision, err := h.decisions.GetDecision(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// ListDecisions handles GET /decisions.
func (h *Handler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	affiliateID := GetAffiliateID(r.Context())
	list, err := h.decisions.ListDecisions(r.Context(), affiliateID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": list, "count": len(list)})
}

// OverrideRequest is the request body for POST /decisions/{id}/override.
type OverrideRequest struct {
	Outcome       domain.Outcome `json:"outcome"`
	UnderwriterID string         `json:"underwriterId"`
	Reason        string         `json:"reason"`
}

// OverrideDecision handles POST /decisions/{id}/override.
func (h *Handler) OverrideDecision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.UnderwriterID == "" {
		writeError(w, http.StatusBadRequest, "underwriterId is required")
		return
	}

	decision, err := h.overrides.Override(r.Context(), id, req.Outcome, req.UnderwriterID, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// --- helpers ---

func ruleIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.New("rule id must be numeric")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps a domain sentinel error to an HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidRuleDefinition),
		errors.Is(err, domain.ErrInvalidExpression),
		errors.Is(err, domain.ErrInvalidJSON),
		errors.Is(err, domain.ErrInvalidOverride),
		errors.Is(err, domain.ErrInvalidOutcome):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrCancelled):
		writeError(w, http.StatusRequestTimeout, err.Error())
	default:
		slog.Error("internal service error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
