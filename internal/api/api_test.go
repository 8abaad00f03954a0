package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smartunderwrite/smartunderwrite/internal/domain"
	"github.com/smartunderwrite/smartunderwrite/internal/overrides"
	"github.com/smartunderwrite/smartunderwrite/internal/rules"
	"github.com/smartunderwrite/smartunderwrite/internal/store"
)

const testRuleDefinition = `{
	"name": "Low credit reject",
	"priority": 10,
	"clauses": [
		{ "if": "CreditScore < 500", "then": "REJECT", "reason": "Low credit score" },
		{ "if": "Amount > 50000", "then": "MANUAL", "reason": "Large loan amount" }
	],
	"score": {
		"base": 600,
		"add": [ { "when": "EmploymentType == \"salaried\"", "points": 50 } ]
	}
}`

// newTestServer wires a server over an in-memory SQLite store, the way the
// teacher's test helper wires an in-memory engine.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	sqlStore, err := store.New(domain.StoreConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { sqlStore.Close() })

	ruleService := rules.NewService(sqlStore, slog.Default())
	engine := rules.NewEngine(sqlStore)
	overridesSvc := overrides.NewService(sqlStore)
	handler := NewHandler(ruleService, engine, overridesSvc, sqlStore, nil, "test-v1")

	cfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}
	return NewServer(cfg, handler)
}

func createTestRule(t *testing.T, server *Server) *domain.Rule {
	t.Helper()

	body, _ := json.Marshal(CreateRuleRequest{
		Name:       "Low credit reject",
		Priority:   10,
		Active:     true,
		Definition: json.RawMessage(testRuleDefinition),
		CreatedBy:  "tester",
	})
	req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("failed to create test rule: status %d: %s", rr.Code, rr.Body.String())
	}

	var rule domain.Rule
	if err := json.Unmarshal(rr.Body.Bytes(), &rule); err != nil {
		t.Fatalf("failed to parse created rule: %v", err)
	}
	return &rule
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got %q", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got %q", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestRuleLifecycle(t *testing.T) {
	server := newTestServer(t)

	rule := createTestRule(t, server)
	if rule.ID == 0 {
		t.Fatal("expected non-zero rule id")
	}
	if !rule.Active {
		t.Error("expected rule to be created active")
	}

	t.Run("GetRule", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/rules/%d", rule.ID), nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("GetRuleNotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rules/999999", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("GetRuleNonNumericID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rules/abc", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ListRules", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rules", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp map[string]any
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["count"].(float64) < 1 {
			t.Error("expected at least one rule listed")
		}
	})

	t.Run("DeactivateThenActivate", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/rules/%d/deactivate", rule.ID), bytes.NewBufferString(`{"changedBy":"tester"}`))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var deactivated domain.Rule
		json.Unmarshal(rr.Body.Bytes(), &deactivated)
		if deactivated.Active {
			t.Error("expected rule to be inactive after deactivate")
		}

		req = httptest.NewRequest(http.MethodPost, fmt.Sprintf("/rules/%d/activate", rule.ID), bytes.NewBufferString(`{"changedBy":"tester"}`))
		rr = httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("CreateRuleVersion", func(t *testing.T) {
		body, _ := json.Marshal(CreateRuleVersionRequest{
			Definition: json.RawMessage(testRuleDefinition),
			ChangedBy:  "tester",
		})
		req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/rules/%d/versions", rule.ID), bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/rules/%d/versions", rule.ID), nil)
		rr = httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("InvalidDefinitionRejected", func(t *testing.T) {
		body, _ := json.Marshal(CreateRuleRequest{
			Name:       "broken",
			Priority:   1,
			Active:     true,
			Definition: json.RawMessage(`{"name":"broken","priority":1,"clauses":[{"if":"((","then":"REJECT"}]}`),
			CreatedBy:  "tester",
		})
		req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestEvaluateEndpoint(t *testing.T) {
	server := newTestServer(t)
	createTestRule(t, server)

	t.Run("MissingAffiliateID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("RejectedByLowCreditScore", func(t *testing.T) {
		lowScore := int64(450)
		reqBody := EvaluateRequest{
			ApplicantID:    "applicant-001",
			Amount:         domain.DecimalFromInt(10000),
			ProductType:    "personal",
			EmploymentType: "salaried",
			IncomeMonthly:  domain.DecimalFromInt(4000),
			CreditScore:    &lowScore,
		}
		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(AffiliateIDHeader, "affiliate-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp EvaluateResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.DecisionID == "" {
			t.Error("expected decisionId in response")
		}
		if resp.Outcome != domain.OutcomeReject {
			t.Errorf("expected outcome REJECT, got %s", resp.Outcome)
		}
		if resp.Status != domain.DecisionRejected {
			t.Errorf("expected status REJECTED, got %s", resp.Status)
		}
	})

	t.Run("ManualReviewByLargeAmount", func(t *testing.T) {
		goodScore := int64(720)
		reqBody := EvaluateRequest{
			ApplicantID:    "applicant-002",
			Amount:         domain.DecimalFromInt(75000),
			ProductType:    "mortgage",
			EmploymentType: "salaried",
			IncomeMonthly:  domain.DecimalFromInt(9000),
			CreditScore:    &goodScore,
		}
		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(AffiliateIDHeader, "affiliate-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp EvaluateResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Outcome != domain.OutcomeManual {
			t.Errorf("expected outcome MANUAL, got %s", resp.Outcome)
		}
	})

	t.Run("MissingApplicantID", func(t *testing.T) {
		reqBody := EvaluateRequest{Amount: domain.DecimalFromInt(1000), ProductType: "personal"}
		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(AffiliateIDHeader, "affiliate-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NonPositiveAmount", func(t *testing.T) {
		reqBody := EvaluateRequest{ApplicantID: "applicant-003", Amount: domain.DecimalFromInt(0), ProductType: "personal"}
		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(AffiliateIDHeader, "affiliate-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(AffiliateIDHeader, "affiliate-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		reqBody := EvaluateRequest{ApplicantID: "applicant-004", Amount: domain.DecimalFromInt(1000), ProductType: "personal"}
		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(AffiliateIDHeader, "affiliate-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestDecisionsAndOverride(t *testing.T) {
	server := newTestServer(t)
	createTestRule(t, server)

	goodScore := int64(720)
	reqBody := EvaluateRequest{
		ApplicantID:    "applicant-010",
		Amount:         domain.DecimalFromInt(90000),
		ProductType:    "mortgage",
		EmploymentType: "salaried",
		IncomeMonthly:  domain.DecimalFromInt(9000),
		CreditScore:    &goodScore,
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(AffiliateIDHeader, "affiliate-001")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("setup evaluation failed: status %d: %s", rr.Code, rr.Body.String())
	}
	var evalResp EvaluateResponse
	json.Unmarshal(rr.Body.Bytes(), &evalResp)
	if evalResp.Status != domain.DecisionManualReview {
		t.Fatalf("expected setup decision to land in manual review, got %s", evalResp.Status)
	}

	t.Run("GetDecision", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/decisions/"+evalResp.DecisionID, nil)
		req.Header.Set(AffiliateIDHeader, "affiliate-001")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("ListDecisions", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/decisions", nil)
		req.Header.Set(AffiliateIDHeader, "affiliate-001")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp map[string]any
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["count"].(float64) < 1 {
			t.Error("expected at least one decision listed")
		}
	})

	t.Run("OverrideApproves", func(t *testing.T) {
		overrideBody, _ := json.Marshal(OverrideRequest{
			Outcome:       domain.OutcomeApprove,
			UnderwriterID: "underwriter-1",
			Reason:        "manual review cleared",
		})
		req := httptest.NewRequest(http.MethodPost, "/decisions/"+evalResp.DecisionID+"/override", bytes.NewBuffer(overrideBody))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(AffiliateIDHeader, "affiliate-001")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var decision domain.Decision
		json.Unmarshal(rr.Body.Bytes(), &decision)
		if decision.Status != domain.DecisionApproved {
			t.Errorf("expected status APPROVED after override, got %s", decision.Status)
		}
		if decision.OverriddenBy != "underwriter-1" {
			t.Errorf("expected overriddenBy 'underwriter-1', got %q", decision.OverriddenBy)
		}
	})

	t.Run("OverrideAlreadyDecidedRejected", func(t *testing.T) {
		overrideBody, _ := json.Marshal(OverrideRequest{
			Outcome:       domain.OutcomeReject,
			UnderwriterID: "underwriter-2",
			Reason:        "changed my mind",
		})
		req := httptest.NewRequest(http.MethodPost, "/decisions/"+evalResp.DecisionID+"/override", bytes.NewBuffer(overrideBody))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(AffiliateIDHeader, "affiliate-001")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 overriding an already-decided decision, got %d", rr.Code)
		}
	})

	t.Run("OverrideMissingUnderwriterID", func(t *testing.T) {
		overrideBody, _ := json.Marshal(OverrideRequest{Outcome: domain.OutcomeApprove})
		req := httptest.NewRequest(http.MethodPost, "/decisions/"+evalResp.DecisionID+"/override", bytes.NewBuffer(overrideBody))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(AffiliateIDHeader, "affiliate-001")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("OverrideUnknownDecision", func(t *testing.T) {
		overrideBody, _ := json.Marshal(OverrideRequest{
			Outcome:       domain.OutcomeApprove,
			UnderwriterID: "underwriter-1",
		})
		req := httptest.NewRequest(http.MethodPost, "/decisions/does-not-exist/override", bytes.NewBuffer(overrideBody))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(AffiliateIDHeader, "affiliate-001")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("AffiliateMiddlewareExtractsID", func(t *testing.T) {
		var captured string

		handler := AffiliateMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = GetAffiliateID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(AffiliateIDHeader, "my-affiliate-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if captured != "my-affiliate-123" {
			t.Errorf("expected affiliate ID 'my-affiliate-123', got %q", captured)
		}
	})

	t.Run("AffiliateMiddlewareRejectsMissingID", func(t *testing.T) {
		handler := AffiliateMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedTraceID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTraceID = GetTraceID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTraceID == "" {
			t.Error("expected trace ID to be set")
		}
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
