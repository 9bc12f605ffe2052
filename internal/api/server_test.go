package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/billingworks/creditledger/internal/store/gormstore"
	"github.com/billingworks/creditledger/pkg/credits"
	"github.com/billingworks/creditledger/pkg/proration"
)

func TestCreditEndpointsFullCycle(t *testing.T) {
	server := startTestServer(t)

	created := execJSON(t, server, http.MethodPost, "/api/workspaces",
		map[string]any{"workspace_id": "ws-api", "initial_credits": 100}, http.StatusCreated)
	if created["workspace_id"] != "ws-api" {
		t.Fatalf("unexpected create response: %v", created)
	}

	execJSON(t, server, http.MethodPost, "/api/workspaces",
		map[string]any{"workspace_id": "ws-api", "initial_credits": 100}, http.StatusConflict)

	allocated := execJSON(t, server, http.MethodPost, "/api/workspaces/ws-api/credits/allocate",
		map[string]any{"amount": 80}, http.StatusOK)
	if allocated["remaining_credits"].(float64) != 20 {
		t.Fatalf("expected 20 remaining after allocation, got %v", allocated["remaining_credits"])
	}

	rejected := execJSON(t, server, http.MethodPost, "/api/workspaces/ws-api/credits/allocate",
		map[string]any{"amount": 30}, http.StatusPaymentRequired)
	errBody := rejected["error"].(map[string]any)
	if errBody["required"].(float64) != 30 || errBody["available"].(float64) != 20 {
		t.Fatalf("unexpected insufficient payload: %v", errBody)
	}

	consumed := execJSON(t, server, http.MethodPost, "/api/workspaces/ws-api/credits/consume",
		map[string]any{"amount": 80}, http.StatusOK)
	if consumed["remaining_credits"].(float64) != 20 {
		t.Fatalf("expected 20 total after consume, got %v", consumed["remaining_credits"])
	}

	refunded := execJSON(t, server, http.MethodPost, "/api/workspaces/ws-api/credits/refund",
		map[string]any{"amount": 5}, http.StatusOK)
	if refunded["available_credits"].(float64) != 25 {
		t.Fatalf("expected 25 available after refund, got %v", refunded["available_credits"])
	}

	balance := execJSON(t, server, http.MethodGet, "/api/workspaces/ws-api/balance", nil, http.StatusOK)
	if balance["total_credits"].(float64) != 25 || balance["allocated_credits"].(float64) != 0 {
		t.Fatalf("unexpected balance: %v", balance)
	}

	entries := execJSON(t, server, http.MethodGet, "/api/workspaces/ws-api/entries", nil, http.StatusOK)
	if len(entries["entries"].([]any)) != 3 {
		t.Fatalf("expected 3 audit entries, got %v", entries["entries"])
	}
}

func TestCreditEndpointErrors(t *testing.T) {
	server := startTestServer(t)

	execJSON(t, server, http.MethodGet, "/api/workspaces/missing/balance", nil, http.StatusNotFound)
	execJSON(t, server, http.MethodPost, "/api/workspaces/ws/credits/allocate",
		map[string]any{"amount": 0}, http.StatusBadRequest)
	execJSON(t, server, http.MethodPost, "/api/workspaces",
		map[string]any{"workspace_id": "   ", "initial_credits": 1}, http.StatusBadRequest)
}

func TestConsumeWithoutAllocationConflicts(t *testing.T) {
	server := startTestServer(t)

	execJSON(t, server, http.MethodPost, "/api/workspaces",
		map[string]any{"workspace_id": "ws-conflict", "initial_credits": 50}, http.StatusCreated)
	execJSON(t, server, http.MethodPost, "/api/workspaces/ws-conflict/credits/consume",
		map[string]any{"amount": 10}, http.StatusConflict)
	execJSON(t, server, http.MethodPost, "/api/workspaces/ws-conflict/credits/release",
		map[string]any{"amount": 10}, http.StatusConflict)
}

func TestProrationEndpoints(t *testing.T) {
	server := startTestServer(t)

	details := execJSON(t, server, http.MethodPost, "/api/proration/calculate",
		map[string]any{"subscription_id": "sub-1", "new_plan_id": "plan-pro"}, http.StatusOK)
	if details["is_upgrade"] != true {
		t.Fatalf("expected upgrade, got %v", details)
	}
	if details["immediate_charge_cents"].(float64) != 500 {
		t.Fatalf("expected 500 cents due, got %v", details["immediate_charge_cents"])
	}
	breakdown := details["breakdown"].(map[string]any)
	if len(breakdown["lines"].([]any)) != 3 {
		t.Fatalf("expected 3 breakdown lines, got %v", breakdown["lines"])
	}

	execJSON(t, server, http.MethodPost, "/api/proration/calculate",
		map[string]any{"subscription_id": "absent", "new_plan_id": "plan-pro"}, http.StatusNotFound)
	execJSON(t, server, http.MethodPost, "/api/proration/calculate",
		map[string]any{"subscription_id": "sub-1", "new_plan_id": "plan-inactive"}, http.StatusBadRequest)

	// No preview client wired in this harness.
	execJSON(t, server, http.MethodPost, "/api/proration/preview",
		map[string]any{"subscription_id": "sub-1", "new_plan_id": "plan-pro"}, http.StatusBadGateway)
}

func TestRouterDefaultsAllowedOrigins(t *testing.T) {
	// No origins configured: the router must still come up and admit the
	// default development origin.
	server := startTestServer(t)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/healthz", nil)
	if err != nil {
		t.Fatalf("request init failed: %v", err)
	}
	req.Header.Set("Origin", defaultAllowedOrigin)
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != defaultAllowedOrigin {
		t.Fatalf("expected default origin to be allowed, got %q", got)
	}
}

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(t.TempDir()+"/api.db"), &gorm.Config{})
	if err != nil {
		t.Fatalf("sqlite open failed: %v", err)
	}
	if err := gormstore.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate failed: %v", err)
	}

	store := gormstore.New(db)
	clock := func() int64 { return time.Now().UTC().Unix() }
	creditService, err := credits.NewDeductionService(store, clock)
	if err != nil {
		t.Fatalf("credit service init failed: %v", err)
	}

	catalog := gormstore.NewCatalogStore(db)
	seedCatalog(t, catalog)
	// Fixed clock: 15 of 30 days remain in the seeded period.
	prorationNow := func() time.Time { return time.Date(2026, 8, 16, 0, 0, 0, 0, time.UTC) }
	prorationService, err := proration.NewService(catalog, prorationNow)
	if err != nil {
		t.Fatalf("proration service init failed: %v", err)
	}

	handler := newHandler(Config{ListenAddr: ":0"}, zap.NewNop(), Dependencies{
		Credits:     creditService,
		Workspaces:  store,
		Proration:   prorationService,
		Generations: gormstore.NewGenerationStore(db),
	})
	server := httptest.NewServer(setupRouter(Config{ListenAddr: ":0"}, handler))
	t.Cleanup(server.Close)
	return server
}

func seedCatalog(t *testing.T, catalog *gormstore.CatalogStore) {
	t.Helper()
	ctx := context.Background()
	plans := []proration.Plan{
		{ID: "plan-basic", Name: "Basic", PriceCents: 1000, Interval: proration.IntervalMonth, Active: true},
		{ID: "plan-pro", Name: "Pro", PriceCents: 2000, Interval: proration.IntervalMonth, Active: true},
		{ID: "plan-inactive", Name: "Legacy", PriceCents: 1500, Interval: proration.IntervalMonth, Active: false},
	}
	for _, plan := range plans {
		if err := catalog.UpsertPlan(ctx, plan); err != nil {
			t.Fatalf("seed plan failed: %v", err)
		}
	}
	subscription := proration.Subscription{
		ID:                 "sub-1",
		WorkspaceID:        "ws-api",
		PlanID:             "plan-basic",
		CurrentPeriodStart: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
	}
	if err := catalog.UpsertSubscription(context.Background(), subscription); err != nil {
		t.Fatalf("seed subscription failed: %v", err)
	}
}

func execJSON(t *testing.T, server *httptest.Server, method string, path string, payload any, wantStatus int) map[string]any {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload failed: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req, err := http.NewRequest(method, server.URL+path, body)
	if err != nil {
		t.Fatalf("request init failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d", method, path, wantStatus, resp.StatusCode)
	}
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	return decoded
}
