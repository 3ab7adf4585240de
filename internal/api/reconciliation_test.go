package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/propledger/propledger/internal/app/executor"
	"github.com/propledger/propledger/internal/app/reconcile"
	"github.com/propledger/propledger/internal/domain"
	"github.com/propledger/propledger/internal/infra/observability"
	"github.com/propledger/propledger/internal/infra/sqlite"
)

// ─── Reconciliation API Tests ───────────────────────────────────────────────

func date(s string) time.Time {
	d, _ := time.Parse("2006-01-02", s)
	return d
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// setupServer seeds company c1 with an exact match (t1/p1) and a transaction
// with no candidate (t2), and returns the router.
func setupServer(t *testing.T) http.Handler {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	must(t, db.UpsertCompany(ctx, domain.Company{ID: "c1", Name: "Acme Rentals"}))
	must(t, db.UpsertBankConnection(ctx, domain.BankConnection{ID: "b1", CompanyID: "c1"}))
	must(t, db.UpsertContract(ctx, domain.Contract{ID: "k1", CompanyID: "c1", TenantName: "Juan Perez"}))
	must(t, db.UpsertContract(ctx, domain.Contract{ID: "k2", CompanyID: "c1", TenantName: "Ana Gomez"}))
	for _, p := range []domain.Payment{
		{ID: "p1", ContractID: "k1", AmountDue: domain.MustMoney("1200.00"), DueDate: date("2026-02-01")},
		{ID: "p2", ContractID: "k2", AmountDue: domain.MustMoney("800.00"), DueDate: date("2026-02-10")},
	} {
		if _, err := db.UpsertPayment(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	for _, tx := range []domain.BankTransaction{
		{ID: "t1", ExternalID: "e1", PostedDate: date("2026-02-03"), Amount: domain.MustMoney("1200.00"), CounterpartyName: "Juan Perez"},
		{ID: "t2", ExternalID: "e2", PostedDate: date("2026-02-12"), Amount: domain.MustMoney("450.00"), CounterpartyName: "Unknown"},
	} {
		tx.CompanyID, tx.BankConnectionID = "c1", "b1"
		if _, err := db.ImportTransaction(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	exec := executor.New(executor.DefaultConfig(), db)
	eng, err := reconcile.New(db, exec, observability.NewTracer(observability.DefaultTracerConfig()), reconcile.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	eng.SetClock(func() time.Time { return time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC) })

	srv := NewServer(eng)
	srv.EnableMetrics()
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp map[string]interface{}
	if w.Header().Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return w, resp
}

func TestAPI_Health(t *testing.T) {
	h := setupServer(t)
	w, resp := do(t, h, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || resp["status"] != "ok" {
		t.Fatalf("health = %d %v", w.Code, resp)
	}
}

func TestAPI_DryRunThenLiveRun(t *testing.T) {
	h := setupServer(t)

	w, resp := do(t, h, http.MethodPost, "/api/reconciliation/runs", map[string]interface{}{
		"company_id": "c1", "dry_run": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("dry run: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["run_id"] != nil {
		t.Errorf("dry run should not carry a run id, got %v", resp["run_id"])
	}
	if outcomes, _ := resp["outcomes"].([]interface{}); len(outcomes) != 2 {
		t.Errorf("dry run outcomes = %v, want 2", resp["outcomes"])
	}

	w, resp = do(t, h, http.MethodPost, "/api/reconciliation/runs", map[string]interface{}{
		"company_id": "c1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("live run: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["payments_reconciled"] != float64(1) {
		t.Errorf("payments_reconciled = %v, want 1", resp["payments_reconciled"])
	}
	if resp["manual_review_required"] != float64(1) {
		t.Errorf("manual_review_required = %v, want 1", resp["manual_review_required"])
	}
	if _, ok := resp["outcomes"]; ok {
		t.Error("live run response should omit outcomes")
	}

	w, resp = do(t, h, http.MethodGet, "/api/reconciliation/companies/c1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", w.Code)
	}
	if resp["matched_auto"] != float64(1) || resp["unmatched"] != float64(1) {
		t.Errorf("stats = %v, want 1 auto and 1 unmatched", resp)
	}
	if resp["unmatched_no_suggestion"] != float64(1) {
		t.Errorf("unmatched_no_suggestion = %v, want 1", resp["unmatched_no_suggestion"])
	}
	if resp["total_reconciled_amount"] != "1200.00" {
		t.Errorf("total_reconciled_amount = %v, want 1200.00", resp["total_reconciled_amount"])
	}

	w, resp = do(t, h, http.MethodGet, "/api/reconciliation/companies/c1/runs?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("runs: expected 200, got %d", w.Code)
	}
	if runs, _ := resp["runs"].([]interface{}); len(runs) != 1 {
		t.Errorf("journal = %v, want exactly the live run", resp["runs"])
	}
}

func TestAPI_Review(t *testing.T) {
	h := setupServer(t)
	w, resp := do(t, h, http.MethodGet, "/api/reconciliation/companies/c1/review", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp["count"] != float64(2) {
		t.Fatalf("count = %v, want 2", resp["count"])
	}
	items := resp["items"].([]interface{})
	first := items[0].(map[string]interface{})
	if first["best_score"] != float64(100) {
		t.Errorf("t1 best_score = %v, want 100", first["best_score"])
	}
	if first["assignable"] != true {
		t.Errorf("t1 assignable = %v, want true", first["assignable"])
	}
	second := items[1].(map[string]interface{})
	if _, ok := second["best_candidate_payment"]; ok {
		t.Error("t2 should have no suggestion")
	}
}

func TestAPI_ManualFlow(t *testing.T) {
	h := setupServer(t)
	base := "/api/reconciliation/transactions/"

	w, resp := do(t, h, http.MethodPost, base+"t2/match", map[string]string{"payment_id": "p2", "user_id": "u1"})
	if w.Code != http.StatusOK || resp["success"] != true {
		t.Fatalf("match: %d %s", w.Code, w.Body.String())
	}

	w, _ = do(t, h, http.MethodPost, base+"t2/match", map[string]string{"payment_id": "p1", "user_id": "u1"})
	if w.Code != http.StatusConflict {
		t.Errorf("second match: expected 409, got %d", w.Code)
	}

	w, _ = do(t, h, http.MethodPost, base+"t2/unmatch", map[string]string{"user_id": "u1"})
	if w.Code != http.StatusOK {
		t.Fatalf("unmatch: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w, _ = do(t, h, http.MethodPost, base+"t2/discard", map[string]string{"user_id": "u1", "reason": "owner transfer"})
	if w.Code != http.StatusOK {
		t.Fatalf("discard: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w, resp = do(t, h, http.MethodGet, base+"t2/audit", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("audit: expected 200, got %d", w.Code)
	}
	entries := resp["entries"].([]interface{})
	if len(entries) != 3 {
		t.Fatalf("audit entries = %d, want 3", len(entries))
	}
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.(map[string]interface{})["action"].(string))
	}
	want := []string{string(domain.AuditManualMatch), string(domain.AuditReverse), string(domain.AuditDiscard)}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("audit actions = %v, want %v", actions, want)
			break
		}
	}
}

func TestAPI_ErrorMapping(t *testing.T) {
	h := setupServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"unknown company run", http.MethodPost, "/api/reconciliation/runs", map[string]string{"company_id": "nope"}, http.StatusBadRequest},
		{"foreign connection", http.MethodPost, "/api/reconciliation/runs", map[string]string{"company_id": "c1", "bank_connection_id": "zz"}, http.StatusBadRequest},
		{"threshold out of range", http.MethodPost, "/api/reconciliation/runs", map[string]interface{}{"company_id": "c1", "auto_approve_threshold": 120}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/reconciliation/runs", map[string]string{"company": "c1"}, http.StatusBadRequest},
		{"unknown company stats", http.MethodGet, "/api/reconciliation/companies/nope/stats", nil, http.StatusBadRequest},
		{"bad runs limit", http.MethodGet, "/api/reconciliation/companies/c1/runs?limit=x", nil, http.StatusBadRequest},
		{"missing transaction", http.MethodPost, "/api/reconciliation/transactions/t404/match", map[string]string{"payment_id": "p1", "user_id": "u1"}, http.StatusNotFound},
		{"missing payment", http.MethodPost, "/api/reconciliation/transactions/t1/match", map[string]string{"payment_id": "p404", "user_id": "u1"}, http.StatusNotFound},
		{"missing user", http.MethodPost, "/api/reconciliation/transactions/t1/match", map[string]string{"payment_id": "p1"}, http.StatusBadRequest},
		{"unmatch unmatched", http.MethodPost, "/api/reconciliation/transactions/t1/unmatch", map[string]string{"user_id": "u1"}, http.StatusConflict},
		{"discard without reason", http.MethodPost, "/api/reconciliation/transactions/t1/discard", map[string]string{"user_id": "u1"}, http.StatusBadRequest},
		{"audit of missing transaction", http.MethodGet, "/api/reconciliation/transactions/t404/audit", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := do(t, h, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			if _, ok := resp["error"]; !ok {
				t.Errorf("error body missing: %v", resp)
			}
		})
	}
}

func TestAPI_Metrics(t *testing.T) {
	h := setupServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
