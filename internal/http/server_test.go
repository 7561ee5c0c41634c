package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"condominio/internal/core"
	"condominio/internal/owners"
	"condominio/internal/services"
	"condominio/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	dir := owners.New([]core.Owner{
		{ID: "u1", Name: "Rossi", Weight: 500, Active: true},
		{ID: "u2", Name: "Bianchi", Weight: 500, Active: true},
	})

	srv := NewServer(":0", services.NewPeriodService(store, dir, nil), services.NewLedgerService(store, dir))
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func createPeriod(t *testing.T, srv *Server, name, start, end string) periodResponse {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/periods", periodRequest{
		Name: name, StartDate: start, EndDate: end,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create period: status %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[periodResponse](t, rec)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doJSON(t, srv, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status %d", path, rec.Code)
		}
	}
}

func TestPeriodLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	p := createPeriod(t, srv, "2025-Q1", "2025-01-01", "2025-03-31")
	if p.Status != "open" {
		t.Errorf("status = %s, want open", p.Status)
	}

	// duplicate name
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/periods", periodRequest{
		Name: "2025-Q1", StartDate: "2025-04-01", EndDate: "2025-06-30",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate period: status %d, want 409", rec.Code)
	}

	// backwards range
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/periods", periodRequest{
		Name: "bad", StartDate: "2025-06-30", EndDate: "2025-04-01",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid range: status %d, want 422", rec.Code)
	}

	// fund the period and spend
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/contributions", contributionRequest{
		PeriodID: p.ID, OwnerID: "u1", Amount: "100.00", Date: "2025-01-10",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("contribution: status %d, body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/expenses", expenseRequest{
		PeriodID: p.ID, PayerID: "u1", Amount: "50.00",
		Category: "pulizie", Date: "2025-01-20",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expense: status %d, body %s", rec.Code, rec.Body.String())
	}

	// close: equal weights split 25/25
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/periods/1/close", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("close: status %d, body %s", rec.Code, rec.Body.String())
	}
	sheet := decode[balanceSheetResponse](t, rec)
	if len(sheet.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(sheet.Rows))
	}
	if sheet.Rows[0].Balance != "75.00" || sheet.Rows[1].Balance != "-25.00" {
		t.Errorf("balances = %s/%s, want 75.00/-25.00",
			sheet.Rows[0].Balance, sheet.Rows[1].Balance)
	}

	// writes now conflict
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/contributions", contributionRequest{
		PeriodID: p.ID, OwnerID: "u1", Amount: "10.00", Date: "2025-02-01",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("write on closed period: status %d, want 409", rec.Code)
	}

	// double close conflicts, reopen succeeds
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/periods/1/close", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("double close: status %d, want 409", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/periods/1/reopen", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reopen: status %d, body %s", rec.Code, rec.Body.String())
	}
	reopened := decode[periodResponse](t, rec)
	if reopened.Status != "open" || reopened.ClosedAt != nil {
		t.Errorf("unexpected reopened period %+v", reopened)
	}

	// balance sheet of an open period is provisional but served
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/periods/1/balance-sheet", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("provisional sheet: status %d", rec.Code)
	}
}

func TestUnknownOwnerAndMissingPeriod(t *testing.T) {
	srv := newTestServer(t)
	p := createPeriod(t, srv, "2025-Q1", "2025-01-01", "2025-03-31")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/contributions", contributionRequest{
		PeriodID: p.ID, OwnerID: "ghost", Amount: "10.00", Date: "2025-01-10",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown owner: status %d, want 422", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/periods/99", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing period: status %d, want 404", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/periods/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status %d, want 400", rec.Code)
	}
}

func TestRecordAndEditRowsOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	p := createPeriod(t, srv, "2025-Q1", "2025-01-01", "2025-03-31")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/budget-items", budgetItemRequest{
		PeriodID: p.ID, Category: "acqua", Budgeted: "120.00", Strategy: "usage_based",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("budget item: status %d, body %s", rec.Code, rec.Body.String())
	}
	item := decode[budgetItemResponse](t, rec)

	rec = doJSON(t, srv, http.MethodPut, "/api/v1/budget-items/1", budgetItemRequest{
		PeriodID: p.ID, Category: "acqua", Budgeted: "150.00", Strategy: "usage_based",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit budget item: status %d, body %s", rec.Code, rec.Body.String())
	}
	item = decode[budgetItemResponse](t, rec)
	if item.Budgeted != "150.00" {
		t.Errorf("budgeted = %s, want 150.00", item.Budgeted)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/readings", readingRequest{
		PeriodID: p.ID, MeterID: "m1", OwnerID: "u1", StartValue: 100, EndValue: 140,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("reading: status %d, body %s", rec.Code, rec.Body.String())
	}
	reading := decode[readingResponse](t, rec)
	if reading.Consumption != 40 {
		t.Errorf("consumption = %d, want 40", reading.Consumption)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/service-charges", serviceChargeRequest{
		PeriodID: p.ID, OwnerID: "u2", Amount: "15.00", Description: "sollecito",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("service charge: status %d, body %s", rec.Code, rec.Body.String())
	}

	// invalid amount is rejected before touching storage
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/contributions", contributionRequest{
		PeriodID: p.ID, OwnerID: "u1", Amount: "-3.00", Date: "2025-01-10",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("negative amount: status %d, want 422", rec.Code)
	}

	// malformed body
	req := httptest.NewRequest(http.MethodPost, "/api/v1/contributions", bytes.NewBufferString("{"))
	recorder := httptest.NewRecorder()
	srv.Handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status %d, want 400", recorder.Code)
	}
}

func TestExpenseLinkedToForeignBudgetItem(t *testing.T) {
	srv := newTestServer(t)
	a := createPeriod(t, srv, "2025-Q1", "2025-01-01", "2025-03-31")
	b := createPeriod(t, srv, "2025-Q2", "2025-04-01", "2025-06-30")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/budget-items", budgetItemRequest{
		PeriodID: a.ID, Category: "pulizie", Budgeted: "100.00", Strategy: "fixed_fee",
	})
	if rec.Code != http.StatusCreated {
		t.Fatal(rec.Body.String())
	}
	item := decode[budgetItemResponse](t, rec)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/expenses", expenseRequest{
		PeriodID: b.ID, PayerID: "u1", Amount: "20.00",
		Category: "pulizie", Date: "2025-05-01", BudgetItemID: item.ID,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("cross-period budget item: status %d, want 409", rec.Code)
	}
}
