package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/dvloznov/networth-tracker/internal/infra/memory"
	"github.com/dvloznov/networth-tracker/internal/jobs"
	"github.com/dvloznov/networth-tracker/internal/jobs/inmemory"
	"github.com/dvloznov/networth-tracker/internal/ledger"
	"github.com/dvloznov/networth-tracker/internal/networth"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type mockPublisher struct {
	store     jobs.JobStore
	published []*jobs.RecalculateBalanceJob
	err       error
}

func (m *mockPublisher) PublishRecalculate(ctx context.Context, job *jobs.RecalculateBalanceJob) error {
	if m.err != nil {
		return m.err
	}
	jobs.Prepare(job, func() string { return "job-1" }, time.Now())
	m.published = append(m.published, job)
	return m.store.SaveJob(ctx, job)
}

func (m *mockPublisher) Close() error { return nil }

func booked(day int) *time.Time {
	t := time.Date(2024, 5, day, 9, 0, 0, 0, time.UTC)
	return &t
}

type fixture struct {
	store     *memory.Store
	jobStore  *inmemory.Store
	publisher *mockPublisher
	handler   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	accounts := []*domain.Account{
		{ID: "acc-1", OwnerID: "user-1", Name: "Current", Currency: "GBP", Status: domain.LinkStatusLinked},
		{ID: "acc-2", OwnerID: "user-1", Name: "Old card", Currency: "GBP", Status: domain.LinkStatusExpired},
	}
	for _, acc := range accounts {
		if err := store.UpsertAccount(ctx, acc); err != nil {
			t.Fatalf("UpsertAccount failed: %v", err)
		}
	}
	txs := []*domain.Transaction{
		{AccountID: "acc-1", TransactionID: "b", Amount: decimal.NewFromInt(-30), Currency: "GBP", BookingDate: booked(2)},
		{AccountID: "acc-1", TransactionID: "a", Amount: decimal.NewFromInt(100), Currency: "GBP", BookingDate: booked(1)},
	}
	if _, err := store.UpsertTransactions(ctx, txs); err != nil {
		t.Fatalf("UpsertTransactions failed: %v", err)
	}
	if _, err := ledger.NewCalculator(store, store, 0, zerolog.Nop()).Recalculate(ctx, "acc-1"); err != nil {
		t.Fatalf("Recalculate failed: %v", err)
	}

	jobStore := inmemory.NewStore()
	pub := &mockPublisher{store: jobStore}

	return &fixture{
		store:     store,
		jobStore:  jobStore,
		publisher: pub,
		handler: NewRouter(Deps{
			Store:     store,
			History:   networth.NewAggregator(store, store, zerolog.Nop()),
			Publisher: pub,
			Jobs:      jobStore,
			Log:       zerolog.Nop(),
		}),
	}
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouter_StatusCodes(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"health", http.MethodGet, "/health", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"networth", http.MethodGet, "/api/users/user-1/networth", http.StatusOK},
		{"networth unknown user", http.MethodGet, "/api/users/nobody/networth", http.StatusOK},
		{"user accounts", http.MethodGet, "/api/users/user-1/accounts", http.StatusOK},
		{"account", http.MethodGet, "/api/accounts/acc-1", http.StatusOK},
		{"missing account", http.MethodGet, "/api/accounts/ghost", http.StatusNotFound},
		{"transactions of missing account", http.MethodGet, "/api/accounts/ghost/transactions", http.StatusNotFound},
		{"recalculate missing account", http.MethodPost, "/api/accounts/ghost/recalculate", http.StatusNotFound},
		{"recalculate expired account", http.MethodPost, "/api/accounts/acc-2/recalculate", http.StatusConflict},
		{"recalculate wrong method", http.MethodGet, "/api/accounts/acc-1/recalculate", http.StatusMethodNotAllowed},
		{"missing job", http.MethodGet, "/api/jobs/nope", http.StatusNotFound},
		{"bad limit", http.MethodGet, "/api/jobs?limit=abc", http.StatusBadRequest},
		{"bad offset", http.MethodGet, "/api/jobs?offset=-1", http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/api/nothing", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path)
			if rec.Code != tt.want {
				t.Errorf("%s %s: status = %d, want %d (body %s)", tt.method, tt.path, rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestRouter_RequestIDHeader(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestRouter_NetWorthHistory(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/users/user-1/networth")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body domain.NetWorthHistory
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.UserID != "user-1" || body.Status != domain.CalculationStatusCalculated {
		t.Errorf("unexpected history header: %+v", body)
	}
	if len(body.Points) != 2 {
		t.Fatalf("expected 2 points, got %+v", body.Points)
	}
	if !body.Points[0].Amount.Equal(decimal.NewFromInt(100)) || !body.Points[1].Amount.Equal(decimal.NewFromInt(70)) {
		t.Errorf("unexpected points: %+v", body.Points)
	}
}

func TestRouter_ListTransactionsInLedgerOrder(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/accounts/acc-1/transactions")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Count        int `json:"count"`
		Transactions []struct {
			TransactionID  string           `json:"transaction_id"`
			EffectiveDate  string           `json:"effective_date"`
			RunningBalance *decimal.Decimal `json:"running_balance"`
		} `json:"transactions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || body.Transactions[0].TransactionID != "a" || body.Transactions[1].TransactionID != "b" {
		t.Fatalf("unexpected order: %+v", body.Transactions)
	}
	if body.Transactions[0].EffectiveDate != "2024-05-01" {
		t.Errorf("effective_date = %q", body.Transactions[0].EffectiveDate)
	}
	rb := body.Transactions[1].RunningBalance
	if rb == nil || !rb.Equal(decimal.NewFromInt(70)) {
		t.Errorf("running_balance = %v, want 70", rb)
	}
}

func TestRouter_RecalculateEnqueuesJob(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/accounts/acc-1/recalculate")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["job_id"] != "job-1" || body["status"] != string(jobs.JobStatusPending) {
		t.Errorf("unexpected response: %v", body)
	}
	if len(f.publisher.published) != 1 || f.publisher.published[0].Reason != "api" {
		t.Fatalf("unexpected published jobs: %+v", f.publisher.published)
	}

	rec = f.do(t, http.MethodGet, "/api/jobs/job-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET job status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/jobs?account_id=acc-1&status=pending")
	var list struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 1 {
		t.Errorf("expected 1 listed job, got %d", list.Count)
	}
}

func TestRouter_RecalculatePublishFailure(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")

	rec := f.do(t, http.MethodPost, "/api/accounts/acc-1/recalculate")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
