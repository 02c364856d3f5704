package networth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/dvloznov/networth-tracker/internal/infra/memory"
	"github.com/dvloznov/networth-tracker/internal/ledger"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

type feedRow struct {
	account string
	day     int
	amount  string
}

// setup stores the accounts and rows, then runs the calculator over the
// accounts listed in calculate.
func setup(t *testing.T, accounts []*domain.Account, rows []feedRow, calculate ...string) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()

	for _, acc := range accounts {
		if acc.Status == "" {
			acc.Status = domain.LinkStatusLinked
		}
		if err := s.UpsertAccount(ctx, acc); err != nil {
			t.Fatalf("UpsertAccount failed: %v", err)
		}
	}

	var txs []*domain.Transaction
	for i, r := range rows {
		booked := time.Date(2024, 1, r.day, 12, 0, 0, 0, time.UTC)
		txs = append(txs, &domain.Transaction{
			AccountID:     r.account,
			TransactionID: fmt.Sprintf("tx-%02d", i),
			Amount:        dec(r.amount),
			Currency:      "GBP",
			BookingDate:   &booked,
		})
	}
	if _, err := s.UpsertTransactions(ctx, txs); err != nil {
		t.Fatalf("UpsertTransactions failed: %v", err)
	}

	calc := ledger.NewCalculator(s, s, 0, zerolog.Nop())
	for _, id := range calculate {
		if _, err := calc.Recalculate(ctx, id); err != nil {
			t.Fatalf("Recalculate(%s) failed: %v", id, err)
		}
	}
	return s
}

func gbp(id string) *domain.Account {
	return &domain.Account{ID: id, OwnerID: "u1", Currency: "GBP"}
}

func TestAggregator_ScenarioA_MergeAcrossAccounts(t *testing.T) {
	s := setup(t,
		[]*domain.Account{gbp("acc1"), gbp("acc2")},
		[]feedRow{
			{"acc1", 1, "100"}, {"acc1", 2, "50"},
			{"acc2", 1, "50"}, {"acc2", 3, "150"},
		},
		"acc1", "acc2",
	)

	h, err := NewAggregator(s, s, zerolog.Nop()).ComputeHistory(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ComputeHistory failed: %v", err)
	}

	want := []domain.NetWorthPoint{pt(1, "150"), pt(2, "200"), pt(3, "350")}
	if diff := cmp.Diff(want, h.Points, decimalEqual); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
	if h.Status != domain.CalculationStatusCalculated {
		t.Errorf("expected calculated, got %s", h.Status)
	}
	if h.LastCalculated == nil || *h.LastCalculated != d(3) {
		t.Errorf("expected last calculated %v, got %v", d(3), h.LastCalculated)
	}
}

func TestAggregator_ScenarioB_SparseCarryForward(t *testing.T) {
	s := setup(t,
		[]*domain.Account{gbp("acc1")},
		[]feedRow{{"acc1", 1, "100"}, {"acc1", 3, "50"}},
		"acc1",
	)

	h, err := NewAggregator(s, s, zerolog.Nop()).ComputeHistory(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ComputeHistory failed: %v", err)
	}

	want := []domain.NetWorthPoint{pt(1, "100"), pt(3, "150")}
	if diff := cmp.Diff(want, h.Points, decimalEqual); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregator_ScenarioC_NoAccounts(t *testing.T) {
	s := memory.NewStore()

	h, err := NewAggregator(s, s, zerolog.Nop()).ComputeHistory(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("ComputeHistory failed: %v", err)
	}
	if len(h.Points) != 0 {
		t.Errorf("expected no points, got %v", h.Points)
	}
	if h.Points == nil {
		t.Error("expected an empty, non-nil series")
	}
	if h.Status != domain.CalculationStatusNotCalculated {
		t.Errorf("expected not_calculated, got %s", h.Status)
	}
	if h.LastCalculated != nil {
		t.Errorf("expected no last calculated date, got %v", h.LastCalculated)
	}
}

func TestAggregator_ScenarioD_NoOpDay(t *testing.T) {
	s := setup(t,
		[]*domain.Account{gbp("acc1")},
		[]feedRow{
			{"acc1", 1, "100"},
			{"acc1", 2, "40"}, {"acc1", 2, "-40"},
			{"acc1", 4, "1"},
		},
		"acc1",
	)

	h, err := NewAggregator(s, s, zerolog.Nop()).ComputeHistory(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ComputeHistory failed: %v", err)
	}

	want := []domain.NetWorthPoint{pt(1, "100"), pt(4, "101")}
	if diff := cmp.Diff(want, h.Points, decimalEqual); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregator_PendingAccountIsPartial(t *testing.T) {
	s := setup(t,
		[]*domain.Account{gbp("acc1"), gbp("acc2")},
		[]feedRow{{"acc1", 1, "100"}, {"acc2", 2, "500"}},
		"acc1",
	)

	h, err := NewAggregator(s, s, zerolog.Nop()).ComputeHistory(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ComputeHistory failed: %v", err)
	}

	// acc2's uncalculated row must not be counted as zero or as its amount.
	want := []domain.NetWorthPoint{pt(1, "100")}
	if diff := cmp.Diff(want, h.Points, decimalEqual); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
	if h.Status != domain.CalculationStatusPartial {
		t.Errorf("expected partial, got %s", h.Status)
	}
	if diff := cmp.Diff([]string{"acc2"}, h.PendingAccounts); diff != "" {
		t.Errorf("pending accounts mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregator_NothingCalculated(t *testing.T) {
	s := setup(t, []*domain.Account{gbp("acc1")}, []feedRow{{"acc1", 1, "100"}})

	h, err := NewAggregator(s, s, zerolog.Nop()).ComputeHistory(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ComputeHistory failed: %v", err)
	}
	if h.Status != domain.CalculationStatusNotCalculated {
		t.Errorf("expected not_calculated, got %s", h.Status)
	}
	if len(h.PendingAccounts) != 1 {
		t.Errorf("expected acc1 pending, got %v", h.PendingAccounts)
	}
}

func TestAggregator_ReportsCalculatingAccounts(t *testing.T) {
	calculating := gbp("acc1")
	calculating.Status = domain.LinkStatusCalculating
	s := setup(t, []*domain.Account{calculating}, []feedRow{{"acc1", 1, "10"}})

	h, err := NewAggregator(s, s, zerolog.Nop()).ComputeHistory(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ComputeHistory failed: %v", err)
	}
	if diff := cmp.Diff([]string{"acc1"}, h.CalculatingAccounts); diff != "" {
		t.Errorf("calculating accounts mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregator_CurrencyMismatch(t *testing.T) {
	usd := &domain.Account{ID: "acc2", OwnerID: "u1", Currency: "USD"}
	s := setup(t, []*domain.Account{gbp("acc1"), usd}, nil)

	_, err := NewAggregator(s, s, zerolog.Nop()).ComputeHistory(context.Background(), "u1")
	if !errors.Is(err, domain.ErrCurrencyMismatch) {
		t.Errorf("expected ErrCurrencyMismatch, got %v", err)
	}
}

func TestAggregator_IgnoresOtherUsers(t *testing.T) {
	other := &domain.Account{ID: "acc9", OwnerID: "u2", Currency: "GBP"}
	s := setup(t,
		[]*domain.Account{gbp("acc1"), other},
		[]feedRow{{"acc1", 1, "10"}, {"acc9", 1, "1000"}},
		"acc1", "acc9",
	)

	h, err := NewAggregator(s, s, zerolog.Nop()).ComputeHistory(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ComputeHistory failed: %v", err)
	}
	if diff := cmp.Diff([]domain.NetWorthPoint{pt(1, "10")}, h.Points, decimalEqual); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
}
