package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/dvloznov/networth-tracker/internal/ledger"
)

type mockRecalculator struct {
	res ledger.Result
	err error
}

func (m *mockRecalculator) Recalculate(ctx context.Context, accountID string) (ledger.Result, error) {
	return m.res, m.err
}

func TestRecalculateHandler(t *testing.T) {
	transient := errors.New("timeout")

	tests := []struct {
		name          string
		err           error
		wantErr       bool
		wantPermanent bool
	}{
		{"success", nil, false, false},
		{"transient error is retried", transient, true, false},
		{"unknown account is permanent", fmt.Errorf("Run: %w", domain.ErrAccountNotFound), true, true},
		{"expired account is permanent", fmt.Errorf("Run: %w", domain.ErrInvalidTransition), true, true},
		{"pass in progress is retried", domain.ErrRecalculationInProgress, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RecalculateHandler(&mockRecalculator{res: ledger.Result{ProcessedTransactions: 3}, err: tt.err})
			job := &RecalculateBalanceJob{AccountID: "acc-1"}

			err := h(context.Background(), job)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if IsPermanent(err) != tt.wantPermanent {
				t.Errorf("IsPermanent = %v, want %v", IsPermanent(err), tt.wantPermanent)
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Errorf("expected original error to stay reachable, got %v", err)
			}
			if job.ProcessedTransactions != 3 {
				t.Errorf("expected processed count to be recorded, got %d", job.ProcessedTransactions)
			}
		})
	}
}

func TestPermanentNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
