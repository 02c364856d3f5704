package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/dvloznov/networth-tracker/internal/gate"
	"github.com/rs/zerolog"
)

type mockInvalidator struct {
	users []string
	err   error
}

func (m *mockInvalidator) Invalidate(ctx context.Context, userID string) error {
	m.users = append(m.users, userID)
	return m.err
}

func TestService_Recalculate(t *testing.T) {
	s := seed(t,
		&domain.Transaction{TransactionID: "a", Amount: amt("1"), BookingDate: day(1)},
		&domain.Transaction{TransactionID: "b", Amount: amt("2"), BookingDate: day(2)},
	)
	cache := &mockInvalidator{}
	svc := NewService(s, gate.New(s, gate.Options{}, zerolog.Nop()), NewCalculator(s, s, 0, zerolog.Nop()), cache, zerolog.Nop())

	res, err := svc.Recalculate(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("Recalculate failed: %v", err)
	}
	if !res.Success || res.ProcessedTransactions != 2 {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(cache.users) != 1 || cache.users[0] != "u1" {
		t.Errorf("expected owner u1 invalidated once, got %v", cache.users)
	}

	acc, _ := s.GetAccount(context.Background(), "acc-1")
	if acc.Status != domain.LinkStatusLinked {
		t.Errorf("expected linked after recalculation, got %s", acc.Status)
	}
}

func TestService_Recalculate_CacheFailureIsNotFatal(t *testing.T) {
	s := seed(t, &domain.Transaction{TransactionID: "a", Amount: amt("1"), BookingDate: day(1)})
	cache := &mockInvalidator{err: errors.New("redis down")}
	svc := NewService(s, gate.New(s, gate.Options{}, zerolog.Nop()), NewCalculator(s, s, 0, zerolog.Nop()), cache, zerolog.Nop())

	if _, err := svc.Recalculate(context.Background(), "acc-1"); err != nil {
		t.Fatalf("expected cache failure to be swallowed, got %v", err)
	}
}

func TestService_Recalculate_RejectedSkipsInvalidation(t *testing.T) {
	s := seed(t)
	if err := s.UpdateAccountStatus(context.Background(), "acc-1", domain.LinkStatusExpired); err != nil {
		t.Fatalf("UpdateAccountStatus failed: %v", err)
	}
	cache := &mockInvalidator{}
	svc := NewService(s, gate.New(s, gate.Options{}, zerolog.Nop()), NewCalculator(s, s, 0, zerolog.Nop()), cache, zerolog.Nop())

	res, err := svc.Recalculate(context.Background(), "acc-1")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if res.Success {
		t.Error("expected unsuccessful result")
	}
	if len(cache.users) != 0 {
		t.Errorf("expected no invalidation, got %v", cache.users)
	}
}

func TestService_Recalculate_NilCache(t *testing.T) {
	s := seed(t, &domain.Transaction{TransactionID: "a", Amount: amt("1"), BookingDate: day(1)})
	svc := NewService(s, gate.New(s, gate.Options{}, zerolog.Nop()), NewCalculator(s, s, 0, zerolog.Nop()), nil, zerolog.Nop())

	if _, err := svc.Recalculate(context.Background(), "acc-1"); err != nil {
		t.Fatalf("Recalculate failed: %v", err)
	}
}
