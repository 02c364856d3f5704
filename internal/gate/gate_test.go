package gate

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/dvloznov/networth-tracker/internal/infra/memory"
	"github.com/rs/zerolog"
)

func newStore(t *testing.T, status domain.LinkStatus) *memory.Store {
	t.Helper()
	s := memory.NewStore()
	if err := s.UpsertAccount(context.Background(), &domain.Account{ID: "acc-1", OwnerID: "u1", Status: status}); err != nil {
		t.Fatalf("UpsertAccount failed: %v", err)
	}
	return s
}

func statusOf(t *testing.T, s *memory.Store) domain.LinkStatus {
	t.Helper()
	acc, err := s.GetAccount(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	return acc.Status
}

func TestGate_Run_MarksCalculatingThenLinked(t *testing.T) {
	s := newStore(t, domain.LinkStatusLinked)
	g := New(s, Options{}, zerolog.Nop())

	var during domain.LinkStatus
	n, err := g.Run(context.Background(), "acc-1", func(ctx context.Context) (int, error) {
		during = statusOf(t, s)
		return 7, nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7, got %d", n)
	}
	if during != domain.LinkStatusCalculating {
		t.Errorf("expected calculating during fn, got %s", during)
	}
	if got := statusOf(t, s); got != domain.LinkStatusLinked {
		t.Errorf("expected linked after run, got %s", got)
	}
}

func TestGate_Run_RevertsOnFailure(t *testing.T) {
	s := newStore(t, domain.LinkStatusLinked)
	g := New(s, Options{}, zerolog.Nop())

	boom := errors.New("boom")
	_, err := g.Run(context.Background(), "acc-1", func(ctx context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if got := statusOf(t, s); got != domain.LinkStatusLinked {
		t.Errorf("expected linked after failed run, got %s", got)
	}
}

func TestGate_Run_RevertsAfterCancellation(t *testing.T) {
	s := newStore(t, domain.LinkStatusLinked)
	g := New(s, Options{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	_, err := g.Run(ctx, "acc-1", func(ctx context.Context) (int, error) {
		cancel()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := statusOf(t, s); got != domain.LinkStatusLinked {
		t.Errorf("expected linked after cancelled run, got %s", got)
	}
}

func TestGate_Run_RejectedStates(t *testing.T) {
	tests := []struct {
		status  domain.LinkStatus
		opts    Options
		wantErr error
	}{
		{domain.LinkStatusPending, Options{}, domain.ErrInvalidTransition},
		{domain.LinkStatusFailed, Options{}, domain.ErrInvalidTransition},
		{domain.LinkStatusExpired, Options{}, domain.ErrInvalidTransition},
		{domain.LinkStatusCalculating, Options{Exclusive: true}, domain.ErrRecalculationInProgress},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			s := newStore(t, tt.status)
			g := New(s, tt.opts, zerolog.Nop())

			called := false
			_, err := g.Run(context.Background(), "acc-1", func(ctx context.Context) (int, error) {
				called = true
				return 0, nil
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if called {
				t.Error("fn must not run")
			}
			if got := statusOf(t, s); got != tt.status {
				t.Errorf("status changed to %s", got)
			}
		})
	}
}

func TestGate_Run_AdvisoryAllowsConcurrentPass(t *testing.T) {
	s := newStore(t, domain.LinkStatusCalculating)
	g := New(s, Options{}, zerolog.Nop())

	called := false
	if _, err := g.Run(context.Background(), "acc-1", func(ctx context.Context) (int, error) {
		called = true
		return 0, nil
	}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !called {
		t.Error("expected fn to run in advisory mode")
	}
}

func TestGate_Run_AccountNotFound(t *testing.T) {
	g := New(memory.NewStore(), Options{}, zerolog.Nop())

	_, err := g.Run(context.Background(), "missing", func(ctx context.Context) (int, error) {
		t.Fatal("fn must not run")
		return 0, nil
	})
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

// failingRevertRepo fails every UpdateAccountStatus back to linked.
type failingRevertRepo struct {
	*memory.Store
	err error
}

func (r *failingRevertRepo) UpdateAccountStatus(ctx context.Context, accountID string, status domain.LinkStatus) error {
	if status == domain.LinkStatusLinked {
		return r.err
	}
	return r.Store.UpdateAccountStatus(ctx, accountID, status)
}

func TestGate_Run_JoinsRevertError(t *testing.T) {
	revertErr := errors.New("db down")
	repo := &failingRevertRepo{Store: newStore(t, domain.LinkStatusLinked), err: revertErr}
	g := New(repo, Options{}, zerolog.New(io.Discard))

	fnErr := errors.New("calc failed")
	_, err := g.Run(context.Background(), "acc-1", func(ctx context.Context) (int, error) {
		return 0, fnErr
	})
	if !errors.Is(err, fnErr) || !errors.Is(err, revertErr) {
		t.Errorf("expected both errors, got %v", err)
	}
}

// mockLocker grants each key once until released.
type mockLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	released int
}

func (m *mockLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held == nil {
		m.held = make(map[string]bool)
	}
	if m.held[key] {
		return nil, domain.ErrRecalculationInProgress
	}
	m.held[key] = true
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, key)
		m.released++
		return nil
	}, nil
}

func TestGate_Run_ExclusiveWithLease(t *testing.T) {
	s := newStore(t, domain.LinkStatusLinked)
	locker := &mockLocker{}
	g := New(s, Options{Exclusive: true, Locker: locker}, zerolog.Nop())

	_, err := g.Run(context.Background(), "acc-1", func(ctx context.Context) (int, error) {
		// A second pass while the lease is held is rejected.
		_, innerErr := g.Run(ctx, "acc-1", func(context.Context) (int, error) { return 0, nil })
		if !errors.Is(innerErr, domain.ErrRecalculationInProgress) {
			t.Errorf("expected ErrRecalculationInProgress for nested pass, got %v", innerErr)
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if locker.released != 1 {
		t.Errorf("expected lease released once, got %d", locker.released)
	}
	if got := statusOf(t, s); got != domain.LinkStatusLinked {
		t.Errorf("expected linked, got %s", got)
	}
}

// racingRepo flips the status between the read and the swap.
type racingRepo struct {
	*memory.Store
}

func (r *racingRepo) CompareAndSetStatus(ctx context.Context, accountID string, expected, next domain.LinkStatus) error {
	_ = r.Store.UpdateAccountStatus(ctx, accountID, domain.LinkStatusCalculating)
	return r.Store.CompareAndSetStatus(ctx, accountID, expected, next)
}

func TestGate_Run_ExclusiveLosesRace(t *testing.T) {
	repo := &racingRepo{Store: newStore(t, domain.LinkStatusLinked)}
	g := New(repo, Options{Exclusive: true}, zerolog.Nop())

	_, err := g.Run(context.Background(), "acc-1", func(ctx context.Context) (int, error) {
		t.Fatal("fn must not run")
		return 0, nil
	})
	if !errors.Is(err, domain.ErrRecalculationInProgress) {
		t.Errorf("expected ErrRecalculationInProgress, got %v", err)
	}
}

func TestGate_Run_ExclusiveTakesOverAfterLeaseExpired(t *testing.T) {
	// A crashed worker left the status behind; its lease is gone.
	s := newStore(t, domain.LinkStatusCalculating)
	locker := &mockLocker{}
	g := New(s, Options{Exclusive: true, Locker: locker}, zerolog.Nop())

	called := false
	_, err := g.Run(context.Background(), "acc-1", func(ctx context.Context) (int, error) {
		called = true
		return 2, nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !called {
		t.Error("expected the pass to run once the lease is free")
	}
	if got := statusOf(t, s); got != domain.LinkStatusLinked {
		t.Errorf("expected linked, got %s", got)
	}
}

// agedRepo reports every account status as set long ago.
type agedRepo struct {
	*memory.Store
	age time.Duration
}

func (r *agedRepo) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	acc, err := r.Store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	acc.UpdatedAt = time.Now().Add(-r.age)
	return acc, nil
}

func TestGate_Run_ExclusiveStaleStatusWithoutLocker(t *testing.T) {
	tests := []struct {
		name    string
		age     time.Duration
		wantErr error
	}{
		{"fresh status rejected", time.Second, domain.ErrRecalculationInProgress},
		{"status older than lease ttl taken over", 2 * time.Minute, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t, domain.LinkStatusCalculating)
			g := New(&agedRepo{Store: s, age: tt.age}, Options{Exclusive: true, LeaseTTL: time.Minute}, zerolog.Nop())

			_, err := g.Run(context.Background(), "acc-1", func(ctx context.Context) (int, error) {
				return 0, nil
			})
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Run failed: %v", err)
				}
				if got := statusOf(t, s); got != domain.LinkStatusLinked {
					t.Errorf("expected linked, got %s", got)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if got := statusOf(t, s); got != domain.LinkStatusCalculating {
				t.Errorf("status changed to %s", got)
			}
		})
	}
}
