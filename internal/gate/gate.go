package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/dvloznov/networth-tracker/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultLeaseTTL bounds how long a crashed worker can hold an account lease.
const DefaultLeaseTTL = 5 * time.Minute

// Locker hands out short-lived exclusive leases on a key. Acquire returns
// domain.ErrRecalculationInProgress when the lease is held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Options configures a Gate.
type Options struct {
	// Exclusive turns linked -> calculating into a compare-and-swap and
	// rejects a pass while another one is in flight.
	Exclusive bool

	// Locker, when set, is acquired before the status transition and
	// released after the revert.
	Locker   Locker
	LeaseTTL time.Duration
}

// Gate brackets a recompute with the calculating status.
type Gate struct {
	accounts storage.AccountRepository
	opts     Options
	log      zerolog.Logger
}

// New creates a Gate over the account repository.
func New(accounts storage.AccountRepository, opts Options, log zerolog.Logger) *Gate {
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	return &Gate{accounts: accounts, opts: opts, log: log}
}

// Run marks the account calculating, invokes fn and reverts the account to
// linked whatever fn returned. The revert uses a context detached from
// cancellation so an aborted pass still leaves the account linked.
//
// Only linked accounts (and, unless exclusive, accounts already calculating)
// may start a pass; pending, failed and expired ones are rejected with
// domain.ErrInvalidTransition without touching their status. In exclusive
// mode a calculating status left behind by a crashed worker is taken over
// once it is stale: the lease is free, or without a Locker the status is
// older than LeaseTTL.
func (g *Gate) Run(ctx context.Context, accountID string, fn func(context.Context) (int, error)) (int, error) {
	acc, err := g.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("Run: loading account: %w", err)
	}

	if acc.Status != domain.LinkStatusLinked && acc.Status != domain.LinkStatusCalculating {
		return 0, fmt.Errorf("Run: account %s is %s: %w", accountID, acc.Status, domain.ErrInvalidTransition)
	}

	if g.opts.Locker != nil {
		release, err := g.opts.Locker.Acquire(ctx, leaseKey(accountID), g.opts.LeaseTTL)
		if err != nil {
			return 0, fmt.Errorf("Run: acquiring lease: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				g.log.Warn().Err(err).Str("account_id", accountID).Msg("failed to release recalculation lease")
			}
		}()
	}

	if acc.Status == domain.LinkStatusCalculating {
		switch {
		case !g.opts.Exclusive:
			g.log.Warn().Str("account_id", accountID).Msg("account already calculating, running concurrent pass")
		case g.stale(acc):
			g.log.Warn().Str("account_id", accountID).Time("status_since", acc.UpdatedAt).
				Msg("taking over stale calculating status")
		default:
			return 0, fmt.Errorf("Run: account %s: %w", accountID, domain.ErrRecalculationInProgress)
		}
	}

	if err := g.enter(ctx, acc); err != nil {
		return 0, err
	}

	n, fnErr := fn(ctx)

	var revertErr error
	if err := g.accounts.UpdateAccountStatus(context.WithoutCancel(ctx), accountID, domain.LinkStatusLinked); err != nil {
		revertErr = fmt.Errorf("Run: reverting account %s to linked: %w", accountID, err)
		g.log.Error().Err(err).Str("account_id", accountID).Msg("account left in calculating status")
	}

	return n, errors.Join(fnErr, revertErr)
}

func (g *Gate) enter(ctx context.Context, acc *domain.Account) error {
	if acc.Status == domain.LinkStatusCalculating {
		if !g.opts.Exclusive {
			return nil
		}
		// Takeover: refresh the status time so no other taker sees it stale.
		err := g.accounts.CompareAndSetStatus(ctx, acc.ID, domain.LinkStatusCalculating, domain.LinkStatusCalculating)
		if errors.Is(err, domain.ErrStatusConflict) {
			return fmt.Errorf("Run: account %s: %w", acc.ID, domain.ErrRecalculationInProgress)
		}
		if err != nil {
			return fmt.Errorf("Run: taking over calculating status: %w", err)
		}
		return nil
	}

	if g.opts.Exclusive {
		err := g.accounts.CompareAndSetStatus(ctx, acc.ID, domain.LinkStatusLinked, domain.LinkStatusCalculating)
		if errors.Is(err, domain.ErrStatusConflict) {
			return fmt.Errorf("Run: account %s: %w", acc.ID, domain.ErrRecalculationInProgress)
		}
		if err != nil {
			return fmt.Errorf("Run: marking calculating: %w", err)
		}
		return nil
	}

	if err := g.accounts.UpdateAccountStatus(ctx, acc.ID, domain.LinkStatusCalculating); err != nil {
		return fmt.Errorf("Run: marking calculating: %w", err)
	}
	return nil
}

// stale reports whether a calculating status has no live pass behind it.
// Holding the lease proves it; without a Locker only the status age can.
func (g *Gate) stale(acc *domain.Account) bool {
	if g.opts.Locker != nil {
		return true
	}
	return !acc.UpdatedAt.IsZero() && time.Since(acc.UpdatedAt) > g.opts.LeaseTTL
}

func leaseKey(accountID string) string {
	return "recalc:" + accountID
}
