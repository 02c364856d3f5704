package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/dvloznov/networth-tracker/internal/ledger"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Recalculator runs one running balance pass for an account.
type Recalculator interface {
	Recalculate(ctx context.Context, accountID string) (ledger.Result, error)
}

// RecalculateHandler adapts a Recalculator to a JobHandler. Errors no retry
// can fix (unknown account, account in a state that may not recompute) are
// marked permanent.
func RecalculateHandler(r Recalculator) JobHandler {
	return func(ctx context.Context, job Job) error {
		rj, ok := job.(*RecalculateBalanceJob)
		if !ok {
			return Permanent(fmt.Errorf("RecalculateHandler: unexpected job type %s", job.GetType()))
		}

		res, err := r.Recalculate(ctx, rj.AccountID)
		rj.ProcessedTransactions = res.ProcessedTransactions
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrAccountNotFound) || errors.Is(err, domain.ErrInvalidTransition) {
			return Permanent(err)
		}
		return err
	}
}
