package networth

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/dvloznov/networth-tracker/internal/metrics"
	"github.com/dvloznov/networth-tracker/internal/storage"
	"github.com/rs/zerolog"
)

// HistoryProvider computes a user's net worth history.
type HistoryProvider interface {
	ComputeHistory(ctx context.Context, userID string) (*domain.NetWorthHistory, error)
}

// Aggregator merges the persisted running balances of every account a user
// owns into one staircase series. It never writes.
type Aggregator struct {
	accounts     storage.AccountRepository
	transactions storage.TransactionRepository
	log          zerolog.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(accounts storage.AccountRepository, transactions storage.TransactionRepository, log zerolog.Logger) *Aggregator {
	return &Aggregator{accounts: accounts, transactions: transactions, log: log}
}

// ComputeHistory implements HistoryProvider.
func (a *Aggregator) ComputeHistory(ctx context.Context, userID string) (*domain.NetWorthHistory, error) {
	accounts, err := a.accounts.ListAccountsByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ComputeHistory: listing accounts: %w", err)
	}

	history := &domain.NetWorthHistory{UserID: userID, Points: []domain.NetWorthPoint{}}
	currency := ""
	timelines := make([]Timeline, 0, len(accounts))

	for _, acc := range accounts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("ComputeHistory: %w", err)
		}

		txs, err := a.transactions.ListByAccount(ctx, acc.ID)
		if err != nil {
			return nil, fmt.Errorf("ComputeHistory: listing transactions of %s: %w", acc.ID, err)
		}

		if currency, err = reportingCurrency(currency, acc, txs); err != nil {
			return nil, fmt.Errorf("ComputeHistory: user %s: %w", userID, err)
		}

		days, pending := EndOfDay(txs)
		if pending {
			history.PendingAccounts = append(history.PendingAccounts, acc.ID)
		}
		if acc.Status == domain.LinkStatusCalculating {
			history.CalculatingAccounts = append(history.CalculatingAccounts, acc.ID)
		}
		if len(days) > 0 {
			timelines = append(timelines, Timeline{AccountID: acc.ID, Days: days})
		}
	}

	if points := Merge(timelines); len(points) > 0 {
		history.Points = points
	}

	switch {
	case len(history.Points) == 0:
		history.Status = domain.CalculationStatusNotCalculated
	case len(history.PendingAccounts) > 0:
		history.Status = domain.CalculationStatusPartial
	default:
		history.Status = domain.CalculationStatusCalculated
	}
	if n := len(history.Points); n > 0 {
		last := history.Points[n-1].Date
		history.LastCalculated = &last
	}

	metrics.HistoryQueriesTotal.WithLabelValues(string(history.Status)).Inc()
	a.log.Debug().
		Str("user_id", userID).
		Int("accounts", len(accounts)).
		Int("points", len(history.Points)).
		Str("status", string(history.Status)).
		Msg("computed net worth history")

	return history, nil
}

// reportingCurrency folds the account's currencies into the running one and
// fails when two different non-empty currencies meet.
func reportingCurrency(current string, acc *domain.Account, txs []*domain.Transaction) (string, error) {
	check := func(c string) error {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			return nil
		}
		if current == "" {
			current = c
			return nil
		}
		if c != current {
			return fmt.Errorf("account %s uses %s, expected %s: %w", acc.ID, c, current, domain.ErrCurrencyMismatch)
		}
		return nil
	}

	if err := check(acc.Currency); err != nil {
		return current, err
	}
	for _, tx := range txs {
		if err := check(tx.Currency); err != nil {
			return current, err
		}
	}
	return current, nil
}
