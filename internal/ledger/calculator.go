package ledger

import (
	"context"
	"fmt"

	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/dvloznov/networth-tracker/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultBatchSize is the number of running balances written per repository call.
const DefaultBatchSize = 1000

// Calculator recomputes the running balance of an account from its full ledger.
type Calculator struct {
	accounts     storage.AccountRepository
	transactions storage.TransactionRepository
	batchSize    int
	log          zerolog.Logger
}

// NewCalculator creates a Calculator. A non-positive batchSize selects DefaultBatchSize.
func NewCalculator(accounts storage.AccountRepository, transactions storage.TransactionRepository, batchSize int, log zerolog.Logger) *Calculator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Calculator{
		accounts:     accounts,
		transactions: transactions,
		batchSize:    batchSize,
		log:          log,
	}
}

// Recalculate loads every transaction of the account, orders the ledger and
// writes RB[i] = RB[i-1] + Amount[i] starting from zero. It returns the
// number of rows written.
//
// Writes go out in ledger order one batch at a time and ctx is checked
// between batches, so a cancelled pass leaves a correct prefix behind.
func (c *Calculator) Recalculate(ctx context.Context, accountID string) (int, error) {
	if _, err := c.accounts.GetAccount(ctx, accountID); err != nil {
		return 0, fmt.Errorf("Recalculate: loading account: %w", err)
	}

	txs, err := c.transactions.ListByAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("Recalculate: listing transactions: %w", err)
	}
	if len(txs) == 0 {
		return 0, nil
	}

	updates := RunningBalances(txs)

	written := 0
	for start := 0; start < len(updates); start += c.batchSize {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("Recalculate: stopped after %d of %d rows: %w", written, len(updates), err)
		}

		end := start + c.batchSize
		if end > len(updates) {
			end = len(updates)
		}
		if err := c.transactions.UpdateRunningBalances(ctx, accountID, updates[start:end]); err != nil {
			return written, fmt.Errorf("Recalculate: writing rows %d-%d: %w", start, end-1, err)
		}
		written = end
	}

	c.log.Info().
		Str("account_id", accountID).
		Int("count", written).
		Msgf("Calculated running balance for %d transactions", written)

	return written, nil
}

// RunningBalances sorts txs in ledger order and returns the cumulative sum
// for every row, in that order. txs is reordered in place.
func RunningBalances(txs []*domain.Transaction) []domain.BalanceUpdate {
	Sort(txs)

	updates := make([]domain.BalanceUpdate, len(txs))
	balance := decimal.Zero
	for i, tx := range txs {
		balance = balance.Add(tx.Amount)
		updates[i] = domain.BalanceUpdate{
			TransactionID:  tx.TransactionID,
			RunningBalance: balance,
		}
	}
	return updates
}
