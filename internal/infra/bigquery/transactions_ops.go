package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	bq "github.com/dvloznov/networth-tracker/internal/bigquery"
	"github.com/dvloznov/networth-tracker/internal/domain"
	"google.golang.org/api/iterator"
)

// upsertChunkSize bounds the size of the array parameter sent per MERGE.
const upsertChunkSize = 500

// feedRow is the MERGE source row. It omits running_balance so an upsert can
// never write one.
type feedRow struct {
	AccountID     string                 `bigquery:"account_id"`
	TransactionID string                 `bigquery:"transaction_id"`
	OwnerID       string                 `bigquery:"owner_id"`
	Amount        *big.Rat               `bigquery:"amount"`
	Currency      string                 `bigquery:"currency"`
	BookingDate   bigquery.NullTimestamp `bigquery:"booking_date"`
	ValueDate     bigquery.NullTimestamp `bigquery:"value_date"`
	ImportedAt    time.Time              `bigquery:"imported_at"`
}

// UpsertTransactions implements storage.TransactionRepository. Matched rows
// keep their running_balance and imported_at.
func (s *Store) UpsertTransactions(ctx context.Context, txs []*domain.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	rows := make([]feedRow, 0, len(txs))
	for i, tx := range txs {
		if tx.AccountID == "" || tx.TransactionID == "" {
			return 0, fmt.Errorf("UpsertTransactions: row %d: account ID and transaction ID are required", i)
		}
		r := bq.NewTransactionRow(tx)
		rows = append(rows, feedRow{
			AccountID:     r.AccountID,
			TransactionID: r.TransactionID,
			OwnerID:       r.OwnerID,
			Amount:        r.Amount,
			Currency:      r.Currency,
			BookingDate:   r.BookingDate,
			ValueDate:     r.ValueDate,
			ImportedAt:    r.ImportedAt,
		})
	}

	sql := fmt.Sprintf(`
		MERGE %s AS t
		USING UNNEST(@rows) AS s
		ON t.account_id = s.account_id AND t.transaction_id = s.transaction_id
		WHEN MATCHED THEN UPDATE SET
			owner_id = s.owner_id,
			amount = s.amount,
			currency = s.currency,
			booking_date = s.booking_date,
			value_date = s.value_date
		WHEN NOT MATCHED THEN
			INSERT (account_id, transaction_id, owner_id, amount, currency, booking_date, value_date, imported_at)
			VALUES (s.account_id, s.transaction_id, s.owner_id, s.amount, s.currency, s.booking_date, s.value_date, s.imported_at)
	`, s.table("transactions"))

	affected := 0
	for start := 0; start < len(rows); start += upsertChunkSize {
		end := min(start+upsertChunkSize, len(rows))

		q := s.client.Query(sql)
		q.Parameters = []bigquery.QueryParameter{
			{Name: "rows", Value: rows[start:end]},
		}

		n, err := s.exec(ctx, q)
		if err != nil {
			return affected, fmt.Errorf("UpsertTransactions: rows %d-%d: %w", start, end, err)
		}
		affected += int(n)
	}

	return affected, nil
}

// ListByAccount implements storage.TransactionRepository.
func (s *Store) ListByAccount(ctx context.Context, accountID string) ([]*domain.Transaction, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT
			account_id,
			transaction_id,
			owner_id,
			amount,
			currency,
			booking_date,
			value_date,
			imported_at,
			running_balance
		FROM %s
		WHERE account_id = @account_id
	`, s.table("transactions")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListByAccount: query read: %w", err)
	}

	var txs []*domain.Transaction
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListByAccount: iter next: %w", err)
		}
		tx, err := r.ToDomain()
		if err != nil {
			return nil, fmt.Errorf("ListByAccount: %w", err)
		}
		txs = append(txs, tx)
	}

	return txs, nil
}

// UpdateRunningBalances implements storage.TransactionRepository with one
// UPDATE ... FROM UNNEST statement per call.
func (s *Store) UpdateRunningBalances(ctx context.Context, accountID string, updates []domain.BalanceUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	q := s.client.Query(fmt.Sprintf(`
		UPDATE %s AS t
		SET running_balance = u.running_balance
		FROM UNNEST(@updates) AS u
		WHERE t.account_id = @account_id AND t.transaction_id = u.transaction_id
	`, s.table("transactions")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "updates", Value: bq.NewBalanceRows(updates)},
	}

	n, err := s.exec(ctx, q)
	if err != nil {
		return fmt.Errorf("UpdateRunningBalances: %w", err)
	}
	if int(n) != len(updates) {
		return fmt.Errorf("UpdateRunningBalances: updated %d of %d rows for account %s", n, len(updates), accountID)
	}
	return nil
}
