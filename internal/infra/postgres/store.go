package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/dvloznov/networth-tracker/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store is the Postgres implementation of storage.Store.
type Store struct {
	db *pgxpool.Pool
}

// NewStore opens a pool and pings the database.
func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("NewStore: parsing database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("NewStore: pinging database: %w", err)
	}

	return &Store{db: pool}, nil
}

// Pool exposes the pool for the migration tool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.db
}

// Close implements storage.Store.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

const accountColumns = `id, owner_id, name, currency, link_status, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		acc    domain.Account
		status string
	)
	if err := row.Scan(&acc.ID, &acc.OwnerID, &acc.Name, &acc.Currency, &status, &acc.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := domain.ParseLinkStatus(status)
	if err != nil {
		return nil, err
	}
	acc.Status = parsed
	return &acc, nil
}

// GetAccount implements storage.AccountRepository.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	acc, err := scanAccount(s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("GetAccount: %s: %w", accountID, domain.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetAccount: scanning: %w", err)
	}
	return acc, nil
}

// ListAccountsByOwner implements storage.AccountRepository.
func (s *Store) ListAccountsByOwner(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListAccountsByOwner: querying: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("ListAccountsByOwner: scanning: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListAccountsByOwner: iterating: %w", err)
	}
	return accounts, nil
}

// UpsertAccount implements storage.AccountRepository.
func (s *Store) UpsertAccount(ctx context.Context, account *domain.Account) error {
	if account.ID == "" {
		return fmt.Errorf("UpsertAccount: account ID is required")
	}
	status := account.Status
	if status == "" {
		status = domain.LinkStatusPending
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO accounts (id, owner_id, name, currency, link_status, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			owner_id    = EXCLUDED.owner_id,
			name        = EXCLUDED.name,
			currency    = EXCLUDED.currency,
			link_status = CASE
				WHEN accounts.link_status = 'calculating' AND EXCLUDED.link_status = 'linked'
				THEN accounts.link_status
				ELSE EXCLUDED.link_status
			END,
			updated_at  = now()
	`, account.ID, account.OwnerID, account.Name, account.Currency, string(status))
	if err != nil {
		return fmt.Errorf("UpsertAccount: executing: %w", err)
	}
	return nil
}

// UpdateAccountStatus implements storage.AccountRepository.
func (s *Store) UpdateAccountStatus(ctx context.Context, accountID string, status domain.LinkStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE accounts SET link_status = $2, updated_at = now() WHERE id = $1`,
		accountID, string(status))
	if err != nil {
		return fmt.Errorf("UpdateAccountStatus: executing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("UpdateAccountStatus: %s: %w", accountID, domain.ErrAccountNotFound)
	}
	return nil
}

// CompareAndSetStatus implements storage.AccountRepository.
func (s *Store) CompareAndSetStatus(ctx context.Context, accountID string, expected, next domain.LinkStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE accounts SET link_status = $3, updated_at = now() WHERE id = $1 AND link_status = $2`,
		accountID, string(expected), string(next))
	if err != nil {
		return fmt.Errorf("CompareAndSetStatus: executing: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Nothing matched: either the account is gone or its status moved.
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return fmt.Errorf("CompareAndSetStatus: %w", err)
	}
	return fmt.Errorf("CompareAndSetStatus: %s is not %s: %w", accountID, expected, domain.ErrStatusConflict)
}

// UpsertTransactions implements storage.TransactionRepository. The
// ON CONFLICT clause leaves running_balance and imported_at untouched.
func (s *Store) UpsertTransactions(ctx context.Context, txs []*domain.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	const upsertSQL = `
		INSERT INTO transactions
			(account_id, transaction_id, owner_id, amount, currency, booking_date, value_date, imported_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_id, transaction_id) DO UPDATE SET
			owner_id     = EXCLUDED.owner_id,
			amount       = EXCLUDED.amount,
			currency     = EXCLUDED.currency,
			booking_date = EXCLUDED.booking_date,
			value_date   = EXCLUDED.value_date`

	batch := &pgx.Batch{}
	for i, tx := range txs {
		if tx.AccountID == "" || tx.TransactionID == "" {
			return 0, fmt.Errorf("UpsertTransactions: row %d: account ID and transaction ID are required", i)
		}
		batch.Queue(upsertSQL,
			tx.AccountID, tx.TransactionID, tx.OwnerID, tx.Amount, tx.Currency,
			tx.BookingDate, tx.ValueDate, tx.ImportedAt)
	}

	dbTx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("UpsertTransactions: beginning transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	br := dbTx.SendBatch(ctx, batch)
	affected := 0
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("UpsertTransactions: executing batch at index %d: %w", i, err)
		}
		affected += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("UpsertTransactions: closing batch: %w", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("UpsertTransactions: committing: %w", err)
	}
	return affected, nil
}

// ListByAccount implements storage.TransactionRepository.
func (s *Store) ListByAccount(ctx context.Context, accountID string) ([]*domain.Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT account_id, transaction_id, owner_id, amount, currency,
		       booking_date, value_date, imported_at, running_balance
		FROM transactions
		WHERE account_id = $1
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("ListByAccount: querying: %w", err)
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		var (
			tx domain.Transaction
			rb decimal.NullDecimal
		)
		if err := rows.Scan(&tx.AccountID, &tx.TransactionID, &tx.OwnerID, &tx.Amount, &tx.Currency,
			&tx.BookingDate, &tx.ValueDate, &tx.ImportedAt, &rb); err != nil {
			return nil, fmt.Errorf("ListByAccount: scanning: %w", err)
		}
		if rb.Valid {
			v := rb.Decimal
			tx.RunningBalance = &v
		}
		txs = append(txs, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByAccount: iterating: %w", err)
	}
	return txs, nil
}

// UpdateRunningBalances implements storage.TransactionRepository with one
// UPDATE ... FROM unnest statement per call.
func (s *Store) UpdateRunningBalances(ctx context.Context, accountID string, updates []domain.BalanceUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	ids, balances := balanceArrays(updates)

	tag, err := s.db.Exec(ctx, `
		UPDATE transactions AS t
		SET running_balance = u.running_balance
		FROM unnest($2::text[], $3::text[]::numeric[]) AS u(transaction_id, running_balance)
		WHERE t.account_id = $1 AND t.transaction_id = u.transaction_id
	`, accountID, ids, balances)
	if err != nil {
		return fmt.Errorf("UpdateRunningBalances: executing: %w", err)
	}
	if int(tag.RowsAffected()) != len(updates) {
		return fmt.Errorf("UpdateRunningBalances: updated %d of %d rows for account %s", tag.RowsAffected(), len(updates), accountID)
	}
	return nil
}

// balanceArrays splits updates into parallel id and balance arrays.
func balanceArrays(updates []domain.BalanceUpdate) ([]string, []string) {
	ids := make([]string, len(updates))
	balances := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.TransactionID
		balances[i] = u.RunningBalance.String()
	}
	return ids, balances
}

// Ensure Store implements storage.Store.
var _ storage.Store = (*Store)(nil)
