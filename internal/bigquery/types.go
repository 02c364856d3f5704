package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

// numericScale is the fixed scale of the BigQuery NUMERIC type.
const numericScale = 9

// AccountRow represents an account record in BigQuery.
type AccountRow struct {
	ID         string    `bigquery:"id"`
	OwnerID    string    `bigquery:"owner_id"`
	Name       string    `bigquery:"name"`
	Currency   string    `bigquery:"currency"`
	LinkStatus string    `bigquery:"link_status"`
	UpdatedAt  time.Time `bigquery:"updated_at"`
}

// TransactionRow represents a transaction record in BigQuery.
type TransactionRow struct {
	AccountID     string `bigquery:"account_id"`
	TransactionID string `bigquery:"transaction_id"`
	OwnerID       string `bigquery:"owner_id"`

	Amount   *big.Rat `bigquery:"amount"`
	Currency string   `bigquery:"currency"`

	BookingDate bigquery.NullTimestamp `bigquery:"booking_date"`
	ValueDate   bigquery.NullTimestamp `bigquery:"value_date"`
	ImportedAt  time.Time              `bigquery:"imported_at"`

	// RunningBalance is NULL until the calculator has processed the row.
	RunningBalance *big.Rat `bigquery:"running_balance"`
}

// BalanceRow is one element of the running balance update array.
type BalanceRow struct {
	TransactionID  string   `bigquery:"transaction_id"`
	RunningBalance *big.Rat `bigquery:"running_balance"`
}

// NewAccountRow converts a domain account into its BigQuery row.
func NewAccountRow(acc *domain.Account) AccountRow {
	status := acc.Status
	if status == "" {
		status = domain.LinkStatusPending
	}
	return AccountRow{
		ID:         acc.ID,
		OwnerID:    acc.OwnerID,
		Name:       acc.Name,
		Currency:   acc.Currency,
		LinkStatus: string(status),
		UpdatedAt:  acc.UpdatedAt,
	}
}

// ToDomain converts the row into a domain account.
func (r AccountRow) ToDomain() (*domain.Account, error) {
	status, err := domain.ParseLinkStatus(r.LinkStatus)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", r.ID, err)
	}
	return &domain.Account{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Name:      r.Name,
		Currency:  r.Currency,
		Status:    status,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// NewTransactionRow converts a domain transaction into its BigQuery row.
func NewTransactionRow(tx *domain.Transaction) TransactionRow {
	row := TransactionRow{
		AccountID:     tx.AccountID,
		TransactionID: tx.TransactionID,
		OwnerID:       tx.OwnerID,
		Amount:        tx.Amount.Rat(),
		Currency:      tx.Currency,
		BookingDate:   nullTimestamp(tx.BookingDate),
		ValueDate:     nullTimestamp(tx.ValueDate),
		ImportedAt:    tx.ImportedAt.UTC(),
	}
	if tx.RunningBalance != nil {
		row.RunningBalance = tx.RunningBalance.Rat()
	}
	return row
}

// ToDomain converts the row into a domain transaction.
func (r TransactionRow) ToDomain() (*domain.Transaction, error) {
	amount, err := RatToDecimal(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %s amount: %w", r.TransactionID, err)
	}

	tx := &domain.Transaction{
		AccountID:     r.AccountID,
		TransactionID: r.TransactionID,
		OwnerID:       r.OwnerID,
		Amount:        amount,
		Currency:      r.Currency,
		BookingDate:   timePtr(r.BookingDate),
		ValueDate:     timePtr(r.ValueDate),
		ImportedAt:    r.ImportedAt.UTC(),
	}
	if r.RunningBalance != nil {
		rb, err := RatToDecimal(r.RunningBalance)
		if err != nil {
			return nil, fmt.Errorf("transaction %s running balance: %w", r.TransactionID, err)
		}
		tx.RunningBalance = &rb
	}
	return tx, nil
}

// NewBalanceRows converts running balance updates into query parameter rows.
func NewBalanceRows(updates []domain.BalanceUpdate) []BalanceRow {
	rows := make([]BalanceRow, len(updates))
	for i, u := range updates {
		rows[i] = BalanceRow{TransactionID: u.TransactionID, RunningBalance: u.RunningBalance.Rat()}
	}
	return rows
}

// RatToDecimal converts a NUMERIC value without going through float64.
// A nil value is zero.
func RatToDecimal(r *big.Rat) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(r.FloatString(numericScale))
}

func nullTimestamp(t *time.Time) bigquery.NullTimestamp {
	if t == nil {
		return bigquery.NullTimestamp{}
	}
	return bigquery.NullTimestamp{Timestamp: t.UTC(), Valid: true}
}

func timePtr(ts bigquery.NullTimestamp) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Timestamp.UTC()
	return &t
}
