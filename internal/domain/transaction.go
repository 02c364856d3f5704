package domain

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// transactionNamespace seeds the UUIDv5 ids derived for feed rows that arrive
// without a bank transaction id.
var transactionNamespace = uuid.MustParse("5b7c4a7e-0f4e-4bd2-9a55-3f7f1c2d8e61")

// Transaction is one ledger entry belonging to exactly one account.
// (AccountID, TransactionID) is its identity.
type Transaction struct {
	AccountID     string
	TransactionID string // bank-assigned, or derived by DisambiguateTransactionID
	OwnerID       string

	Amount   decimal.Decimal // signed: IN positive, OUT negative
	Currency string

	BookingDate *time.Time // nil while the item is pending at the bank
	ValueDate   *time.Time
	ImportedAt  time.Time // first time the system saw the row

	// RunningBalance is the cumulative sum of the account's amounts up to and
	// including this row in ledger order. Nil until a calculator pass ran.
	RunningBalance *decimal.Decimal
}

// EffectiveTime is the timestamp used to order the ledger: the booking date,
// else the value date, else the import time.
func (t *Transaction) EffectiveTime() time.Time {
	switch {
	case t.BookingDate != nil:
		return t.BookingDate.UTC()
	case t.ValueDate != nil:
		return t.ValueDate.UTC()
	default:
		return t.ImportedAt.UTC()
	}
}

// EffectiveDate is the UTC calendar date of EffectiveTime.
func (t *Transaction) EffectiveDate() civil.Date {
	return civil.DateOf(t.EffectiveTime())
}

// HasRunningBalance reports whether a calculator pass has written this row.
func (t *Transaction) HasRunningBalance() bool {
	return t.RunningBalance != nil
}

// MaxAmountScale is the number of decimal places every store keeps
// (BigQuery NUMERIC and the Postgres numeric(38, 9) columns).
const MaxAmountScale = 9

// DisambiguateTransactionID derives a stable id for a feed row that has no
// bank transaction id. occurrence counts earlier rows of the same feed with
// identical account, amount, currency and dates, so only true duplicates get
// different ids. The row's position in the feed does not matter.
func DisambiguateTransactionID(t *Transaction, occurrence int) string {
	var b strings.Builder
	b.WriteString(t.AccountID)
	b.WriteByte('|')
	b.WriteString(t.Amount.String())
	b.WriteByte('|')
	b.WriteString(strings.ToUpper(t.Currency))
	b.WriteByte('|')
	if t.BookingDate != nil {
		b.WriteString(t.BookingDate.UTC().Format(time.RFC3339Nano))
	}
	b.WriteByte('|')
	if t.ValueDate != nil {
		b.WriteString(t.ValueDate.UTC().Format(time.RFC3339Nano))
	}
	fmt.Fprintf(&b, "|%d", occurrence)

	return "gen-" + uuid.NewSHA1(transactionNamespace, []byte(b.String())).String()
}

// BalanceUpdate is one RunningBalance write produced by the calculator.
type BalanceUpdate struct {
	TransactionID  string
	RunningBalance decimal.Decimal
}
