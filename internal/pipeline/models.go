package pipeline

import (
	"time"

	"github.com/shopspring/decimal"
)

// Feed is one sync payload from the bank aggregator: an account roster and
// the transactions fetched for those accounts.
type Feed struct {
	Accounts     []FeedAccount     `json:"accounts"`
	Transactions []FeedTransaction `json:"transactions"`
}

// FeedAccount is one roster entry. ProviderStatus carries the aggregator's
// requisition code (CR, LN, EX, ...).
type FeedAccount struct {
	AccountID      string `json:"accountId"`
	OwnerID        string `json:"ownerId"`
	Name           string `json:"name,omitempty"`
	Currency       string `json:"currency"`
	ProviderStatus string `json:"providerStatus"`
}

// FeedTransaction is one ledger row as delivered by the feed. TransactionID
// may be empty; a stable id is derived for such rows.
type FeedTransaction struct {
	AccountID     string          `json:"accountId"`
	TransactionID string          `json:"transactionId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	BookingDate   *time.Time      `json:"bookingDate,omitempty"`
	ValueDate     *time.Time      `json:"valueDate,omitempty"`
	ImportedAt    *time.Time      `json:"importedAt,omitempty"`
}

// Result summarises one ingestion run.
type Result struct {
	Source               string   `json:"source"`
	AccountsSynced       int      `json:"accounts_synced"`
	TransactionsUpserted int      `json:"transactions_upserted"`
	AffectedAccounts     []string `json:"affected_accounts"`
	EnqueuedJobs         []string `json:"enqueued_jobs,omitempty"`
}
