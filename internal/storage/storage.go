package storage

import (
	"context"

	"github.com/dvloznov/networth-tracker/internal/domain"
)

// AccountRepository provides an interface for account-related persistence.
type AccountRepository interface {
	// GetAccount returns the account or domain.ErrAccountNotFound.
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)

	// ListAccountsByOwner returns every account owned by the user, ordered by id.
	ListAccountsByOwner(ctx context.Context, ownerID string) ([]*domain.Account, error)

	// UpsertAccount inserts the account or updates its name, currency and status.
	// A stored calculating status is kept when the incoming one is linked, in
	// the same statement, so a sync never ends a pass.
	UpsertAccount(ctx context.Context, account *domain.Account) error

	// UpdateAccountStatus unconditionally sets the account's status.
	UpdateAccountStatus(ctx context.Context, accountID string, status domain.LinkStatus) error

	// CompareAndSetStatus sets the status to next only if it currently equals
	// expected. Returns domain.ErrStatusConflict otherwise.
	CompareAndSetStatus(ctx context.Context, accountID string, expected, next domain.LinkStatus) error
}

// TransactionRepository provides an interface for ledger persistence.
type TransactionRepository interface {
	// UpsertTransactions inserts new rows and refreshes amounts and dates of
	// existing ones keyed by (AccountID, TransactionID). RunningBalance is
	// never written here. Returns the number of rows affected.
	UpsertTransactions(ctx context.Context, txs []*domain.Transaction) (int, error)

	// ListByAccount returns every transaction of the account, in no particular order.
	ListByAccount(ctx context.Context, accountID string) ([]*domain.Transaction, error)

	// UpdateRunningBalances writes RunningBalance for the given rows of one account.
	UpdateRunningBalances(ctx context.Context, accountID string, updates []domain.BalanceUpdate) error
}

// Store bundles both repositories behind one backend connection.
type Store interface {
	AccountRepository
	TransactionRepository
	Close() error
}
