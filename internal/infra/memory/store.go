package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/dvloznov/networth-tracker/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
// It is safe for concurrent use. Data is lost on restart.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	// ledgers maps account id -> transaction id -> row.
	ledgers map[string]map[string]*domain.Transaction

	now func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		accounts: make(map[string]*domain.Account),
		ledgers:  make(map[string]map[string]*domain.Transaction),
		now:      time.Now,
	}
}

// GetAccount implements storage.AccountRepository.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("GetAccount: %s: %w", accountID, domain.ErrAccountNotFound)
	}
	accCopy := *acc
	return &accCopy, nil
}

// ListAccountsByOwner implements storage.AccountRepository.
func (s *Store) ListAccountsByOwner(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Account
	for _, acc := range s.accounts {
		if acc.OwnerID != ownerID {
			continue
		}
		accCopy := *acc
		result = append(result, &accCopy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

// UpsertAccount implements storage.AccountRepository.
func (s *Store) UpsertAccount(ctx context.Context, account *domain.Account) error {
	if account.ID == "" {
		return fmt.Errorf("UpsertAccount: account ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accCopy := *account
	if accCopy.Status == "" {
		accCopy.Status = domain.LinkStatusPending
	}
	if prev, ok := s.accounts[account.ID]; ok &&
		prev.Status == domain.LinkStatusCalculating && accCopy.Status == domain.LinkStatusLinked {
		accCopy.Status = domain.LinkStatusCalculating
	}
	accCopy.UpdatedAt = s.now()
	s.accounts[account.ID] = &accCopy

	return nil
}

// UpdateAccountStatus implements storage.AccountRepository.
func (s *Store) UpdateAccountStatus(ctx context.Context, accountID string, status domain.LinkStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("UpdateAccountStatus: %s: %w", accountID, domain.ErrAccountNotFound)
	}
	acc.Status = status
	acc.UpdatedAt = s.now()

	return nil
}

// CompareAndSetStatus implements storage.AccountRepository.
func (s *Store) CompareAndSetStatus(ctx context.Context, accountID string, expected, next domain.LinkStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("CompareAndSetStatus: %s: %w", accountID, domain.ErrAccountNotFound)
	}
	if acc.Status != expected {
		return fmt.Errorf("CompareAndSetStatus: %s is %s, expected %s: %w", accountID, acc.Status, expected, domain.ErrStatusConflict)
	}
	acc.Status = next
	acc.UpdatedAt = s.now()

	return nil
}

// UpsertTransactions implements storage.TransactionRepository.
// An existing row keeps its RunningBalance.
func (s *Store) UpsertTransactions(ctx context.Context, txs []*domain.Transaction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, tx := range txs {
		if tx.AccountID == "" || tx.TransactionID == "" {
			return 0, fmt.Errorf("UpsertTransactions: row %d: account ID and transaction ID are required", i)
		}
	}

	for _, tx := range txs {
		ledger, ok := s.ledgers[tx.AccountID]
		if !ok {
			ledger = make(map[string]*domain.Transaction)
			s.ledgers[tx.AccountID] = ledger
		}

		txCopy := copyTransaction(tx)
		if existing, ok := ledger[tx.TransactionID]; ok {
			txCopy.RunningBalance = existing.RunningBalance
			txCopy.ImportedAt = existing.ImportedAt
		} else {
			txCopy.RunningBalance = nil
		}
		ledger[tx.TransactionID] = txCopy
	}

	return len(txs), nil
}

// ListByAccount implements storage.TransactionRepository.
func (s *Store) ListByAccount(ctx context.Context, accountID string) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger := s.ledgers[accountID]
	result := make([]*domain.Transaction, 0, len(ledger))
	for _, tx := range ledger {
		result = append(result, copyTransaction(tx))
	}

	return result, nil
}

// UpdateRunningBalances implements storage.TransactionRepository.
func (s *Store) UpdateRunningBalances(ctx context.Context, accountID string, updates []domain.BalanceUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger := s.ledgers[accountID]
	for _, u := range updates {
		if _, ok := ledger[u.TransactionID]; !ok {
			return fmt.Errorf("UpdateRunningBalances: transaction %s not found in account %s", u.TransactionID, accountID)
		}
	}
	for _, u := range updates {
		rb := u.RunningBalance
		ledger[u.TransactionID].RunningBalance = &rb
	}

	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return nil
}

func copyTransaction(tx *domain.Transaction) *domain.Transaction {
	c := *tx
	if tx.BookingDate != nil {
		d := *tx.BookingDate
		c.BookingDate = &d
	}
	if tx.ValueDate != nil {
		d := *tx.ValueDate
		c.ValueDate = &d
	}
	if tx.RunningBalance != nil {
		rb := *tx.RunningBalance
		c.RunningBalance = &rb
	}
	return &c
}

// Ensure Store implements storage.Store.
var _ storage.Store = (*Store)(nil)
