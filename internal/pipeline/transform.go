package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/networth-tracker/internal/domain"
)

// decodeFeed parses a JSON feed and checks the roster for duplicates.
func decodeFeed(data []byte) (*Feed, error) {
	var feed Feed
	if err := json.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("decodeFeed: %w", err)
	}

	seen := make(map[string]bool, len(feed.Accounts))
	for i, a := range feed.Accounts {
		if strings.TrimSpace(a.AccountID) == "" {
			return nil, fmt.Errorf("decodeFeed: account %d: accountId is required", i)
		}
		if seen[a.AccountID] {
			return nil, fmt.Errorf("decodeFeed: account %s listed twice", a.AccountID)
		}
		seen[a.AccountID] = true
	}

	return &feed, nil
}

// transformAccount maps a roster entry onto the domain account. A currently
// calculating account stays calculating when the provider reports it linked.
func transformAccount(a FeedAccount, existing *domain.Account) (*domain.Account, error) {
	if strings.TrimSpace(a.OwnerID) == "" {
		return nil, fmt.Errorf("account %s: ownerId is required", a.AccountID)
	}

	status, err := domain.ParseProviderStatus(a.ProviderStatus)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", a.AccountID, err)
	}
	if existing != nil && existing.Status == domain.LinkStatusCalculating && status == domain.LinkStatusLinked {
		status = domain.LinkStatusCalculating
	}

	return &domain.Account{
		ID:       a.AccountID,
		OwnerID:  a.OwnerID,
		Name:     a.Name,
		Currency: strings.ToUpper(strings.TrimSpace(a.Currency)),
		Status:   status,
	}, nil
}

// transformTransactions converts feed rows into domain transactions. owners
// maps every known account to its owner; rows for unknown accounts fail the
// whole feed. Rows without a bank id get a derived one that ignores their
// position, see domain.DisambiguateTransactionID.
func transformTransactions(rows []FeedTransaction, owners map[string]string, now time.Time) ([]*domain.Transaction, error) {
	result := make([]*domain.Transaction, 0, len(rows))
	ids := make(map[string]int, len(rows))
	occurrences := make(map[string]int)

	for i, r := range rows {
		owner, ok := owners[r.AccountID]
		if !ok {
			return nil, fmt.Errorf("transaction %d: %s: %w", i, r.AccountID, domain.ErrAccountNotFound)
		}
		if !r.Amount.Equal(r.Amount.Truncate(domain.MaxAmountScale)) {
			return nil, fmt.Errorf("transaction %d: amount %s has more than %d decimal places", i, r.Amount, domain.MaxAmountScale)
		}

		tx := &domain.Transaction{
			AccountID:     r.AccountID,
			TransactionID: strings.TrimSpace(r.TransactionID),
			OwnerID:       owner,
			Amount:        r.Amount,
			Currency:      strings.ToUpper(strings.TrimSpace(r.Currency)),
			BookingDate:   utcPtr(r.BookingDate),
			ValueDate:     utcPtr(r.ValueDate),
			ImportedAt:    now,
		}
		if r.ImportedAt != nil {
			tx.ImportedAt = r.ImportedAt.UTC()
		}
		if tx.TransactionID == "" {
			base := domain.DisambiguateTransactionID(tx, 0)
			n := occurrences[base]
			occurrences[base]++
			tx.TransactionID = domain.DisambiguateTransactionID(tx, n)
		}

		key := tx.AccountID + "\x00" + tx.TransactionID
		if prev, dup := ids[key]; dup {
			return nil, fmt.Errorf("transaction %d: duplicates row %d (%s/%s)", i, prev, tx.AccountID, tx.TransactionID)
		}
		ids[key] = i

		result = append(result, tx)
	}

	return result, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
