package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	bq "github.com/dvloznov/networth-tracker/internal/bigquery"
	"github.com/dvloznov/networth-tracker/internal/domain"
	"google.golang.org/api/iterator"
)

const accountColumns = `id, owner_id, name, currency, link_status, updated_at`

// GetAccount implements storage.AccountRepository.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = @id
		LIMIT 1
	`, accountColumns, s.table("accounts")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "id", Value: accountID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetAccount: reading query: %w", err)
	}

	var row AccountRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, fmt.Errorf("GetAccount: %s: %w", accountID, domain.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetAccount: iterating: %w", err)
	}

	acc, err := row.ToDomain()
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	return acc, nil
}

// ListAccountsByOwner implements storage.AccountRepository.
func (s *Store) ListAccountsByOwner(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE owner_id = @owner_id
		ORDER BY id
	`, accountColumns, s.table("accounts")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListAccountsByOwner: reading query: %w", err)
	}

	var accounts []*domain.Account
	for {
		var row AccountRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListAccountsByOwner: iterating: %w", err)
		}
		acc, err := row.ToDomain()
		if err != nil {
			return nil, fmt.Errorf("ListAccountsByOwner: %w", err)
		}
		accounts = append(accounts, acc)
	}

	return accounts, nil
}

// UpsertAccount implements storage.AccountRepository with a MERGE keyed on id.
func (s *Store) UpsertAccount(ctx context.Context, account *domain.Account) error {
	if account.ID == "" {
		return fmt.Errorf("UpsertAccount: account ID is required")
	}
	row := bq.NewAccountRow(account)

	q := s.client.Query(fmt.Sprintf(`
		MERGE %s AS t
		USING (SELECT @id AS id) AS s
		ON t.id = s.id
		WHEN MATCHED THEN UPDATE SET
			owner_id = @owner_id,
			name = @name,
			currency = @currency,
			link_status = IF(t.link_status = 'calculating' AND @link_status = 'linked', t.link_status, @link_status),
			updated_at = CURRENT_TIMESTAMP()
		WHEN NOT MATCHED THEN
			INSERT (%s)
			VALUES (@id, @owner_id, @name, @currency, @link_status, CURRENT_TIMESTAMP())
	`, s.table("accounts"), accountColumns))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "id", Value: row.ID},
		{Name: "owner_id", Value: row.OwnerID},
		{Name: "name", Value: row.Name},
		{Name: "currency", Value: row.Currency},
		{Name: "link_status", Value: row.LinkStatus},
	}

	if _, err := s.exec(ctx, q); err != nil {
		return fmt.Errorf("UpsertAccount: %w", err)
	}
	return nil
}

// UpdateAccountStatus implements storage.AccountRepository.
func (s *Store) UpdateAccountStatus(ctx context.Context, accountID string, status domain.LinkStatus) error {
	q := s.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET link_status = @status, updated_at = CURRENT_TIMESTAMP()
		WHERE id = @id
	`, s.table("accounts")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "id", Value: accountID},
		{Name: "status", Value: string(status)},
	}

	n, err := s.exec(ctx, q)
	if err != nil {
		return fmt.Errorf("UpdateAccountStatus: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("UpdateAccountStatus: %s: %w", accountID, domain.ErrAccountNotFound)
	}
	return nil
}

// CompareAndSetStatus implements storage.AccountRepository. BigQuery DML is
// serialised per table, so the conditional UPDATE is atomic.
func (s *Store) CompareAndSetStatus(ctx context.Context, accountID string, expected, next domain.LinkStatus) error {
	q := s.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET link_status = @next, updated_at = CURRENT_TIMESTAMP()
		WHERE id = @id AND link_status = @expected
	`, s.table("accounts")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "id", Value: accountID},
		{Name: "expected", Value: string(expected)},
		{Name: "next", Value: string(next)},
	}

	n, err := s.exec(ctx, q)
	if err != nil {
		return fmt.Errorf("CompareAndSetStatus: %w", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return fmt.Errorf("CompareAndSetStatus: %w", err)
	}
	return fmt.Errorf("CompareAndSetStatus: %s is not %s: %w", accountID, expected, domain.ErrStatusConflict)
}
