package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type postgresMigrator struct {
	conn *pgx.Conn
}

func newPostgresMigrator(ctx context.Context, connString string) (*postgresMigrator, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return &postgresMigrator{conn: conn}, nil
}

func (p *postgresMigrator) EnsureTable(ctx context.Context) error {
	_, err := p.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			checksum   TEXT,
			applied_by TEXT
		)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}
	return nil
}

func (p *postgresMigrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := p.conn.Query(ctx, `
		SELECT version, name, COALESCE(checksum, ''), COALESCE(applied_by, '')
		FROM schema_migrations
		ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var am AppliedMigration
		if err := rows.Scan(&am.Version, &am.Name, &am.Checksum, &am.AppliedBy); err != nil {
			return nil, fmt.Errorf("scanning applied migration: %w", err)
		}
		applied = append(applied, am)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}
	return applied, nil
}

// Execute runs the migration inside a transaction so a failed file leaves
// no partial schema behind.
func (p *postgresMigrator) Execute(ctx context.Context, m Migration) error {
	tx, err := p.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return fmt.Errorf("executing %s: %w", m.Filename, err)
	}
	return tx.Commit(ctx)
}

func (p *postgresMigrator) Record(ctx context.Context, m Migration, appliedBy string) error {
	_, err := p.conn.Exec(ctx, `
		INSERT INTO schema_migrations (version, name, checksum, applied_by)
		VALUES ($1, $2, $3, $4)`,
		m.Version, m.Name, m.Checksum, appliedBy)
	if err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return nil
}

func (p *postgresMigrator) Close() error {
	return p.conn.Close(context.Background())
}
