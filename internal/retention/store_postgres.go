package retention

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	txcontext "custodia/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema returns the DDL for the policy table.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS retention_policies (
	data_type    TEXT PRIMARY KEY,
	max_age_days INT NOT NULL,
	version      INT NOT NULL,
	updated_by   TEXT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
`
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Get(ctx context.Context, dataType domain.DataType) (Policy, error) {
	const query = `
		SELECT data_type, max_age_days, version, updated_by, updated_at
		FROM retention_policies WHERE data_type = $1
	`
	var p Policy
	err := s.execer(ctx).QueryRowContext(ctx, query, dataType).Scan(
		&p.DataType, &p.MaxAgeDays, &p.Version, &p.UpdatedBy, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Policy{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Policy{}, fmt.Errorf("get retention policy: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, policy Policy) error {
	const upsert = `
		INSERT INTO retention_policies (data_type, max_age_days, version, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (data_type) DO UPDATE
		SET max_age_days = EXCLUDED.max_age_days,
			version = EXCLUDED.version,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.execer(ctx).ExecContext(ctx, upsert,
		policy.DataType, policy.MaxAgeDays, policy.Version, policy.UpdatedBy, policy.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert retention policy: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Policy, error) {
	const query = `
		SELECT data_type, max_age_days, version, updated_by, updated_at
		FROM retention_policies ORDER BY data_type ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list retention policies: %w", err)
	}
	defer rows.Close()

	var out []Policy
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.DataType, &p.MaxAgeDays, &p.Version, &p.UpdatedBy, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan retention policy: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate retention policies: %w", err)
	}
	return out, nil
}
