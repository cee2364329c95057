package consent

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"custodia/pkg/domain"
	txcontext "custodia/pkg/platform/tx"
)

// PostgresStore persists consent records. Rows are never deleted; revocation
// sets revoked_at on the affected grants.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema returns the DDL for the consent table.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS consent_records (
	id         UUID PRIMARY KEY,
	subject_id TEXT NOT NULL,
	purpose    TEXT NOT NULL,
	granted_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ,
	revoked_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS consent_records_subject_idx ON consent_records (subject_id);
`
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Save(ctx context.Context, record Record) error {
	const insert = `
		INSERT INTO consent_records (id, subject_id, purpose, granted_at, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	var expires, revoked any
	if !record.ExpiresAt.IsZero() {
		expires = record.ExpiresAt
	}
	if record.RevokedAt != nil {
		revoked = *record.RevokedAt
	}
	_, err := s.execer(ctx).ExecContext(ctx, insert,
		record.ID, record.SubjectID, record.Purpose, record.GrantedAt, expires, revoked)
	if err != nil {
		return fmt.Errorf("save consent record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID string) ([]Record, error) {
	const query = `
		SELECT id, subject_id, purpose, granted_at, expires_at, revoked_at
		FROM consent_records
		WHERE subject_id = $1
		ORDER BY granted_at ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list consent records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var expires, revoked sql.NullTime
		if err := rows.Scan(&r.ID, &r.SubjectID, &r.Purpose, &r.GrantedAt, &expires, &revoked); err != nil {
			return nil, fmt.Errorf("scan consent record: %w", err)
		}
		if expires.Valid {
			r.ExpiresAt = expires.Time
		}
		if revoked.Valid {
			at := revoked.Time
			r.RevokedAt = &at
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consent records: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, subjectID string, purpose domain.ConsentPurpose, revokedAt time.Time) (int, error) {
	const update = `
		UPDATE consent_records
		SET revoked_at = $3
		WHERE subject_id = $1 AND purpose = $2 AND revoked_at IS NULL
	`
	res, err := s.execer(ctx).ExecContext(ctx, update, subjectID, purpose, revokedAt)
	if err != nil {
		return 0, fmt.Errorf("revoke consent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke consent: %w", err)
	}
	return int(affected), nil
}
