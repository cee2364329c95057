package patients

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"custodia/pkg/platform/sentinel"
	txcontext "custodia/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema returns the DDL for the patients table. SSN and notes columns hold
// ciphertext only.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS patient_records (
	patient_id      TEXT PRIMARY KEY,
	first_name      TEXT NOT NULL,
	last_name       TEXT NOT NULL,
	date_of_birth   TIMESTAMPTZ NOT NULL,
	ssn_mode        TEXT NOT NULL,
	ssn_data        TEXT NOT NULL,
	ssn_key_version INT NOT NULL DEFAULT 0,
	ssn_scrubbed    BOOLEAN NOT NULL DEFAULT FALSE,
	diagnosis_codes TEXT[] NOT NULL DEFAULT '{}',
	medications     TEXT[] NOT NULL DEFAULT '{}',
	notes_mode      TEXT NOT NULL DEFAULT '',
	notes_data      TEXT NOT NULL DEFAULT '',
	notes_key_version INT NOT NULL DEFAULT 0,
	notes_scrubbed  BOOLEAN NOT NULL DEFAULT FALSE,
	insurance_id    TEXT NOT NULL DEFAULT '',
	access_count    BIGINT NOT NULL DEFAULT 0,
	tombstoned      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS patient_records_last_name_idx ON patient_records (last_name);
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

const columns = `patient_id, first_name, last_name, date_of_birth,
	ssn_mode, ssn_data, ssn_key_version, ssn_scrubbed,
	diagnosis_codes, medications,
	notes_mode, notes_data, notes_key_version, notes_scrubbed,
	insurance_id, access_count, tombstoned, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, r Record) error {
	insert := fmt.Sprintf(`
		INSERT INTO patient_records (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, columns)
	_, err := s.execer(ctx).ExecContext(ctx, insert,
		r.PatientID, r.FirstName, r.LastName, r.DateOfBirth,
		r.SSN.Mode, r.SSN.Data, r.SSN.KeyVersion, r.SSN.Scrubbed,
		pq.Array(r.DiagnosisCodes), pq.Array(r.Medications),
		r.PhysicianNotes.Mode, r.PhysicianNotes.Data, r.PhysicianNotes.KeyVersion, r.PhysicianNotes.Scrubbed,
		r.InsuranceID, r.AccessCount, r.Tombstoned, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create patient record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, patientID string) (Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM patient_records WHERE patient_id = $1`, columns)
	r, err := scanRecord(s.execer(ctx).QueryRowContext(ctx, query, patientID))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, sentinel.ErrNotFound
	}
	return r, err
}

func (s *PostgresStore) Update(ctx context.Context, r Record) error {
	const update = `
		UPDATE patient_records
		SET first_name = $2, last_name = $3, date_of_birth = $4,
			ssn_mode = $5, ssn_data = $6, ssn_key_version = $7, ssn_scrubbed = $8,
			diagnosis_codes = $9, medications = $10,
			notes_mode = $11, notes_data = $12, notes_key_version = $13, notes_scrubbed = $14,
			insurance_id = $15, access_count = $16, tombstoned = $17, updated_at = $18
		WHERE patient_id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, update,
		r.PatientID, r.FirstName, r.LastName, r.DateOfBirth,
		r.SSN.Mode, r.SSN.Data, r.SSN.KeyVersion, r.SSN.Scrubbed,
		pq.Array(r.DiagnosisCodes), pq.Array(r.Medications),
		r.PhysicianNotes.Mode, r.PhysicianNotes.Data, r.PhysicianNotes.KeyVersion, r.PhysicianNotes.Scrubbed,
		r.InsuranceID, r.AccessCount, r.Tombstoned, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update patient record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update patient record: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, filter Filter) ([]Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM patient_records WHERE 1=1`, columns)
	var args []any
	if !filter.IncludeTombstoned {
		query += " AND NOT tombstoned"
	}
	if filter.LastName != "" {
		args = append(args, filter.LastName)
		query += fmt.Sprintf(" AND last_name = $%d", len(args))
	}
	if filter.InsuranceID != "" {
		args = append(args, filter.InsuranceID)
		query += fmt.Sprintf(" AND insurance_id = $%d", len(args))
	}
	query += " ORDER BY patient_id ASC"
	return s.query(ctx, query, args...)
}

func (s *PostgresStore) ListExpired(ctx context.Context, cutoff time.Time) ([]Record, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM patient_records
		WHERE NOT tombstoned AND created_at < $1
		ORDER BY patient_id ASC
	`, columns)
	return s.query(ctx, query, cutoff)
}

func (s *PostgresStore) All(ctx context.Context) ([]Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM patient_records ORDER BY patient_id ASC`, columns)
	return s.query(ctx, query)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query patient records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patient records: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var r Record
	err := row.Scan(&r.PatientID, &r.FirstName, &r.LastName, &r.DateOfBirth,
		&r.SSN.Mode, &r.SSN.Data, &r.SSN.KeyVersion, &r.SSN.Scrubbed,
		pq.Array(&r.DiagnosisCodes), pq.Array(&r.Medications),
		&r.PhysicianNotes.Mode, &r.PhysicianNotes.Data, &r.PhysicianNotes.KeyVersion, &r.PhysicianNotes.Scrubbed,
		&r.InsuranceID, &r.AccessCount, &r.Tombstoned, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan patient record: %w", err)
	}
	return r, nil
}
