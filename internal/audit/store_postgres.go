package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	txcontext "custodia/pkg/platform/tx"
)

// appendRetries bounds the tail-CAS loop under concurrent writers before the
// append surfaces as unavailable.
const appendRetries = 16

// PostgresStore persists the ledger in an append-only table with a unique
// monotonic sequence column. Sequence assignment is a compare-and-swap on the
// current tail: insert max(seq)+1 and retry on unique violation. BIGSERIAL is
// deliberately not used because rolled-back inserts would leave gaps, and
// gap-freeness is what the SOC 2 evaluation certifies.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema returns the DDL for the audit table. Applied by migrations tooling
// or test setup; the store never creates its own schema in production.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS audit_entries (
	seq          BIGINT PRIMARY KEY,
	id           UUID NOT NULL UNIQUE,
	ts           TIMESTAMPTZ NOT NULL,
	actor        TEXT NOT NULL,
	action       TEXT NOT NULL,
	subject_type TEXT NOT NULL,
	subject_id   TEXT NOT NULL,
	prev_digest  TEXT NOT NULL DEFAULT '',
	new_digest   TEXT NOT NULL DEFAULT '',
	outcome      TEXT NOT NULL,
	detail       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_entries_subject_idx ON audit_entries (subject_type, subject_id);
CREATE INDEX IF NOT EXISTS audit_entries_ts_idx ON audit_entries (ts);
`
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) (uint64, error) {
	const insert = `
		INSERT INTO audit_entries (
			seq, id, ts, actor, action, subject_type, subject_id,
			prev_digest, new_digest, outcome, detail
		)
		VALUES ((SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_entries),
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq
	`

	exec := s.execer(ctx)
	for attempt := 0; attempt < appendRetries; attempt++ {
		var seq uint64
		err := exec.QueryRowContext(ctx, insert,
			entry.ID,
			entry.Timestamp,
			entry.Actor,
			string(entry.Action),
			string(entry.SubjectType),
			entry.SubjectID,
			entry.PrevDigest,
			entry.NewDigest,
			string(entry.Outcome),
			entry.Detail,
		).Scan(&seq)
		if err == nil {
			return seq, nil
		}
		if isUniqueViolation(err) {
			// Lost the tail race; retry against the new tail.
			continue
		}
		return 0, fmt.Errorf("insert audit entry: %w", err)
	}
	return 0, fmt.Errorf("audit append contention: %w", sentinel.ErrUnavailable)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (s *PostgresStore) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT seq, id, ts, actor, action, subject_type, subject_id,
			   prev_digest, new_digest, outcome, detail
		FROM audit_entries
	`

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conds = append(conds, "seq > "+arg(filter.AfterSeq))
	if filter.SubjectType != "" {
		conds = append(conds, "subject_type = "+arg(string(filter.SubjectType)))
	}
	if filter.SubjectID != "" {
		conds = append(conds, "subject_id = "+arg(filter.SubjectID))
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		conds = append(conds, "action = ANY("+arg(pq.Array(actions))+")")
	}
	if filter.From != nil {
		conds = append(conds, "ts >= "+arg(*filter.From))
	}
	if filter.To != nil {
		conds = append(conds, "ts <= "+arg(*filter.To))
	}

	query += " WHERE " + strings.Join(conds, " AND ")
	query += " ORDER BY seq ASC"

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	query += " LIMIT " + arg(limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *PostgresStore) LastSeq(ctx context.Context) (uint64, error) {
	var seq uint64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM audit_entries`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query audit tail: %w", err)
	}
	return seq, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			action      string
			subjectType string
			outcome     string
			ts          time.Time
		)
		err := rows.Scan(
			&e.Seq,
			&e.ID,
			&ts,
			&e.Actor,
			&action,
			&subjectType,
			&e.SubjectID,
			&e.PrevDigest,
			&e.NewDigest,
			&outcome,
			&e.Detail,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Timestamp = ts
		e.Action = Action(action)
		e.SubjectType = domain.DataType(subjectType)
		e.Outcome = Outcome(outcome)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
