package payments

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

// Schema returns the DDL for the transactions table. The card column holds
// the surrogate token, never the primary account number.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS payment_transactions (
	id              UUID PRIMARY KEY,
	amount          BIGINT NOT NULL,
	currency        TEXT NOT NULL,
	cardholder_name TEXT NOT NULL,
	card_mode       TEXT NOT NULL,
	card_data       TEXT NOT NULL,
	card_scrubbed   BOOLEAN NOT NULL DEFAULT FALSE,
	card_last_four  TEXT NOT NULL,
	status          TEXT NOT NULL,
	refund_of       UUID,
	processed_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS payment_transactions_processed_idx ON payment_transactions (processed_at);
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

const columns = `id, amount, currency, cardholder_name, card_mode, card_data, card_scrubbed, card_last_four, status, refund_of, processed_at`

func (s *PostgresStore) Create(ctx context.Context, txn Transaction) error {
	insert := fmt.Sprintf(`
		INSERT INTO payment_transactions (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, columns)
	var refundOf any
	if txn.RefundOf != "" {
		refundOf = txn.RefundOf
	}
	_, err := s.execer(ctx).ExecContext(ctx, insert,
		txn.ID, txn.Amount, txn.Currency, txn.CardholderName,
		txn.Card.Mode, txn.Card.Data, txn.Card.Scrubbed, txn.CardLastFour,
		txn.Status, refundOf, txn.ProcessedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM payment_transactions WHERE id = $1`, columns)
	txn, err := scanTransaction(s.execer(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, sentinel.ErrNotFound
	}
	return txn, err
}

func (s *PostgresStore) Update(ctx context.Context, txn Transaction) error {
	const update = `
		UPDATE payment_transactions
		SET cardholder_name = $2, card_mode = $3, card_data = $4, card_scrubbed = $5, status = $6
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, update,
		txn.ID, txn.CardholderName, txn.Card.Mode, txn.Card.Data, txn.Card.Scrubbed, txn.Status)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM payment_transactions WHERE 1=1`, columns)
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.RefundOf != "" {
		args = append(args, filter.RefundOf)
		query += fmt.Sprintf(" AND refund_of = $%d", len(args))
	}
	query += " ORDER BY processed_at ASC"
	return s.query(ctx, query, args...)
}

func (s *PostgresStore) ListExpired(ctx context.Context, cutoff time.Time) ([]Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM payment_transactions
		WHERE processed_at < $1 AND NOT card_scrubbed
		ORDER BY processed_at ASC
	`, columns)
	return s.query(ctx, query, cutoff)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]Transaction, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var txn Transaction
	var refundOf sql.NullString
	err := row.Scan(&txn.ID, &txn.Amount, &txn.Currency, &txn.CardholderName,
		&txn.Card.Mode, &txn.Card.Data, &txn.Card.Scrubbed, &txn.CardLastFour,
		&txn.Status, &refundOf, &txn.ProcessedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, err
		}
		return Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	if refundOf.Valid {
		txn.RefundOf = refundOf.String
	}
	return txn, nil
}
