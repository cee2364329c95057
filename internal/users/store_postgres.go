package users

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

// Schema returns the DDL for the users table.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL UNIQUE,
	role          TEXT NOT NULL,
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	purged        BOOLEAN NOT NULL DEFAULT FALSE,
	password_mode TEXT NOT NULL,
	password_data TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
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

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (s *PostgresStore) Create(ctx context.Context, user User) error {
	const insert = `
		INSERT INTO users (id, username, email, role, active, purged, password_mode, password_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.execer(ctx).ExecContext(ctx, insert,
		user.ID, user.Username, user.Email, user.Role, user.Active, user.Purged,
		user.Password.Mode, user.Password.Data, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (User, error) {
	return s.getBy(ctx, "id", id)
}

func (s *PostgresStore) GetByUsername(ctx context.Context, username string) (User, error) {
	return s.getBy(ctx, "username", username)
}

func (s *PostgresStore) getBy(ctx context.Context, column, value string) (User, error) {
	query := fmt.Sprintf(`
		SELECT id, username, email, role, active, purged, password_mode, password_data, created_at, updated_at
		FROM users WHERE %s = $1
	`, column)
	var u User
	err := s.execer(ctx).QueryRowContext(ctx, query, value).Scan(
		&u.ID, &u.Username, &u.Email, &u.Role, &u.Active, &u.Purged,
		&u.Password.Mode, &u.Password.Data, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, sentinel.ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) Update(ctx context.Context, user User) error {
	const update = `
		UPDATE users
		SET username = $2, email = $3, role = $4, active = $5, purged = $6, password_mode = $7, password_data = $8, updated_at = $9
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, update,
		user.ID, user.Username, user.Email, user.Role, user.Active, user.Purged,
		user.Password.Mode, user.Password.Data, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]User, error) {
	query := `
		SELECT id, username, email, role, active, purged, password_mode, password_data, created_at, updated_at
		FROM users WHERE 1=1
	`
	var args []any
	if filter.Role != "" {
		args = append(args, filter.Role)
		query += fmt.Sprintf(" AND role = $%d", len(args))
	}
	if filter.ActiveOnly {
		query += " AND active"
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.Active, &u.Purged,
			&u.Password.Mode, &u.Password.Data, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListExpired(ctx context.Context, cutoff time.Time) ([]User, error) {
	const query = `
		SELECT id, username, email, role, active, purged, password_mode, password_data, created_at, updated_at
		FROM users
		WHERE NOT active AND NOT purged AND updated_at < $1
		ORDER BY updated_at ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.Active, &u.Purged,
			&u.Password.Mode, &u.Password.Data, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}
