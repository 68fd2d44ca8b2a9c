package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore implements ActorStore and OTPStore on a database/sql handle
// opened with the pgx stdlib driver.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open handle. Schema management is the caller's
// concern; EnsureSchema creates the tables when they are missing.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the auth tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS actors (
	id         TEXT PRIMARY KEY,
	phone      TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL DEFAULT '',
	role       TEXT NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS otp_codes (
	id          TEXT PRIMARY KEY,
	phone       TEXT NOT NULL,
	code        TEXT NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL,
	used        BOOLEAN NOT NULL DEFAULT FALSE,
	used_reason TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS otp_codes_phone_idx ON otp_codes (phone, used, expires_at);`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure auth schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateActor(ctx context.Context, a Actor) error {
	const stmt = `
INSERT INTO actors (id, phone, name, role, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.ExecContext(ctx, stmt, a.ID, a.Phone, a.Name, string(a.Role), a.Active, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrActorExists
		}
		return fmt.Errorf("insert actor: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetActor(ctx context.Context, id string) (Actor, error) {
	const stmt = `
SELECT id, phone, name, role, active, created_at, updated_at
FROM actors WHERE id = $1`
	return s.scanActor(s.db.QueryRowContext(ctx, stmt, id))
}

func (s *PostgresStore) GetActorByPhone(ctx context.Context, phone string) (Actor, error) {
	const stmt = `
SELECT id, phone, name, role, active, created_at, updated_at
FROM actors WHERE phone = $1`
	return s.scanActor(s.db.QueryRowContext(ctx, stmt, phone))
}

func (s *PostgresStore) UpdateActor(ctx context.Context, a Actor) error {
	const stmt = `
UPDATE actors SET phone = $2, name = $3, role = $4, active = $5, updated_at = $6
WHERE id = $1`
	res, err := s.db.ExecContext(ctx, stmt, a.ID, a.Phone, a.Name, string(a.Role), a.Active, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrActorExists
		}
		return fmt.Errorf("update actor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update actor: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListActors(ctx context.Context) ([]Actor, error) {
	const stmt = `
SELECT id, phone, name, role, active, created_at, updated_at
FROM actors ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	defer rows.Close()

	var out []Actor
	for rows.Next() {
		a, err := s.scanActor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateCode(ctx context.Context, c OTPCode) error {
	const stmt = `
INSERT INTO otp_codes (id, phone, code, expires_at, used, used_reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.ExecContext(ctx, stmt, c.ID, c.Phone, c.Code, c.ExpiresAt, c.Used, c.UsedReason, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert code: %w", err)
	}
	return nil
}

func (s *PostgresStore) SupersedeActive(ctx context.Context, phone string, now time.Time) (int, error) {
	const stmt = `
UPDATE otp_codes SET used = TRUE, used_reason = $3
WHERE phone = $1 AND used = FALSE AND expires_at > $2`
	res, err := s.db.ExecContext(ctx, stmt, phone, now, CodeReasonSuperseded)
	if err != nil {
		return 0, fmt.Errorf("supersede codes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("supersede codes: %w", err)
	}
	return int(n), nil
}

// ConsumeCode marks the newest live matching code as verified in a single
// statement, so two concurrent verifications can never both succeed.
func (s *PostgresStore) ConsumeCode(ctx context.Context, phone, code string, now time.Time) (OTPCode, error) {
	const stmt = `
UPDATE otp_codes SET used = TRUE, used_reason = $4
WHERE id = (
	SELECT id FROM otp_codes
	WHERE phone = $1 AND code = $2 AND used = FALSE AND expires_at > $3
	ORDER BY created_at DESC
	LIMIT 1
	FOR UPDATE
)
RETURNING id, phone, code, expires_at, used, used_reason, created_at`
	var c OTPCode
	err := s.db.QueryRowContext(ctx, stmt, phone, code, now, CodeReasonVerified).
		Scan(&c.ID, &c.Phone, &c.Code, &c.ExpiresAt, &c.Used, &c.UsedReason, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return OTPCode{}, ErrInvalidCode
	}
	if err != nil {
		return OTPCode{}, fmt.Errorf("consume code: %w", err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanActor(row rowScanner) (Actor, error) {
	var a Actor
	var role string
	err := row.Scan(&a.ID, &a.Phone, &a.Name, &role, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Actor{}, ErrNotFound
	}
	if err != nil {
		return Actor{}, fmt.Errorf("scan actor: %w", err)
	}
	a.Role = Role(role)
	return a, nil
}
