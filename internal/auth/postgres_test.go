package auth

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestPostgresGetActorByPhone(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := NewPostgresStore(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "phone", "name", "role", "active", "created_at", "updated_at"}).
		AddRow("actor-1", "+1000", "", "moderator", true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM actors WHERE phone = $1")).
		WithArgs("+1000").
		WillReturnRows(rows)

	a, err := store.GetActorByPhone(context.Background(), "+1000")
	if err != nil {
		t.Fatalf("GetActorByPhone: %v", err)
	}
	if a.ID != "actor-1" || a.Role != RoleModerator || !a.Active {
		t.Fatalf("unexpected actor %+v", a)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresGetActorNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM actors WHERE id = $1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "phone", "name", "role", "active", "created_at", "updated_at"}))

	if _, err := store.GetActor(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresCreateActorDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := NewPostgresStore(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO actors")).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	now := time.Now().UTC()
	err = store.CreateActor(context.Background(), Actor{
		ID: "actor-1", Phone: "+1000", Role: RoleUser, Active: true,
		CreatedAt: now, UpdatedAt: now,
	})
	if !errors.Is(err, ErrActorExists) {
		t.Fatalf("expected ErrActorExists, got %v", err)
	}
}

func TestPostgresConsumeCodeNoMatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE otp_codes SET used = TRUE")).
		WithArgs("+1000", "000000", sqlmock.AnyArg(), CodeReasonVerified).
		WillReturnRows(sqlmock.NewRows([]string{"id", "phone", "code", "expires_at", "used", "used_reason", "created_at"}))

	_, err = store.ConsumeCode(context.Background(), "+1000", "000000", time.Now().UTC())
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
}

func TestPostgresSupersedeActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := NewPostgresStore(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE otp_codes SET used = TRUE, used_reason = $3")).
		WithArgs("+1000", sqlmock.AnyArg(), CodeReasonSuperseded).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.SupersedeActive(context.Background(), "+1000", time.Now().UTC())
	if err != nil {
		t.Fatalf("SupersedeActive: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 retired codes, got %d", n)
	}
}
