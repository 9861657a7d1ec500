package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapError_PG_UniqueViolation(t *testing.T) {
	dialect := &PostgresDialect{}
	pgErr := &pgconn.PgError{
		Code:           "23505",
		Message:        "duplicate key value violates unique constraint \"_users_email_key\"",
		ConstraintName: "_users_email_key",
		Detail:         "Key (email)=(dup@test.com) already exists.",
	}
	wrapped := fmt.Errorf("exec: %w", pgErr)

	mapped := MapError(dialect, wrapped)

	if !errors.Is(mapped, ErrUniqueViolation) {
		t.Fatalf("expected ErrUniqueViolation, got: %v", mapped)
	}

	// Original pgconn.PgError should still be extractable
	var extracted *pgconn.PgError
	if !errors.As(mapped, &extracted) {
		t.Fatal("expected pgconn.PgError to still be extractable via errors.As")
	}
	if extracted.ConstraintName != "_users_email_key" {
		t.Fatalf("expected constraint name '_users_email_key', got: %s", extracted.ConstraintName)
	}
}

func TestMapError_PG_OtherError(t *testing.T) {
	dialect := &PostgresDialect{}
	err := fmt.Errorf("some other error")
	mapped := MapError(dialect, err)
	if mapped != err {
		t.Fatalf("expected same error back, got: %v", mapped)
	}
}

func TestMapError_Nil(t *testing.T) {
	for _, d := range []Dialect{&PostgresDialect{}, &SQLiteDialect{}} {
		if mapped := MapError(d, nil); mapped != nil {
			t.Fatalf("%s: expected nil, got: %v", d.Name(), mapped)
		}
	}
}

func TestMapError_SQLite_UniqueViolation(t *testing.T) {
	err := errors.New("constraint failed: UNIQUE constraint failed: _users.email (2067)")
	if mapped := MapError(&SQLiteDialect{}, err); !errors.Is(mapped, ErrUniqueViolation) {
		t.Fatalf("expected ErrUniqueViolation, got: %v", mapped)
	}
}

func TestInExpr(t *testing.T) {
	pb := (&SQLiteDialect{}).NewParamBuilder()
	pb.Add("x")
	got := (&SQLiteDialect{}).InExpr("role_id", pb, []string{"a", "b"})
	if got != "role_id IN (?2, ?3)" {
		t.Fatalf("unexpected sqlite IN expr %q", got)
	}
	if len(pb.Params()) != 3 {
		t.Fatalf("expected 3 params, got %d", len(pb.Params()))
	}

	if got := (&SQLiteDialect{}).InExpr("role_id", pb, nil); got != "1=0" {
		t.Fatalf("empty IN must be false, got %q", got)
	}

	pgb := (&PostgresDialect{}).NewParamBuilder()
	if got := (&PostgresDialect{}).InExpr("role_id", pgb, []string{"a"}); got != "role_id = ANY($1)" {
		t.Fatalf("unexpected postgres IN expr %q", got)
	}
}

func TestSQLiteTimeParam_SortsLexically(t *testing.T) {
	d := &SQLiteDialect{}
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	a := d.TimeParam(base).(string)
	b := d.TimeParam(base.Add(1500 * time.Microsecond)).(string)
	if !(a < b) {
		t.Fatalf("expected %q < %q", a, b)
	}
	parsed, ok := parseTime(b)
	if !ok || !parsed.Equal(base.Add(1500*time.Microsecond)) {
		t.Fatalf("round trip failed: %v %v", parsed, ok)
	}
}

func TestRebind(t *testing.T) {
	s := &Store{Dialect: &SQLiteDialect{}}
	if got := s.rebind("a = $1 AND b = $12"); got != "a = ?1 AND b = ?12" {
		t.Fatalf("unexpected rebind %q", got)
	}
	pg := &Store{Dialect: &PostgresDialect{}}
	if got := pg.rebind("a = $1"); got != "a = $1" {
		t.Fatalf("postgres queries must be unchanged, got %q", got)
	}
}
