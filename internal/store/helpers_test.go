package store

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "other code", err: &pgconn.PgError{Code: "23503", ConstraintName: "transactions_reference_key"}, constraint: "transactions_reference_key", want: false},
		{name: "any constraint", err: &pgconn.PgError{Code: "23505", ConstraintName: "accounts_phone_number_key"}, want: true},
		{name: "matching constraint", err: &pgconn.PgError{Code: "23505", ConstraintName: "transactions_reference_key"}, constraint: "transactions_reference_key", want: true},
		{name: "different constraint", err: &pgconn.PgError{Code: "23505", ConstraintName: "accounts_phone_number_key"}, constraint: "transactions_reference_key", want: false},
		{name: "wrapped", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err, tt.constraint); got != tt.want {
				t.Fatalf("expected %t, got %t", tt.want, got)
			}
		})
	}
}

func TestOptionalKey(t *testing.T) {
	if optionalKey("") != nil {
		t.Fatalf("expected nil for empty key")
	}
	if got := optionalKey("sess:transfer"); got == nil || *got != "sess:transfer" {
		t.Fatalf("expected pointer to key, got %v", got)
	}
}

func TestNewReference(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		ref, err := NewReference()
		if err != nil {
			t.Fatalf("NewReference returned error: %v", err)
		}
		if len(ref) != referenceLength {
			t.Fatalf("expected length %d, got %q", referenceLength, ref)
		}
		for _, ch := range ref {
			if !strings.ContainsRune(referenceAlphabet, ch) {
				t.Fatalf("unexpected character %q in %q", ch, ref)
			}
		}
		seen[ref] = struct{}{}
	}
	if len(seen) < 190 {
		t.Fatalf("expected references to be practically unique, got %d distinct of 200", len(seen))
	}
}

func TestRedisSessionStoreKeys(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "ussd", want: "ussd:session:abc"},
		{prefix: "wallet:", want: "wallet:session:abc"},
		{prefix: "  ", want: "ussd:session:abc"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			s := NewRedisSessionStore(nil, tt.prefix, 90*time.Second)
			if got := s.sessionKey("abc"); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
			if s.ttl() != 180*time.Second {
				t.Fatalf("expected ttl twice the window, got %s", s.ttl())
			}
		})
	}
}

func TestSchemaReservesReferencesAcrossDirections(t *testing.T) {
	create, backfill := -1, -1
	for i, stmt := range schemaStatements {
		if strings.Contains(stmt, "CONSTRAINT "+referenceConstraint+" PRIMARY KEY (reference)") {
			create = i
		}
		if strings.Contains(stmt, "INSERT INTO transaction_references") {
			backfill = i
		}
	}
	if create < 0 {
		t.Fatalf("expected a table keyed on reference alone")
	}
	if backfill < create {
		t.Fatalf("expected existing references to be backfilled after the table is created, got create=%d backfill=%d", create, backfill)
	}
	if !isUniqueViolation(&pgconn.PgError{Code: "23505", ConstraintName: referenceConstraint}, referenceConstraint) {
		t.Fatalf("expected a reserved reference collision to be retryable")
	}
}
