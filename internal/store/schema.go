package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	referenceConstraint    = "transaction_references_pkey"
	rowReferenceConstraint = "transactions_reference_direction_uniq"
	idempotencyConstraint  = "transactions_idempotency_direction_uniq"
	phoneConstraint        = "accounts_phone_number_key"
)

// schemaStatements create the tables owned by the ussd-service. Every statement is
// idempotent so EnsureSchema can run on each deploy.
var schemaStatements = []string{
	`CREATE SEQUENCE IF NOT EXISTS account_number_seq START WITH 1 INCREMENT BY 1`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		account_number VARCHAR(10) NOT NULL UNIQUE,
		phone_number VARCHAR(20) NOT NULL CONSTRAINT accounts_phone_number_key UNIQUE,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		date_of_birth DATE NOT NULL,
		gender VARCHAR(10) NOT NULL DEFAULT '',
		id_type VARCHAR(3) NOT NULL,
		id_number VARCHAR(11) NOT NULL,
		pin_hash TEXT NOT NULL,
		security_question TEXT NOT NULL DEFAULT '',
		security_answer_hash TEXT NOT NULL DEFAULT '',
		next_of_kin_name TEXT NOT NULL DEFAULT '',
		next_of_kin_phone VARCHAR(20) NOT NULL DEFAULT '',
		tier SMALLINT NOT NULL DEFAULT 1 CHECK (tier BETWEEN 1 AND 3),
		status VARCHAR(10) NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'locked', 'blocked')),
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		failed_pin_attempts INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY,
		reference VARCHAR(10) NOT NULL,
		account_number VARCHAR(10) NOT NULL REFERENCES accounts (account_number),
		direction VARCHAR(6) NOT NULL CHECK (direction IN ('debit', 'credit')),
		category VARCHAR(16) NOT NULL,
		amount BIGINT NOT NULL CHECK (amount > 0),
		counterparty TEXT NOT NULL DEFAULT '',
		counterparty_name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status VARCHAR(12) NOT NULL,
		balance_after BIGINT NOT NULL,
		charges BIGINT NOT NULL DEFAULT 0,
		idempotency_key TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT transactions_reference_direction_uniq UNIQUE (reference, direction)
	)`,
	// One row per ledger operation; a transfer's debit and credit share it.
	`CREATE TABLE IF NOT EXISTS transaction_references (
		reference VARCHAR(10) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT transaction_references_pkey PRIMARY KEY (reference)
	)`,
	`INSERT INTO transaction_references (reference)
		SELECT DISTINCT reference FROM transactions
		ON CONFLICT (reference) DO NOTHING`,
	`CREATE UNIQUE INDEX IF NOT EXISTS transactions_idempotency_direction_uniq
		ON transactions (idempotency_key, direction) WHERE idempotency_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS transactions_account_created_idx
		ON transactions (account_number, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS ussd_sessions (
		session_id TEXT PRIMARY KEY,
		phone_number VARCHAR(20) NOT NULL,
		step TEXT NOT NULL,
		step_data JSONB NOT NULL DEFAULT '{}'::jsonb,
		depth INTEGER NOT NULL DEFAULT 0,
		last_reply TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ussd_sessions_active_phone_uniq
		ON ussd_sessions (phone_number) WHERE active`,
	`CREATE INDEX IF NOT EXISTS ussd_sessions_activity_idx
		ON ussd_sessions (last_activity) WHERE active`,
}

// EnsureSchema applies the schema statements in order.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for i, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
