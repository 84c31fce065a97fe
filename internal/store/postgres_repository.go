/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains the SQL for the account directory and the ledger. Every balance change
 * runs inside one database transaction that locks the affected account rows, checks
 * the tier limits, applies a conditional update (`balance >= amount`) and writes the
 * immutable transaction records.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/ussd-service/internal/domain"
)

var errDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

const accountColumns = `id, account_number, phone_number, first_name, last_name, date_of_birth, gender,
	id_type, id_number, pin_hash, security_question, security_answer_hash, next_of_kin_name,
	next_of_kin_phone, tier, status, balance, failed_pin_attempts, created_at, updated_at`

const transactionColumns = `id, reference, account_number, direction, category, amount, counterparty,
	counterparty_name, description, status, balance_after, charges, idempotency_key, created_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db     *pgxpool.Pool
	limits LimitPolicy
	now    func() time.Time
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool, limits LimitPolicy) *PostgresRepository {
	return &PostgresRepository{db: db, limits: limits, now: time.Now}
}

// CreateAccount inserts a new active tier account and assigns the next account number.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	created := *account
	created.ID = uuid.New()
	if created.Tier == 0 {
		created.Tier = 1
	}
	created.Status = domain.AccountStatusActive
	created.Balance = 0
	created.FailedPINAttempts = 0

	query := `
		INSERT INTO accounts (
			id, account_number, phone_number, first_name, last_name, date_of_birth, gender,
			id_type, id_number, pin_hash, security_question, security_answer_hash,
			next_of_kin_name, next_of_kin_phone, tier, status, balance, failed_pin_attempts
		) VALUES (
			$1, lpad(nextval('account_number_seq')::text, 10, '0'), $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13, $14, $15, 0, 0
		)
		RETURNING account_number, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		created.ID,
		created.PhoneNumber,
		created.FirstName,
		created.LastName,
		created.DateOfBirth,
		created.Gender,
		string(created.IDType),
		created.IDNumber,
		created.PINHash,
		created.SecurityQuestion,
		created.SecurityAnswerHash,
		created.NextOfKinName,
		created.NextOfKinPhone,
		created.Tier,
		string(created.Status),
	).Scan(&created.AccountNumber, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, phoneConstraint) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return &created, nil
}

func (r *PostgresRepository) FindAccountByPhone(ctx context.Context, phone string) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE phone_number = $1`, phone))
}

func (r *PostgresRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, accountNumber))
}

// RecordFailedPINAttempt atomically increments failed attempts and applies the lockout.
func (r *PostgresRepository) RecordFailedPINAttempt(ctx context.Context, accountNumber string, maxAttempts int) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET
			failed_pin_attempts = failed_pin_attempts + 1,
			status = CASE WHEN failed_pin_attempts + 1 >= $2 THEN 'locked' ELSE status END,
			updated_at = NOW()
		WHERE account_number = $1 AND status = 'active'
		RETURNING ` + accountColumns
	account, err := scanAccount(r.db.QueryRow(ctx, query, accountNumber, maxAttempts))
	if errors.Is(err, ErrAccountNotFound) {
		return nil, r.inactiveReason(ctx, accountNumber)
	}
	return account, err
}

// ResetPINFailures clears the failed-attempt counter after a successful PIN verification.
func (r *PostgresRepository) ResetPINFailures(ctx context.Context, accountNumber string) error {
	result, err := r.db.Exec(ctx, `UPDATE accounts SET failed_pin_attempts = 0 WHERE account_number = $1`, accountNumber)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdatePINHash(ctx context.Context, accountNumber string, pinHash string) error {
	query := `
		UPDATE accounts
		SET pin_hash = $2, failed_pin_attempts = 0, updated_at = NOW()
		WHERE account_number = $1 AND status = 'active'
	`
	result, err := r.db.Exec(ctx, query, accountNumber, pinHash)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return r.inactiveReason(ctx, accountNumber)
	}
	return nil
}

func (r *PostgresRepository) BlockAccount(ctx context.Context, accountNumber string) (*domain.Account, error) {
	query := `
		UPDATE accounts SET status = 'blocked', updated_at = NOW()
		WHERE account_number = $1 AND status = 'active'
		RETURNING ` + accountColumns
	account, err := scanAccount(r.db.QueryRow(ctx, query, accountNumber))
	if errors.Is(err, ErrAccountNotFound) {
		return nil, r.inactiveReason(ctx, accountNumber)
	}
	return account, err
}

func (r *PostgresRepository) GetBalance(ctx context.Context, accountNumber string) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `SELECT balance FROM accounts WHERE account_number = $1`, accountNumber).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return balance, nil
}

// Debit removes funds from one account and records a debit transaction.
func (r *PostgresRepository) Debit(ctx context.Context, params DebitParams) (*LedgerEntry, error) {
	if params.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var entry *LedgerEntry
	err := r.inLedgerTx(ctx, func(tx pgx.Tx, reference string) error {
		accounts, err := lockAccounts(ctx, tx, params.AccountNumber)
		if err != nil {
			return err
		}
		account, ok := accounts[params.AccountNumber]
		if !ok {
			return ErrAccountNotFound
		}
		if existing, err := findByIdempotencyKey(ctx, tx, params.IdempotencyKey, domain.DirectionDebit); err != nil {
			return err
		} else if existing != nil {
			entry = &LedgerEntry{Transaction: existing, Replayed: true}
			return nil
		}

		now := r.now()
		balance, err := r.applyDebit(ctx, tx, account, params.Amount, now)
		if err != nil {
			return err
		}
		txn := newTransaction(reference, account.AccountNumber, domain.DirectionDebit, params.Category, params.Amount, balance, now)
		txn.Counterparty = params.Counterparty
		txn.CounterpartyName = params.CounterpartyName
		txn.Description = params.Description
		txn.Charges = params.Charges
		txn.IdempotencyKey = optionalKey(params.IdempotencyKey)
		if err := claimReference(ctx, tx, reference); err != nil {
			return err
		}
		if err := insertTransaction(ctx, tx, txn); err != nil {
			return err
		}
		entry = &LedgerEntry{Transaction: txn}
		return nil
	})
	if errors.Is(err, errDuplicateIdempotencyKey) {
		existing, lookupErr := findByIdempotencyKey(ctx, r.db, params.IdempotencyKey, domain.DirectionDebit)
		if lookupErr != nil || existing == nil {
			return nil, fmt.Errorf("replay debit %s: %w", params.IdempotencyKey, errors.Join(err, lookupErr))
		}
		return &LedgerEntry{Transaction: existing, Replayed: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Credit adds funds to one account and records a credit transaction.
func (r *PostgresRepository) Credit(ctx context.Context, params CreditParams) (*LedgerEntry, error) {
	if params.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var entry *LedgerEntry
	err := r.inLedgerTx(ctx, func(tx pgx.Tx, reference string) error {
		accounts, err := lockAccounts(ctx, tx, params.AccountNumber)
		if err != nil {
			return err
		}
		if _, ok := accounts[params.AccountNumber]; !ok {
			return ErrAccountNotFound
		}
		if existing, err := findByIdempotencyKey(ctx, tx, params.IdempotencyKey, domain.DirectionCredit); err != nil {
			return err
		} else if existing != nil {
			entry = &LedgerEntry{Transaction: existing, Replayed: true}
			return nil
		}

		now := r.now()
		balance, err := applyCredit(ctx, tx, params.AccountNumber, params.Amount, now)
		if err != nil {
			return err
		}
		txn := newTransaction(reference, params.AccountNumber, domain.DirectionCredit, params.Category, params.Amount, balance, now)
		txn.Counterparty = params.Counterparty
		txn.CounterpartyName = params.CounterpartyName
		txn.Description = params.Description
		txn.IdempotencyKey = optionalKey(params.IdempotencyKey)
		if err := claimReference(ctx, tx, reference); err != nil {
			return err
		}
		if err := insertTransaction(ctx, tx, txn); err != nil {
			return err
		}
		entry = &LedgerEntry{Transaction: txn}
		return nil
	})
	if errors.Is(err, errDuplicateIdempotencyKey) {
		existing, lookupErr := findByIdempotencyKey(ctx, r.db, params.IdempotencyKey, domain.DirectionCredit)
		if lookupErr != nil || existing == nil {
			return nil, fmt.Errorf("replay credit %s: %w", params.IdempotencyKey, errors.Join(err, lookupErr))
		}
		return &LedgerEntry{Transaction: existing, Replayed: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Transfer moves funds between two accounts as one unit: either both records and both
// balance changes commit, or none do.
func (r *PostgresRepository) Transfer(ctx context.Context, params TransferParams) (*TransferResult, error) {
	if params.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if params.SenderAccount == params.RecipientAccount {
		return nil, ErrSelfTransfer
	}

	var result *TransferResult
	err := r.inLedgerTx(ctx, func(tx pgx.Tx, reference string) error {
		accounts, err := lockAccounts(ctx, tx, params.SenderAccount, params.RecipientAccount)
		if err != nil {
			return err
		}
		sender, ok := accounts[params.SenderAccount]
		if !ok {
			return ErrAccountNotFound
		}
		recipient, ok := accounts[params.RecipientAccount]
		if !ok {
			return ErrRecipientNotFound
		}
		if replay, err := findTransferByKey(ctx, tx, params.IdempotencyKey); err != nil {
			return err
		} else if replay != nil {
			result = replay
			return nil
		}

		now := r.now()
		senderBalance, err := r.applyDebit(ctx, tx, sender, params.Amount, now)
		if err != nil {
			return err
		}
		recipientBalance, err := applyCredit(ctx, tx, recipient.AccountNumber, params.Amount, now)
		if err != nil {
			return err
		}

		debit := newTransaction(reference, sender.AccountNumber, domain.DirectionDebit, domain.CategoryTransfer, params.Amount, senderBalance, now)
		debit.Counterparty = recipient.AccountNumber
		debit.CounterpartyName = recipient.FullName()
		debit.Description = params.Description
		debit.Charges = params.Charges
		debit.IdempotencyKey = optionalKey(params.IdempotencyKey)

		credit := newTransaction(reference, recipient.AccountNumber, domain.DirectionCredit, domain.CategoryTransfer, params.Amount, recipientBalance, now)
		credit.Counterparty = sender.AccountNumber
		credit.CounterpartyName = sender.FullName()
		credit.Description = params.Description
		credit.IdempotencyKey = optionalKey(params.IdempotencyKey)

		if err := claimReference(ctx, tx, reference); err != nil {
			return err
		}
		if err := insertTransaction(ctx, tx, debit); err != nil {
			return err
		}
		if err := insertTransaction(ctx, tx, credit); err != nil {
			return err
		}
		result = &TransferResult{Debit: debit, Credit: credit}
		return nil
	})
	if errors.Is(err, errDuplicateIdempotencyKey) {
		replay, lookupErr := findTransferByKey(ctx, r.db, params.IdempotencyKey)
		if lookupErr != nil || replay == nil {
			return nil, fmt.Errorf("replay transfer %s: %w", params.IdempotencyKey, errors.Join(err, lookupErr))
		}
		return replay, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListTransactions returns an account's transactions, newest first.
func (r *PostgresRepository) ListTransactions(ctx context.Context, accountNumber string, filter TransactionFilter) ([]domain.Transaction, error) {
	var (
		conditions = []string{"account_number = $1"}
		args       = []any{accountNumber}
	)
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY created_at DESC, direction`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txn)
	}
	return transactions, rows.Err()
}

// inLedgerTx runs fn in a database transaction with a fresh reference, retrying with a new
// reference when the insert collides with an existing one.
func (r *PostgresRepository) inLedgerTx(ctx context.Context, fn func(tx pgx.Tx, reference string) error) error {
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		reference, err := NewReference()
		if err != nil {
			return err
		}

		err = r.runTx(ctx, func(tx pgx.Tx) error { return fn(tx, reference) })
		switch {
		case err == nil:
			return nil
		case isUniqueViolation(err, referenceConstraint), isUniqueViolation(err, rowReferenceConstraint):
			continue
		case isUniqueViolation(err, idempotencyConstraint):
			return errDuplicateIdempotencyKey
		default:
			return err
		}
	}
	return ErrReferenceExhausted
}

func (r *PostgresRepository) runTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// applyDebit checks status and limits, then removes amount with a conditional update so
// the balance can never go below zero even if the row lock were bypassed.
func (r *PostgresRepository) applyDebit(ctx context.Context, tx pgx.Tx, account *domain.Account, amount int64, now time.Time) (int64, error) {
	if err := statusError(account.Status); err != nil {
		return 0, err
	}

	dayStart, monthStart := r.limits.Windows(now)
	var dailyTotal, monthlyTotal int64
	totalsQuery := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE created_at >= $2), 0),
			COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE account_number = $1 AND direction = 'debit' AND status = 'successful' AND created_at >= $3
	`
	if err := tx.QueryRow(ctx, totalsQuery, account.AccountNumber, dayStart, monthStart).Scan(&dailyTotal, &monthlyTotal); err != nil {
		return 0, fmt.Errorf("sum debits: %w", err)
	}
	if err := r.limits.Check(account.Tier, dailyTotal, monthlyTotal, amount); err != nil {
		return 0, err
	}

	var balance int64
	err := tx.QueryRow(ctx, `
		UPDATE accounts SET balance = balance - $1, updated_at = $3
		WHERE account_number = $2 AND balance >= $1
		RETURNING balance
	`, amount, account.AccountNumber, now).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInsufficientFunds
		}
		return 0, err
	}
	return balance, nil
}

func applyCredit(ctx context.Context, tx pgx.Tx, accountNumber string, amount int64, now time.Time) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		UPDATE accounts SET balance = balance + $1, updated_at = $3
		WHERE account_number = $2
		RETURNING balance
	`, amount, accountNumber, now).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return balance, nil
}

// lockAccounts takes row locks in account-number order so concurrent transfers between the
// same pair cannot deadlock.
func lockAccounts(ctx context.Context, tx pgx.Tx, accountNumbers ...string) (map[string]*domain.Account, error) {
	placeholders := make([]string, len(accountNumbers))
	args := make([]any, len(accountNumbers))
	for i, number := range accountNumbers {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = number
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY account_number FOR UPDATE`

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make(map[string]*domain.Account, len(accountNumbers))
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts[account.AccountNumber] = account
	}
	return accounts, rows.Err()
}

func (r *PostgresRepository) inactiveReason(ctx context.Context, accountNumber string) error {
	account, err := r.FindAccountByNumber(ctx, accountNumber)
	if err != nil {
		return err
	}
	if err := statusError(account.Status); err != nil {
		return err
	}
	return fmt.Errorf("account %s changed concurrently", accountNumber)
}

func newTransaction(reference, accountNumber string, direction domain.TransactionDirection, category domain.TransactionCategory, amount, balanceAfter int64, now time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:            uuid.New(),
		Reference:     reference,
		AccountNumber: accountNumber,
		Direction:     direction,
		Category:      category,
		Amount:        amount,
		Status:        domain.TransactionStatusSuccessful,
		BalanceAfter:  balanceAfter,
		CreatedAt:     now,
	}
}

// claimReference reserves reference for one ledger operation regardless of direction.
func claimReference(ctx context.Context, q querier, reference string) error {
	_, err := q.Exec(ctx, `INSERT INTO transaction_references (reference) VALUES ($1)`, reference)
	return err
}

func insertTransaction(ctx context.Context, q querier, txn *domain.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := q.Exec(ctx, query,
		txn.ID,
		txn.Reference,
		txn.AccountNumber,
		string(txn.Direction),
		string(txn.Category),
		txn.Amount,
		txn.Counterparty,
		txn.CounterpartyName,
		txn.Description,
		string(txn.Status),
		txn.BalanceAfter,
		txn.Charges,
		txn.IdempotencyKey,
		txn.CreatedAt,
	)
	return err
}

func findByIdempotencyKey(ctx context.Context, q querier, key string, direction domain.TransactionDirection) (*domain.Transaction, error) {
	if key == "" {
		return nil, nil
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1 AND direction = $2`
	txn, err := scanTransaction(q.QueryRow(ctx, query, key, string(direction)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return txn, nil
}

func findTransferByKey(ctx context.Context, q querier, key string) (*TransferResult, error) {
	debit, err := findByIdempotencyKey(ctx, q, key, domain.DirectionDebit)
	if err != nil || debit == nil {
		return nil, err
	}
	credit, err := findByIdempotencyKey(ctx, q, key, domain.DirectionCredit)
	if err != nil {
		return nil, err
	}
	return &TransferResult{Debit: debit, Credit: credit, Replayed: true}, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account domain.Account
		idType  string
		status  string
	)
	err := row.Scan(
		&account.ID,
		&account.AccountNumber,
		&account.PhoneNumber,
		&account.FirstName,
		&account.LastName,
		&account.DateOfBirth,
		&account.Gender,
		&idType,
		&account.IDNumber,
		&account.PINHash,
		&account.SecurityQuestion,
		&account.SecurityAnswerHash,
		&account.NextOfKinName,
		&account.NextOfKinPhone,
		&account.Tier,
		&status,
		&account.Balance,
		&account.FailedPINAttempts,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	account.IDType = domain.IDType(idType)
	account.Status = domain.AccountStatus(status)
	return &account, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		txn       domain.Transaction
		direction string
		category  string
		status    string
	)
	err := row.Scan(
		&txn.ID,
		&txn.Reference,
		&txn.AccountNumber,
		&direction,
		&category,
		&txn.Amount,
		&txn.Counterparty,
		&txn.CounterpartyName,
		&txn.Description,
		&status,
		&txn.BalanceAfter,
		&txn.Charges,
		&txn.IdempotencyKey,
		&txn.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	txn.Direction = domain.TransactionDirection(direction)
	txn.Category = domain.TransactionCategory(category)
	txn.Status = domain.TransactionStatus(status)
	return &txn, nil
}

func optionalKey(key string) *string {
	if key == "" {
		return nil
	}
	return &key
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}
