/**
 * @description
 * This file defines the `Repository` and `SessionStore` interfaces, which specify the
 * contract for all data access operations required by the ussd-service. By defining
 * interfaces, we decouple the USSD state machine from the specific storage engines
 * (PostgreSQL, Redis, MongoDB, in-memory), making the code easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/transfa/ussd-service/internal/domain"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrRecipientNotFound  = errors.New("recipient account not found")
	ErrAccountExists      = errors.New("phone number already has an account")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountBlocked     = errors.New("account blocked")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrLimitExceeded      = errors.New("transaction limit exceeded")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrSelfTransfer       = errors.New("sender and recipient must differ")
	ErrReferenceExhausted = errors.New("could not allocate a unique transaction reference")

	ErrSessionNotFound = errors.New("session not found or expired")
	ErrSessionConflict = errors.New("session was modified concurrently")
)

// Repository is the account directory plus the ledger. It is the only component allowed
// to mutate a balance or the PIN failure counter.
type Repository interface {
	// Account directory
	CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error)
	FindAccountByPhone(ctx context.Context, phone string) (*domain.Account, error)
	FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error)
	// RecordFailedPINAttempt atomically increments the counter of an active account and
	// locks it once the counter reaches maxAttempts.
	RecordFailedPINAttempt(ctx context.Context, accountNumber string, maxAttempts int) (*domain.Account, error)
	ResetPINFailures(ctx context.Context, accountNumber string) error
	// UpdatePINHash stores a new PIN hash and clears the failure counter.
	UpdatePINHash(ctx context.Context, accountNumber string, pinHash string) error
	// BlockAccount moves an active account to blocked.
	BlockAccount(ctx context.Context, accountNumber string) (*domain.Account, error)

	// Ledger
	GetBalance(ctx context.Context, accountNumber string) (int64, error)
	Debit(ctx context.Context, params DebitParams) (*LedgerEntry, error)
	Credit(ctx context.Context, params CreditParams) (*LedgerEntry, error)
	Transfer(ctx context.Context, params TransferParams) (*TransferResult, error)
	ListTransactions(ctx context.Context, accountNumber string, filter TransactionFilter) ([]domain.Transaction, error)
}

// SessionStore keeps the USSD session records. Every read enforces the inactivity window,
// so an idle session is absent even before the sweeper flips its active flag.
type SessionStore interface {
	// Start deactivates any active session of the phone and stores s as its only active one.
	Start(ctx context.Context, s *domain.Session) error
	// Load returns the active, unexpired session by id, falling back to the phone's
	// active session. ErrSessionNotFound otherwise.
	Load(ctx context.Context, sessionID, phone string) (*domain.Session, error)
	// Upsert writes s if its Version still matches the stored one, then bumps s.Version
	// and refreshes s.LastActivity. ErrSessionConflict when another write got there first.
	Upsert(ctx context.Context, s *domain.Session) error
	// Close is Upsert that also deactivates the session. Exactly one of several
	// concurrent closers of the same version succeeds.
	Close(ctx context.Context, s *domain.Session) error
	Deactivate(ctx context.Context, sessionID string) error
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// DebitParams describes a single-sided debit.
type DebitParams struct {
	AccountNumber    string
	Amount           int64
	Category         domain.TransactionCategory
	Counterparty     string
	CounterpartyName string
	Description      string
	Charges          int64
	// IdempotencyKey makes the write happen at most once; a replay returns the
	// transaction that was written the first time.
	IdempotencyKey string
}

// CreditParams describes a single-sided credit.
type CreditParams struct {
	AccountNumber    string
	Amount           int64
	Category         domain.TransactionCategory
	Counterparty     string
	CounterpartyName string
	Description      string
	IdempotencyKey   string
}

// TransferParams describes an account-to-account movement inside the ledger.
type TransferParams struct {
	SenderAccount    string
	RecipientAccount string
	Amount           int64
	Charges          int64
	Description      string
	IdempotencyKey   string
}

// LedgerEntry is the outcome of a single-sided write.
type LedgerEntry struct {
	Transaction *domain.Transaction
	Replayed    bool
}

// TransferResult holds the paired records of a transfer. Both share one reference.
type TransferResult struct {
	Debit    *domain.Transaction
	Credit   *domain.Transaction
	Replayed bool
}

// TransactionFilter bounds a history query. Zero values mean unbounded.
type TransactionFilter struct {
	Since time.Time
	Limit int
}
