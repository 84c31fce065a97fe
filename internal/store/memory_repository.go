package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ussd-service/internal/domain"
)

// MemoryRepository is an in-process Repository used by tests and STORE_BACKEND=memory.
// A single mutex stands in for the row locks the Postgres implementation takes.
type MemoryRepository struct {
	mu           sync.Mutex
	accounts     map[string]*domain.Account
	phones       map[string]string
	transactions []domain.Transaction
	references   map[string]struct{}
	keys         map[string]int
	nextNumber   int64

	limits       LimitPolicy
	now          func() time.Time
	newReference func() (string, error)
}

func NewMemoryRepository(limits LimitPolicy) *MemoryRepository {
	return &MemoryRepository{
		accounts:     make(map[string]*domain.Account),
		phones:       make(map[string]string),
		references:   make(map[string]struct{}),
		keys:         make(map[string]int),
		limits:       limits,
		now:          time.Now,
		newReference: NewReference,
	}
}

// SetClock replaces the time source used for timestamps and limit windows.
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *MemoryRepository) CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.phones[account.PhoneNumber]; exists {
		return nil, ErrAccountExists
	}
	r.nextNumber++
	created := *account
	created.ID = uuid.New()
	created.AccountNumber = FormatAccountNumber(r.nextNumber)
	if created.Tier == 0 {
		created.Tier = 1
	}
	created.Status = domain.AccountStatusActive
	created.Balance = 0
	created.FailedPINAttempts = 0
	created.CreatedAt = r.now()
	created.UpdatedAt = created.CreatedAt

	r.accounts[created.AccountNumber] = &created
	r.phones[created.PhoneNumber] = created.AccountNumber
	out := created
	return &out, nil
}

func (r *MemoryRepository) FindAccountByPhone(ctx context.Context, phone string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	number, ok := r.phones[phone]
	if !ok {
		return nil, ErrAccountNotFound
	}
	out := *r.accounts[number]
	return &out, nil
}

func (r *MemoryRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[accountNumber]
	if !ok {
		return nil, ErrAccountNotFound
	}
	out := *account
	return &out, nil
}

func (r *MemoryRepository) RecordFailedPINAttempt(ctx context.Context, accountNumber string, maxAttempts int) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, err := r.activeAccountLocked(accountNumber)
	if err != nil {
		return nil, err
	}
	account.FailedPINAttempts++
	if account.FailedPINAttempts >= maxAttempts {
		account.Status = domain.AccountStatusLocked
	}
	account.UpdatedAt = r.now()
	out := *account
	return &out, nil
}

func (r *MemoryRepository) ResetPINFailures(ctx context.Context, accountNumber string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[accountNumber]
	if !ok {
		return ErrAccountNotFound
	}
	account.FailedPINAttempts = 0
	return nil
}

func (r *MemoryRepository) UpdatePINHash(ctx context.Context, accountNumber string, pinHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, err := r.activeAccountLocked(accountNumber)
	if err != nil {
		return err
	}
	account.PINHash = pinHash
	account.FailedPINAttempts = 0
	account.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) BlockAccount(ctx context.Context, accountNumber string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, err := r.activeAccountLocked(accountNumber)
	if err != nil {
		return nil, err
	}
	account.Status = domain.AccountStatusBlocked
	account.UpdatedAt = r.now()
	out := *account
	return &out, nil
}

func (r *MemoryRepository) GetBalance(ctx context.Context, accountNumber string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[accountNumber]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return account.Balance, nil
}

func (r *MemoryRepository) Debit(ctx context.Context, params DebitParams) (*LedgerEntry, error) {
	if params.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.findByKeyLocked(params.IdempotencyKey, domain.DirectionDebit); ok {
		return &LedgerEntry{Transaction: existing, Replayed: true}, nil
	}
	account, ok := r.accounts[params.AccountNumber]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if err := r.checkDebitLocked(account, params.Amount); err != nil {
		return nil, err
	}
	reference, err := r.allocateReferenceLocked()
	if err != nil {
		return nil, err
	}

	account.Balance -= params.Amount
	account.UpdatedAt = r.now()
	txn := r.appendLocked(domain.Transaction{
		Reference:        reference,
		AccountNumber:    account.AccountNumber,
		Direction:        domain.DirectionDebit,
		Category:         params.Category,
		Amount:           params.Amount,
		Counterparty:     params.Counterparty,
		CounterpartyName: params.CounterpartyName,
		Description:      params.Description,
		BalanceAfter:     account.Balance,
		Charges:          params.Charges,
	}, params.IdempotencyKey)
	return &LedgerEntry{Transaction: txn}, nil
}

func (r *MemoryRepository) Credit(ctx context.Context, params CreditParams) (*LedgerEntry, error) {
	if params.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.findByKeyLocked(params.IdempotencyKey, domain.DirectionCredit); ok {
		return &LedgerEntry{Transaction: existing, Replayed: true}, nil
	}
	account, ok := r.accounts[params.AccountNumber]
	if !ok {
		return nil, ErrAccountNotFound
	}
	reference, err := r.allocateReferenceLocked()
	if err != nil {
		return nil, err
	}

	account.Balance += params.Amount
	account.UpdatedAt = r.now()
	txn := r.appendLocked(domain.Transaction{
		Reference:        reference,
		AccountNumber:    account.AccountNumber,
		Direction:        domain.DirectionCredit,
		Category:         params.Category,
		Amount:           params.Amount,
		Counterparty:     params.Counterparty,
		CounterpartyName: params.CounterpartyName,
		Description:      params.Description,
		BalanceAfter:     account.Balance,
	}, params.IdempotencyKey)
	return &LedgerEntry{Transaction: txn}, nil
}

func (r *MemoryRepository) Transfer(ctx context.Context, params TransferParams) (*TransferResult, error) {
	if params.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if params.SenderAccount == params.RecipientAccount {
		return nil, ErrSelfTransfer
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if debit, ok := r.findByKeyLocked(params.IdempotencyKey, domain.DirectionDebit); ok {
		credit, _ := r.findByKeyLocked(params.IdempotencyKey, domain.DirectionCredit)
		return &TransferResult{Debit: debit, Credit: credit, Replayed: true}, nil
	}
	sender, ok := r.accounts[params.SenderAccount]
	if !ok {
		return nil, ErrAccountNotFound
	}
	recipient, ok := r.accounts[params.RecipientAccount]
	if !ok {
		return nil, ErrRecipientNotFound
	}
	if err := r.checkDebitLocked(sender, params.Amount); err != nil {
		return nil, err
	}
	reference, err := r.allocateReferenceLocked()
	if err != nil {
		return nil, err
	}

	now := r.now()
	sender.Balance -= params.Amount
	sender.UpdatedAt = now
	recipient.Balance += params.Amount
	recipient.UpdatedAt = now

	debit := r.appendLocked(domain.Transaction{
		Reference:        reference,
		AccountNumber:    sender.AccountNumber,
		Direction:        domain.DirectionDebit,
		Category:         domain.CategoryTransfer,
		Amount:           params.Amount,
		Counterparty:     recipient.AccountNumber,
		CounterpartyName: recipient.FullName(),
		Description:      params.Description,
		BalanceAfter:     sender.Balance,
		Charges:          params.Charges,
	}, params.IdempotencyKey)
	credit := r.appendLocked(domain.Transaction{
		Reference:        reference,
		AccountNumber:    recipient.AccountNumber,
		Direction:        domain.DirectionCredit,
		Category:         domain.CategoryTransfer,
		Amount:           params.Amount,
		Counterparty:     sender.AccountNumber,
		CounterpartyName: sender.FullName(),
		Description:      params.Description,
		BalanceAfter:     recipient.Balance,
	}, params.IdempotencyKey)
	return &TransferResult{Debit: debit, Credit: credit}, nil
}

func (r *MemoryRepository) ListTransactions(ctx context.Context, accountNumber string, filter TransactionFilter) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for i := len(r.transactions) - 1; i >= 0; i-- {
		txn := r.transactions[i]
		if txn.AccountNumber != accountNumber {
			continue
		}
		if !filter.Since.IsZero() && txn.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, txn)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) activeAccountLocked(accountNumber string) (*domain.Account, error) {
	account, ok := r.accounts[accountNumber]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if err := statusError(account.Status); err != nil {
		return nil, err
	}
	return account, nil
}

func (r *MemoryRepository) checkDebitLocked(account *domain.Account, amount int64) error {
	if err := statusError(account.Status); err != nil {
		return err
	}
	dayStart, monthStart := r.limits.Windows(r.now())
	var daily, monthly int64
	for _, txn := range r.transactions {
		if txn.AccountNumber != account.AccountNumber || txn.Direction != domain.DirectionDebit || txn.Status != domain.TransactionStatusSuccessful {
			continue
		}
		if !txn.CreatedAt.Before(monthStart) {
			monthly += txn.Amount
		}
		if !txn.CreatedAt.Before(dayStart) {
			daily += txn.Amount
		}
	}
	if err := r.limits.Check(account.Tier, daily, monthly, amount); err != nil {
		return err
	}
	if account.Balance < amount {
		return ErrInsufficientFunds
	}
	return nil
}

// allocateReferenceLocked returns a reference no earlier transaction uses in either
// direction. A transfer shares it between its debit and credit rows.
func (r *MemoryRepository) allocateReferenceLocked() (string, error) {
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		reference, err := r.newReference()
		if err != nil {
			return "", err
		}
		if _, taken := r.references[reference]; !taken {
			return reference, nil
		}
	}
	return "", ErrReferenceExhausted
}

func (r *MemoryRepository) appendLocked(txn domain.Transaction, idempotencyKey string) *domain.Transaction {
	txn.ID = uuid.New()
	txn.Status = domain.TransactionStatusSuccessful
	txn.CreatedAt = r.now()
	if idempotencyKey != "" {
		key := idempotencyKey
		txn.IdempotencyKey = &key
		r.keys[idempotencyIndexKey(idempotencyKey, txn.Direction)] = len(r.transactions)
	}
	r.references[txn.Reference] = struct{}{}
	r.transactions = append(r.transactions, txn)
	out := txn
	return &out
}

func (r *MemoryRepository) findByKeyLocked(idempotencyKey string, direction domain.TransactionDirection) (*domain.Transaction, bool) {
	if idempotencyKey == "" {
		return nil, false
	}
	idx, ok := r.keys[idempotencyIndexKey(idempotencyKey, direction)]
	if !ok {
		return nil, false
	}
	out := r.transactions[idx]
	return &out, true
}

func idempotencyIndexKey(value string, direction domain.TransactionDirection) string {
	return string(direction) + "|" + value
}

func statusError(status domain.AccountStatus) error {
	switch status {
	case domain.AccountStatusLocked:
		return ErrAccountLocked
	case domain.AccountStatusBlocked:
		return ErrAccountBlocked
	}
	return nil
}

// FormatAccountNumber renders a sequence value as a 10-digit, zero-padded account number.
func FormatAccountNumber(seq int64) string {
	return fmt.Sprintf("%010d", seq)
}
