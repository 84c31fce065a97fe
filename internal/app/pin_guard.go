/**
 * @description
 * PINGuard is the single policy object every PIN-gated step goes through. Attempts are
 * counted per account in the store, so failures in one flow count toward lockout in another.
 *
 * @dependencies
 * - golang.org/x/crypto/bcrypt: PIN and security-answer hashing.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/transfa/ussd-service/internal/domain"
	"github.com/transfa/ussd-service/internal/store"
)

type PINGuard struct {
	repo        store.Repository
	maxAttempts int
	cost        int
}

func NewPINGuard(repo store.Repository, maxAttempts int) *PINGuard {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &PINGuard{repo: repo, maxAttempts: maxAttempts, cost: bcrypt.DefaultCost}
}

// SetCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (g *PINGuard) SetCost(cost int) {
	g.cost = cost
}

func (g *PINGuard) MaxAttempts() int {
	return g.maxAttempts
}

// Hash returns the bcrypt hash of a PIN.
func (g *PINGuard) Hash(pin string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(pin), g.cost)
	if err != nil {
		return "", fmt.Errorf("hash pin: %w", err)
	}
	return string(hashed), nil
}

// HashAnswer hashes a security answer case- and space-insensitively.
func (g *PINGuard) HashAnswer(answer string) (string, error) {
	return g.Hash(normalizeAnswer(answer))
}

// Matches compares a clear value against a stored hash.
func (g *PINGuard) Matches(hash, value string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(value)) == nil
}

func (g *PINGuard) Verify(account *domain.Account, pin string) bool {
	return account != nil && g.Matches(account.PINHash, pin)
}

// RecordFailure counts a wrong PIN. When the counter reaches the maximum the store moves
// the account to locked in the same statement.
func (g *PINGuard) RecordFailure(ctx context.Context, account *domain.Account) (locked bool, remaining int, err error) {
	updated, err := g.repo.RecordFailedPINAttempt(ctx, account.AccountNumber, g.maxAttempts)
	if err != nil {
		return false, 0, err
	}
	remaining = g.maxAttempts - updated.FailedPINAttempts
	if remaining < 0 {
		remaining = 0
	}
	locked = updated.Status == domain.AccountStatusLocked
	if locked {
		log.Printf("level=warn component=pin_guard msg=\"account locked after failed attempts\" account=%s attempts=%d", account.AccountNumber, updated.FailedPINAttempts)
	}
	account.FailedPINAttempts = updated.FailedPINAttempts
	account.Status = updated.Status
	return locked, remaining, nil
}

// RecordSuccess clears the failure counter when it is non-zero.
func (g *PINGuard) RecordSuccess(ctx context.Context, account *domain.Account) error {
	if account.FailedPINAttempts == 0 {
		return nil
	}
	if err := g.repo.ResetPINFailures(ctx, account.AccountNumber); err != nil {
		return err
	}
	account.FailedPINAttempts = 0
	return nil
}

func normalizeAnswer(answer string) string {
	return strings.ToLower(strings.Join(strings.Fields(answer), " "))
}
