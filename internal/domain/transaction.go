/**
 * @description
 * This file defines the core ledger models for the ussd-service: accounts held in the
 * account directory and the immutable transaction records written by the ledger.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (kobo), which avoids floating-point inaccuracies with financial data.
 * - A transaction is never edited once written; corrections are new records.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type AccountStatus string

const (
	AccountStatusActive  AccountStatus = "active"
	AccountStatusLocked  AccountStatus = "locked"
	AccountStatusBlocked AccountStatus = "blocked"
)

type IDType string

const (
	IDTypeBVN IDType = "BVN"
	IDTypeNIN IDType = "NIN"
)

// Account is a wallet in the account directory. It maps directly to the `accounts` table.
type Account struct {
	ID                 uuid.UUID     `json:"id"`
	AccountNumber      string        `json:"account_number"`
	PhoneNumber        string        `json:"phone_number"`
	FirstName          string        `json:"first_name"`
	LastName           string        `json:"last_name"`
	DateOfBirth        time.Time     `json:"date_of_birth"`
	Gender             string        `json:"gender"`
	IDType             IDType        `json:"id_type"`
	IDNumber           string        `json:"-"`
	PINHash            string        `json:"-"`
	SecurityQuestion   string        `json:"security_question"`
	SecurityAnswerHash string        `json:"-"`
	NextOfKinName      string        `json:"next_of_kin_name"`
	NextOfKinPhone     string        `json:"next_of_kin_phone"`
	Tier               int           `json:"tier"`
	Status             AccountStatus `json:"status"`
	Balance            int64         `json:"balance"` // in kobo
	FailedPINAttempts  int           `json:"failed_pin_attempts"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// FullName joins the first and last names.
func (a *Account) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

type TransactionDirection string

const (
	DirectionDebit  TransactionDirection = "debit"
	DirectionCredit TransactionDirection = "credit"
)

type TransactionCategory string

const (
	CategoryTransfer TransactionCategory = "transfer"
	CategoryAirtime  TransactionCategory = "airtime"
	CategoryDeposit  TransactionCategory = "deposit"
	CategoryReversal TransactionCategory = "reversal"
)

type TransactionStatus string

const (
	TransactionStatusSuccessful TransactionStatus = "successful"
	TransactionStatusFailed     TransactionStatus = "failed"
)

// Transaction represents one side of a money movement in the ledger.
// This struct maps directly to the `transactions` table in the database.
// A transfer writes two rows (debit and credit) that share one Reference.
type Transaction struct {
	ID               uuid.UUID            `json:"id"`
	Reference        string               `json:"reference"`
	AccountNumber    string               `json:"account_number"`
	Direction        TransactionDirection `json:"direction"`
	Category         TransactionCategory  `json:"category"`
	Amount           int64                `json:"amount"` // in kobo
	Counterparty     string               `json:"counterparty,omitempty"`
	CounterpartyName string               `json:"counterparty_name,omitempty"`
	Description      string               `json:"description"`
	Status           TransactionStatus    `json:"status"`
	BalanceAfter     int64                `json:"balance_after"` // in kobo
	Charges          int64                `json:"charges"`       // in kobo
	IdempotencyKey   *string              `json:"-"`
	CreatedAt        time.Time            `json:"created_at"`
}
