package app

import (
	"errors"
	"fmt"

	"github.com/transfa/ussd-service/internal/store"
	"github.com/transfa/ussd-service/internal/validate"
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrNotRegistered = errors.New("phone number has no account")
	ErrUnknownStep   = errors.New("unknown session step")
	ErrVendorFailed  = errors.New("airtime vendor failed")
)

// ErrorKind is the user-facing classification of a failure. Only InputValidation and
// AuthFailure (before lockout) keep the session alive.
type ErrorKind int

const (
	KindInternalFailure ErrorKind = iota
	KindInputValidation
	KindNotFound
	KindAuthFailure
	KindAccountLocked
	KindAccountBlocked
	KindInsufficientFunds
	KindLimitExceeded
	KindSessionExpired
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindInputValidation:
		return "input_validation"
	case KindNotFound:
		return "not_found"
	case KindAuthFailure:
		return "auth_failure"
	case KindAccountLocked:
		return "account_locked"
	case KindAccountBlocked:
		return "account_blocked"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindLimitExceeded:
		return "limit_exceeded"
	case KindSessionExpired:
		return "session_expired"
	case KindConflict:
		return "conflict"
	default:
		return "internal_failure"
	}
}

// Classify maps store, validation and service errors onto an ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternalFailure
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, store.ErrInvalidAmount),
		errors.Is(err, store.ErrSelfTransfer),
		errors.Is(err, validate.ErrInvalidPhone),
		errors.Is(err, validate.ErrInvalidPINFormat),
		errors.Is(err, validate.ErrWeakPIN),
		errors.Is(err, validate.ErrInvalidIDNumber),
		errors.Is(err, validate.ErrInvalidName),
		errors.Is(err, validate.ErrInvalidDateOfBirth):
		return KindInputValidation
	case errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrRecipientNotFound),
		errors.Is(err, ErrNotRegistered):
		return KindNotFound
	case errors.Is(err, store.ErrAccountLocked):
		return KindAccountLocked
	case errors.Is(err, store.ErrAccountBlocked):
		return KindAccountBlocked
	case errors.Is(err, store.ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, store.ErrLimitExceeded):
		return KindLimitExceeded
	case errors.Is(err, store.ErrSessionNotFound):
		return KindSessionExpired
	case errors.Is(err, store.ErrSessionConflict):
		return KindConflict
	default:
		return KindInternalFailure
	}
}

// errorMessage is kindMessage with a recipient-specific sentence, so a missing
// counterparty is never reported as the caller's own account.
func (s *Service) errorMessage(err error) string {
	if errors.Is(err, store.ErrRecipientNotFound) {
		return "Recipient account not found. Please check the details and try again."
	}
	return s.kindMessage(Classify(err))
}

// kindMessage is the sentence shown to the caller for a terminal failure.
func (s *Service) kindMessage(kind ErrorKind) string {
	switch kind {
	case KindInputValidation:
		return "Invalid input."
	case KindNotFound:
		return "Account not found. Please create an account first."
	case KindAuthFailure:
		return "Invalid PIN."
	case KindAccountLocked:
		return "Your account is locked. Contact support."
	case KindAccountBlocked:
		return "Your account is blocked. Contact support to unblock."
	case KindInsufficientFunds:
		return "Insufficient balance."
	case KindLimitExceeded:
		return "Transaction limit exceeded for your account tier."
	case KindSessionExpired:
		return fmt.Sprintf("Session expired. Please dial %s to start again.", s.settings.USSDCode)
	case KindConflict:
		return "Your request is already being processed."
	default:
		return "Service temporarily unavailable. Please try again later."
	}
}
