package app

import (
	"context"
	"fmt"

	"github.com/transfa/ussd-service/internal/domain"
	"github.com/transfa/ussd-service/internal/store"
	"github.com/transfa/ussd-service/internal/validate"
)

const maxAdminHistory = 100

// AccountByPhone resolves an account for the operator API. The phone may be in any
// format the gateway would accept.
func (s *Service) AccountByPhone(ctx context.Context, rawPhone string) (*domain.Account, error) {
	phone, err := validate.NormalizePhone(rawPhone, s.settings.DefaultRegion)
	if err != nil {
		return nil, err
	}
	account, err := s.repo.FindAccountByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("find account by phone: %w", err)
	}
	return account, nil
}

// RecentTransactions lists the newest ledger records of the account owning rawPhone.
func (s *Service) RecentTransactions(ctx context.Context, rawPhone string, limit int) ([]domain.Transaction, error) {
	account, err := s.AccountByPhone(ctx, rawPhone)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxAdminHistory {
		limit = s.settings.HistoryMaxItems
	}
	return s.repo.ListTransactions(ctx, account.AccountNumber, store.TransactionFilter{Limit: limit})
}
