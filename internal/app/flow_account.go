package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/transfa/ussd-service/internal/domain"
	"github.com/transfa/ussd-service/internal/store"
	"github.com/transfa/ussd-service/internal/validate"
)

const (
	historyPeriodMenu = "Select period:\n1. Last 5 transactions\n2. Last 10 transactions\n3. This week\n4. This month"
	newPINPrompt      = "Enter new 4-digit PIN"
)

func (s *Service) balancePIN(ctx context.Context, in *stepInput) (outcome, error) {
	ok, out, err := s.checkPIN(ctx, in, pinPrompt)
	if !ok {
		return out, err
	}
	balance, err := s.repo.GetBalance(ctx, in.account.AccountNumber)
	if err != nil {
		return outcome{}, err
	}
	return finish(fmt.Sprintf("Your balance is %s. Thank you.", FormatNaira(balance))), nil
}

func (s *Service) historyPIN(ctx context.Context, in *stepInput) (outcome, error) {
	ok, out, err := s.checkPIN(ctx, in, pinPrompt)
	if !ok {
		return out, err
	}
	return advance(domain.StepHistoryPeriod, domain.StepData{}, historyPeriodMenu), nil
}

func (s *Service) historyPeriod(ctx context.Context, in *stepInput) (outcome, error) {
	filter, ok := s.historyFilter(in.value)
	if !ok {
		return reprompt("Invalid option. " + historyPeriodMenu), nil
	}
	txns, err := s.repo.ListTransactions(ctx, in.account.AccountNumber, filter)
	if err != nil {
		return outcome{}, err
	}
	if len(txns) == 0 {
		return finish("No transactions found."), nil
	}

	lines := make([]string, 0, len(txns)+1)
	lines = append(lines, "Your transactions:")
	for _, txn := range txns {
		lines = append(lines, s.historyLine(txn))
	}
	return finish(strings.Join(lines, "\n")), nil
}

func (s *Service) historyFilter(choice string) (store.TransactionFilter, bool) {
	limit := s.settings.HistoryMaxItems
	capped := func(n int) int {
		if n > limit {
			return limit
		}
		return n
	}

	now := s.now().In(s.settings.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.settings.Location)
	switch choice {
	case "1":
		return store.TransactionFilter{Limit: capped(5)}, true
	case "2":
		return store.TransactionFilter{Limit: capped(10)}, true
	case "3":
		// Weeks start on Monday.
		offset := (int(today.Weekday()) + 6) % 7
		return store.TransactionFilter{Since: today.AddDate(0, 0, -offset), Limit: limit}, true
	case "4":
		return store.TransactionFilter{Since: today.AddDate(0, 0, 1-today.Day()), Limit: limit}, true
	default:
		return store.TransactionFilter{}, false
	}
}

func (s *Service) historyLine(txn domain.Transaction) string {
	marker := "DR"
	if txn.Direction == domain.DirectionCredit {
		marker = "CR"
	}
	return fmt.Sprintf("%s %s %s - %s", txn.CreatedAt.In(s.settings.Location).Format("02/01 15:04"), marker, FormatNaira(txn.Amount), txn.Description)
}

func pinChange(in *stepInput) (domain.StepData, *domain.PINChangeData, error) {
	data := in.session.Data.Clone()
	if data.PINChange == nil {
		return data, nil, fmt.Errorf("%w: %s without pin change data", ErrUnknownStep, in.session.Step)
	}
	return data, data.PINChange, nil
}

func (s *Service) pinChangeCurrent(ctx context.Context, in *stepInput) (outcome, error) {
	data, _, err := pinChange(in)
	if err != nil {
		return outcome{}, err
	}
	ok, out, err := s.checkPIN(ctx, in, "Enter your current 4-digit PIN")
	if !ok {
		return out, err
	}
	return advance(domain.StepPINChangeNew, data, newPINPrompt), nil
}

func (s *Service) pinChangeNew(ctx context.Context, in *stepInput) (outcome, error) {
	data, pc, err := pinChange(in)
	if err != nil {
		return outcome{}, err
	}
	if err := validate.NewPIN(in.value); err != nil {
		return reprompt("PIN must be 4 digits and not sequential or repetitive. " + newPINPrompt), nil
	}
	if s.pins.Verify(in.account, in.value) {
		return reprompt("New PIN cannot be same as current PIN. " + newPINPrompt), nil
	}
	hash, err := s.pins.Hash(in.value)
	if err != nil {
		return outcome{}, err
	}
	pc.NewPINHash = hash
	return advance(domain.StepPINChangeConfirm, data, "Confirm new 4-digit PIN"), nil
}

func (s *Service) pinChangeConfirm(ctx context.Context, in *stepInput) (outcome, error) {
	data, pc, err := pinChange(in)
	if err != nil {
		return outcome{}, err
	}
	if !s.pins.Matches(pc.NewPINHash, in.value) {
		pc.NewPINHash = ""
		return advance(domain.StepPINChangeNew, data, "PINs do not match. "+newPINPrompt), nil
	}

	account := in.account
	newHash := pc.NewPINHash
	return finishWith(func(ctx context.Context) string {
		if err := s.repo.UpdatePINHash(ctx, account.AccountNumber, newHash); err != nil {
			return s.failureText("PIN change failed.", err)
		}
		s.publishAccountEvent(ctx, domain.EventAccountPINChanged, account)
		return "PIN changed successfully."
	}), nil
}
