package app

import (
	"context"
	"fmt"
	"log"

	"github.com/transfa/ussd-service/internal/domain"
	"github.com/transfa/ussd-service/internal/store"
	"github.com/transfa/ussd-service/internal/validate"
)

const (
	airtimeMenuText   = "Airtime & Data:\n1. Buy Airtime\n2. Buy Data"
	airtimeTargetMenu = "Buy Airtime:\n1. For My Number\n2. For Another Number"
	airtimePINPrompt  = "Enter your PIN to authorize purchase"
)

func airtime(in *stepInput) (domain.StepData, *domain.AirtimeData, error) {
	data := in.session.Data.Clone()
	if data.Airtime == nil {
		return data, nil, fmt.Errorf("%w: %s without airtime data", ErrUnknownStep, in.session.Step)
	}
	return data, data.Airtime, nil
}

func (s *Service) airtimeAmountPrompt() string {
	return fmt.Sprintf("Enter amount (%s - %s)", FormatNaira(s.settings.MinAirtimeAmount), FormatNaira(s.settings.MaxAirtimeAmount))
}

func (s *Service) airtimeMenu(ctx context.Context, in *stepInput) (outcome, error) {
	switch in.value {
	case "1":
		return advance(domain.StepAirtimeTarget, in.session.Data.Clone(), airtimeTargetMenu), nil
	case "2":
		return finish("Data purchase coming soon."), nil
	default:
		return reprompt("Invalid option. " + airtimeMenuText), nil
	}
}

func (s *Service) airtimeTarget(ctx context.Context, in *stepInput) (outcome, error) {
	data, a, err := airtime(in)
	if err != nil {
		return outcome{}, err
	}
	switch in.value {
	case "1":
		a.ForSelf = true
		a.Phone = in.session.PhoneNumber
		return advance(domain.StepAirtimeAmount, data, s.airtimeAmountPrompt()), nil
	case "2":
		a.ForSelf = false
		return advance(domain.StepAirtimeRecipient, data, recipientPhonePrompt), nil
	default:
		return reprompt("Invalid option. " + airtimeTargetMenu), nil
	}
}

func (s *Service) airtimeRecipient(ctx context.Context, in *stepInput) (outcome, error) {
	data, a, err := airtime(in)
	if err != nil {
		return outcome{}, err
	}
	phone, err := validate.NormalizePhone(in.value, s.settings.DefaultRegion)
	if err != nil {
		return reprompt("Invalid phone number. Format: 08012345678. " + recipientPhonePrompt), nil
	}
	a.Phone = phone
	return advance(domain.StepAirtimeAmount, data, s.airtimeAmountPrompt()), nil
}

func (s *Service) airtimeAmount(ctx context.Context, in *stepInput) (outcome, error) {
	data, a, err := airtime(in)
	if err != nil {
		return outcome{}, err
	}
	amount, err := ParseAmount(in.value)
	if err != nil {
		return reprompt("Invalid amount. " + s.airtimeAmountPrompt()), nil
	}
	if amount < s.settings.MinAirtimeAmount || (s.settings.MaxAirtimeAmount > 0 && amount > s.settings.MaxAirtimeAmount) {
		return reprompt("Amount out of range. " + s.airtimeAmountPrompt()), nil
	}
	a.Amount = amount
	return advance(domain.StepAirtimeConfirm, data, "Confirm airtime purchase:\n"+s.airtimeSummary(a)), nil
}

func (s *Service) airtimeConfirm(ctx context.Context, in *stepInput) (outcome, error) {
	data, a, err := airtime(in)
	if err != nil {
		return outcome{}, err
	}
	switch in.value {
	case "1":
		return advance(domain.StepAirtimePIN, data, airtimePINPrompt), nil
	case "2":
		return finish("Airtime purchase cancelled."), nil
	default:
		return reprompt("Invalid option. Confirm airtime purchase:\n" + s.airtimeSummary(a)), nil
	}
}

func (s *Service) airtimePIN(ctx context.Context, in *stepInput) (outcome, error) {
	_, a, err := airtime(in)
	if err != nil {
		return outcome{}, err
	}
	ok, out, err := s.checkPIN(ctx, in, airtimePINPrompt)
	if !ok {
		return out, err
	}

	account := in.account
	purchase := *a
	sessionKey := s.idempotencyKey(in.session, "airtime")
	return finishWith(func(ctx context.Context) string {
		return s.buyAirtime(ctx, account, purchase, sessionKey)
	}), nil
}

// buyAirtime debits the wallet, asks the vendor to deliver and compensates with a
// reversal credit when delivery fails.
func (s *Service) buyAirtime(ctx context.Context, account *domain.Account, purchase domain.AirtimeData, key string) string {
	display := s.displayPhone(purchase.Phone)
	entry, err := s.repo.Debit(ctx, store.DebitParams{
		AccountNumber:  account.AccountNumber,
		Amount:         purchase.Amount,
		Category:       domain.CategoryAirtime,
		Counterparty:   purchase.Phone,
		Description:    "Airtime " + display,
		Charges:        s.settings.USSDCharge,
		IdempotencyKey: key,
	})
	if err != nil {
		return s.failureText("Airtime purchase failed.", err)
	}
	debit := entry.Transaction
	success := fmt.Sprintf("Airtime of %s sent to %s. Ref: %s. New balance: %s.",
		FormatNaira(purchase.Amount), display, debit.Reference, FormatNaira(debit.BalanceAfter))
	if entry.Replayed {
		return success
	}

	if err := s.deliverAirtime(ctx, purchase, debit.Reference); err != nil {
		log.Printf("level=warn component=ussd msg=\"airtime delivery failed; reversing\" account=%s reference=%s err=%v", account.AccountNumber, debit.Reference, err)
		_, revErr := s.repo.Credit(ctx, store.CreditParams{
			AccountNumber:  account.AccountNumber,
			Amount:         purchase.Amount,
			Category:       domain.CategoryReversal,
			Counterparty:   purchase.Phone,
			Description:    "Reversal " + debit.Reference,
			IdempotencyKey: key + ":reversal",
		})
		if revErr != nil {
			log.Printf("level=error component=ledger msg=\"airtime reversal failed\" account=%s reference=%s err=%v", account.AccountNumber, debit.Reference, revErr)
			return fmt.Sprintf("Airtime purchase failed. Contact support with reference %s.", debit.Reference)
		}
		return "Airtime purchase failed. Your wallet has been refunded."
	}

	s.publishLedgerEvent(ctx, domain.EventAirtimePurchased, account, debit)
	return success
}

func (s *Service) deliverAirtime(ctx context.Context, purchase domain.AirtimeData, reference string) error {
	if s.airtime == nil {
		log.Printf("level=info component=ussd msg=\"airtime vendor not configured; simulating delivery\" reference=%s amount=%d", reference, purchase.Amount)
		return nil
	}
	if _, err := s.airtime.TopUp(ctx, purchase.Phone, purchase.Amount, reference); err != nil {
		return fmt.Errorf("%w: %v", ErrVendorFailed, err)
	}
	return nil
}

func (s *Service) airtimeSummary(a *domain.AirtimeData) string {
	return fmt.Sprintf("Recipient: %s\nAmount: %s\n\n1. Confirm\n2. Cancel", s.displayPhone(a.Phone), FormatNaira(a.Amount))
}
