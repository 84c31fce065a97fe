package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/transfa/ussd-service/internal/domain"
	"github.com/transfa/ussd-service/internal/store"
	"github.com/transfa/ussd-service/internal/validate"
)

const (
	transferTypeMenu     = "Select transfer type:\n1. To Account Number\n2. To Phone Number"
	accountNumberPrompt  = "Enter recipient account number"
	recipientPhonePrompt = "Enter recipient phone number"
	transferAmountPrompt = "Enter amount to transfer"
	transferPINPrompt    = "Enter your PIN to authorize transfer"
)

func transfer(in *stepInput) (domain.StepData, *domain.TransferData, error) {
	data := in.session.Data.Clone()
	if data.Transfer == nil {
		return data, nil, fmt.Errorf("%w: %s without transfer data", ErrUnknownStep, in.session.Step)
	}
	return data, data.Transfer, nil
}

func (s *Service) transferType(ctx context.Context, in *stepInput) (outcome, error) {
	data, t, err := transfer(in)
	if err != nil {
		return outcome{}, err
	}
	switch in.value {
	case "1":
		t.Destination = domain.DestinationAccount
		return advance(domain.StepTransferRecipient, data, accountNumberPrompt), nil
	case "2":
		t.Destination = domain.DestinationPhone
		return advance(domain.StepTransferRecipient, data, recipientPhonePrompt), nil
	default:
		return reprompt("Invalid option. " + transferTypeMenu), nil
	}
}

func (s *Service) transferRecipient(ctx context.Context, in *stepInput) (outcome, error) {
	data, t, err := transfer(in)
	if err != nil {
		return outcome{}, err
	}

	var recipient *domain.Account
	switch t.Destination {
	case domain.DestinationAccount:
		if !validate.AccountNumber(in.value) {
			return reprompt("Invalid account number. Must be 10 digits. " + accountNumberPrompt), nil
		}
		recipient, err = s.repo.FindAccountByNumber(ctx, in.value)
	case domain.DestinationPhone:
		phone, perr := validate.NormalizePhone(in.value, s.settings.DefaultRegion)
		if perr != nil {
			return reprompt("Invalid phone number. Format: 08012345678. " + recipientPhonePrompt), nil
		}
		recipient, err = s.repo.FindAccountByPhone(ctx, phone)
	default:
		return outcome{}, fmt.Errorf("%w: transfer destination %q", ErrUnknownStep, t.Destination)
	}
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return finish("Recipient not registered. Please check the details and try again."), nil
		}
		return outcome{}, err
	}

	if recipient.AccountNumber == in.account.AccountNumber {
		prompt := accountNumberPrompt
		if t.Destination == domain.DestinationPhone {
			prompt = recipientPhonePrompt
		}
		return reprompt("You cannot transfer to yourself. " + prompt), nil
	}
	if recipient.Status != domain.AccountStatusActive {
		return finish("Recipient account cannot receive funds at this time."), nil
	}

	t.RecipientAccount = recipient.AccountNumber
	t.RecipientName = recipient.FullName()
	t.RecipientPhone = recipient.PhoneNumber
	return advance(domain.StepTransferAmount, data, transferAmountPrompt), nil
}

func (s *Service) transferAmount(ctx context.Context, in *stepInput) (outcome, error) {
	data, t, err := transfer(in)
	if err != nil {
		return outcome{}, err
	}
	amount, err := ParseAmount(in.value)
	if err != nil {
		return reprompt("Invalid amount. " + transferAmountPrompt), nil
	}
	if s.settings.MaxTransferAmount > 0 && amount > s.settings.MaxTransferAmount {
		return reprompt(fmt.Sprintf("Maximum per transfer is %s. %s", FormatNaira(s.settings.MaxTransferAmount), transferAmountPrompt)), nil
	}
	t.Amount = amount
	return advance(domain.StepTransferConfirm, data, "Confirm transfer:\n"+s.transferSummary(t)), nil
}

func (s *Service) transferConfirm(ctx context.Context, in *stepInput) (outcome, error) {
	data, t, err := transfer(in)
	if err != nil {
		return outcome{}, err
	}
	switch in.value {
	case "1":
		return advance(domain.StepTransferPIN, data, transferPINPrompt), nil
	case "2":
		return finish("Transfer cancelled."), nil
	default:
		return reprompt("Invalid option. Confirm transfer:\n" + s.transferSummary(t)), nil
	}
}

func (s *Service) transferPIN(ctx context.Context, in *stepInput) (outcome, error) {
	_, t, err := transfer(in)
	if err != nil {
		return outcome{}, err
	}
	ok, out, err := s.checkPIN(ctx, in, transferPINPrompt)
	if !ok {
		return out, err
	}

	sender := in.account
	key := s.idempotencyKey(in.session, "transfer")
	return finishWith(func(ctx context.Context) string {
		result, err := s.repo.Transfer(ctx, store.TransferParams{
			SenderAccount:    sender.AccountNumber,
			RecipientAccount: t.RecipientAccount,
			Amount:           t.Amount,
			Charges:          s.settings.USSDCharge,
			Description:      "USSD transfer",
			IdempotencyKey:   key,
		})
		if err != nil {
			return s.failureText("Transfer failed.", err)
		}
		if !result.Replayed {
			s.publishLedgerEvent(ctx, domain.EventTransferCompleted, sender, result.Debit)
			recipient := &domain.Account{AccountNumber: t.RecipientAccount, PhoneNumber: t.RecipientPhone}
			s.publishLedgerEvent(ctx, domain.EventTransferCompleted, recipient, result.Credit)
		}
		return fmt.Sprintf("Transfer successful. %s sent to %s. Ref: %s. New balance: %s.",
			FormatNaira(t.Amount), t.RecipientName, result.Debit.Reference, FormatNaira(result.Debit.BalanceAfter))
	}), nil
}

func (s *Service) transferSummary(t *domain.TransferData) string {
	return fmt.Sprintf("To: %s\nAccount: %s\nAmount: %s\nCharge: %s\n\n1. Confirm\n2. Cancel",
		t.RecipientName, t.RecipientAccount, FormatNaira(t.Amount), FormatNaira(s.settings.USSDCharge))
}
