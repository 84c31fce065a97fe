package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/transfa/ussd-service/internal/domain"
	"github.com/transfa/ussd-service/internal/store"
)

const pinPrompt = "Enter your 4-digit PIN"

func (s *Service) mainMenuText() string {
	return fmt.Sprintf("Welcome to %s\n"+
		"1. Create Account\n"+
		"2. Check Balance\n"+
		"3. Transfer Money\n"+
		"4. Airtime & Data\n"+
		"5. Transaction History\n"+
		"6. Change PIN\n"+
		"7. Enquiry/Help", s.settings.BankName)
}

func (s *Service) mainMenu(ctx context.Context, in *stepInput) (outcome, error) {
	switch in.value {
	case "1":
		existing, err := s.repo.FindAccountByPhone(ctx, in.session.PhoneNumber)
		if err == nil {
			return finish(fmt.Sprintf("You already have an account. Your account number is %s.", existing.AccountNumber)), nil
		}
		if !errors.Is(err, store.ErrAccountNotFound) {
			return outcome{}, err
		}
		return advance(domain.StepRegFirstName, domain.StepData{Registration: &domain.RegistrationData{}}, "Enter First Name"), nil
	case "7":
		return advance(domain.StepHelpMenu, domain.StepData{}, helpMenuText), nil
	}

	var (
		next   domain.Step
		data   domain.StepData
		prompt string
	)
	switch in.value {
	case "2":
		next, prompt = domain.StepBalancePIN, pinPrompt
	case "3":
		next, prompt = domain.StepTransferType, transferTypeMenu
		data.Transfer = &domain.TransferData{}
	case "4":
		next, prompt = domain.StepAirtimeMenu, airtimeMenuText
		data.Airtime = &domain.AirtimeData{}
	case "5":
		next, prompt = domain.StepHistoryPIN, pinPrompt
	case "6":
		next, prompt = domain.StepPINChangeCurrent, "Enter your current 4-digit PIN"
		data.PINChange = &domain.PINChangeData{}
	default:
		return reprompt("Invalid option. " + s.mainMenuText()), nil
	}

	if _, err := s.activeAccount(ctx, in.session.PhoneNumber); err != nil {
		return outcome{}, err
	}
	return advance(next, data, prompt), nil
}
