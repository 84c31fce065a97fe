package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/transfa/ussd-service/internal/domain"
)

const helpMenuText = "Enquiry/Help:\n" +
	"1. Account Information\n" +
	"2. Service Charges\n" +
	"3. Branch Locator\n" +
	"4. Contact Support\n" +
	"5. FAQ\n" +
	"6. Block Account"

const blockConfirmText = "Are you sure you want to block your account?\n1. Yes\n2. No"

func (s *Service) helpMenu(ctx context.Context, in *stepInput) (outcome, error) {
	switch in.value {
	case "1":
		if _, err := s.activeAccount(ctx, in.session.PhoneNumber); err != nil {
			return outcome{}, err
		}
		return advance(domain.StepInfoPIN, domain.StepData{}, pinPrompt), nil
	case "2":
		return finish(fmt.Sprintf("Service Charges:\n"+
			"USSD Fee: %s per transaction (billed by your network)\n"+
			"Wallet transfers: Free\n"+
			"Airtime purchase: Free", FormatNaira(s.settings.USSDCharge))), nil
	case "3":
		return finish(fmt.Sprintf("Branch Locator:\nVisit any %s branch or agent near you. Call %s for the nearest location.",
			s.settings.BankName, s.settings.SupportPhone)), nil
	case "4":
		return finish(fmt.Sprintf("Contact Support:\nCall %s\nAvailable 24/7", s.settings.SupportPhone)), nil
	case "5":
		return finish(fmt.Sprintf("FAQ:\n"+
			"Forgot PIN? Call %s.\n"+
			"Limits depend on your account tier.\n"+
			"Dial %s anytime to use your wallet.", s.settings.SupportPhone, s.settings.USSDCode)), nil
	case "6":
		if _, err := s.activeAccount(ctx, in.session.PhoneNumber); err != nil {
			return outcome{}, err
		}
		return advance(domain.StepBlockConfirm, domain.StepData{}, blockConfirmText), nil
	default:
		return reprompt("Invalid option. " + helpMenuText), nil
	}
}

func (s *Service) infoPIN(ctx context.Context, in *stepInput) (outcome, error) {
	ok, out, err := s.checkPIN(ctx, in, pinPrompt)
	if !ok {
		return out, err
	}
	account := in.account
	lines := []string{
		"Account Number: " + account.AccountNumber,
		"Name: " + account.FullName(),
		fmt.Sprintf("Tier: %d", account.Tier),
		"Status: " + string(account.Status),
		"Balance: " + FormatNaira(account.Balance),
	}
	return finish(strings.Join(lines, "\n")), nil
}

func (s *Service) blockConfirm(ctx context.Context, in *stepInput) (outcome, error) {
	switch in.value {
	case "1":
		return advance(domain.StepBlockPIN, in.session.Data, "Enter your 4-digit PIN to confirm"), nil
	case "2":
		return finish("Account block cancelled."), nil
	default:
		return reprompt("Invalid option. " + blockConfirmText), nil
	}
}

func (s *Service) blockPIN(ctx context.Context, in *stepInput) (outcome, error) {
	ok, out, err := s.checkPIN(ctx, in, "Enter your 4-digit PIN to confirm")
	if !ok {
		return out, err
	}
	account := in.account
	return finishWith(func(ctx context.Context) string {
		blocked, err := s.repo.BlockAccount(ctx, account.AccountNumber)
		if err != nil {
			return s.failureText("Account block failed.", err)
		}
		s.publishAccountEvent(ctx, domain.EventAccountBlocked, blocked)
		return "Your account has been blocked. Contact support to unblock."
	}), nil
}

// failureText prefixes the kind sentence for err with a flow-specific lead.
func (s *Service) failureText(lead string, err error) string {
	kind := Classify(err)
	if kind == KindInternalFailure {
		log.Printf("level=error component=ussd msg=\"terminal action failed\" action=%q err=%v", lead, err)
	}
	return lead + " " + s.errorMessage(err)
}
