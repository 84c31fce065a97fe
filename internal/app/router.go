package app

import (
	"context"

	"github.com/transfa/ussd-service/internal/domain"
)

type outcomeKind int

const (
	outcomeReprompt outcomeKind = iota
	outcomeAdvance
	outcomeFinish
)

// outcome is what a step handler decides for one input token.
//
// A reprompt keeps the session's step and data untouched. An advance replaces both. A
// finish closes the session; when commit is set it runs only after the close succeeded,
// so a concurrent duplicate of the same request can never run it a second time.
type outcome struct {
	kind   outcomeKind
	body   string
	next   domain.Step
	data   domain.StepData
	commit func(ctx context.Context) string
}

func reprompt(body string) outcome {
	return outcome{kind: outcomeReprompt, body: body}
}

func advance(next domain.Step, data domain.StepData, body string) outcome {
	return outcome{kind: outcomeAdvance, next: next, data: data, body: body}
}

func finish(body string) outcome {
	return outcome{kind: outcomeFinish, body: body}
}

func finishWith(commit func(ctx context.Context) string) outcome {
	return outcome{kind: outcomeFinish, commit: commit}
}

// stepInput is everything a handler may look at.
type stepInput struct {
	session *domain.Session
	// account is set for steps registered with needsAccount; it is active.
	account *domain.Account
	// depth is the number of input segments consumed once this input is handled.
	depth int
	value string
}

type stepHandler struct {
	needsAccount bool
	run          func(ctx context.Context, in *stepInput) (outcome, error)
}

func (s *Service) stepTable() map[domain.Step]stepHandler {
	open := func(run func(context.Context, *stepInput) (outcome, error)) stepHandler {
		return stepHandler{run: run}
	}
	gated := func(run func(context.Context, *stepInput) (outcome, error)) stepHandler {
		return stepHandler{needsAccount: true, run: run}
	}

	return map[domain.Step]stepHandler{
		domain.StepMainMenu: open(s.mainMenu),

		domain.StepRegFirstName:        open(s.regFirstName),
		domain.StepRegLastName:         open(s.regLastName),
		domain.StepRegDateOfBirth:      open(s.regDateOfBirth),
		domain.StepRegGender:           open(s.regGender),
		domain.StepRegIDType:           open(s.regIDType),
		domain.StepRegIDNumber:         open(s.regIDNumber),
		domain.StepRegPIN:              open(s.regPIN),
		domain.StepRegPINConfirm:       open(s.regPINConfirm),
		domain.StepRegSecurityQuestion: open(s.regSecurityQuestion),
		domain.StepRegSecurityAnswer:   open(s.regSecurityAnswer),
		domain.StepRegNextOfKinName:    open(s.regNextOfKinName),
		domain.StepRegNextOfKinPhone:   open(s.regNextOfKinPhone),
		domain.StepRegReview:           open(s.regReview),

		domain.StepBalancePIN: gated(s.balancePIN),

		domain.StepTransferType:      gated(s.transferType),
		domain.StepTransferRecipient: gated(s.transferRecipient),
		domain.StepTransferAmount:    gated(s.transferAmount),
		domain.StepTransferConfirm:   gated(s.transferConfirm),
		domain.StepTransferPIN:       gated(s.transferPIN),

		domain.StepAirtimeMenu:      gated(s.airtimeMenu),
		domain.StepAirtimeTarget:    gated(s.airtimeTarget),
		domain.StepAirtimeRecipient: gated(s.airtimeRecipient),
		domain.StepAirtimeAmount:    gated(s.airtimeAmount),
		domain.StepAirtimeConfirm:   gated(s.airtimeConfirm),
		domain.StepAirtimePIN:       gated(s.airtimePIN),

		domain.StepHistoryPIN:    gated(s.historyPIN),
		domain.StepHistoryPeriod: gated(s.historyPeriod),

		domain.StepPINChangeCurrent: gated(s.pinChangeCurrent),
		domain.StepPINChangeNew:     gated(s.pinChangeNew),
		domain.StepPINChangeConfirm: gated(s.pinChangeConfirm),

		domain.StepHelpMenu: open(s.helpMenu),
		domain.StepInfoPIN:  gated(s.infoPIN),

		domain.StepBlockConfirm: gated(s.blockConfirm),
		domain.StepBlockPIN:     gated(s.blockPIN),
	}
}
