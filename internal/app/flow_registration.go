package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/transfa/ussd-service/internal/domain"
	"github.com/transfa/ussd-service/internal/store"
	"github.com/transfa/ussd-service/internal/validate"
)

const (
	dobPrompt          = "Enter Date of Birth (DD/MM/YYYY)"
	genderMenu         = "Select Gender:\n1. Male\n2. Female"
	idTypeMenu         = "Select ID type:\n1. BVN\n2. NIN"
	createPINPrompt    = "Create 4-digit PIN"
	nextOfKinPhoneText = "Enter Next of Kin Phone Number"
)

var securityQuestions = []string{
	"Mother's maiden name",
	"City of birth",
	"Favorite teacher's name",
}

func securityQuestionMenu() string {
	var b strings.Builder
	b.WriteString("Select Security Question:")
	for i, q := range securityQuestions {
		fmt.Fprintf(&b, "\n%d. %s", i+1, q)
	}
	return b.String()
}

// registration returns a copy of the session's step data and its registration variant.
func registration(in *stepInput) (domain.StepData, *domain.RegistrationData, error) {
	data := in.session.Data.Clone()
	if data.Registration == nil {
		return data, nil, fmt.Errorf("%w: %s without registration data", ErrUnknownStep, in.session.Step)
	}
	return data, data.Registration, nil
}

func (s *Service) regFirstName(ctx context.Context, in *stepInput) (outcome, error) {
	data, reg, err := registration(in)
	if err != nil {
		return outcome{}, err
	}
	name, err := validate.Name(in.value)
	if err != nil {
		return reprompt("Invalid first name. Enter First Name"), nil
	}
	reg.FirstName = name
	return advance(domain.StepRegLastName, data, "Enter Last Name"), nil
}

func (s *Service) regLastName(ctx context.Context, in *stepInput) (outcome, error) {
	data, reg, err := registration(in)
	if err != nil {
		return outcome{}, err
	}
	name, err := validate.Name(in.value)
	if err != nil {
		return reprompt("Invalid last name. Enter Last Name"), nil
	}
	reg.LastName = name
	return advance(domain.StepRegDateOfBirth, data, dobPrompt), nil
}

func (s *Service) regDateOfBirth(ctx context.Context, in *stepInput) (outcome, error) {
	data, reg, err := registration(in)
	if err != nil {
		return outcome{}, err
	}
	dob, err := validate.DateOfBirth(in.value, s.now())
	if err != nil {
		return reprompt("Invalid date. Use DD/MM/YYYY. " + dobPrompt), nil
	}
	reg.DateOfBirth = dob.Format("02/01/2006")
	return advance(domain.StepRegGender, data, genderMenu), nil
}

func (s *Service) regGender(ctx context.Context, in *stepInput) (outcome, error) {
	data, reg, err := registration(in)
	if err != nil {
		return outcome{}, err
	}
	switch in.value {
	case "1":
		reg.Gender = "male"
	case "2":
		reg.Gender = "female"
	default:
		return reprompt("Invalid option. " + genderMenu), nil
	}
	return advance(domain.StepRegIDType, data, idTypeMenu), nil
}

func (s *Service) regIDType(ctx context.Context, in *stepInput) (outcome, error) {
	data, reg, err := registration(in)
	if err != nil {
		return outcome{}, err
	}
	switch in.value {
	case "1":
		reg.IDType = domain.IDTypeBVN
	case "2":
		reg.IDType = domain.IDTypeNIN
	default:
		return reprompt("Invalid option. " + idTypeMenu), nil
	}
	return advance(domain.StepRegIDNumber, data, fmt.Sprintf("Enter your 11-digit %s", reg.IDType)), nil
}

func (s *Service) regIDNumber(ctx context.Context, in *stepInput) (outcome, error) {
	data, reg, err := registration(in)
	if err != nil {
		return outcome{}, err
	}
	if err := validate.IDNumber(in.value); err != nil {
		return reprompt(fmt.Sprintf("Invalid %s. Must be 11 digits. Enter your 11-digit %s", reg.IDType, reg.IDType)), nil
	}
	reg.IDNumber = in.value
	return advance(domain.StepRegPIN, data, createPINPrompt), nil
}

func (s *Service) regPIN(ctx context.Context, in *stepInput) (outcome, error) {
	data, reg, err := registration(in)
	if err != nil {
		return outcome{}, err
	}
	if err := validate.NewPIN(in.value); err != nil {
		return reprompt("PIN must be 4 digits and not sequential or repetitive. " + createPINPrompt), nil
	}
	hash, err := s.pins.Hash(in.value)
	if err != nil {
		return outcome{}, err
	}
	reg.PINHash = hash
	return advance(domain.StepRegPINConfirm, data, "Confirm 4-digit PIN"), nil
}

func (s *Service) regPINConfirm(ctx context.Context, in *stepInput) (outcome, error) {
	data, reg, err := registration(in)
	if err != nil {
		return outcome{}, err
	}
	if !s.pins.Matches(reg.PINHash, in.value) {
		reg.PINHash = ""
		return advance(domain.StepRegPIN, data, "PINs do not match. "+createPINPrompt), nil
	}
	return advance(domain.StepRegSecurityQuestion, data, securityQuestionMenu()), nil
}

func (s *Service) regSecurityQuestion(ctx context.Context, in *stepInput) (outcome, error) {
	data, reg, err := registration(in)
	if err != nil {
		return outcome{}, err
	}
	idx := menuIndex(in.value, len(securityQuestions))
	if idx < 0 {
		return reprompt("Invalid option. " + securityQuestionMenu()), nil
	}
	reg.SecurityQuestion = securityQuestions[idx]
	return advance(domain.StepRegSecurityAnswer, data, "Enter Security Answer"), nil
}

func (s *Service) regSecurityAnswer(ctx context.Context, in *stepInput) (outcome, error) {
	data, reg, err := registration(in)
	if err != nil {
		return outcome{}, err
	}
	if normalizeAnswer(in.value) == "" {
		return reprompt("Security answer cannot be empty. Enter Security Answer"), nil
	}
	hash, err := s.pins.HashAnswer(in.value)
	if err != nil {
		return outcome{}, err
	}
	reg.SecurityAnswerHash = hash
	return advance(domain.StepRegNextOfKinName, data, "Enter Next of Kin Name"), nil
}

func (s *Service) regNextOfKinName(ctx context.Context, in *stepInput) (outcome, error) {
	data, reg, err := registration(in)
	if err != nil {
		return outcome{}, err
	}
	name, err := validate.Name(in.value)
	if err != nil {
		return reprompt("Invalid name. Enter Next of Kin Name"), nil
	}
	reg.NextOfKinName = name
	return advance(domain.StepRegNextOfKinPhone, data, nextOfKinPhoneText), nil
}

func (s *Service) regNextOfKinPhone(ctx context.Context, in *stepInput) (outcome, error) {
	data, reg, err := registration(in)
	if err != nil {
		return outcome{}, err
	}
	phone, err := validate.NormalizePhone(in.value, s.settings.DefaultRegion)
	if err != nil {
		return reprompt("Invalid phone number. Format: 08012345678. " + nextOfKinPhoneText), nil
	}
	reg.NextOfKinPhone = phone
	return advance(domain.StepRegReview, data, "Review details:\n"+s.registrationSummary(reg)), nil
}

func (s *Service) regReview(ctx context.Context, in *stepInput) (outcome, error) {
	_, reg, err := registration(in)
	if err != nil {
		return outcome{}, err
	}
	switch in.value {
	case "1":
	case "2":
		return finish("Account creation cancelled."), nil
	default:
		return reprompt("Invalid option. Review details:\n" + s.registrationSummary(reg)), nil
	}

	phone := in.session.PhoneNumber
	return finishWith(func(ctx context.Context) string {
		return s.createAccount(ctx, phone, reg)
	}), nil
}

func (s *Service) createAccount(ctx context.Context, phone string, reg *domain.RegistrationData) string {
	dob, err := time.Parse("02/01/2006", reg.DateOfBirth)
	if err != nil {
		return s.failureText("Account creation failed.", err)
	}
	account, err := s.repo.CreateAccount(ctx, &domain.Account{
		PhoneNumber:        phone,
		FirstName:          reg.FirstName,
		LastName:           reg.LastName,
		DateOfBirth:        dob,
		Gender:             reg.Gender,
		IDType:             reg.IDType,
		IDNumber:           reg.IDNumber,
		PINHash:            reg.PINHash,
		SecurityQuestion:   reg.SecurityQuestion,
		SecurityAnswerHash: reg.SecurityAnswerHash,
		NextOfKinName:      reg.NextOfKinName,
		NextOfKinPhone:     reg.NextOfKinPhone,
		Tier:               1,
	})
	if err != nil {
		if errors.Is(err, store.ErrAccountExists) {
			return "You already have an account."
		}
		return s.failureText("Account creation failed.", err)
	}
	s.publishAccountEvent(ctx, domain.EventAccountCreated, account)
	return fmt.Sprintf("Account created successfully. Your account number is %s.", account.AccountNumber)
}

func (s *Service) registrationSummary(reg *domain.RegistrationData) string {
	lines := []string{
		"Name: " + reg.FirstName + " " + reg.LastName,
		"DOB: " + reg.DateOfBirth,
		fmt.Sprintf("%s: %s", reg.IDType, maskIdentifier(reg.IDNumber)),
		"Next of Kin: " + reg.NextOfKinName,
		"",
		"1. Confirm",
		"2. Cancel",
	}
	return strings.Join(lines, "\n")
}

// maskIdentifier keeps the first three and last three characters.
func maskIdentifier(value string) string {
	if len(value) <= 6 {
		return value
	}
	return value[:3] + strings.Repeat("*", len(value)-6) + value[len(value)-3:]
}

// menuIndex maps a 1-based menu choice to a 0-based index, or -1.
func menuIndex(value string, options int) int {
	if len(value) != 1 || value[0] < '1' || int(value[0]-'0') > options {
		return -1
	}
	return int(value[0] - '1')
}
