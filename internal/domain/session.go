package domain

import "time"

// Flow identifies one end-to-end user task.
type Flow string

const (
	FlowMenu         Flow = "menu"
	FlowRegistration Flow = "registration"
	FlowBalance      Flow = "balance"
	FlowTransfer     Flow = "transfer"
	FlowAirtime      Flow = "airtime"
	FlowHistory      Flow = "history"
	FlowPINChange    Flow = "pin_change"
	FlowHelp         Flow = "help"
	FlowAccountInfo  Flow = "info"
	FlowBlock        Flow = "block"
)

// Step is a single point in a flow awaiting one input token. The string value is what
// the session stores persist.
type Step string

const (
	StepMainMenu Step = "main_menu"

	StepRegFirstName        Step = "registration.first_name"
	StepRegLastName         Step = "registration.last_name"
	StepRegDateOfBirth      Step = "registration.date_of_birth"
	StepRegGender           Step = "registration.gender"
	StepRegIDType           Step = "registration.id_type"
	StepRegIDNumber         Step = "registration.id_number"
	StepRegPIN              Step = "registration.pin"
	StepRegPINConfirm       Step = "registration.pin_confirm"
	StepRegSecurityQuestion Step = "registration.security_question"
	StepRegSecurityAnswer   Step = "registration.security_answer"
	StepRegNextOfKinName    Step = "registration.next_of_kin_name"
	StepRegNextOfKinPhone   Step = "registration.next_of_kin_phone"
	StepRegReview           Step = "registration.review"

	StepBalancePIN Step = "balance.pin"

	StepTransferType      Step = "transfer.type"
	StepTransferRecipient Step = "transfer.recipient"
	StepTransferAmount    Step = "transfer.amount"
	StepTransferConfirm   Step = "transfer.confirm"
	StepTransferPIN       Step = "transfer.pin"

	StepAirtimeMenu      Step = "airtime.menu"
	StepAirtimeTarget    Step = "airtime.target"
	StepAirtimeRecipient Step = "airtime.recipient"
	StepAirtimeAmount    Step = "airtime.amount"
	StepAirtimeConfirm   Step = "airtime.confirm"
	StepAirtimePIN       Step = "airtime.pin"

	StepHistoryPIN    Step = "history.pin"
	StepHistoryPeriod Step = "history.period"

	StepPINChangeCurrent Step = "pin_change.current"
	StepPINChangeNew     Step = "pin_change.new"
	StepPINChangeConfirm Step = "pin_change.confirm"

	StepHelpMenu Step = "help.menu"
	StepInfoPIN  Step = "info.pin"

	StepBlockConfirm Step = "block.confirm"
	StepBlockPIN     Step = "block.pin"
)

var stepFlows = map[Step]Flow{
	StepMainMenu: FlowMenu,

	StepRegFirstName:        FlowRegistration,
	StepRegLastName:         FlowRegistration,
	StepRegDateOfBirth:      FlowRegistration,
	StepRegGender:           FlowRegistration,
	StepRegIDType:           FlowRegistration,
	StepRegIDNumber:         FlowRegistration,
	StepRegPIN:              FlowRegistration,
	StepRegPINConfirm:       FlowRegistration,
	StepRegSecurityQuestion: FlowRegistration,
	StepRegSecurityAnswer:   FlowRegistration,
	StepRegNextOfKinName:    FlowRegistration,
	StepRegNextOfKinPhone:   FlowRegistration,
	StepRegReview:           FlowRegistration,

	StepBalancePIN: FlowBalance,

	StepTransferType:      FlowTransfer,
	StepTransferRecipient: FlowTransfer,
	StepTransferAmount:    FlowTransfer,
	StepTransferConfirm:   FlowTransfer,
	StepTransferPIN:       FlowTransfer,

	StepAirtimeMenu:      FlowAirtime,
	StepAirtimeTarget:    FlowAirtime,
	StepAirtimeRecipient: FlowAirtime,
	StepAirtimeAmount:    FlowAirtime,
	StepAirtimeConfirm:   FlowAirtime,
	StepAirtimePIN:       FlowAirtime,

	StepHistoryPIN:    FlowHistory,
	StepHistoryPeriod: FlowHistory,

	StepPINChangeCurrent: FlowPINChange,
	StepPINChangeNew:     FlowPINChange,
	StepPINChangeConfirm: FlowPINChange,

	StepHelpMenu: FlowHelp,
	StepInfoPIN:  FlowAccountInfo,

	StepBlockConfirm: FlowBlock,
	StepBlockPIN:     FlowBlock,
}

// Flow returns the flow owning the step and whether the step is known.
func (s Step) Flow() (Flow, bool) {
	flow, ok := stepFlows[s]
	return flow, ok
}

// Known reports whether s is one of the enumerated steps.
func (s Step) Known() bool {
	_, ok := stepFlows[s]
	return ok
}

// StepData carries the fields a flow has collected so far. Exactly one variant is set,
// chosen when the flow starts; flows without collected fields leave all of them nil.
type StepData struct {
	Registration *RegistrationData `json:"registration,omitempty" bson:"registration,omitempty"`
	Transfer     *TransferData     `json:"transfer,omitempty" bson:"transfer,omitempty"`
	Airtime      *AirtimeData      `json:"airtime,omitempty" bson:"airtime,omitempty"`
	PINChange    *PINChangeData    `json:"pin_change,omitempty" bson:"pin_change,omitempty"`
}

type RegistrationData struct {
	FirstName          string `json:"first_name,omitempty" bson:"first_name,omitempty"`
	LastName           string `json:"last_name,omitempty" bson:"last_name,omitempty"`
	DateOfBirth        string `json:"date_of_birth,omitempty" bson:"date_of_birth,omitempty"`
	Gender             string `json:"gender,omitempty" bson:"gender,omitempty"`
	IDType             IDType `json:"id_type,omitempty" bson:"id_type,omitempty"`
	IDNumber           string `json:"id_number,omitempty" bson:"id_number,omitempty"`
	PINHash            string `json:"pin_hash,omitempty" bson:"pin_hash,omitempty"`
	SecurityQuestion   string `json:"security_question,omitempty" bson:"security_question,omitempty"`
	SecurityAnswerHash string `json:"security_answer_hash,omitempty" bson:"security_answer_hash,omitempty"`
	NextOfKinName      string `json:"next_of_kin_name,omitempty" bson:"next_of_kin_name,omitempty"`
	NextOfKinPhone     string `json:"next_of_kin_phone,omitempty" bson:"next_of_kin_phone,omitempty"`
}

type TransferDestination string

const (
	DestinationAccount TransferDestination = "account"
	DestinationPhone   TransferDestination = "phone"
)

type TransferData struct {
	Destination      TransferDestination `json:"destination,omitempty" bson:"destination,omitempty"`
	RecipientAccount string              `json:"recipient_account,omitempty" bson:"recipient_account,omitempty"`
	RecipientName    string              `json:"recipient_name,omitempty" bson:"recipient_name,omitempty"`
	RecipientPhone   string              `json:"recipient_phone,omitempty" bson:"recipient_phone,omitempty"`
	Amount           int64               `json:"amount,omitempty" bson:"amount,omitempty"`
}

type AirtimeData struct {
	ForSelf bool   `json:"for_self,omitempty" bson:"for_self,omitempty"`
	Phone   string `json:"phone,omitempty" bson:"phone,omitempty"`
	Amount  int64  `json:"amount,omitempty" bson:"amount,omitempty"`
}

type PINChangeData struct {
	NewPINHash string `json:"new_pin_hash,omitempty" bson:"new_pin_hash,omitempty"`
}

// Clone returns a deep copy so stored sessions never share variant pointers with callers.
func (d StepData) Clone() StepData {
	out := StepData{}
	if d.Registration != nil {
		v := *d.Registration
		out.Registration = &v
	}
	if d.Transfer != nil {
		v := *d.Transfer
		out.Transfer = &v
	}
	if d.Airtime != nil {
		v := *d.Airtime
		out.Airtime = &v
	}
	if d.PINChange != nil {
		v := *d.PINChange
		out.PINChange = &v
	}
	return out
}

// Session is the server-side record of one USSD dialogue.
//
// Depth counts the `*`-separated input segments already consumed and LastReply holds the
// reply produced for them, so a re-delivered request can be answered without re-running
// its step. Version is bumped on every write and used for compare-and-swap.
type Session struct {
	SessionID    string    `json:"session_id" bson:"_id"`
	PhoneNumber  string    `json:"phone_number" bson:"phone_number"`
	Step         Step      `json:"step" bson:"step"`
	Data         StepData  `json:"data" bson:"data"`
	Depth        int       `json:"depth" bson:"depth"`
	LastReply    string    `json:"last_reply" bson:"last_reply"`
	Active       bool      `json:"active" bson:"active"`
	Version      int64     `json:"version" bson:"version"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	LastActivity time.Time `json:"last_activity" bson:"last_activity"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Data = s.Data.Clone()
	return &out
}

// ExpiredAt reports whether the session has been idle longer than timeout at now.
func (s *Session) ExpiredAt(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivity) > timeout
}
