package domain

import "time"

// Routing keys published on the events exchange.
const (
	EventAccountCreated    = "account.created"
	EventAccountLocked     = "account.locked"
	EventAccountBlocked    = "account.blocked"
	EventAccountPINChanged = "account.pin_changed"
	EventTransferCompleted = "transfer.completed"
	EventAirtimePurchased  = "airtime.purchased"
	EventDepositCredited   = "deposit.credited"

	// EventDepositReceived is consumed, not published.
	EventDepositReceived = "wallet.deposit.received"
)

// WalletEvent is the payload published for the notification-service to turn into SMS.
type WalletEvent struct {
	EventID       string    `json:"event_id"`
	Type          string    `json:"type"`
	AccountNumber string    `json:"account_number"`
	PhoneNumber   string    `json:"phone_number"`
	Amount        int64     `json:"amount,omitempty"`
	Reference     string    `json:"reference,omitempty"`
	Counterparty  string    `json:"counterparty,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// DepositEvent is received when money lands in a wallet from outside the USSD channel.
type DepositEvent struct {
	AccountNumber     string `json:"account_number"`
	Amount            int64  `json:"amount"` // in kobo
	ExternalReference string `json:"external_reference"`
	Description       string `json:"description"`
}
