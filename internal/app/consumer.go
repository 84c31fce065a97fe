package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/transfa/ussd-service/internal/domain"
	"github.com/transfa/ussd-service/internal/store"
)

var ErrInvalidDeposit = errors.New("invalid deposit event")

// DepositConsumer credits wallets for money received outside the USSD channel. It serves
// both the broker queue and the internal HTTP endpoint.
type DepositConsumer struct {
	repo   store.Repository
	events *EventPublisher
}

func NewDepositConsumer(repo store.Repository, events *EventPublisher) *DepositConsumer {
	return &DepositConsumer{repo: repo, events: events}
}

// HandleMessage returns false only when the message should be re-queued.
func (c *DepositConsumer) HandleMessage(body []byte) bool {
	var event domain.DepositEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=deposit_consumer msg=\"failed to unmarshal payload; dropping\" err=%v", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := c.CreditDeposit(ctx, event); err != nil {
		if errors.Is(err, ErrInvalidDeposit) || errors.Is(err, store.ErrAccountNotFound) {
			log.Printf("level=warn component=deposit_consumer msg=\"deposit rejected; dropping\" reference=%s account=%s err=%v", event.ExternalReference, event.AccountNumber, err)
			return true
		}
		log.Printf("level=error component=deposit_consumer msg=\"deposit processing failed; re-queuing\" reference=%s err=%v", event.ExternalReference, err)
		return false
	}
	return true
}

// CreditDeposit posts the credit once per external reference.
func (c *DepositConsumer) CreditDeposit(ctx context.Context, event domain.DepositEvent) (*store.LedgerEntry, error) {
	event.AccountNumber = strings.TrimSpace(event.AccountNumber)
	event.ExternalReference = strings.TrimSpace(event.ExternalReference)
	if event.AccountNumber == "" || event.ExternalReference == "" || event.Amount <= 0 {
		return nil, fmt.Errorf("%w: account, reference and a positive amount are required", ErrInvalidDeposit)
	}

	description := strings.TrimSpace(event.Description)
	if description == "" {
		description = "Deposit"
	}

	entry, err := c.repo.Credit(ctx, store.CreditParams{
		AccountNumber:  event.AccountNumber,
		Amount:         event.Amount,
		Category:       domain.CategoryDeposit,
		Counterparty:   event.ExternalReference,
		Description:    description,
		IdempotencyKey: "deposit:" + event.ExternalReference,
	})
	if err != nil {
		return nil, err
	}
	if entry.Replayed {
		log.Printf("level=info component=deposit_consumer msg=\"duplicate deposit ignored\" reference=%s", event.ExternalReference)
		return entry, nil
	}

	log.Printf("level=info component=deposit_consumer msg=\"deposit credited\" account=%s amount=%d reference=%s", event.AccountNumber, event.Amount, entry.Transaction.Reference)
	if account, err := c.repo.FindAccountByNumber(ctx, event.AccountNumber); err == nil {
		c.events.Publish(ctx, domain.WalletEvent{
			Type:          domain.EventDepositCredited,
			AccountNumber: account.AccountNumber,
			PhoneNumber:   account.PhoneNumber,
			Amount:        entry.Transaction.Amount,
			Reference:     entry.Transaction.Reference,
			Counterparty:  event.ExternalReference,
		})
	}
	return entry, nil
}
