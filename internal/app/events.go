package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/transfa/ussd-service/internal/domain"
	"github.com/transfa/ussd-service/pkg/rabbitmq"
)

const publishTimeout = 5 * time.Second

// EventPublisher announces wallet events on the events exchange. Failures are logged and
// never fail the caller's flow.
type EventPublisher struct {
	producer rabbitmq.Publisher
	exchange string
	now      func() time.Time
}

func NewEventPublisher(producer rabbitmq.Publisher, exchange string) *EventPublisher {
	return &EventPublisher{producer: producer, exchange: exchange, now: time.Now}
}

// Publish sends event under its Type as routing key. The request context's cancellation
// is ignored so an event for a committed write is not lost to a hung-up gateway.
func (p *EventPublisher) Publish(ctx context.Context, event domain.WalletEvent) {
	if p == nil || p.producer == nil {
		return
	}
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now().UTC()
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.producer.Publish(publishCtx, p.exchange, event.Type, event); err != nil {
		log.Printf("level=warn component=events msg=\"publish failed\" type=%s account=%s err=%v", event.Type, event.AccountNumber, err)
	}
}

func (s *Service) publishAccountEvent(ctx context.Context, eventType string, account *domain.Account) {
	s.events.Publish(ctx, domain.WalletEvent{
		Type:          eventType,
		AccountNumber: account.AccountNumber,
		PhoneNumber:   account.PhoneNumber,
	})
}

func (s *Service) publishLedgerEvent(ctx context.Context, eventType string, account *domain.Account, txn *domain.Transaction) {
	s.events.Publish(ctx, domain.WalletEvent{
		Type:          eventType,
		AccountNumber: account.AccountNumber,
		PhoneNumber:   account.PhoneNumber,
		Amount:        txn.Amount,
		Reference:     txn.Reference,
		Counterparty:  txn.Counterparty,
	})
}
