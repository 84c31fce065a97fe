package app

import (
	"context"
	"errors"
	"testing"

	"github.com/transfa/ussd-service/internal/domain"
	"github.com/transfa/ussd-service/internal/store"
)

type depositRepoStub struct {
	store.Repository

	creditErr error
	credits   []store.CreditParams
	replay    bool
}

func (s *depositRepoStub) Credit(ctx context.Context, params store.CreditParams) (*store.LedgerEntry, error) {
	if s.creditErr != nil {
		return nil, s.creditErr
	}
	s.credits = append(s.credits, params)
	return &store.LedgerEntry{
		Transaction: &domain.Transaction{Reference: "REF0000001", Amount: params.Amount},
		Replayed:    s.replay,
	}, nil
}

func (s *depositRepoStub) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	return &domain.Account{AccountNumber: accountNumber, PhoneNumber: "+2348030000001"}, nil
}

func TestDepositConsumer_HandleMessage(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		creditErr  error
		wantAck    bool
		wantCredit bool
	}{
		{
			name:       "valid deposit is credited",
			body:       `{"account_number":"0000000001","amount":50000,"external_reference":"ext-1","description":"Bank transfer"}`,
			wantAck:    true,
			wantCredit: true,
		},
		{
			name:    "malformed payload is dropped",
			body:    `{"account_number":`,
			wantAck: true,
		},
		{
			name:    "non-positive amount is dropped",
			body:    `{"account_number":"0000000001","amount":0,"external_reference":"ext-2"}`,
			wantAck: true,
		},
		{
			name:    "missing reference is dropped",
			body:    `{"account_number":"0000000001","amount":100}`,
			wantAck: true,
		},
		{
			name:      "unknown account is dropped",
			body:      `{"account_number":"0000000009","amount":100,"external_reference":"ext-3"}`,
			creditErr: store.ErrAccountNotFound,
			wantAck:   true,
		},
		{
			name:      "store failure is re-queued",
			body:      `{"account_number":"0000000001","amount":100,"external_reference":"ext-4"}`,
			creditErr: errors.New("connection reset"),
			wantAck:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &depositRepoStub{creditErr: tt.creditErr}
			publisher := &recordingPublisher{}
			consumer := NewDepositConsumer(repo, NewEventPublisher(publisher, "ussd.events"))

			if got := consumer.HandleMessage([]byte(tt.body)); got != tt.wantAck {
				t.Fatalf("expected ack=%t, got %t", tt.wantAck, got)
			}
			if tt.wantCredit != (len(repo.credits) == 1) {
				t.Fatalf("expected credit=%t, got %d credits", tt.wantCredit, len(repo.credits))
			}
			if tt.wantCredit {
				credit := repo.credits[0]
				if credit.IdempotencyKey != "deposit:ext-1" || credit.Category != domain.CategoryDeposit || credit.Amount != 50000 {
					t.Fatalf("unexpected credit params: %+v", credit)
				}
				if publisher.count(domain.EventDepositCredited) != 1 {
					t.Fatalf("expected deposit.credited event")
				}
			}
		})
	}
}

func TestDepositConsumer_ReplayIsNotAnnouncedTwice(t *testing.T) {
	repo := &depositRepoStub{replay: true}
	publisher := &recordingPublisher{}
	consumer := NewDepositConsumer(repo, NewEventPublisher(publisher, "ussd.events"))

	entry, err := consumer.CreditDeposit(context.Background(), domain.DepositEvent{AccountNumber: "0000000001", Amount: 100, ExternalReference: "ext-1"})
	if err != nil {
		t.Fatalf("CreditDeposit returned error: %v", err)
	}
	if !entry.Replayed {
		t.Fatalf("expected replayed entry")
	}
	if publisher.count(domain.EventDepositCredited) != 0 {
		t.Fatalf("expected no event for a replayed deposit")
	}
}

func TestDepositConsumer_IdempotentAgainstMemoryLedger(t *testing.T) {
	repo := store.NewMemoryRepository(store.LimitPolicy{})
	account, err := repo.CreateAccount(context.Background(), &domain.Account{PhoneNumber: "+2348030000001"})
	if err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}
	consumer := NewDepositConsumer(repo, nil)
	body := []byte(`{"account_number":"` + account.AccountNumber + `","amount":25000,"external_reference":"bank-77"}`)

	for i := 0; i < 3; i++ {
		if !consumer.HandleMessage(body) {
			t.Fatalf("expected delivery %d to be acknowledged", i+1)
		}
	}

	balance, _ := repo.GetBalance(context.Background(), account.AccountNumber)
	if balance != 25000 {
		t.Fatalf("expected a single credit of 25000, got %d", balance)
	}
}
