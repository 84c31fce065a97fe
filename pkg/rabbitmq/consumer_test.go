package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

type ackRecorder struct {
	acks     int
	nacks    int
	requeued bool
}

func (a *ackRecorder) Ack(tag uint64, multiple bool) error {
	a.acks++
	return nil
}

func (a *ackRecorder) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks++
	a.requeued = requeue
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error {
	return nil
}

func TestConsumerDispatch(t *testing.T) {
	var received []byte
	c := &Consumer{handlers: map[string]HandlerFunc{
		"deposit.received": func(body []byte) bool {
			received = body
			return true
		},
		"deposit.retry": func([]byte) bool { return false },
	}}

	tests := []struct {
		name       string
		routingKey string
		wantAcks   int
		wantNacks  int
	}{
		{name: "handled", routingKey: "deposit.received", wantAcks: 1},
		{name: "handler failure re-queues", routingKey: "deposit.retry", wantNacks: 1},
		{name: "unknown key dropped", routingKey: "transfer.completed", wantAcks: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &ackRecorder{}
			c.dispatch(amqp.Delivery{Acknowledger: ack, RoutingKey: tt.routingKey, Body: []byte(`{"reference":"ext-1"}`)})
			if ack.acks != tt.wantAcks || ack.nacks != tt.wantNacks {
				t.Fatalf("expected acks=%d nacks=%d, got acks=%d nacks=%d", tt.wantAcks, tt.wantNacks, ack.acks, ack.nacks)
			}
			if tt.wantNacks > 0 && !ack.requeued {
				t.Fatalf("expected nack to re-queue")
			}
		})
	}

	if string(received) != `{"reference":"ext-1"}` {
		t.Fatalf("expected handler to receive body, got %q", received)
	}
}

func TestConsumeWithBindingsRejectsEmptyBindings(t *testing.T) {
	c := &Consumer{}
	err := c.ConsumeWithBindings("ussd.events", "ussd.deposits", map[string]func([]byte) bool{"deposit.received": nil})
	if err == nil {
		t.Fatalf("expected error when no usable bindings are given")
	}
}
