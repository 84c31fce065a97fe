/**
 * @description
 * Publisher side of the events exchange. The ussd-service announces wallet events
 * (account created/locked/blocked, transfers, airtime, deposits) on a durable topic
 * exchange so the notification-service can turn them into SMS.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// EventProducer publishes JSON events on a single channel. Calls are serialised because
// an amqp channel is not safe for concurrent publishes.
type EventProducer struct {
	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	exchanges map[string]struct{}
}

// EventProducerFallback is a no-op publisher used when RabbitMQ is unavailable at startup.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"publish skipped\" exchange=%s routing_key=%s", exchange, routingKey)
	return nil
}

func (p *EventProducerFallback) Close() {}

func NewEventProducer(amqpURL string) (*EventProducer, error) {
	conn, ch, err := dialChannel(amqpURL)
	if err != nil {
		return nil, err
	}
	return &EventProducer{conn: conn, channel: ch, exchanges: make(map[string]struct{})}, nil
}

// Publish sends body as a persistent JSON message. When the channel has been closed by the
// broker it is reopened once and the publish retried.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=rabbitmq_producer msg=\"json marshal failed\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	firstErr := p.send(ctx, exchange, routingKey, msg)
	if firstErr == nil {
		return nil
	}
	log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; reopening channel\" exchange=%s routing_key=%s err=%v", exchange, routingKey, firstErr)
	if err := p.reopen(); err != nil {
		return err
	}
	return p.send(ctx, exchange, routingKey, msg)
}

// send expects p.mu to be held.
func (p *EventProducer) send(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if _, ok := p.exchanges[exchange]; !ok {
		if err := declareEventsExchange(p.channel, exchange); err != nil {
			return err
		}
		p.exchanges[exchange] = struct{}{}
	}
	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

// reopen expects p.mu to be held.
func (p *EventProducer) reopen() error {
	if p.conn == nil || p.conn.IsClosed() {
		return amqp.ErrClosed
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	if p.channel != nil {
		p.channel.Close()
	}
	p.channel = ch
	p.exchanges = make(map[string]struct{})
	return nil
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
