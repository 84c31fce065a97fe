package rabbitmq

import (
	"errors"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

const consumerPrefetch = 10

// HandlerFunc processes one message body. Returning false re-queues the delivery.
type HandlerFunc func(body []byte) bool

// Consumer binds one durable queue to a topic exchange and dispatches deliveries by
// routing key.
type Consumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	handlers map[string]HandlerFunc
	done     chan struct{}
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	conn, ch, err := dialChannel(amqpURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, done: make(chan struct{})}, nil
}

// ConsumeWithBindings declares the exchange and queue, binds every routing key and starts
// the delivery loop in the background.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]func([]byte) bool) error {
	c.handlers = make(map[string]HandlerFunc, len(bindings))
	for routingKey, handler := range bindings {
		if handler != nil {
			c.handlers[routingKey] = handler
		}
	}
	if len(c.handlers) == 0 {
		return errors.New("no bindings provided")
	}

	if err := declareEventsExchange(c.ch, exchange); err != nil {
		return err
	}
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := c.ch.Qos(consumerPrefetch, 0, false); err != nil {
		return err
	}
	for routingKey := range c.handlers {
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	deliveries, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		defer close(c.done)
		for d := range deliveries {
			c.dispatch(d)
		}
		log.Printf("level=info component=rabbitmq_consumer msg=\"delivery channel closed\" queue=%s", q.Name)
	}()
	return nil
}

// dispatch acks unroutable deliveries so they do not loop forever.
func (c *Consumer) dispatch(d amqp.Delivery) {
	handler, ok := c.handlers[d.RoutingKey]
	if !ok {
		log.Printf("level=warn component=rabbitmq_consumer msg=\"no handler for routing key; dropping\" routing_key=%s", d.RoutingKey)
		d.Ack(false)
		return
	}
	if handler(d.Body) {
		d.Ack(false)
		return
	}
	log.Printf("level=warn component=rabbitmq_consumer msg=\"handler failed; re-queuing\" routing_key=%s", d.RoutingKey)
	d.Nack(false, true)
}

// Done is closed when the delivery loop exits.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
