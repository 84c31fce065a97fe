package rabbitmq

import (
	"errors"
	"net/url"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const dialTimeout = 10 * time.Second

var errBadScheme = errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")

// sanitizeAMQPURL strips quotes, whitespace and anything pasted in front of the scheme.
// The path, which names the vhost, is left untouched.
func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "amqp", "amqps":
		return clean, nil
	default:
		return "", errBadScheme
	}
}

// dialChannel connects to the broker and opens one channel on the connection.
func dialChannel(amqpURL string) (*amqp.Connection, *amqp.Channel, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, nil, err
	}
	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// declareEventsExchange makes sure the durable topic exchange exists. Publisher and
// consumer declare it with identical arguments so either side may start first.
func declareEventsExchange(ch *amqp.Channel, name string) error {
	return ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil)
}
