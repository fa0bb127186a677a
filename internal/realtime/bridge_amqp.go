package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const bridgeExchange = "realtime.events"

// AMQPBridge publishes dispatched events to a fanout exchange so sibling
// server processes (or offline consumers such as a notification mailer) can
// observe them. Publish failures are logged by the caller and never abort
// the originating operation.
type AMQPBridge struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	url     string
}

type bridgeEnvelope struct {
	UserID string `json:"userId"`
	Event  Event  `json:"event"`
}

// NewAMQPBridge connects to the broker and declares the exchange.
func NewAMQPBridge(url string) (*AMQPBridge, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	b := &AMQPBridge{url: url}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *AMQPBridge) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(bridgeExchange, "fanout", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	b.conn = conn
	b.channel = channel
	return nil
}

// Publish mirrors one dispatched event onto the exchange.
func (b *AMQPBridge) Publish(ctx context.Context, userID string, ev Event) error {
	body, err := json.Marshal(bridgeEnvelope{UserID: userID, Event: ev})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channel == nil || b.channel.IsClosed() {
		if err := b.connect(); err != nil {
			return err
		}
	}
	return b.channel.PublishWithContext(ctx, bridgeExchange, ev.Type, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close shuts down the broker connection.
func (b *AMQPBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
