/**
 * @description
 * Topic-exchange publisher for satellite-service events. Payloads are JSON encoded
 * and published as persistent messages. A broken channel is reopened once per
 * publish before the error is returned.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is implemented by EventProducer and NoopProducer.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// EventProducer publishes JSON events over a single AMQP channel.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]bool
}

// NoopProducer drops every event. It is used when no broker is configured.
type NoopProducer struct{}

func (NoopProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq_producer mode=noop msg=\"publish skipped\" exchange=%s routing_key=%s", exchange, routingKey)
	return nil
}

func (NoopProducer) Close() {}

// NewEventProducer dials the broker with a bounded timeout.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &EventProducer{conn: conn, channel: ch, declared: make(map[string]bool)}, nil
}

// Publish declares the exchange on first use and sends body as JSON.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", routingKey, err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         payload,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, exchange, routingKey, msg)
	if err == nil {
		return nil
	}
	log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; reopening channel\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
	if reopenErr := p.reopenLocked(); reopenErr != nil {
		return errors.Join(err, reopenErr)
	}
	return p.publishLocked(ctx, exchange, routingKey, msg)
}

func (p *EventProducer) publishLocked(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if !p.declared[exchange] {
		if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
		p.declared[exchange] = true
	}
	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

func (p *EventProducer) reopenLocked() error {
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	p.declared = make(map[string]bool)
	return nil
}

// Close closes the channel and the connection.
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

// sanitizeURL strips quotes and stray prefixes that deployment tooling tends to
// leave around the broker URL.
func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme %q", u.Scheme)
	}
	return clean, nil
}
