package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one delivery. Returning false requeues the message.
type Handler func(body []byte) bool

// Consumer reads from a durable queue bound to a topic exchange.
type Consumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	prefetch int
}

func NewConsumer(amqpURL string) (*Consumer, error) {
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
	return &Consumer{conn: conn, ch: ch, prefetch: 10}, nil
}

// Consume binds queue to exchange with routingKey and dispatches deliveries to
// handler until ctx is cancelled or the channel closes.
func (c *Consumer) Consume(ctx context.Context, exchange, queue, routingKey string, handler Handler) error {
	if handler == nil {
		return errors.New("nil handler")
	}
	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	q, err := c.ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queue, err)
	}
	if err := c.ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := c.ch.ConsumeWithContext(ctx, q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}
	log.Printf("level=info component=rabbitmq_consumer msg=\"consuming\" exchange=%s queue=%s routing_key=%s", exchange, q.Name, routingKey)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			dispatch(d, handler)
		}
	}
}

func dispatch(d amqp.Delivery, handler Handler) {
	if handler(d.Body) {
		if err := d.Ack(false); err != nil {
			log.Printf("level=error component=rabbitmq_consumer msg=\"ack failed\" routing_key=%s err=%v", d.RoutingKey, err)
		}
		return
	}
	log.Printf("level=warn component=rabbitmq_consumer msg=\"handler failed; requeueing\" routing_key=%s", d.RoutingKey)
	if err := d.Nack(false, true); err != nil {
		log.Printf("level=error component=rabbitmq_consumer msg=\"nack failed\" routing_key=%s err=%v", d.RoutingKey, err)
	}
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
