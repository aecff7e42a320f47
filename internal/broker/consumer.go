package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/hff-sync/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventConsumer tails the notification exchange, e.g. for an operator console
type EventConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

func NewEventConsumer(url string, logger *slog.Logger) (*EventConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := ch.Qos(16, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return &EventConsumer{
		conn:    conn,
		channel: ch,
		logger:  logger,
	}, nil
}

// Listen binds a private queue to pattern (e.g. "sync.#") and calls handle
// for every event until ctx ends
func (c *EventConsumer) Listen(ctx context.Context, pattern string, handle func(models.SyncEvent)) error {
	if err := c.channel.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Server-named, exclusive and auto-deleted: a console sees only live events
	q, err := c.channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := c.channel.QueueBind(q.Name, pattern, Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	msgs, err := c.channel.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Event consumer is online", "queue", q.Name, "routing_key", pattern)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			ev, err := decodeEvent(d.Body)
			if err != nil {
				c.logger.Error("Dropping malformed event", "routing_key", d.RoutingKey, "error", err)
				d.Nack(false, false)
				continue
			}

			handle(ev)

			if err := d.Ack(false); err != nil {
				c.logger.Error("Failed to Ack event", "routing_key", d.RoutingKey, "error", err)
			}
		}
	}
}

// Close gracefully terminates RabbitMQ resources
func (c *EventConsumer) Close() {
	c.logger.Info("Shutting down RabbitMQ event consumer")
	c.channel.Close()
	c.conn.Close()
}
