package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Guizzs26/hff-sync/internal/models"
	"github.com/Guizzs26/hff-sync/pkg/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange receives every sync notification, routed by models.SyncEvent.RoutingKey
const Exchange = "hff.sync.events"

const confirmTimeout = 10 * time.Second

// EventPublisher publishes sync notifications with publisher confirms
type EventPublisher struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	logger     *slog.Logger
	deviceID   string
	connClosed chan *amqp.Error
	chanClosed chan *amqp.Error
	closeOnce  sync.Once
	healthy    atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewEventPublisher connects, declares the topic exchange and enables Publisher Confirms
func NewEventPublisher(url, deviceID string, l *slog.Logger) (*EventPublisher, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := c.Channel()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		Exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to declare topic exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to activate Publisher Confirms: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &EventPublisher{
		conn:       c,
		channel:    ch,
		logger:     l,
		deviceID:   deviceID,
		connClosed: make(chan *amqp.Error, 1),
		chanClosed: make(chan *amqp.Error, 1),
		ctx:        ctx,
		cancel:     cancel,
	}

	p.healthy.Store(true)
	metrics.BrokerHealthy.Set(1)

	p.conn.NotifyClose(p.connClosed)
	p.channel.NotifyClose(p.chanClosed)

	go func() {
		select {
		case err := <-p.connClosed:
			p.healthy.Store(false)
			metrics.BrokerHealthy.Set(0)
			l.Warn("RabbitMQ connection closed", "error", err)
		case err := <-p.chanClosed:
			p.healthy.Store(false)
			metrics.BrokerHealthy.Set(0)
			l.Warn("RabbitMQ channel closed", "error", err)
		case <-p.ctx.Done():
			return
		}
	}()

	l.Info("Connected to RabbitMQ for event forwarding", "exchange", Exchange)
	return p, nil
}

// Publish sends one event and blocks until the broker confirms it
func (p *EventPublisher) Publish(ctx context.Context, ev models.SyncEvent) error {
	if !p.IsHealthy() {
		return fmt.Errorf("broker connection is closed")
	}

	msg, err := encodeEvent(ev, p.deviceID)
	if err != nil {
		return err
	}

	deferred, err := p.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		Exchange,
		ev.RoutingKey(),
		false,
		false,
		msg,
	)
	if err != nil {
		return fmt.Errorf("publish call failed: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return fmt.Errorf("RabbitMQ NACK received: event not persisted")
		}
		return nil
	case <-time.After(confirmTimeout):
		return fmt.Errorf("publisher confirm timeout")
	}
}

// Close gracefully shuts down the RabbitMQ resources
func (p *EventPublisher) Close() error {
	p.closeOnce.Do(func() {
		p.logger.Info("Terminating RabbitMQ event publisher")
		p.cancel()
		metrics.BrokerHealthy.Set(0)
		if p.channel != nil {
			p.channel.Close()
		}
		if p.conn != nil {
			p.conn.Close()
		}
	})
	return nil
}

// IsHealthy returns true if the connection and channel are active
func (p *EventPublisher) IsHealthy() bool {
	return p.healthy.Load()
}

func encodeEvent(ev models.SyncEvent, deviceID string) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to serialize event: %w", err)
	}

	return amqp.Publishing{
		Headers: amqp.Table{
			"device_id":  deviceID,
			"event_kind": string(ev.Kind),
		},
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.Timestamp,
		AppId:        "hff-sync",
		Body:         body,
	}, nil
}

func decodeEvent(body []byte) (models.SyncEvent, error) {
	var ev models.SyncEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("malformed event: %w", err)
	}
	if ev.Kind == "" {
		return ev, fmt.Errorf("malformed event: missing kind")
	}
	return ev, nil
}
