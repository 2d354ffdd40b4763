// Package ingress feeds events published on RabbitMQ into the queue store.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/szaretsky/queueprocessor/internal/queue/domain"
)

// ContentType is the content type of published messages
const ContentType = "application/json"

// Message is the body of an ingress delivery
type Message struct {
	QueueID int            `json:"queueid"`
	Event   map[string]any `json:"event"`
}

// ErrInvalidMessage marks deliveries that can never be enqueued
var ErrInvalidMessage = errors.New("invalid ingress message")

// ParseMessage decodes and validates a delivery body
func ParseMessage(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if msg.QueueID <= 0 {
		return Message{}, fmt.Errorf("%w: queueid must be positive", ErrInvalidMessage)
	}
	if msg.Event == nil {
		return Message{}, fmt.Errorf("%w: event is required", ErrInvalidMessage)
	}
	return msg, nil
}

// Enqueuer stores events
type Enqueuer interface {
	Enqueue(ctx context.Context, queueID int, data map[string]any) (int64, error)
}

// Source delivers messages from a broker queue
type Source interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Publisher sends messages to the broker
type Publisher interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// Publish sends an event for queueID through the broker
func Publish(ctx context.Context, pub Publisher, queueID int, data map[string]any) error {
	body, err := json.Marshal(Message{QueueID: queueID, Event: data})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return pub.Publish(ctx, body, ContentType)
}

// Config holds consumer configuration
type Config struct {
	Logger      *slog.Logger
	Source      Source
	Enqueuer    Enqueuer
	ConsumerTag string
}

// Consumer moves broker deliveries into the queue store
type Consumer struct {
	logger      *slog.Logger
	source      Source
	enqueuer    Enqueuer
	consumerTag string
}

// NewConsumer creates a consumer instance
func NewConsumer(cfg *Config) *Consumer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		logger:      logger.With(slog.String("consumer_tag", cfg.ConsumerTag)),
		source:      cfg.Source,
		enqueuer:    cfg.Enqueuer,
		consumerTag: cfg.ConsumerTag,
	}
}

// Run consumes deliveries until ctx is cancelled or the broker closes the
// delivery channel
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Consume(c.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Ingress consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Ingress consumer stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, delivery)
		}
	}
}

// handle enqueues one delivery and settles it with the broker. Malformed
// messages and unknown queues are dropped; store failures are requeued.
func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery) {
	eventID, err := c.dispatch(ctx, delivery.Body)
	if err == nil {
		c.logger.Debug("Delivery enqueued",
			slog.Int64("event_id", eventID),
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
		)
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("Failed to ACK message",
				slog.String("error", ackErr.Error()),
			)
		}
		return
	}

	requeue := !errors.Is(err, ErrInvalidMessage) && !errors.Is(err, domain.ErrUnknownQueue)
	c.logger.Error("Failed to enqueue delivery",
		slog.String("error", err.Error()),
		slog.Bool("requeue", requeue),
		slog.Uint64("delivery_tag", delivery.DeliveryTag),
	)
	if nackErr := delivery.Nack(false, requeue); nackErr != nil {
		c.logger.Error("Failed to NACK message",
			slog.String("error", nackErr.Error()),
		)
	}
}

func (c *Consumer) dispatch(ctx context.Context, body []byte) (int64, error) {
	msg, err := ParseMessage(body)
	if err != nil {
		return 0, err
	}
	return c.enqueuer.Enqueue(ctx, msg.QueueID, msg.Event)
}
