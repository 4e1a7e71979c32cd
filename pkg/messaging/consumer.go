package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/medflow/medtrack/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler is a function that handles a message
type MessageHandler func(ctx context.Context, event *Event) error

// DefaultMaxRetries is how many redeliveries a failing message gets
// before it is dead-lettered.
const DefaultMaxRetries = 3

// RetryHeader counts how often a message has been republished after a
// handler error.
const RetryHeader = "x-retry-count"

type binding struct {
	exchange, pattern string
}

// Consumer dispatches events from one queue to handlers keyed by type.
type Consumer struct {
	rmq        *RabbitMQ
	queueName  string
	bindings   []binding
	handlers   map[string]MessageHandler
	maxRetries int
	logger     *logger.Logger

	// republish puts a failed message back on the queue with its retry
	// count.
	republish func(ctx context.Context, msg []byte, retries int) error
}

// NewConsumer declares queueName, together with its dead letter queue,
// and returns a consumer for it.
func NewConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) (*Consumer, error) {
	c := &Consumer{
		rmq:        rmq,
		queueName:  queueName,
		handlers:   make(map[string]MessageHandler),
		maxRetries: DefaultMaxRetries,
		logger:     log,
	}
	c.republish = c.publishRetry
	if err := c.declare(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Consumer) declare() error {
	if err := c.rmq.DeclareDeadLetterQueue(c.queueName); err != nil {
		return err
	}
	if _, err := c.rmq.DeclareQueue(c.queueName); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", c.queueName, err)
	}
	return nil
}

// Subscribe binds the queue to exchange for routingKeyPattern.
func (c *Consumer) Subscribe(exchange, routingKeyPattern string) error {
	if err := c.bind(binding{exchange, routingKeyPattern}); err != nil {
		return err
	}
	c.bindings = append(c.bindings, binding{exchange, routingKeyPattern})

	c.logger.Info().
		Str("queue", c.queueName).
		Str("exchange", exchange).
		Str("routing_key", routingKeyPattern).
		Msg("subscribed to exchange")

	return nil
}

func (c *Consumer) bind(b binding) error {
	if err := c.rmq.DeclareExchange(b.exchange); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := c.rmq.BindQueue(c.queueName, b.exchange, b.pattern); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// RegisterHandler registers a handler for a specific event type
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) {
	c.handlers[eventType] = handler
}

// Resume re-declares the queue and its bindings on the current channel
// and starts consuming again. Called after a reconnect.
func (c *Consumer) Resume(ctx context.Context) error {
	if err := c.declare(); err != nil {
		return err
	}
	for _, b := range c.bindings {
		if err := c.bind(b); err != nil {
			return err
		}
	}
	return c.Start(ctx)
}

// Start consumes until ctx is done or the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.rmq.Channel().Consume(
		c.queueName, // queue
		"",          // consumer tag (auto-generated)
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info().Str("queue", c.queueName).Msg("consumer started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn().Str("queue", c.queueName).Msg("message channel closed")
					return
				}
				c.handleDelivery(ctx, msg)
			}
		}
	}()

	return nil
}

// delivery is the subset of amqp.Delivery the consumer acts on.
type delivery interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
	Reject(requeue bool) error
}

func (c *Consumer) handleDelivery(ctx context.Context, msg amqp.Delivery) {
	c.dispatch(ctx, msg.Body, retryCount(msg.Headers), msg)
}

// dispatch decodes body and runs the matching handler. Malformed bodies are
// dead-lettered. A handler error republishes the message with its retry
// count raised, and dead-letters it once maxRetries is reached.
func (c *Consumer) dispatch(ctx context.Context, body []byte, retries int, ack delivery) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error().Err(err).Msg("failed to unmarshal event")
		ack.Reject(false)
		return
	}

	ctx = WithCorrelationID(ctx, event.CorrelationID)

	handler, ok := c.handlers[event.Type]
	if !ok {
		c.logger.Debug().Str("event_type", event.Type).Msg("no handler registered for event type")
		ack.Ack(false)
		return
	}

	err := handler(ctx, &event)
	if err == nil {
		ack.Ack(false)
		return
	}

	log := c.logger.Error().
		Err(err).
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Int("retry_count", retries)

	if retries >= c.maxRetries {
		log.Msg("max retries exceeded, sending to DLQ")
		ack.Reject(false)
		return
	}

	if pubErr := c.republish(ctx, body, retries+1); pubErr != nil {
		log.AnErr("republish_error", pubErr).Msg("failed to process event, requeued")
		ack.Nack(false, true)
		return
	}
	log.Msg("failed to process event, scheduled for retry")
	ack.Ack(false)
}

func (c *Consumer) publishRetry(ctx context.Context, body []byte, retries int) error {
	return c.rmq.Channel().PublishWithContext(ctx,
		"",          // default exchange
		c.queueName, // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      amqp.Table{RetryHeader: int32(retries)},
			Body:         body,
		},
	)
}

func retryCount(headers amqp.Table) int {
	switch n := headers[RetryHeader].(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
