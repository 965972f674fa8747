package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	amqplib "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Harsh-BH/brewgate/internal/domain"
)

const (
	// Reconnection parameters
	maxReconnectDelay  = 30 * time.Second
	baseReconnectDelay = 1 * time.Second

	replyTimeout = 10 * time.Second
)

// Consumer listens to RabbitMQ and dispatches JobMessage (with ACK and reply
// callbacks) to a channel.
type Consumer struct {
	url     string
	queue   string
	conn    *amqplib.Connection
	channel *amqplib.Channel
	logger  *zap.Logger
	jobs    chan<- *domain.JobMessage

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

// NewConsumer creates a new RabbitMQ consumer. Deliveries are not ACKed on
// dispatch: the worker pool ACKs, NACKs or replies once the tool has run.
func NewConsumer(url, queue string, jobs chan<- *domain.JobMessage, logger *zap.Logger) (*Consumer, error) {
	c := &Consumer{
		url:     url,
		queue:   queue,
		logger:  logger,
		jobs:    jobs,
		closeCh: make(chan struct{}),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Consumer) deadLetterExchange() string { return "dlx." + c.queue }
func (c *Consumer) deadLetterQueue() string    { return c.queue + ".dlq" }

// connect establishes the AMQP connection and channel with prefetch=1 and
// declares the request queue together with its dead-letter queue.
func (c *Consumer) connect() error {
	conn, err := amqplib.Dial(c.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	fail := func(step string, err error) error {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp %s: %w", step, err)
	}

	// Obfuscation runs take seconds to minutes; one unacked delivery per consumer.
	if err := ch.Qos(1, 0, false); err != nil {
		return fail("qos", err)
	}

	if err := ch.ExchangeDeclare(c.deadLetterExchange(), "direct", true, false, false, false, nil); err != nil {
		return fail("dlx declare", err)
	}
	if _, err := ch.QueueDeclare(c.deadLetterQueue(), true, false, false, false, amqplib.Table{
		"x-queue-type": "quorum",
	}); err != nil {
		return fail("dlq declare", err)
	}
	if err := ch.QueueBind(c.deadLetterQueue(), c.deadLetterQueue(), c.deadLetterExchange(), false, nil); err != nil {
		return fail("dlq bind", err)
	}

	_, err = ch.QueueDeclare(
		c.queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqplib.Table{
			"x-queue-type":              "quorum",
			"x-dead-letter-exchange":    c.deadLetterExchange(),
			"x-dead-letter-routing-key": c.deadLetterQueue(),
		},
	)
	if err != nil {
		return fail("queue declare", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	return nil
}

// Start begins consuming messages. It blocks until the context is cancelled.
// On connection loss it automatically reconnects with exponential backoff.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if err == nil {
			return nil
		}

		select {
		case <-c.closeCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		c.logger.Warn("AMQP consumer lost connection, reconnecting...", zap.Error(err))

		for attempt := 0; ; attempt++ {
			delay := time.Duration(math.Min(
				float64(baseReconnectDelay)*math.Pow(2, float64(attempt)),
				float64(maxReconnectDelay),
			))
			c.logger.Info("Reconnect attempt",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)

			select {
			case <-c.closeCh:
				return nil
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}

			if err := c.connect(); err != nil {
				c.logger.Error("Reconnect failed", zap.Error(err))
				continue
			}

			c.logger.Info("Reconnected to RabbitMQ")
			break
		}
	}
}

// consume runs one consume session until the delivery channel closes or ctx is cancelled.
func (c *Consumer) consume(ctx context.Context) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()

	if ch == nil {
		return fmt.Errorf("channel is nil")
	}

	deliveries, err := ch.Consume(
		c.queue,
		"",    // auto-generated consumer tag
		false, // auto-ack disabled (manual ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}

	c.logger.Info("AMQP consumer started", zap.String("queue", c.queue))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("AMQP consumer stopping (context cancelled)")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			req, err := decodeRequest(delivery.Body)
			if err != nil {
				c.logger.Error("Rejecting malformed request",
					zap.Error(err),
					zap.Int("body_size", len(delivery.Body)),
				)
				delivery.Nack(false, false) // reject → DLQ
				continue
			}

			c.logger.Debug("Received request from queue",
				zap.String("request_id", req.RequestID),
				zap.String("name", req.Name),
				zap.Int("size", len(req.Content)),
			)

			msg := newJobMessage(ch, delivery, req)

			// Blocks while every worker is busy; with prefetch=1 that is the back-pressure.
			select {
			case c.jobs <- msg:
			case <-ctx.Done():
				delivery.Nack(false, true)
				return nil
			}
		}
	}
}

// decodeRequest parses and validates a delivery body.
func decodeRequest(body []byte) (*domain.ObfuscationRequest, error) {
	var req domain.ObfuscationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// publisher is the part of *amqplib.Channel used to send replies.
type publisher interface {
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqplib.Publishing) error
}

func newJobMessage(ch publisher, delivery amqplib.Delivery, req *domain.ObfuscationRequest) *domain.JobMessage {
	tag := delivery.DeliveryTag

	msg := &domain.JobMessage{
		Request: req,
		Ack: func() error {
			return ch.Ack(tag, false)
		},
		Nack: func(requeue bool) error {
			return ch.Nack(tag, false, requeue)
		},
	}

	if delivery.ReplyTo == "" {
		return msg
	}

	replyTo := delivery.ReplyTo
	correlationID := delivery.CorrelationId
	if correlationID == "" {
		correlationID = req.RequestID
	}

	msg.Reply = func(ctx context.Context, result *domain.InvocationResult) error {
		body, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode reply: %w", err)
		}
		ctx, cancel := context.WithTimeout(ctx, replyTimeout)
		defer cancel()
		return ch.PublishWithContext(ctx, "", replyTo, false, false, amqplib.Publishing{
			ContentType:   "application/json",
			CorrelationId: correlationID,
			DeliveryMode:  amqplib.Persistent,
			Timestamp:     time.Now(),
			Body:          body,
		})
	}
	return msg
}

// Close gracefully shuts down the consumer.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closeCh)

	var firstErr error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
