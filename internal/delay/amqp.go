package delay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue names.
const (
	// DueQueue receives executions whose wait has elapsed.
	DueQueue = "race-alerts.due"
	// waitQueuePrefix + wait seconds names the holding queue for one wait.
	waitQueuePrefix = "race-alerts.wait."

	messageType = "race-alerts.notification"
	headerName  = "execution_name"

	// Idle wait queues are removed this long after their messages expire.
	waitQueueGrace = 5 * time.Minute
)

// publishChannel is the subset of *amqp.Channel the starter uses.
type publishChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// consumeChannel is the subset of *amqp.Channel the consumer uses.
type consumeChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Dial opens a connection and channel to RabbitMQ.
func Dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}

// SetupTopology declares the due queue. Wait queues are declared on demand.
func SetupTopology(ch publishChannel) error {
	_, err := ch.QueueDeclare(
		DueQueue, // name
		true,     // durable
		false,    // delete when unused
		false,    // exclusive
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", DueQueue, err)
	}
	return nil
}

// AMQPStarter delays executions with RabbitMQ dead-lettering: the payload is
// published to a queue whose message TTL equals the wait, and expired
// messages are routed to DueQueue. One wait queue exists per distinct wait so
// a long TTL never holds back a shorter one.
//
// RabbitMQ does not enforce name uniqueness; wrap with Deduplicated.
type AMQPStarter struct {
	ch     publishChannel
	logger *slog.Logger
}

// NewAMQPStarter creates an AMQPStarter on an open channel.
func NewAMQPStarter(ch publishChannel, logger *slog.Logger) *AMQPStarter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPStarter{ch: ch, logger: logger}
}

// Start publishes the payload to the wait queue for waitSeconds.
func (s *AMQPStarter) Start(ctx context.Context, name string, waitSeconds int64, payload json.RawMessage) error {
	queue := DueQueue
	if waitSeconds > 0 {
		q, err := s.declareWaitQueue(waitSeconds)
		if err != nil {
			return err
		}
		queue = q
	}

	msgID := uuid.NewString()
	err := s.ch.PublishWithContext(
		ctx,
		"",    // default exchange
		queue, // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msgID,
			Type:         messageType,
			Timestamp:    time.Now().UTC(),
			Headers:      amqp.Table{headerName: name},
			Body:         payload,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", name, queue, err)
	}

	s.logger.Debug("published execution",
		"name", name, "queue", queue, "message_id", msgID, "wait_seconds", waitSeconds)
	return nil
}

func (s *AMQPStarter) declareWaitQueue(waitSeconds int64) (string, error) {
	name := waitQueueName(waitSeconds)
	ttl := waitSeconds * 1000
	_, err := s.ch.QueueDeclare(
		name,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-message-ttl":             ttl,
			"x-expires":                 ttl + waitQueueGrace.Milliseconds(),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": DueQueue,
		},
	)
	if err != nil {
		return "", fmt.Errorf("declare queue %s: %w", name, err)
	}
	return name, nil
}

func waitQueueName(waitSeconds int64) string {
	return waitQueuePrefix + strconv.FormatInt(waitSeconds, 10)
}

// --------------------------------------------------------------------------
// Consumer
// --------------------------------------------------------------------------

// Consumer dispatches deliveries from DueQueue. Successful dispatches are
// acked; failed ones are rejected without requeue, matching the Postgres
// worker's no-retry policy.
type Consumer struct {
	ch         consumeChannel
	queue      string
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewConsumer creates a Consumer for DueQueue.
func NewConsumer(ch consumeChannel, dispatcher Dispatcher, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{ch: ch, queue: DueQueue, dispatcher: dispatcher, logger: logger}
}

// Run consumes until ctx is cancelled or the delivery channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := c.ch.Consume(
		c.queue, // queue
		"",      // consumer tag (auto-generated)
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	c.logger.Info("Delayed execution consumer started", "queue", c.queue)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Delayed execution consumer stopped")
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	name, _ := d.Headers[headerName].(string)
	result := c.dispatcher.Dispatch(ctx, d.Body)
	if !result.OK() {
		c.logger.Warn("execution failed",
			"name", name, "message_id", d.MessageId, "status", result.StatusCode, "body", result.Body)
		if err := d.Reject(false); err != nil {
			c.logger.Warn("reject delivery", "name", name, "error", err)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		c.logger.Warn("ack delivery", "name", name, "error", err)
	}
}
