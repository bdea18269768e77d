package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"marketplace-chat/internal/models"
	"marketplace-chat/internal/service"
)

const prefetchCount = 10

// RepairHandler applies a repair task.
type RepairHandler interface {
	Repair(ctx context.Context, task models.RepairTask) error
}

// Enqueuer reschedules a task for another attempt.
type Enqueuer interface {
	Enqueue(ctx context.Context, task models.RepairTask) error
}

// RepairConsumer drains the repair queue. Failed tasks are re-published with an
// incremented attempt through the delay queues until MaxAttempts, then dropped.
type RepairConsumer struct {
	conn        *amqp.Connection
	exchange    string
	queue       string
	handler     RepairHandler
	retry       Enqueuer
	logger      *zap.Logger
	MaxAttempts int
}

func NewRepairConsumer(conn *amqp.Connection, exchange, queue string, handler RepairHandler, retry Enqueuer, logger *zap.Logger) *RepairConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RepairConsumer{
		conn:        conn,
		exchange:    exchange,
		queue:       queue,
		handler:     handler,
		retry:       retry,
		logger:      logger,
		MaxAttempts: MaxRepairAttempts,
	}
}

// Run consumes until ctx is cancelled or the channel closes.
func (c *RepairConsumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := declareRepairTopology(ch, c.exchange, c.queue); err != nil {
		return err
	}
	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		return err
	}
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	c.logger.Info("repair consumer started", zap.String("queue", c.queue))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("repair delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *RepairConsumer) handle(ctx context.Context, d amqp.Delivery) {
	var task models.RepairTask
	if err := json.Unmarshal(d.Body, &task); err != nil {
		c.logger.Error("malformed repair task dropped", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	err := c.handler.Repair(ctx, task)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	fields := []zap.Field{
		zap.String("owner", task.Owner),
		zap.String("counterpart", task.Counterpart),
		zap.String("message_id", task.Message.ID),
		zap.Int("attempt", task.Attempt),
		zap.Error(err),
	}
	if errors.Is(err, service.ErrValidation) || task.Attempt+1 >= c.MaxAttempts {
		c.logger.Error("repair task dropped", fields...)
		_ = d.Nack(false, false)
		return
	}

	task.Attempt++
	if rerr := c.retry.Enqueue(ctx, task); rerr != nil {
		c.logger.Warn("repair retry not published, requeueing", append(fields, zap.NamedError("retry_error", rerr))...)
		_ = d.Nack(false, true)
		return
	}
	c.logger.Warn("repair failed, retry scheduled", append(fields, zap.Duration("delay", RetryDelay(task.Attempt)))...)
	_ = d.Ack(false)
}
