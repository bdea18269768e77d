package rabbitmq

import (
	"context"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"marketplace-chat/internal/models"
)

const (
	attemptHeader = "x-repair-attempt"

	// MaxRepairAttempts bounds how often one task is tried before it is dropped.
	MaxRepairAttempts = 5

	baseRetryDelay = 5 * time.Second
	maxRetryDelay  = 5 * time.Minute
)

// RetryDelay is how long a task waits before attempt number attempt. It
// doubles per attempt and is capped at maxRetryDelay.
func RetryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := baseRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func retryQueueName(queue string, attempt int) string {
	return queue + ".retry." + strconv.Itoa(attempt)
}

// queueDeclarer is the part of *amqp.Channel used to declare the topology.
type queueDeclarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// declareRepairTopology declares the work queue and one delay queue per retry.
// A delay queue has no consumer: its messages expire after RetryDelay(n) and
// are dead-lettered back to the work queue's routing key.
func declareRepairTopology(ch queueDeclarer, exchange, queue string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, queue, exchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", queue, err)
	}

	for attempt := 1; attempt < MaxRepairAttempts; attempt++ {
		name := retryQueueName(queue, attempt)
		args := amqp.Table{
			"x-message-ttl":             RetryDelay(attempt).Milliseconds(),
			"x-dead-letter-exchange":    exchange,
			"x-dead-letter-routing-key": queue,
		}
		if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}
		if err := ch.QueueBind(name, name, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
	}
	return nil
}

// DeclareRepairTopology declares the repair queues on a short-lived channel so
// tasks published before the consumer starts are not dropped by the exchange.
func DeclareRepairTopology(conn *amqp.Connection, exchange, queue string) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return declareRepairTopology(ch, exchange, queue)
}

// RepairQueue schedules rewrites of message copies that failed during a send.
// First attempts go straight to the work queue; retries go through the delay
// queue of their attempt.
type RepairQueue struct {
	publisher Publisher
	queue     string
}

func NewRepairQueue(publisher Publisher, queue string) *RepairQueue {
	return &RepairQueue{publisher: publisher, queue: queue}
}

func (q *RepairQueue) Enqueue(ctx context.Context, task models.RepairTask) error {
	headers := map[string]string{
		attemptHeader: strconv.Itoa(task.Attempt),
		"x-owner":     task.Owner,
	}
	return q.publisher.Publish(ctx, q.routingKey(task.Attempt), task, headers)
}

func (q *RepairQueue) routingKey(attempt int) string {
	switch {
	case attempt <= 0:
		return q.queue
	case attempt >= MaxRepairAttempts:
		return retryQueueName(q.queue, MaxRepairAttempts-1)
	default:
		return retryQueueName(q.queue, attempt)
	}
}
