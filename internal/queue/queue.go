// Package queue moves ingestion and classification work through RabbitMQ.
//
// Every work queue has a _retry queue that dead-letters back into it after
// a delay, and a _dlq queue for messages that ran out of retries.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/triage/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	IngestQueue   = "ingest_queue"
	ClassifyQueue = "classify_queue"

	EventsExchange  = "triage_events"
	TopicClassified = "triage.classified"
	TopicIngested   = "triage.ingested"

	retryDelay = 10 * time.Second
)

// WorkQueues lists the queues the worker consumes.
var WorkQueues = []string{IngestQueue, ClassifyQueue}

// Channel is the part of *amqp091.Channel used for declaring and publishing.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

func Dial(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// Setup declares the events exchange and every work queue with its retry
// and dead letter queues.
func Setup(ch Channel) error {
	if err := ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", EventsExchange, err)
	}

	for _, name := range WorkQueues {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
		if _, err := ch.QueueDeclare(DeadLetterQueue(name), true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", DeadLetterQueue(name), err)
		}
		_, err := ch.QueueDeclare(RetryQueue(name), true, false, false, false, amqp091.Table{
			"x-message-ttl":             int32(retryDelay / time.Millisecond),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": name,
		})
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", RetryQueue(name), err)
		}
	}
	logger.Debug("[Queue] Declared queues", "queues", WorkQueues)
	return nil
}

func RetryQueue(name string) string      { return name + "_retry" }
func DeadLetterQueue(name string) string { return name + "_dlq" }

// PublishJob sends v as a persistent JSON message to a work queue.
func PublishJob(ctx context.Context, ch Channel, queueName string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, "", queueName, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}

// PublishEvent sends v to the events exchange under topic.
func PublishEvent(ctx context.Context, ch Channel, topic string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, EventsExchange, topic, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}
