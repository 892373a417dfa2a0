package queue

import (
	"context"

	"github.com/OFFIS-RIT/triage/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// MaxRetries is how often a message goes through the retry queue before it
// is dead-lettered.
const MaxRetries = 10

const retriesHeader = "x-retries"

// Retries reads the retry count of a delivery.
func Retries(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// HandleFailure routes a failed delivery to the retry queue of queueName, or
// to its dead letter queue when permanent is set or retries ran out. The
// delivery is acked once the copy is published and requeued otherwise.
func HandleFailure(ctx context.Context, ch Channel, msg amqp091.Delivery, queueName string, cause error, permanent bool) {
	retries := Retries(msg.Headers)
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if cause != nil {
		headers["x-error"] = cause.Error()
	}

	target := RetryQueue(queueName)
	if permanent || retries >= MaxRetries {
		target = DeadLetterQueue(queueName)
	} else {
		headers[retriesHeader] = int32(retries + 1)
	}

	err := ch.PublishWithContext(ctx, "", target, false, false, amqp091.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
	})
	if err != nil {
		logger.Error("[Queue] Failed to publish failed message", "queue", target, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	if target == DeadLetterQueue(queueName) {
		logger.Warn("[Queue] Message dead-lettered", "queue", queueName, "retries", retries, "err", cause)
	} else {
		logger.Info("[Queue] Message scheduled for retry", "queue", queueName, "retry", retries+1)
	}
	_ = msg.Ack(false)
}
