package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/triage/pkg/ai"
	"github.com/OFFIS-RIT/triage/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/semaphore"
)

type delivery struct {
	msg       amqp091.Delivery
	queueName string
}

// ErrConsumerClosed is returned by Consume when the broker stops delivering
// to a work queue, typically because the connection dropped.
var ErrConsumerClosed = errors.New("consumer closed by broker")

// Consume processes messages from every work queue until ctx ends, running
// at most concurrency jobs at once. It returns ErrConsumerClosed as soon as
// any queue stops delivering. metrics, when set, is logged after each job.
func Consume(ctx context.Context, conn *amqp091.Connection, p *Processor, concurrency int, metrics ai.Client) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	if concurrency <= 0 {
		concurrency = 1
	}
	if err := ch.Qos(concurrency, 0, false); err != nil {
		return fmt.Errorf("set QoS: %w", err)
	}

	queues := make(map[string]<-chan amqp091.Delivery, len(WorkQueues))
	for _, name := range WorkQueues {
		msgs, err := ch.Consume(name, name+"_consumer", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", name, err)
		}
		queues[name] = msgs
	}
	return dispatch(ctx, ch, queues, p, concurrency, metrics)
}

// dispatch fans the per-queue delivery channels into a bounded pool of jobs.
func dispatch(ctx context.Context, ch Channel, queues map[string]<-chan amqp091.Delivery, p *Processor, concurrency int, metrics ai.Client) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	deliveries := make(chan delivery)
	closed := make(chan string, len(queues))
	for name, msgs := range queues {
		go func() {
			for msg := range msgs {
				select {
				case deliveries <- delivery{msg: msg, queueName: name}:
				case <-ctx.Done():
					return
				}
			}
			closed <- name
		}()
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	drain := func() { _ = sem.Acquire(context.Background(), int64(concurrency)) }

	logger.Info("[Queue] Listening for messages", "queues", WorkQueues, "concurrency", concurrency)
	for {
		select {
		case <-ctx.Done():
			drain()
			return nil
		case name := <-closed:
			drain()
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("[Queue] Delivery channel closed", "queue", name)
			return fmt.Errorf("%w: %s", ErrConsumerClosed, name)
		case d := <-deliveries:
			if err := sem.Acquire(ctx, 1); err != nil {
				_ = d.msg.Nack(false, true)
				continue
			}
			go func() {
				defer sem.Release(1)
				process(ctx, ch, p, d, metrics)
			}()
		}
	}
}

func process(ctx context.Context, ch Channel, p *Processor, d delivery, metrics ai.Client) {
	start := time.Now()
	logger.Debug("[Queue] Received message", "queue", d.queueName)

	err := p.Handle(ctx, d.queueName, d.msg.Body)
	switch {
	case err == nil:
		if ackErr := d.msg.Ack(false); ackErr != nil {
			logger.Error("[Queue] Failed to ack message", "err", ackErr)
		}
		logger.Info("[Queue] Message processed", "queue", d.queueName, "duration", time.Since(start).Round(time.Millisecond))
	case ctx.Err() != nil:
		_ = d.msg.Nack(false, true)
		return
	default:
		logger.Error("[Queue] Error processing message", "queue", d.queueName, "err", err)
		HandleFailure(ctx, ch, d.msg, d.queueName, err, Permanent(err))
	}

	// Jobs overlap when concurrency > 1, so the counters are process totals
	// and are never reset per job.
	if metrics != nil {
		m := metrics.GetMetrics()
		logger.Debug("[Queue] AI usage since start",
			"requests", m.Requests,
			"input_tokens", m.InputTokens,
			"output_tokens", m.OutputTokens,
			"total_tokens", m.TotalTokens,
			"duration", (time.Duration(m.DurationMs) * time.Millisecond).Round(time.Millisecond),
		)
	}
}
