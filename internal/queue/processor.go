package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/triage/internal/gateway"
	"github.com/OFFIS-RIT/triage/internal/tickets"
	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/loader"
	"github.com/OFFIS-RIT/triage/pkg/logger"
)

var ErrBadMessage = errors.New("malformed queue message")

type Engine interface {
	IngestDocument(ctx context.Context, doc common.Document) (int, error)
	RemoveDocument(ctx context.Context, sourceID string) (int, error)
	Classify(ctx context.Context, report string) (common.ClassificationResult, error)
}

// Sources resolves an archived original to a loadable file.
type Sources interface {
	Source(path string) loader.SourceFile
}

// Processor executes jobs. Gateway, Sources and Events are optional.
type Processor struct {
	Engine  Engine
	Tickets tickets.Repository
	Gateway *gateway.Service
	Sources Sources
	Events  Channel
}

// Permanent reports whether retrying err cannot help.
func Permanent(err error) bool {
	return errors.Is(err, ErrBadMessage) || errors.Is(err, common.ErrConfiguration)
}

// Handle runs the job in body taken from queueName.
func (p *Processor) Handle(ctx context.Context, queueName string, body []byte) error {
	switch queueName {
	case IngestQueue:
		var job IngestJob
		if err := json.Unmarshal(body, &job); err != nil {
			return fmt.Errorf("%w: %v", ErrBadMessage, err)
		}
		return p.ingest(ctx, job)
	case ClassifyQueue:
		var job ClassifyJob
		if err := json.Unmarshal(body, &job); err != nil {
			return fmt.Errorf("%w: %v", ErrBadMessage, err)
		}
		return p.classify(ctx, job)
	}
	return fmt.Errorf("%w: unknown queue %q", ErrBadMessage, queueName)
}

func (p *Processor) ingest(ctx context.Context, job IngestJob) error {
	if strings.TrimSpace(job.SourceID) == "" {
		return fmt.Errorf("%w: ingest job without source_id", ErrBadMessage)
	}

	if job.Remove {
		n, err := p.Engine.RemoveDocument(ctx, job.SourceID)
		if err != nil {
			return err
		}
		p.publish(ctx, TopicIngested, IngestedEvent{SourceID: job.SourceID, Chunks: n, Removed: true})
		return nil
	}

	doc, err := p.document(ctx, job)
	if err != nil {
		return err
	}
	n, err := p.Engine.IngestDocument(ctx, doc)
	if err != nil {
		return err
	}
	logger.Info("[Queue] Document ingested", "source_id", job.SourceID, "chunks", n)
	p.publish(ctx, TopicIngested, IngestedEvent{SourceID: job.SourceID, Chunks: n})
	return nil
}

func (p *Processor) document(ctx context.Context, job IngestJob) (common.Document, error) {
	if job.Key == "" {
		return common.Document{SourceID: job.SourceID, Title: job.Title, Category: job.Category, Text: job.Text}, nil
	}
	if p.Sources == nil {
		return common.Document{}, common.ConfigError("ingest job %s references %s but no document storage is configured", job.SourceID, job.Key)
	}
	src := p.Sources.Source(job.Key)
	src.ID = job.SourceID
	if job.Title != "" {
		src.Title = job.Title
	}
	src.Category = job.Category
	return src.Document(ctx)
}

func (p *Processor) classify(ctx context.Context, job ClassifyJob) error {
	var (
		ticket tickets.Ticket
		err    error
	)
	switch {
	case job.Message != nil:
		if p.Gateway == nil {
			return common.ConfigError("classify job %s carries a gateway message but no gateway is configured", job.CorrelationID)
		}
		ticket, err = p.Gateway.Handle(ctx, *job.Message)
	case strings.TrimSpace(job.Report) != "":
		var result common.ClassificationResult
		result, err = p.Engine.Classify(ctx, job.Report)
		if err == nil {
			ticket, err = p.Tickets.Create(ctx, result, job.Reporter)
		}
	default:
		return fmt.Errorf("%w: classify job without report", ErrBadMessage)
	}
	if err != nil {
		return err
	}

	p.publish(ctx, TopicClassified, ClassifiedEvent{CorrelationID: job.CorrelationID, Ticket: ticket})
	return nil
}

// publish reports events best effort: the work is done and must not be
// retried because a notification failed.
func (p *Processor) publish(ctx context.Context, topic string, v any) {
	if p.Events == nil {
		return
	}
	if err := PublishEvent(ctx, p.Events, topic, v); err != nil {
		logger.Warn("[Queue] Failed to publish event", "topic", topic, "err", err)
	}
}
