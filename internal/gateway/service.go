package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/triage/internal/tickets"
	"github.com/OFFIS-RIT/triage/pkg/ai"
	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/logger"
	"github.com/OFFIS-RIT/triage/pkg/triage"
)

const ChannelWhatsApp = "whatsapp"

type Classifier interface {
	Classify(ctx context.Context, report string) (common.ClassificationResult, error)
}

type Messenger interface {
	SendText(ctx context.Context, number, text string) error
	MediaBase64(ctx context.Context, messageID string) ([]byte, error)
}

type ServiceParams struct {
	Classifier  Classifier
	Transcriber ai.Transcriber
	Messenger   Messenger
	Tickets     tickets.Repository
	// Language of voice notes, "pt" when empty.
	Language string
}

// Service turns an inbound message into a ticket and answers the reporter.
type Service struct {
	params ServiceParams
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Classifier == nil || params.Tickets == nil {
		return nil, common.ConfigError("gateway service needs a classifier and a ticket store")
	}
	if params.Language == "" {
		params.Language = "pt"
	}
	return &Service{params: params}, nil
}

// Report returns the text of msg, transcribing voice notes.
func (s *Service) Report(ctx context.Context, msg Message) (string, error) {
	if msg.Kind != KindAudio {
		return strings.TrimSpace(msg.Text), nil
	}
	if s.params.Messenger == nil || s.params.Transcriber == nil {
		return "", common.ConfigError("voice notes need a gateway client and a transcription model")
	}
	audio, err := s.params.Messenger.MediaBase64(ctx, msg.ID)
	if err != nil {
		return "", fmt.Errorf("fetch audio %s: %w", msg.ID, err)
	}
	text, err := s.params.Transcriber.GenerateAudioTranscription(ctx, audio, s.params.Language)
	if err != nil {
		return "", fmt.Errorf("transcribe audio %s: %w", msg.ID, err)
	}
	return strings.TrimSpace(text), nil
}

// Handle classifies msg, stores the ticket and replies to the reporter. A
// failed reply is logged; the ticket is still returned.
func (s *Service) Handle(ctx context.Context, msg Message) (tickets.Ticket, error) {
	report, err := s.Report(ctx, msg)
	if err != nil {
		return tickets.Ticket{}, err
	}
	if report == "" {
		return tickets.Ticket{}, fmt.Errorf("message %s has no content", msg.ID)
	}

	result, err := s.params.Classifier.Classify(ctx, report)
	if err != nil {
		return tickets.Ticket{}, err
	}
	ticket, err := s.params.Tickets.Create(ctx, result, tickets.Reporter{Phone: msg.Phone, Channel: ChannelWhatsApp})
	if err != nil {
		return tickets.Ticket{}, err
	}
	logger.Info("[Gateway] Occurrence created",
		"id", ticket.ID,
		"types", ticket.EmergencyTypes,
		"urgency", ticket.UrgencyLevel,
		"needs_review", ticket.NeedsReview,
	)

	if s.params.Messenger != nil && msg.Phone != "" {
		if err := s.params.Messenger.SendText(ctx, msg.Phone, triage.Reply(result)); err != nil {
			logger.Warn("[Gateway] Reply failed", "id", ticket.ID, "err", err)
		}
	}
	return ticket, nil
}
