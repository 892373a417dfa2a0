package queue

import (
	"github.com/OFFIS-RIT/triage/internal/gateway"
	"github.com/OFFIS-RIT/triage/internal/tickets"
)

// IngestJob adds, replaces or removes one knowledge base document. Text is
// ingested as is; otherwise Key names an archived original to load.
type IngestJob struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title,omitempty"`
	Category string `json:"category,omitempty"`
	Text     string `json:"text,omitempty"`
	Key      string `json:"key,omitempty"`
	Remove   bool   `json:"remove,omitempty"`
}

// ClassifyJob classifies one report. Message is set for reports that came
// in through the messaging gateway and need a reply.
type ClassifyJob struct {
	CorrelationID string           `json:"correlation_id"`
	Report        string           `json:"report,omitempty"`
	Reporter      tickets.Reporter `json:"reporter"`
	Message       *gateway.Message `json:"message,omitempty"`
}

// ClassifiedEvent is published on TopicClassified for every stored ticket.
type ClassifiedEvent struct {
	CorrelationID string         `json:"correlation_id,omitempty"`
	Ticket        tickets.Ticket `json:"ticket"`
}

// IngestedEvent is published on TopicIngested after an ingest job.
type IngestedEvent struct {
	SourceID string `json:"source_id"`
	Chunks   int    `json:"chunks"`
	Removed  bool   `json:"removed,omitempty"`
}
