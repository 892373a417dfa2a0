package common

import (
	"time"

	"github.com/google/uuid"
)

// EmergencyType is a responding-service category a report is routed to.
type EmergencyType string

const (
	EmergencyMedical      EmergencyType = "medical"
	EmergencyPolice       EmergencyType = "police"
	EmergencyFire         EmergencyType = "fire"
	EmergencyUnclassified EmergencyType = "unclassified"
)

// EmergencyLabels is the closed label set offered to the type classifier.
var EmergencyLabels = []EmergencyType{EmergencyMedical, EmergencyPolice, EmergencyFire}

// ParseEmergencyType maps a model label onto the closed label set. The
// Brazilian service names (SAMU, bombeiros, policia) are accepted as
// aliases.
func ParseEmergencyType(label string) (EmergencyType, bool) {
	switch normalizeLabel(label) {
	case "medical", "medico", "samu", "ambulance", "health", "saude":
		return EmergencyMedical, true
	case "police", "policia", "pm":
		return EmergencyPolice, true
	case "fire", "bombeiro", "bombeiros", "firefighters", "incendio":
		return EmergencyFire, true
	}
	return "", false
}

// Document is a knowledge base source. Re-ingesting a document with the
// same SourceID replaces the previous version.
type Document struct {
	SourceID   string    `json:"source_id"`
	Title      string    `json:"title,omitempty"`
	Text       string    `json:"raw_text"`
	Category   string    `json:"category,omitempty"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Chunk is a contiguous slice of a document's text. CharStart and CharEnd
// are character (rune) offsets into the document text, end exclusive.
// SourceID is a back-reference to the document, never an owning pointer.
type Chunk struct {
	ID        string `json:"chunk_id"`
	SourceID  string `json:"document_source_id"`
	Category  string `json:"category,omitempty"`
	Text      string `json:"text"`
	Position  int    `json:"position_index"`
	CharStart int    `json:"char_start"`
	CharEnd   int    `json:"char_end"`
}

// Len returns the number of characters covered by the chunk.
func (c Chunk) Len() int {
	return c.CharEnd - c.CharStart
}

// RetrievedChunk pairs a chunk with its similarity to the query.
type RetrievedChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// RetrievedContext is the per-request, never persisted result of context
// assembly. Chunks holds only the chunks actually packed into Text.
type RetrievedContext struct {
	Query     string           `json:"query"`
	Chunks    []RetrievedChunk `json:"chunks"`
	Text      string           `json:"text"`
	Truncated bool             `json:"truncated"`
	// Considered is the number of chunks returned by the index before packing.
	Considered int `json:"considered"`
	// Tokens estimates the size of Text for the chat model, 0 if not counted.
	Tokens int `json:"tokens,omitempty"`
}

// Empty reports whether no knowledge base text is available.
func (c RetrievedContext) Empty() bool {
	return len(c.Chunks) == 0 || c.Text == ""
}

// Stage is a state of the classification state machine.
type Stage string

const (
	StageRetrieving Stage = "RETRIEVING"
	StageTyping     Stage = "TYPING"
	StageScoring    Stage = "SCORING"
	StageDone       Stage = "DONE"
	StageFailed     Stage = "FAILED"
)

// ClassificationResult is the immutable decision record produced for one
// incoming report.
type ClassificationResult struct {
	ID               uuid.UUID       `json:"id"`
	EmergencyTypes   []EmergencyType `json:"emergency_types"`
	UrgencyLevel     int             `json:"urgency_level"`
	ConfidenceScore  float64         `json:"confidence_score"`
	SituationSummary string          `json:"situation_summary"`
	SourceReport     string          `json:"source_report"`

	Rationale        string   `json:"rationale,omitempty"`
	UrgencyRationale string   `json:"urgency_rationale,omitempty"`
	SuggestedActions []string `json:"suggested_actions,omitempty"`
	ResponseTime     string   `json:"response_time,omitempty"`

	NeedsReview bool      `json:"needs_review"`
	State       Stage     `json:"state"`
	FailedStage Stage     `json:"failed_stage,omitempty"`
	ContextUsed int       `json:"context_chunks"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasType reports whether t is among the result's emergency types.
func (r ClassificationResult) HasType(t EmergencyType) bool {
	for _, et := range r.EmergencyTypes {
		if et == t {
			return true
		}
	}
	return false
}

// Fallback returns the best-effort result for a report that could not be
// classified: unclassified, neutral urgency, flagged for human review.
func Fallback(report string, failed Stage) ClassificationResult {
	return ClassificationResult{
		ID:               uuid.New(),
		EmergencyTypes:   []EmergencyType{EmergencyUnclassified},
		UrgencyLevel:     DefaultUrgency,
		ConfidenceScore:  0,
		SituationSummary: report,
		SourceReport:     report,
		NeedsReview:      true,
		State:            StageFailed,
		FailedStage:      failed,
		CreatedAt:        time.Now().UTC(),
	}
}

const (
	MinUrgency     = 1
	MaxUrgency     = 5
	DefaultUrgency = 3
)
