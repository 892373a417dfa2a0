package classify

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/OFFIS-RIT/triage/pkg/ai"
	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/logger"
)

// TypeDecision is the outcome of ClassifyType. Defaulted marks the
// conservative fallback used after two malformed answers.
type TypeDecision struct {
	Types            []common.EmergencyType
	Confidence       float64
	Summary          string
	Rationale        string
	SuggestedActions []string
	Defaulted        bool
}

type typeResponse struct {
	EmergencyTypes   []string `json:"emergency_types" jsonschema_description:"Services to dispatch: medical or police or fire"`
	ConfidenceScore  *float64 `json:"confidence_score" jsonschema_description:"Certainty between 0.0 and 1.0"`
	SituationSummary string   `json:"situation_summary" jsonschema_description:"One sentence summary of the situation"`
	Rationale        string   `json:"rationale" jsonschema_description:"Why these services were selected"`
	SuggestedActions []string `json:"suggested_actions" jsonschema_description:"Practical actions for the caller or dispatcher"`

	types []common.EmergencyType
}

func (r *typeResponse) validate() error {
	if r.ConfidenceScore == nil {
		return common.Malformed("confidence_score is missing")
	}
	c := *r.ConfidenceScore
	if math.IsNaN(c) || c < 0 || c > 1 {
		return common.Malformed("confidence_score %v is outside [0, 1]", c)
	}
	if len(r.EmergencyTypes) == 0 {
		return common.Malformed("emergency_types is empty")
	}

	seen := make(map[common.EmergencyType]bool, len(r.EmergencyTypes))
	r.types = r.types[:0]
	for _, label := range r.EmergencyTypes {
		t, ok := common.ParseEmergencyType(label)
		if !ok || t == common.EmergencyUnclassified {
			return common.Malformed("unknown emergency type %q", label)
		}
		if !seen[t] {
			seen[t] = true
			r.types = append(r.types, t)
		}
	}
	return nil
}

type TypeClassifier struct {
	c *caller
}

func NewTypeClassifier(gen ai.StructuredGenerator, params Params) (*TypeClassifier, error) {
	c, err := newCaller(gen, params)
	if err != nil {
		return nil, err
	}
	return &TypeClassifier{c: c}, nil
}

// ClassifyType selects the services report needs. An empty rc is allowed;
// the model then works from the report alone. Malformed answers never
// produce an error: after one stricter retry the decision defaults to
// unclassified with confidence 0.
func (t *TypeClassifier) ClassifyType(ctx context.Context, report string, rc common.RetrievedContext) (TypeDecision, error) {
	prompt := fmt.Sprintf(TypePrompt, contextBlock(rc), strings.TrimSpace(report))

	resp, defaulted, err := structured[typeResponse](ctx, t.c,
		"emergency_type",
		"Emergency services required by a report",
		prompt,
	)
	if err != nil {
		return TypeDecision{}, err
	}
	if defaulted {
		logger.Warn("[Classify] Emergency type defaulted to unclassified")
		return TypeDecision{
			Types:     []common.EmergencyType{common.EmergencyUnclassified},
			Defaulted: true,
		}, nil
	}

	return TypeDecision{
		Types:            resp.types,
		Confidence:       *resp.ConfidenceScore,
		Summary:          strings.TrimSpace(resp.SituationSummary),
		Rationale:        strings.TrimSpace(resp.Rationale),
		SuggestedActions: compact(resp.SuggestedActions),
	}, nil
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
