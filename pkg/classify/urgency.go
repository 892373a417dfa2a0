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

// UrgencyDecision is the outcome of ClassifyUrgency. Clamped reports that
// the model answered outside 1..5; Defaulted that no usable answer arrived.
type UrgencyDecision struct {
	Level        int
	Rationale    string
	ResponseTime string
	Actions      []string
	Clamped      bool
	Defaulted    bool
}

type urgencyResponse struct {
	UrgencyLevel          *float64 `json:"urgency_level" jsonschema_description:"Integer urgency from 1 (minimal) to 5 (critical)"`
	Rationale             string   `json:"rationale" jsonschema_description:"Why this urgency level was chosen"`
	EstimatedResponseTime string   `json:"estimated_response_time" jsonschema_description:"Expected response time band"`
	RecommendedActions    []string `json:"recommended_actions" jsonschema_description:"Recommended dispatcher actions"`

	level   int
	raw     float64
	clamped bool
}

func (r *urgencyResponse) validate() error {
	if r.UrgencyLevel == nil {
		return common.Malformed("urgency_level is missing")
	}
	raw := *r.UrgencyLevel
	if math.IsNaN(raw) {
		return common.Malformed("urgency_level %v is not a number", raw)
	}
	r.raw = raw
	r.level, r.clamped = ClampUrgency(raw)
	return nil
}

// ClampUrgency rounds raw to the nearest integer and clamps it into
// [common.MinUrgency, common.MaxUrgency]. It reports whether clamping was
// needed. Infinite and huge values clamp like any other.
func ClampUrgency(raw float64) (int, bool) {
	level := math.Round(raw)
	switch {
	case level < common.MinUrgency:
		return common.MinUrgency, true
	case level > common.MaxUrgency:
		return common.MaxUrgency, true
	}
	return int(level), false
}

type UrgencyClassifier struct {
	c *caller
}

func NewUrgencyClassifier(gen ai.StructuredGenerator, params Params) (*UrgencyClassifier, error) {
	c, err := newCaller(gen, params)
	if err != nil {
		return nil, err
	}
	return &UrgencyClassifier{c: c}, nil
}

// ClassifyUrgency rates report for the already decided services. Levels
// outside 1..5 are clamped and logged; unusable answers default to
// common.DefaultUrgency after one stricter retry.
func (u *UrgencyClassifier) ClassifyUrgency(ctx context.Context, report string, rc common.RetrievedContext, types []common.EmergencyType) (UrgencyDecision, error) {
	labels := make([]string, len(types))
	for i, t := range types {
		labels[i] = string(t)
	}
	prompt := fmt.Sprintf(UrgencyPrompt, strings.Join(labels, ", "), contextBlock(rc), strings.TrimSpace(report))

	resp, defaulted, err := structured[urgencyResponse](ctx, u.c,
		"emergency_urgency",
		"Urgency level of a report",
		prompt,
	)
	if err != nil {
		return UrgencyDecision{}, err
	}
	if defaulted {
		logger.Warn("[Classify] Urgency defaulted", "level", common.DefaultUrgency)
		return UrgencyDecision{Level: common.DefaultUrgency, Defaulted: true}, nil
	}
	if resp.clamped {
		logger.Warn("[Classify] Urgency level out of range, clamped", "raw", resp.raw, "level", resp.level)
	}

	return UrgencyDecision{
		Level:        resp.level,
		Rationale:    strings.TrimSpace(resp.Rationale),
		ResponseTime: strings.TrimSpace(resp.EstimatedResponseTime),
		Actions:      compact(resp.RecommendedActions),
		Clamped:      resp.clamped,
	}, nil
}
