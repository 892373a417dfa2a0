package ai

import (
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/triage/pkg/common"
)

type decision struct {
	Types      []string `json:"types"`
	Confidence float64  `json:"confidence"`
}

func TestUnmarshalFlexible_Variants(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  decision
	}{
		{
			name:  "valid json object",
			input: `{"types":["fire"],"confidence":0.9}`,
			want:  decision{Types: []string{"fire"}, Confidence: 0.9},
		},
		{
			name:  "unquoted keys and single quotes",
			input: `{types: ['police'], confidence: 0.5}`,
			want:  decision{Types: []string{"police"}, Confidence: 0.5},
		},
		{
			name:  "trailing comma",
			input: `{"types":["medical"],"confidence":1,}`,
			want:  decision{Types: []string{"medical"}, Confidence: 1},
		},
		{
			name:  "missing end bracket",
			input: `{"types":["fire"],"confidence":0.7`,
			want:  decision{Types: []string{"fire"}, Confidence: 0.7},
		},
		{
			name:  "double encoded",
			input: `"{\"types\":[\"fire\"],\"confidence\":0.3}"`,
			want:  decision{Types: []string{"fire"}, Confidence: 0.3},
		},
		{
			name:  "markdown fence",
			input: "```json\n{\"types\":[\"police\",\"medical\"],\"confidence\":0.8}\n```",
			want:  decision{Types: []string{"police", "medical"}, Confidence: 0.8},
		},
		{
			name:  "duplicate leading brace",
			input: "{\n{\n  \"types\": [\"fire\"], \"confidence\": 0.2\n}\n",
			want:  decision{Types: []string{"fire"}, Confidence: 0.2},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got decision
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if strings.Join(got.Types, ",") != strings.Join(tc.want.Types, ",") || got.Confidence != tc.want.Confidence {
				t.Fatalf("UnmarshalFlexible() got = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestDecodeStructured_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: "   "},
		{name: "prose", input: "hello"},
		{name: "non-numeric confidence", input: `{"types":["fire"],"confidence":"high"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got decision
			err := DecodeStructured(tc.input, &got)
			if !errors.Is(err, common.ErrMalformedResponse) {
				t.Fatalf("expected ErrMalformedResponse, got %v", err)
			}
		})
	}
}

func TestSchemaJSON_ClosedObject(t *testing.T) {
	raw, err := SchemaJSON(&decision{})
	if err != nil {
		t.Fatalf("SchemaJSON() error = %v", err)
	}
	s := string(raw)
	for _, want := range []string{`"additionalProperties":false`, `"confidence"`, `"types"`} {
		if !strings.Contains(s, want) {
			t.Errorf("schema %s missing %s", s, want)
		}
	}
}

func TestMetricsTracker(t *testing.T) {
	var m MetricsTracker
	m.AddMetrics(ModelMetrics{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, DurationMs: 500})
	m.AddMetrics(ModelMetrics{InputTokens: 5, TotalTokens: 5, DurationMs: 500})

	got := m.GetMetrics()
	if got.TotalTokens != 20 || got.Requests != 2 || got.DurationMs != 1000 {
		t.Fatalf("unexpected metrics %+v", got)
	}
	if got.TokenPerSecond != 20 {
		t.Fatalf("TokenPerSecond = %v, want 20", got.TokenPerSecond)
	}

	m.ResetMetrics()
	if got := m.GetMetrics(); got != (ModelMetrics{}) {
		t.Fatalf("expected zero metrics after reset, got %+v", got)
	}
}
