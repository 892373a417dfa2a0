package common

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestParseEmergencyType(t *testing.T) {
	tests := []struct {
		label string
		want  EmergencyType
		ok    bool
	}{
		{"fire", EmergencyFire, true},
		{" Bombeiros ", EmergencyFire, true},
		{"Incêndio", EmergencyFire, true},
		{"SAMU", EmergencyMedical, true},
		{"médico", EmergencyMedical, true},
		{"Polícia", EmergencyPolice, true},
		{"unclassified", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := ParseEmergencyType(tt.label)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("ParseEmergencyType(%q) = %q, %v", tt.label, got, ok)
			}
		})
	}
}

func TestServiceErrors(t *testing.T) {
	transport := errors.New("connection reset")

	err := EmbeddingError(transport)
	if !errors.Is(err, ErrEmbeddingService) || !errors.Is(err, transport) {
		t.Fatalf("EmbeddingError() = %v", err)
	}
	if err := ModelError(transport); !errors.Is(err, ErrModelService) || errors.Is(err, ErrEmbeddingService) {
		t.Fatalf("ModelError() = %v", err)
	}

	tests := []struct {
		name string
		err  error
	}{
		{"context", context.DeadlineExceeded},
		{"wrapped context", fmt.Errorf("call: %w", context.Canceled)},
		{"configuration", ConfigError("bad dim %d", 3)},
		{"malformed", Malformed("missing field %s", "urgency_level")},
		{"already wrapped", EmbeddingError(transport)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EmbeddingError(tt.err); got != tt.err {
				t.Fatalf("EmbeddingError(%v) = %v, want unchanged", tt.err, got)
			}
		})
	}

	if EmbeddingError(nil) != nil || ModelError(nil) != nil {
		t.Fatalf("nil errors must stay nil")
	}
}

func TestIngestionError(t *testing.T) {
	cause := errors.New("index down")
	err := IngestionError("fire-protocol", cause)
	if !errors.Is(err, ErrIngestionPartialFailure) || !errors.Is(err, cause) {
		t.Fatalf("IngestionError() = %v", err)
	}
}

func TestFallback(t *testing.T) {
	r := Fallback("socorro", StageTyping)
	if !r.HasType(EmergencyUnclassified) || r.UrgencyLevel != DefaultUrgency || !r.NeedsReview {
		t.Fatalf("Fallback() = %+v", r)
	}
	if r.State != StageFailed || r.FailedStage != StageTyping || r.SourceReport != "socorro" {
		t.Fatalf("Fallback() state = %+v", r)
	}
}
