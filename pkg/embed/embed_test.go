package embed

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/OFFIS-RIT/triage/internal/util"
	"github.com/OFFIS-RIT/triage/pkg/ai/aitest"
	"github.com/OFFIS-RIT/triage/pkg/common"
)

var fastRetry = util.Backoff{Attempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestEmbed_OrderBatchingAndNormalization(t *testing.T) {
	client := aitest.New(16)
	e, err := New(client, Params{Dimensions: 16, BatchSize: 2, Retry: fastRetry})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	texts := []string{"fire in the building", "", "chest pain", "robbery", "smoke"}
	vecs, err := e.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	if got := client.EmbedCalls(); got != 2 {
		t.Errorf("embed calls = %d, want 2 batches for 4 non-blank texts", got)
	}
	for i, v := range vecs {
		if len(v) != 16 {
			t.Fatalf("vector %d has dimension %d", i, len(v))
		}
		if texts[i] == "" {
			if norm(v) != 0 {
				t.Errorf("blank text should map to zero vector")
			}
			continue
		}
		if math.Abs(norm(v)-1) > 1e-5 {
			t.Errorf("vector %d not normalized: %v", i, norm(v))
		}
		want := client.Vector(texts[i])
		n := norm(want)
		for j := range v {
			if math.Abs(float64(v[j])-float64(want[j])/n) > 1e-5 {
				t.Fatalf("vector %d out of order", i)
			}
		}
	}
}

func TestEmbed_RetriesThenSucceeds(t *testing.T) {
	client := aitest.New(8)
	client.EmbedErr = func(call int, inputs []string) error {
		if call < 2 {
			return common.EmbeddingError(errors.New("503"))
		}
		return nil
	}
	e, _ := New(client, Params{Retry: fastRetry})

	if _, err := e.EmbedQuery(context.Background(), "dor no peito"); err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if got := client.EmbedCalls(); got != 3 {
		t.Fatalf("embed calls = %d, want 3", got)
	}
	if e.Dimensions() != 8 {
		t.Fatalf("Dimensions() = %d, want adopted 8", e.Dimensions())
	}
}

func TestEmbed_EscalatesAfterBudget(t *testing.T) {
	client := aitest.New(8)
	client.EmbedErr = func(call int, inputs []string) error {
		return errors.New("connection refused")
	}
	e, _ := New(client, Params{Retry: fastRetry})

	_, err := e.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, common.ErrEmbeddingService) {
		t.Fatalf("expected ErrEmbeddingService, got %v", err)
	}
	if got := client.EmbedCalls(); got != 3 {
		t.Fatalf("embed calls = %d, want 3", got)
	}
}

func TestEmbed_DimensionMismatchIsFatal(t *testing.T) {
	client := aitest.New(8)
	e, _ := New(client, Params{Dimensions: 1536, Retry: fastRetry})

	_, err := e.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if got := client.EmbedCalls(); got != 1 {
		t.Fatalf("configuration errors must not be retried, got %d calls", got)
	}
}

func TestEmbed_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e, _ := New(aitest.New(8), Params{Retry: fastRetry})

	if _, err := e.Embed(ctx, []string{"a"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, Params{}); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for nil client, got %v", err)
	}
	if _, err := New(aitest.New(4), Params{Dimensions: -1}); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for negative dimensions, got %v", err)
	}
}
