package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/OFFIS-RIT/triage/pkg/common"
)

type urgencyOutput struct {
	Level int `json:"level"`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewOpenAIClient(NewOpenAIClientParams{
		ChatModel:      "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		Dimensions:     3,
		ChatURL:        srv.URL + "/v1/",
		ChatKey:        "test",
		EmbeddingURL:   srv.URL + "/v1/",
		EmbeddingKey:   "test",
	})
}

func TestGenerateCompletionWithFormat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		rf, _ := req["response_format"].(map[string]any)
		if rf["type"] != "json_schema" {
			t.Errorf("expected json_schema response format, got %v", req["response_format"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"level\":4}"}}],
			"usage":{"prompt_tokens":30,"completion_tokens":5,"total_tokens":35}
		}`))
	})

	var out urgencyOutput
	if err := c.GenerateCompletionWithFormat(context.Background(), "urgency", "Urgency level", "prompt", &out); err != nil {
		t.Fatalf("GenerateCompletionWithFormat() error = %v", err)
	}
	if out.Level != 4 {
		t.Fatalf("Level = %d, want 4", out.Level)
	}
	if m := c.GetMetrics(); m.TotalTokens != 35 {
		t.Fatalf("TotalTokens = %d, want 35", m.TotalTokens)
	}
}

func TestGenerateCompletionWithFormat_EmptyContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"length","message":{"role":"assistant","content":""}}]}`))
	})

	var out urgencyOutput
	err := c.GenerateCompletionWithFormat(context.Background(), "urgency", "Urgency level", "prompt", &out)
	if !errors.Is(err, common.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestGenerateEmbeddings_OrderedByIndex(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["dimensions"] != float64(3) {
			t.Errorf("dimensions = %v, want 3", req["dimensions"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":1,"embedding":[0,1,0]},{"object":"embedding","index":0,"embedding":[1,0,0]}],
			"usage":{"prompt_tokens":4,"total_tokens":4}}`))
	})

	vecs, err := c.GenerateEmbeddings(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("GenerateEmbeddings() error = %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Fatalf("embeddings not ordered by index: %v", vecs)
	}
}

func TestGenerateEmbeddings_TransportError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	})

	_, err := c.GenerateEmbeddings(context.Background(), []string{"x"})
	if !errors.Is(err, common.ErrEmbeddingService) {
		t.Fatalf("expected ErrEmbeddingService, got %v", err)
	}
}

func TestNotConfigured(t *testing.T) {
	c := NewOpenAIClient(NewOpenAIClientParams{})
	var out urgencyOutput
	if err := c.GenerateCompletionWithFormat(context.Background(), "n", "d", "p", &out); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if _, err := c.GenerateAudioTranscription(context.Background(), []byte("x"), "pt"); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}
