package triage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/triage/pkg/ai/aitest"
	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/index/memory"
)

const (
	typeCall    = "emergency_type"
	urgencyCall = "emergency_urgency"
)

// reportOf extracts the quoted report from a classification prompt.
func reportOf(prompt string) string {
	_, rest, _ := strings.Cut(prompt, "Report:\n\"\"\"\n")
	report, _, _ := strings.Cut(rest, "\n\"\"\"")
	return strings.ToLower(report)
}

// dispatcher answers like a model that reads the report section of the prompt.
func dispatcher(name, prompt string, call int) (string, error) {
	report := reportOf(prompt)
	switch name {
	case typeCall:
		var types []string
		if strings.Contains(report, "fogo") || strings.Contains(report, "fire") {
			types = append(types, `"fire"`)
		}
		if strings.Contains(report, "ferid") || strings.Contains(report, "peito") {
			types = append(types, `"medical"`)
		}
		if strings.Contains(report, "assalto") {
			types = append(types, `"police"`)
		}
		return fmt.Sprintf(`{"emergency_types":[%s],"confidence_score":0.85,"situation_summary":"summary","rationale":"keywords","suggested_actions":["stay calm"]}`, strings.Join(types, ",")), nil
	case urgencyCall:
		level := 2
		if strings.Contains(prompt, "Services: fire") || strings.Contains(report, "peito") {
			level = 5
		}
		return fmt.Sprintf(`{"urgency_level":%d,"rationale":"r","estimated_response_time":"","recommended_actions":["stay calm","leave the building"]}`, level), nil
	}
	return "", fmt.Errorf("unexpected call %s", name)
}

type recorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *recorder) observe(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recorder) path() []common.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []common.Stage
	for _, t := range r.transitions {
		out = append(out, t.To)
	}
	return out
}

func newEngine(t *testing.T, client *aitest.Client, rec *recorder) *Engine {
	t.Helper()
	cfg := Config{
		ChunkSize:     200,
		ChunkOverlap:  20,
		RetryAttempts: 2,
		RetryInitial:  time.Millisecond,
		CallTimeout:   time.Second,
	}
	if rec != nil {
		cfg.OnTransition = rec.observe
	}
	e, err := New(client, memory.New(0), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

func seed(t *testing.T, e *Engine) {
	t.Helper()
	docs := []common.Document{
		{SourceID: "fire-protocol", Category: "fire", Text: "Fire protocol: any fire (fogo) in a building with people inside is critical. Evacuate and dispatch the fire department."},
		{SourceID: "medical-protocol", Category: "medical", Text: "Chest pain (dor no peito) in adults requires immediate medical response."},
	}
	for _, d := range docs {
		if _, err := e.IngestDocument(context.Background(), d); err != nil {
			t.Fatalf("IngestDocument() error = %v", err)
		}
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "overlap not below size", cfg: Config{ChunkSize: 100, ChunkOverlap: 100}},
		{name: "negative overlap", cfg: Config{ChunkSize: 100, ChunkOverlap: -1}},
		{name: "negative dimensions", cfg: Config{EmbedDimensions: -1}},
		{name: "negative top-k", cfg: Config{TopK: -1}},
		{name: "negative context length", cfg: Config{MaxContextLength: -5}},
		{name: "negative timeout", cfg: Config{CallTimeout: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(aitest.New(8), memory.New(0), tt.cfg); !errors.Is(err, common.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestNew_DimensionConflict(t *testing.T) {
	idx := memory.New(16)
	if _, err := New(aitest.New(16), idx, Config{EmbedDimensions: 32}); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestClassify_FireScenario(t *testing.T) {
	client := aitest.New(64)
	client.Handler = dispatcher
	rec := &recorder{}
	e := newEngine(t, client, rec)
	seed(t, e)

	res, err := e.Classify(context.Background(), "Tem fogo no prédio e tem gente presa lá dentro")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if !res.HasType(common.EmergencyFire) {
		t.Fatalf("types = %v, want fire", res.EmergencyTypes)
	}
	if res.UrgencyLevel < 4 {
		t.Fatalf("urgency = %d, want >= 4", res.UrgencyLevel)
	}
	if res.State != common.StageDone || res.NeedsReview {
		t.Fatalf("state = %s needs_review = %v", res.State, res.NeedsReview)
	}
	if res.ContextUsed == 0 {
		t.Fatalf("expected retrieved context to be used")
	}
	if res.ResponseTime != ResponseTimeBand(res.UrgencyLevel) {
		t.Fatalf("response time = %q", res.ResponseTime)
	}
	if !slices.Equal(res.SuggestedActions, []string{"stay calm", "leave the building"}) {
		t.Fatalf("actions = %v", res.SuggestedActions)
	}
	want := []common.Stage{common.StageRetrieving, common.StageTyping, common.StageScoring, common.StageDone}
	if !slices.Equal(rec.path(), want) {
		t.Fatalf("transitions = %v, want %v", rec.path(), want)
	}
	if !strings.Contains(client.Prompts(typeCall)[0], "fire-protocol") {
		t.Fatalf("type prompt should carry the fire protocol")
	}
}

func TestClassify_EmptyIndexDegrades(t *testing.T) {
	client := aitest.New(64)
	client.Handler = dispatcher
	e := newEngine(t, client, nil)

	res, err := e.Classify(context.Background(), "Assalto em andamento na padaria")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.State != common.StageDone || !res.HasType(common.EmergencyPolice) {
		t.Fatalf("got %+v", res)
	}
	if res.ContextUsed != 0 {
		t.Fatalf("context used = %d on an empty index", res.ContextUsed)
	}
	if !strings.Contains(client.Prompts(typeCall)[0], "No knowledge base context") {
		t.Fatalf("prompt should state that no context is available")
	}
}

func TestClassify_MalformedConfidence(t *testing.T) {
	client := aitest.New(32)
	client.Responses = map[string][]string{
		typeCall:    {`{"emergency_types":["medical"],"confidence_score":"high","situation_summary":"","rationale":"","suggested_actions":[]}`},
		urgencyCall: {`{"urgency_level":4}`},
	}
	e := newEngine(t, client, nil)

	res, err := e.Classify(context.Background(), "Meu pai está com dor no peito")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.ConfidenceScore != 0 || !res.HasType(common.EmergencyUnclassified) {
		t.Fatalf("got types %v confidence %v", res.EmergencyTypes, res.ConfidenceScore)
	}
	if calls := client.Calls(typeCall); calls != 2 {
		t.Fatalf("type calls = %d, want one retry", calls)
	}
	if !res.NeedsReview || res.State != common.StageDone || res.UrgencyLevel != 4 {
		t.Fatalf("got %+v", res)
	}
}

func TestClassify_FailedStages(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(c *aitest.Client)
		failed common.Stage
	}{
		{
			name: "embedding exhausted",
			setup: func(c *aitest.Client) {
				c.Handler = dispatcher
				c.EmbedErr = func(int, []string) error { return errors.New("embedding backend down") }
			},
			failed: common.StageRetrieving,
		},
		{
			name: "type model exhausted",
			setup: func(c *aitest.Client) {
				c.Handler = func(name, prompt string, call int) (string, error) {
					return "", common.ModelError(errors.New("502"))
				}
			},
			failed: common.StageTyping,
		},
		{
			name: "urgency model exhausted",
			setup: func(c *aitest.Client) {
				c.Handler = func(name, prompt string, call int) (string, error) {
					if name == urgencyCall {
						return "", errors.New("timeout")
					}
					return dispatcher(name, prompt, call)
				}
			},
			failed: common.StageScoring,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := aitest.New(32)
			rec := &recorder{}
			e := newEngine(t, client, rec)
			tt.setup(client)

			res, err := e.Classify(context.Background(), "Socorro, fogo na cozinha")
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if res.State != common.StageFailed || res.FailedStage != tt.failed {
				t.Fatalf("state = %s failed at %s, want FAILED at %s", res.State, res.FailedStage, tt.failed)
			}
			if !slices.Equal(res.EmergencyTypes, []common.EmergencyType{common.EmergencyUnclassified}) {
				t.Fatalf("types = %v", res.EmergencyTypes)
			}
			if res.UrgencyLevel != common.DefaultUrgency || !res.NeedsReview || res.ConfidenceScore != 0 {
				t.Fatalf("fallback = %+v", res)
			}
			if res.SourceReport != "Socorro, fogo na cozinha" {
				t.Fatalf("report must be preserved, got %q", res.SourceReport)
			}
			path := rec.path()
			if path[len(path)-1] != common.StageFailed {
				t.Fatalf("transitions = %v, want FAILED last", path)
			}
		})
	}
}

func TestClassify_Canceled(t *testing.T) {
	client := aitest.New(32)
	client.Handler = dispatcher
	e := newEngine(t, client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Classify(ctx, "fogo"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClassify_Concurrent(t *testing.T) {
	client := aitest.New(64)
	client.Handler = dispatcher
	e := newEngine(t, client, nil)
	seed(t, e)

	reports := []string{"fogo na casa", "dor no peito", "assalto no banco", "fogo e feridos"}
	var wg sync.WaitGroup
	errs := make(chan error, 4*len(reports))
	for range 4 {
		for _, r := range reports {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := e.Classify(context.Background(), r)
				if err != nil {
					errs <- err
					return
				}
				if res.State != common.StageDone {
					errs <- fmt.Errorf("%q ended in %s", r, res.State)
				}
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestClassifyBatch(t *testing.T) {
	client := aitest.New(64)
	client.Handler = dispatcher
	e := newEngine(t, client, nil)
	seed(t, e)

	reports := []string{"fogo na casa", "dor no peito", "assalto no banco", "fogo e feridos", "dor no peito de novo"}
	got, err := e.ClassifyBatch(context.Background(), reports, 3)
	if err != nil {
		t.Fatalf("ClassifyBatch() error = %v", err)
	}
	if len(got) != len(reports) {
		t.Fatalf("got %d results, want %d", len(got), len(reports))
	}
	for i, res := range got {
		if res.SourceReport != reports[i] {
			t.Errorf("result %d is for %q, want %q", i, res.SourceReport, reports[i])
		}
		if res.State != common.StageDone {
			t.Errorf("%q ended in %s", reports[i], res.State)
		}
	}
	if got[0].UrgencyLevel != 5 || got[2].UrgencyLevel != 2 {
		t.Errorf("urgency = %d, %d; want 5, 2", got[0].UrgencyLevel, got[2].UrgencyLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.ClassifyBatch(ctx, reports, 2); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClearIndex(t *testing.T) {
	client := aitest.New(32)
	client.Handler = dispatcher
	e := newEngine(t, client, nil)
	seed(t, e)

	before, _ := e.Stats(context.Background())
	n, err := e.ClearIndex(context.Background())
	if err != nil {
		t.Fatalf("ClearIndex() error = %v", err)
	}
	if n != before.Chunks || n == 0 {
		t.Fatalf("ClearIndex() = %d, want %d", n, before.Chunks)
	}
	after, _ := e.Stats(context.Background())
	if after.Chunks != 0 || after.Documents != 0 {
		t.Fatalf("stats after clear = %+v", after)
	}

	res, err := e.Classify(context.Background(), "fogo na casa")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.State != common.StageDone || res.ContextUsed != 0 {
		t.Fatalf("classification on a cleared index = %s with %d chunks", res.State, res.ContextUsed)
	}
}
