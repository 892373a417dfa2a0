package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/triage/internal/util"
	"github.com/OFFIS-RIT/triage/pkg/ai/aitest"
	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/embed"
	"github.com/OFFIS-RIT/triage/pkg/index/memory"
	"github.com/OFFIS-RIT/triage/pkg/ingest"
)

type fixture struct {
	client    *aitest.Client
	pipeline  *ingest.Pipeline
	assembler *Assembler
}

func newFixture(t *testing.T, size, overlap int, params Params) fixture {
	t.Helper()
	client := aitest.New(64)
	client.Synonyms = map[string]string{"dor": "pain", "peito": "chest"}
	emb, err := embed.New(client, embed.Params{Retry: util.Backoff{Attempts: 1, Initial: time.Millisecond}})
	if err != nil {
		t.Fatalf("embed.New() error = %v", err)
	}
	idx := memory.New(0)
	p, err := ingest.NewPipeline(idx, emb, ingest.Params{ChunkSize: size, ChunkOverlap: overlap})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	a, err := NewAssembler(emb, idx, params)
	if err != nil {
		t.Fatalf("NewAssembler() error = %v", err)
	}
	return fixture{client: client, pipeline: p, assembler: a}
}

func (f fixture) ingest(t *testing.T, docs ...common.Document) {
	t.Helper()
	for _, d := range docs {
		if _, err := f.pipeline.Ingest(context.Background(), d); err != nil {
			t.Fatalf("Ingest(%s) error = %v", d.SourceID, err)
		}
	}
}

func hit(id, text string, score float64) common.RetrievedChunk {
	return common.RetrievedChunk{Chunk: common.Chunk{ID: id, SourceID: id, Text: text, CharEnd: len([]rune(text))}, Score: score}
}

func TestPack(t *testing.T) {
	tests := []struct {
		name      string
		hits      []common.RetrievedChunk
		maxLen    int
		wantIDs   []string
		truncated bool
	}{
		{
			name:    "all fit",
			hits:    []common.RetrievedChunk{hit("a", "aaaa", .9), hit("b", "bbbb", .8)},
			maxLen:  10,
			wantIDs: []string{"a", "b"},
		},
		{
			name:    "separator counts",
			hits:    []common.RetrievedChunk{hit("a", "aaaa", .9), hit("b", "bbbb", .8)},
			maxLen:  9,
			wantIDs: []string{"a"},
		},
		{
			name:    "skips without reordering",
			hits:    []common.RetrievedChunk{hit("a", "aaaa", .9), hit("b", strings.Repeat("b", 20), .8), hit("c", "cc", .7)},
			maxLen:  10,
			wantIDs: []string{"a", "c"},
		},
		{
			name:      "oversized top chunk is truncated",
			hits:      []common.RetrievedChunk{hit("a", strings.Repeat("a", 30), .9), hit("b", "b", .8)},
			maxLen:    12,
			wantIDs:   []string{"a"},
			truncated: true,
		},
		{
			name:    "oversized later chunk is skipped",
			hits:    []common.RetrievedChunk{hit("a", "aa", .9), hit("b", strings.Repeat("b", 30), .8)},
			maxLen:  12,
			wantIDs: []string{"a"},
		},
		{
			name:    "nothing retrieved",
			maxLen:  12,
			wantIDs: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated := Pack(tt.hits, tt.maxLen)
			if truncated != tt.truncated {
				t.Fatalf("truncated = %v, want %v", truncated, tt.truncated)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("packed %d chunks, want %v", len(got), tt.wantIDs)
			}
			for i, id := range tt.wantIDs {
				if got[i].Chunk.ID != id {
					t.Fatalf("chunk %d = %s, want %s", i, got[i].Chunk.ID, id)
				}
			}
			if n := len([]rune(join(got))); n > tt.maxLen {
				t.Fatalf("packed length %d exceeds %d", n, tt.maxLen)
			}
		})
	}
}

func TestPack_LengthBoundProperty(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for iter := range 500 {
		hits := make([]common.RetrievedChunk, r.IntN(12))
		for i := range hits {
			hits[i] = hit(fmt.Sprintf("c%d", i), strings.Repeat("é", 1+r.IntN(80)), 1-float64(i)/20)
		}
		maxLen := 1 + r.IntN(200)

		packed, _ := Pack(hits, maxLen)
		if n := len([]rune(join(packed))); n > maxLen {
			t.Fatalf("iteration %d: length %d exceeds bound %d", iter, n, maxLen)
		}
		for i := 1; i < len(packed); i++ {
			if packed[i-1].Score < packed[i].Score {
				t.Fatalf("iteration %d: packing reordered chunks", iter)
			}
		}
	}
}

func TestAssemble_EmptyIndex(t *testing.T) {
	f := newFixture(t, 50, 10, Params{})
	rc, err := f.assembler.Assemble(context.Background(), "house on fire", 2000, 10)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if !rc.Empty() || rc.Text != "" || Render(rc) != "" {
		t.Fatalf("expected empty context, got %+v", rc)
	}
}

func TestAssemble_InvalidBounds(t *testing.T) {
	f := newFixture(t, 50, 10, Params{})
	for _, tc := range [][2]int{{0, 10}, {100, 0}, {-1, -1}} {
		if _, err := f.assembler.Assemble(context.Background(), "x", tc[0], tc[1]); !errors.Is(err, common.ErrConfiguration) {
			t.Fatalf("Assemble(maxLen=%d, k=%d) expected configuration error, got %v", tc[0], tc[1], err)
		}
	}
}

func TestAssemble_ChestPainRankedFirst(t *testing.T) {
	f := newFixture(t, 50, 10, Params{})
	medical := common.Document{
		SourceID: "medical-chest-pain",
		Category: "medical",
		Text:     "Adults experiencing chest pain and shortness of breath require immediate medical response",
	}
	f.ingest(t,
		common.Document{SourceID: "fire-smoke", Category: "fire", Text: "Smoke coming from a building means firefighters must be dispatched"},
		medical,
		common.Document{SourceID: "police-robbery", Category: "police", Text: "An armed robbery in progress requires police units on site"},
	)

	rc, err := f.assembler.Assemble(context.Background(), "dor no peito", 2000, 10)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(rc.Chunks) == 0 {
		t.Fatalf("expected retrieved chunks")
	}
	if got := rc.Chunks[0].Chunk.SourceID; got != medical.SourceID {
		t.Fatalf("top chunk from %s, want %s", got, medical.SourceID)
	}
	if !strings.Contains(Render(rc), "[1] source: medical-chest-pain (medical)") {
		t.Fatalf("rendered context lacks ranked header:\n%s", Render(rc))
	}
}

func TestAssemble_RespectsBoundAndMinScore(t *testing.T) {
	f := newFixture(t, 40, 5, Params{MinScore: 0.1})
	f.ingest(t,
		common.Document{SourceID: "fire", Text: strings.Repeat("fire smoke flames evacuation ", 10)},
		common.Document{SourceID: "unrelated", Text: "library opening hours"},
	)

	rc, err := f.assembler.Assemble(context.Background(), "fire and smoke", 100, 10)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if n := len([]rune(rc.Text)); n > 100 {
		t.Fatalf("context length %d exceeds 100", n)
	}
	for _, c := range rc.Chunks {
		if c.Chunk.SourceID == "unrelated" {
			t.Fatalf("chunk below minimum score was packed: %+v", c)
		}
	}
	if rc.Considered < len(rc.Chunks) {
		t.Fatalf("considered %d < packed %d", rc.Considered, len(rc.Chunks))
	}
}

func TestAssemble_EmbeddingFailure(t *testing.T) {
	f := newFixture(t, 50, 10, Params{})
	f.client.EmbedErr = func(int, []string) error { return errors.New("timeout") }

	_, err := f.assembler.Assemble(context.Background(), "help", 2000, 10)
	if !errors.Is(err, common.ErrEmbeddingService) {
		t.Fatalf("expected embedding service error, got %v", err)
	}
}
