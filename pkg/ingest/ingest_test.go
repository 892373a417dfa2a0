package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OFFIS-RIT/triage/internal/util"
	"github.com/OFFIS-RIT/triage/pkg/ai/aitest"
	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/embed"
	"github.com/OFFIS-RIT/triage/pkg/index/memory"
)

func newPipeline(t *testing.T, client *aitest.Client, size, overlap int) (*Pipeline, *memory.Index) {
	t.Helper()
	emb, err := embed.New(client, embed.Params{
		BatchSize: 4,
		Retry:     util.Backoff{Attempts: 2, Initial: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("embed.New() error = %v", err)
	}
	idx := memory.New(0)
	p, err := NewPipeline(idx, emb, Params{ChunkSize: size, ChunkOverlap: overlap})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	return p, idx
}

func fireProtocol() common.Document {
	return common.Document{
		SourceID: "fire-protocol",
		Category: "fire",
		Text:     strings.Repeat("Evacuate the building and call the fire brigade. ", 12),
	}
}

func TestNewPipeline_InvalidChunking(t *testing.T) {
	emb, err := embed.New(aitest.New(8), embed.Params{})
	if err != nil {
		t.Fatalf("embed.New() error = %v", err)
	}
	_, err = NewPipeline(memory.New(0), emb, Params{ChunkSize: 10, ChunkOverlap: 10})
	if !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestIngest_Idempotent(t *testing.T) {
	ctx := context.Background()
	client := aitest.New(32)
	p, idx := newPipeline(t, client, 100, 20)

	first, err := p.Ingest(ctx, fireProtocol())
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	statsBefore, _ := idx.Stats(ctx)
	query := client.Vector("fire brigade")
	before, _ := idx.Query(ctx, query, 50)

	second, err := p.Ingest(ctx, fireProtocol())
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	statsAfter, _ := idx.Stats(ctx)
	after, _ := idx.Query(ctx, query, 50)

	if first != second || statsBefore != statsAfter {
		t.Fatalf("re-ingest changed the index: %d/%+v vs %d/%+v", first, statsBefore, second, statsAfter)
	}
	if len(before) != len(after) {
		t.Fatalf("query results differ: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i].Chunk.ID != after[i].Chunk.ID || before[i].Score != after[i].Score {
			t.Fatalf("result %d differs: %+v vs %+v", i, before[i], after[i])
		}
	}
}

func TestIngest_ShrinkingDocumentDropsStaleChunks(t *testing.T) {
	ctx := context.Background()
	p, idx := newPipeline(t, aitest.New(16), 50, 10)

	if _, err := p.Ingest(ctx, fireProtocol()); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	doc := fireProtocol()
	doc.Text = "Short replacement text."
	n, err := p.Ingest(ctx, doc)
	if err != nil || n != 1 {
		t.Fatalf("Ingest() = %d, %v", n, err)
	}
	st, _ := idx.Stats(ctx)
	if st.Chunks != 1 || st.Documents != 1 {
		t.Fatalf("stats = %+v", st)
	}

	doc.Text = ""
	if n, err := p.Ingest(ctx, doc); err != nil || n != 0 {
		t.Fatalf("empty Ingest() = %d, %v", n, err)
	}
	st, _ = idx.Stats(ctx)
	if st.Chunks != 0 {
		t.Fatalf("empty document should clear its chunks, stats = %+v", st)
	}
}

func TestIngest_EmbeddingFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	client := aitest.New(16)
	p, idx := newPipeline(t, client, 50, 10)

	if _, err := p.Ingest(ctx, fireProtocol()); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	before, _ := idx.Stats(ctx)

	// let the first batch through so some embeddings succeed
	base := client.EmbedCalls()
	client.EmbedErr = func(call int, inputs []string) error {
		if call > base {
			return errors.New("connection reset")
		}
		return nil
	}
	doc := fireProtocol()
	doc.Text = strings.Repeat("A different protocol text for the same source. ", 10)
	_, err := p.Ingest(ctx, doc)
	if !errors.Is(err, common.ErrIngestionPartialFailure) {
		t.Fatalf("expected ingestion failure, got %v", err)
	}
	if !errors.Is(err, common.ErrEmbeddingService) {
		t.Fatalf("expected embedding service cause, got %v", err)
	}

	after, _ := idx.Stats(ctx)
	if before != after {
		t.Fatalf("failed ingestion changed the index: %+v vs %+v", before, after)
	}
	got, _ := idx.Query(ctx, client.Vector("different protocol"), 50)
	for _, rc := range got {
		if strings.Contains(rc.Chunk.Text, "different") {
			t.Fatalf("chunk from failed ingestion is visible: %q", rc.Chunk.Text)
		}
	}
}

func TestIngest_Canceled(t *testing.T) {
	client := aitest.New(16)
	p, idx := newPipeline(t, client, 50, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Ingest(ctx, fireProtocol())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	st, _ := idx.Stats(context.Background())
	if st.Chunks != 0 {
		t.Fatalf("canceled ingestion wrote %d chunks", st.Chunks)
	}
}

func TestIngest_RequiresSourceID(t *testing.T) {
	p, _ := newPipeline(t, aitest.New(8), 50, 10)
	_, err := p.Ingest(context.Background(), common.Document{Text: "text"})
	if !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	p, idx := newPipeline(t, aitest.New(16), 50, 10)
	n, _ := p.Ingest(ctx, fireProtocol())

	removed, err := p.Remove(ctx, "fire-protocol")
	if err != nil || removed != n {
		t.Fatalf("Remove() = %d, %v; want %d", removed, err, n)
	}
	if st, _ := idx.Stats(ctx); st.Chunks != 0 {
		t.Fatalf("stats after remove = %+v", st)
	}
}

func TestIngestAll_ContinuesAfterFailure(t *testing.T) {
	ctx := context.Background()
	client := aitest.New(16)
	client.EmbedErr = func(call int, inputs []string) error {
		for _, in := range inputs {
			if strings.Contains(in, "poison") {
				return common.ConfigError("bad input")
			}
		}
		return nil
	}
	p, idx := newPipeline(t, client, 50, 10)

	docs := []common.Document{
		{SourceID: "a", Text: "medical protocol for chest pain"},
		{SourceID: "b", Text: "poison document"},
		{SourceID: "c", Text: "police protocol for robbery"},
	}
	results, err := p.IngestAll(ctx, docs, 2)
	if !errors.Is(err, common.ErrIngestionPartialFailure) {
		t.Fatalf("expected joined ingestion failure, got %v", err)
	}
	if results[0].Err != nil || results[2].Err != nil || results[1].Err == nil {
		t.Fatalf("unexpected per-document results: %+v", results)
	}
	if st, _ := idx.Stats(ctx); st.Documents != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestKeyedLocker(t *testing.T) {
	l := NewKeyedLocker()
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.WithLock(ctx, "doc", func(ctx context.Context) error {
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	if maxInside.Load() != 1 {
		t.Fatalf("lock admitted %d holders at once", maxInside.Load())
	}

	// a different key is not blocked while "doc" is held
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithLock(ctx, "doc", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	if err := l.WithLock(ctx, "other", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("other key blocked: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := l.WithLock(waitCtx, "doc", func(ctx context.Context) error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while waiting, got %v", err)
	}
	close(release)
}
