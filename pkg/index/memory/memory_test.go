package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/index"
)

func mkEntry(source string, pos int, vec ...float32) index.Entry {
	return index.Entry{
		Chunk:  common.Chunk{ID: fmt.Sprintf("%s#%d", source, pos), SourceID: source, Position: pos, Text: fmt.Sprintf("%s text %d", source, pos)},
		Vector: vec,
	}
}

func TestQuery_EmptyIndex(t *testing.T) {
	idx := New(3)
	got, err := idx.Query(context.Background(), []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %d", len(got))
	}
}

func TestQuery_OrderingAndTies(t *testing.T) {
	ctx := context.Background()
	idx := New(0)
	if err := idx.Upsert(ctx, []index.Entry{
		mkEntry("a", 0, 0, 1),
		mkEntry("b", 0, 1, 0),
		mkEntry("c", 0, 1, 0),
		mkEntry("d", 0, 1, 1),
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := idx.Query(ctx, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	wantOrder := []string{"b#0", "c#0", "d#0", "a#0"}
	if len(got) != len(wantOrder) {
		t.Fatalf("k larger than count should return all %d chunks, got %d", len(wantOrder), len(got))
	}
	for i, want := range wantOrder {
		if got[i].Chunk.ID != want {
			t.Errorf("position %d = %s, want %s", i, got[i].Chunk.ID, want)
		}
		if i > 0 && got[i].Score > got[i-1].Score {
			t.Errorf("scores not descending at %d", i)
		}
	}

	top, _ := idx.Query(ctx, []float32{1, 0}, 1)
	if len(top) != 1 || top[0].Chunk.ID != "b#0" {
		t.Fatalf("top-1 = %+v", top)
	}
}

func TestUpsert_IdempotentKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	idx := New(2)
	_ = idx.Upsert(ctx, []index.Entry{mkEntry("a", 0, 1, 0), mkEntry("b", 0, 1, 0)})
	_ = idx.Upsert(ctx, []index.Entry{mkEntry("a", 0, 1, 0)})

	stats, _ := idx.Stats(ctx)
	if stats.Chunks != 2 || stats.Documents != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	got, _ := idx.Query(ctx, []float32{1, 0}, 2)
	if got[0].Chunk.ID != "a#0" {
		t.Fatalf("re-upserted chunk lost its insertion position: %+v", got)
	}
}

func TestDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := New(0)
	if err := idx.Upsert(ctx, []index.Entry{mkEntry("a", 0, 1, 0, 0)}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := idx.Upsert(ctx, []index.Entry{mkEntry("b", 0, 1, 0)}); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if _, err := idx.Query(ctx, []float32{1, 0}, 1); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for query, got %v", err)
	}
	if err := idx.Upsert(ctx, []index.Entry{mkEntry("c", 0, 1, 0, 0), mkEntry("c", 1, 1)}); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for mixed batch, got %v", err)
	}
	if stats, _ := idx.Stats(ctx); stats.Chunks != 1 {
		t.Fatalf("rejected batch must not be partially applied, got %d chunks", stats.Chunks)
	}
}

func TestDeleteAndReplace(t *testing.T) {
	ctx := context.Background()
	idx := New(2)
	_ = idx.Upsert(ctx, []index.Entry{mkEntry("a", 0, 1, 0), mkEntry("a", 1, 1, 0), mkEntry("a", 2, 1, 0), mkEntry("b", 0, 0, 1)})

	n, err := idx.Replace(ctx, "a", []index.Entry{mkEntry("a", 0, 0, 1)})
	if err != nil || n != 1 {
		t.Fatalf("Replace() = %d, %v", n, err)
	}
	if stats, _ := idx.Stats(ctx); stats.Chunks != 2 {
		t.Fatalf("expected 2 chunks after replace, got %d", stats.Chunks)
	}

	if _, err := idx.Replace(ctx, "a", []index.Entry{mkEntry("a", 0, 1, 0, 0)}); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if stats, _ := idx.Stats(ctx); stats.Chunks != 2 {
		t.Fatalf("failed replace must keep previous chunks, got %d", stats.Chunks)
	}

	deleted, _ := idx.Delete(ctx, "a")
	if deleted != 1 {
		t.Fatalf("Delete() = %d, want 1", deleted)
	}
	deleted, _ = idx.Delete(ctx, "missing")
	if deleted != 0 {
		t.Fatalf("Delete(missing) = %d, want 0", deleted)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	idx := New(0)
	_ = idx.Upsert(ctx, []index.Entry{mkEntry("a", 0, 1, 0), mkEntry("a", 1, 0, 1), mkEntry("b", 0, 1, 1)})

	n, err := idx.Clear(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Clear() = %d, %v; want 3", n, err)
	}
	stats, _ := idx.Stats(ctx)
	if stats.Chunks != 0 || stats.Documents != 0 {
		t.Fatalf("expected empty index, got %+v", stats)
	}
	if stats.Dimensions != 2 {
		t.Fatalf("Clear must keep the dimension, got %d", stats.Dimensions)
	}
	if got, _ := idx.Query(ctx, []float32{1, 0}, 5); len(got) != 0 {
		t.Fatalf("Query() after Clear returned %d chunks", len(got))
	}
	if err := idx.Upsert(ctx, []index.Entry{mkEntry("c", 0, 1, 0, 0)}); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected dimension mismatch after Clear, got %v", err)
	}
}

func TestConcurrentReadsAndWrites(t *testing.T) {
	ctx := context.Background()
	idx := New(2)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			src := fmt.Sprintf("doc-%d", i)
			_, _ = idx.Replace(ctx, src, []index.Entry{mkEntry(src, 0, 1, float32(i))})
		}(i)
		go func() {
			defer wg.Done()
			if _, err := idx.Query(ctx, []float32{1, 0}, 3); err != nil {
				t.Errorf("Query() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if stats, _ := idx.Stats(ctx); stats.Chunks != 8 {
		t.Fatalf("expected 8 chunks, got %d", stats.Chunks)
	}
}
