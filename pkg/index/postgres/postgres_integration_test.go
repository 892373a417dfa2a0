//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/OFFIS-RIT/triage/internal/database/dbtest"
	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/index"
)

func entry(source string, pos int, vec ...float32) index.Entry {
	return index.Entry{
		Chunk: common.Chunk{
			ID:       fmt.Sprintf("%s#%05d", source, pos),
			SourceID: source,
			Text:     fmt.Sprintf("%s chunk %d", source, pos),
			Position: pos,
			CharEnd:  10,
		},
		Vector: vec,
	}
}

func TestIndex_Postgres(t *testing.T) {
	ctx := context.Background()
	pool := dbtest.Start(t)

	idx, err := New(ctx, pool, 3)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := idx.Query(ctx, []float32{1, 0, 0}, 5)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty index Query() = %v, %v", got, err)
	}

	if _, err := idx.Replace(ctx, "fire", []index.Entry{
		entry("fire", 0, 1, 0, 0),
		entry("fire", 1, 0, 1, 0),
	}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if err := idx.Upsert(ctx, []index.Entry{entry("medical", 0, 1, 0, 0)}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err = idx.Query(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 2 || got[0].Chunk.ID != "fire#00000" || got[1].Chunk.ID != "medical#00000" {
		t.Fatalf("ties must follow insertion order, got %+v", got)
	}

	if _, err := idx.Replace(ctx, "fire", []index.Entry{entry("fire", 0, 1, 0)}); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	st, err := idx.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.Chunks != 3 || st.Documents != 2 || st.Dimensions != 3 {
		t.Fatalf("failed replace must keep previous chunks, stats = %+v", st)
	}

	if _, err := idx.Replace(ctx, "fire", []index.Entry{entry("fire", 0, 0, 0, 1)}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	n, err := idx.Delete(ctx, "medical")
	if err != nil || n != 1 {
		t.Fatalf("Delete() = %d, %v", n, err)
	}
	st, _ = idx.Stats(ctx)
	if st.Chunks != 1 || st.Documents != 1 {
		t.Fatalf("stats after delete = %+v", st)
	}

	reopened, err := New(ctx, pool, 0)
	if err != nil || reopened.Dimensions() != 3 {
		t.Fatalf("reopen should adopt stored dimension, got %d, %v", reopened.Dimensions(), err)
	}
	if _, err := New(ctx, pool, 8); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected configuration error for conflicting dimension, got %v", err)
	}

	cleared, err := reopened.Clear(ctx)
	if err != nil || cleared != 1 {
		t.Fatalf("Clear() = %d, %v", cleared, err)
	}
	st, _ = reopened.Stats(ctx)
	if st.Chunks != 0 || st.Documents != 0 || st.Dimensions != 3 {
		t.Fatalf("stats after clear = %+v", st)
	}
}
