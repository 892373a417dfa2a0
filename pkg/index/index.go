// Package index defines the vector index used for knowledge base retrieval.
//
// Every implementation ranks by cosine similarity, descending, and breaks
// ties by insertion order so that earlier-ingested chunks come first.
package index

import (
	"context"
	"math"

	"github.com/OFFIS-RIT/triage/pkg/common"
)

// Entry is a chunk together with its embedding.
type Entry struct {
	Chunk  common.Chunk
	Vector []float32
}

// Stats summarizes index contents.
type Stats struct {
	Chunks     int `json:"chunks"`
	Documents  int `json:"documents"`
	Dimensions int `json:"dimensions"`
}

type Index interface {
	// Upsert inserts or replaces entries by chunk id.
	Upsert(ctx context.Context, entries []Entry) error
	// Query returns at most k chunks ordered by descending similarity.
	// An empty index yields an empty result, never an error.
	Query(ctx context.Context, vector []float32, k int) ([]common.RetrievedChunk, error)
	// Delete removes every chunk of sourceID and reports how many were removed.
	Delete(ctx context.Context, sourceID string) (int, error)
	// Replace atomically swaps all chunks of sourceID for entries. On error
	// the previous chunks of sourceID remain in place.
	Replace(ctx context.Context, sourceID string, entries []Entry) (int, error)
	// Clear removes every chunk and reports how many were removed. The
	// dimension stays fixed.
	Clear(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
	// Dimensions returns the fixed vector dimension, 0 until known.
	Dimensions() int
}

// CheckDimensions validates that every entry has dim components, or that
// all entries agree when dim is 0. It returns the dimension in effect.
func CheckDimensions(dim int, entries []Entry) (int, error) {
	for _, e := range entries {
		if len(e.Vector) == 0 {
			return dim, common.ConfigError("chunk %s has an empty embedding", e.Chunk.ID)
		}
		if dim == 0 {
			dim = len(e.Vector)
			continue
		}
		if len(e.Vector) != dim {
			return dim, common.ConfigError("embedding dimension mismatch for chunk %s: got %d, index uses %d", e.Chunk.ID, len(e.Vector), dim)
		}
	}
	return dim, nil
}

// Cosine returns the cosine similarity of a and b, 0 if either is a zero vector.
func Cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
