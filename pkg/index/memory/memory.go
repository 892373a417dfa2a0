// Package memory is an in-process vector index using exact cosine search.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/index"
)

type entry struct {
	chunk  common.Chunk
	vector []float32
	seq    uint64
}

// Index keeps all entries in a flat map keyed by chunk id with a secondary
// per-document id list. Queries take a read lock, writes an exclusive one.
type Index struct {
	mu       sync.RWMutex
	dim      int
	seq      uint64
	byID     map[string]*entry
	bySource map[string]map[string]struct{}
}

var _ index.Index = (*Index)(nil)

// New creates an empty index. dim 0 adopts the dimension of the first upsert.
func New(dim int) *Index {
	return &Index{
		dim:      dim,
		byID:     make(map[string]*entry),
		bySource: make(map[string]map[string]struct{}),
	}
}

func (s *Index) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

func (s *Index) Upsert(ctx context.Context, entries []index.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dim, err := index.CheckDimensions(s.dim, entries)
	if err != nil {
		return err
	}
	s.dim = dim
	for _, e := range entries {
		s.put(e)
	}
	return nil
}

func (s *Index) put(e index.Entry) {
	vec := make([]float32, len(e.Vector))
	copy(vec, e.Vector)

	if old, ok := s.byID[e.Chunk.ID]; ok {
		if old.chunk.SourceID != e.Chunk.SourceID {
			s.unlinkSource(old.chunk.SourceID, old.chunk.ID)
		}
		old.chunk = e.Chunk
		old.vector = vec
	} else {
		s.seq++
		s.byID[e.Chunk.ID] = &entry{chunk: e.Chunk, vector: vec, seq: s.seq}
	}

	ids, ok := s.bySource[e.Chunk.SourceID]
	if !ok {
		ids = make(map[string]struct{})
		s.bySource[e.Chunk.SourceID] = ids
	}
	ids[e.Chunk.ID] = struct{}{}
}

func (s *Index) unlinkSource(sourceID, chunkID string) {
	ids := s.bySource[sourceID]
	delete(ids, chunkID)
	if len(ids) == 0 {
		delete(s.bySource, sourceID)
	}
}

func (s *Index) Query(ctx context.Context, vector []float32, k int) ([]common.RetrievedChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.byID) == 0 || k <= 0 {
		return []common.RetrievedChunk{}, nil
	}
	if len(vector) != s.dim {
		return nil, common.ConfigError("query dimension %d does not match index dimension %d", len(vector), s.dim)
	}

	type scored struct {
		e     *entry
		score float64
	}
	all := make([]scored, 0, len(s.byID))
	for _, e := range s.byID {
		all = append(all, scored{e: e, score: index.Cosine(vector, e.vector)})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].e.seq < all[j].e.seq
	})

	k = min(k, len(all))
	out := make([]common.RetrievedChunk, k)
	for i := 0; i < k; i++ {
		out[i] = common.RetrievedChunk{Chunk: all[i].e.chunk, Score: all[i].score}
	}
	return out, nil
}

func (s *Index) Delete(ctx context.Context, sourceID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteSource(sourceID), nil
}

func (s *Index) Clear(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.byID)
	s.byID = make(map[string]*entry)
	s.bySource = make(map[string]map[string]struct{})
	return n, nil
}

func (s *Index) deleteSource(sourceID string) int {
	ids := s.bySource[sourceID]
	for id := range ids {
		delete(s.byID, id)
	}
	delete(s.bySource, sourceID)
	return len(ids)
}

// Replace validates entries before touching the index, so a rejected
// replacement leaves the previous chunks untouched.
func (s *Index) Replace(ctx context.Context, sourceID string, entries []index.Entry) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Chunk.SourceID != sourceID {
			return 0, common.ConfigError("chunk %s belongs to %q, not %q", e.Chunk.ID, e.Chunk.SourceID, sourceID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim, err := index.CheckDimensions(s.dim, entries)
	if err != nil {
		return 0, err
	}
	s.deleteSource(sourceID)
	s.dim = dim
	for _, e := range entries {
		s.put(e)
	}
	return len(entries), nil
}

func (s *Index) Stats(ctx context.Context) (index.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return index.Stats{Chunks: len(s.byID), Documents: len(s.bySource), Dimensions: s.dim}, nil
}
