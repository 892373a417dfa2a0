// Package ingest turns documents into indexed, embedded chunks.
//
// Ingestion of a document is all-or-nothing: every chunk is embedded before
// the index is touched, and the old chunks of the document are swapped for
// the new ones in a single Replace.
package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/OFFIS-RIT/triage/pkg/chunker"
	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/index"
	"github.com/OFFIS-RIT/triage/pkg/logger"

	"golang.org/x/sync/errgroup"
)

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Params struct {
	ChunkSize    int
	ChunkOverlap int
	// Locker defaults to an in-process KeyedLocker.
	Locker Locker
}

type Pipeline struct {
	index    index.Index
	embedder Embedder
	locker   Locker
	size     int
	overlap  int
}

func NewPipeline(idx index.Index, embedder Embedder, params Params) (*Pipeline, error) {
	if idx == nil || embedder == nil {
		return nil, common.ConfigError("ingestion needs an index and an embedder")
	}
	if params.ChunkSize == 0 {
		params.ChunkSize = chunker.DefaultChunkSize
		if params.ChunkOverlap == 0 {
			params.ChunkOverlap = chunker.DefaultChunkOverlap
		}
	}
	if err := chunker.Validate(params.ChunkSize, params.ChunkOverlap); err != nil {
		return nil, err
	}
	if params.Locker == nil {
		params.Locker = NewKeyedLocker()
	}
	return &Pipeline{
		index:    idx,
		embedder: embedder,
		locker:   params.Locker,
		size:     params.ChunkSize,
		overlap:  params.ChunkOverlap,
	}, nil
}

// Ingest chunks, embeds and indexes doc, replacing any chunks previously
// stored for doc.SourceID. It returns the number of chunks now indexed.
// Failures after validation wrap ErrIngestionPartialFailure and leave the
// previously indexed chunks of the document untouched.
func (p *Pipeline) Ingest(ctx context.Context, doc common.Document) (int, error) {
	doc.SourceID = strings.TrimSpace(doc.SourceID)
	if doc.SourceID == "" {
		return 0, common.ConfigError("document source id is required")
	}

	chunks, err := chunker.Chunk(doc, p.size, p.overlap)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	var stored int
	err = p.locker.WithLock(ctx, doc.SourceID, func(ctx context.Context) error {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}

		var (
			vectors [][]float32
			err     error
		)
		if len(texts) > 0 {
			vectors, err = p.embedder.Embed(ctx, texts)
			if err != nil {
				return err
			}
			if len(vectors) != len(chunks) {
				return common.EmbeddingError(errors.New("embedder returned a different number of vectors than chunks"))
			}
		}

		entries := make([]index.Entry, len(chunks))
		for i, c := range chunks {
			entries[i] = index.Entry{Chunk: c, Vector: vectors[i]}
		}

		// the lock may have been lost while embedding
		if err := ctx.Err(); err != nil {
			return err
		}
		stored, err = p.index.Replace(ctx, doc.SourceID, entries)
		return err
	})
	if err != nil {
		logger.Error("[Ingest] Document rolled back", "source_id", doc.SourceID, "chunks", len(chunks), "err", err)
		return 0, common.IngestionError(doc.SourceID, err)
	}

	logger.Info("[Ingest] Document indexed",
		"source_id", doc.SourceID,
		"chunks", stored,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return stored, nil
}

// Remove deletes every chunk of sourceID from the index.
func (p *Pipeline) Remove(ctx context.Context, sourceID string) (int, error) {
	var removed int
	err := p.locker.WithLock(ctx, sourceID, func(ctx context.Context) error {
		var err error
		removed, err = p.index.Delete(ctx, sourceID)
		return err
	})
	if err != nil {
		return 0, err
	}
	logger.Info("[Ingest] Document removed", "source_id", sourceID, "chunks", removed)
	return removed, nil
}

// Result is the outcome of one document in IngestAll.
type Result struct {
	SourceID string
	Chunks   int
	Err      error
}

// IngestAll ingests docs with at most concurrency documents in flight. One
// failing document does not stop the others; the joined error lists every
// failure.
func (p *Pipeline) IngestAll(ctx context.Context, docs []common.Document, concurrency int) ([]Result, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]Result, len(docs))

	var eg errgroup.Group
	eg.SetLimit(concurrency)
	for i, doc := range docs {
		eg.Go(func() error {
			n, err := p.Ingest(ctx, doc)
			results[i] = Result{SourceID: doc.SourceID, Chunks: n, Err: err}
			return nil
		})
	}
	_ = eg.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return results, errors.Join(errs...)
}
