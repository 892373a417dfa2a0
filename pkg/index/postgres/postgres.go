// Package postgres stores the knowledge base in a pgvector column and ranks
// with the cosine distance operator.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/index"
	"github.com/OFFIS-RIT/triage/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Index struct {
	db DB

	mu  sync.RWMutex
	dim int
}

var _ index.Index = (*Index)(nil)

// New binds an index to the knowledge_chunks table. When the table already
// holds vectors their dimension wins over dim; a conflicting non-zero dim is
// a configuration error.
func New(ctx context.Context, db DB, dim int) (*Index, error) {
	var stored *int32
	err := db.QueryRow(ctx, storedDimensionSQL).Scan(&stored)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read index dimension: %w", err)
	}
	if stored != nil {
		if dim != 0 && int(*stored) != dim {
			return nil, common.ConfigError("knowledge base holds %d-dimensional vectors but %d were configured", *stored, dim)
		}
		dim = int(*stored)
	}
	logger.Debug("Opened pgvector index", "dimensions", dim)
	return &Index{db: db, dim: dim}, nil
}

func (s *Index) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

func (s *Index) checkDimensions(entries []index.Entry) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return index.CheckDimensions(s.dim, entries)
}

// adopt fixes the dimension of an empty index once vectors of that size
// have been written.
func (s *Index) adopt(dim int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim == 0 {
		s.dim = dim
	}
}

func (s *Index) Upsert(ctx context.Context, entries []index.Entry) error {
	if len(entries) == 0 {
		return ctx.Err()
	}
	dim, err := s.checkDimensions(entries)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		queueInsert(batch, e)
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}
	s.adopt(dim)
	return nil
}

func queueInsert(batch *pgx.Batch, e index.Entry) {
	c := e.Chunk
	batch.Queue(upsertSQL,
		c.ID, c.SourceID, c.Category, c.Position, c.CharStart, c.CharEnd,
		c.Text, pgvector.NewVector(e.Vector),
	)
}

func (s *Index) Query(ctx context.Context, vector []float32, k int) ([]common.RetrievedChunk, error) {
	if k <= 0 {
		return []common.RetrievedChunk{}, ctx.Err()
	}
	dim := s.Dimensions()
	if dim != 0 && len(vector) != dim {
		return nil, common.ConfigError("query dimension %d does not match index dimension %d", len(vector), dim)
	}

	var (
		rows pgx.Rows
		err  error
	)
	if isZero(vector) {
		// cosine distance to a zero vector is NaN, every score is 0
		rows, err = s.db.Query(ctx, queryByInsertionSQL, k)
	} else {
		rows, err = s.db.Query(ctx, querySQL, pgvector.NewVector(vector), k)
	}
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer rows.Close()

	out := make([]common.RetrievedChunk, 0, k)
	for rows.Next() {
		var (
			c     common.Chunk
			score float64
		)
		err := rows.Scan(
			&c.ID, &c.SourceID, &c.Category, &c.Position,
			&c.CharStart, &c.CharEnd, &c.Text, &score,
		)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(score) {
			score = 0
		}
		out = append(out, common.RetrievedChunk{Chunk: c, Score: score})
	}
	return out, rows.Err()
}

func (s *Index) Delete(ctx context.Context, sourceID string) (int, error) {
	tag, err := s.db.Exec(ctx, deleteSourceSQL, sourceID)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", sourceID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Index) Clear(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, clearSQL)
	if err != nil {
		return 0, fmt.Errorf("clear knowledge base: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Replace runs delete and insert in one transaction. Cancelling ctx rolls
// the transaction back and leaves the previous chunks in place.
func (s *Index) Replace(ctx context.Context, sourceID string, entries []index.Entry) (int, error) {
	for _, e := range entries {
		if e.Chunk.SourceID != sourceID {
			return 0, common.ConfigError("chunk %s belongs to %q, not %q", e.Chunk.ID, e.Chunk.SourceID, sourceID)
		}
	}
	var dim int
	if len(entries) > 0 {
		var err error
		if dim, err = s.checkDimensions(entries); err != nil {
			return 0, err
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if _, err := tx.Exec(ctx, deleteSourceSQL, sourceID); err != nil {
		return 0, fmt.Errorf("replace %s: %w", sourceID, err)
	}
	if len(entries) > 0 {
		batch := &pgx.Batch{}
		for _, e := range entries {
			queueInsert(batch, e)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return 0, fmt.Errorf("replace %s: %w", sourceID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit replace %s: %w", sourceID, err)
	}
	if dim > 0 {
		s.adopt(dim)
	}
	return len(entries), nil
}

func (s *Index) Stats(ctx context.Context) (index.Stats, error) {
	var st index.Stats
	if err := s.db.QueryRow(ctx, statsSQL).Scan(&st.Chunks, &st.Documents); err != nil {
		return st, fmt.Errorf("index stats: %w", err)
	}
	st.Dimensions = s.Dimensions()
	return st, nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

const storedDimensionSQL = `SELECT vector_dims(embedding) FROM knowledge_chunks LIMIT 1`

const upsertSQL = `
INSERT INTO knowledge_chunks (chunk_id, source_id, category, position, char_start, char_end, content, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (chunk_id) DO UPDATE
SET source_id  = EXCLUDED.source_id,
    category   = EXCLUDED.category,
    position   = EXCLUDED.position,
    char_start = EXCLUDED.char_start,
    char_end   = EXCLUDED.char_end,
    content    = EXCLUDED.content,
    embedding  = EXCLUDED.embedding
`

const querySQL = `
SELECT chunk_id, source_id, category, position, char_start, char_end, content,
       1 - (embedding <=> $1) AS score
FROM knowledge_chunks
ORDER BY embedding <=> $1, seq
LIMIT $2
`

const queryByInsertionSQL = `
SELECT chunk_id, source_id, category, position, char_start, char_end, content,
       0::float8 AS score
FROM knowledge_chunks
ORDER BY seq
LIMIT $1
`

const deleteSourceSQL = `DELETE FROM knowledge_chunks WHERE source_id = $1`

const clearSQL = `DELETE FROM knowledge_chunks`

const statsSQL = `SELECT count(*), count(DISTINCT source_id) FROM knowledge_chunks`
