// Package chunker splits document text into overlapping fixed-size chunks.
//
// Sizes are counted in characters (runes) so chunk boundaries do not depend
// on the tokenizer of whichever embedding model is configured.
package chunker

import (
	"fmt"

	"github.com/OFFIS-RIT/triage/pkg/common"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Validate checks 0 <= overlap < size.
func Validate(size, overlap int) error {
	if size <= 0 {
		return common.ConfigError("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return common.ConfigError("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return nil
}

// ChunkID returns the identifier of the chunk at position in sourceID.
// Identifiers are stable so re-chunking the same document yields the same ids.
func ChunkID(sourceID string, position int) string {
	return fmt.Sprintf("%s#%05d", sourceID, position)
}

// Chunk splits doc.Text into chunks of at most size characters. Chunk i
// starts at i*(size-overlap); consecutive chunks share exactly overlap
// characters. Splitting stops once a chunk reaches the end of the text, so
// no chunk is fully contained in its predecessor. Empty text yields no
// chunks.
func Chunk(doc common.Document, size, overlap int) ([]common.Chunk, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}

	runes := []rune(doc.Text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	step := size - overlap
	chunks := make([]common.Chunk, 0, (n+step-1)/step)
	for i, start := 0, 0; start < n; i, start = i+1, start+step {
		end := min(start+size, n)
		chunks = append(chunks, common.Chunk{
			ID:        ChunkID(doc.SourceID, i),
			SourceID:  doc.SourceID,
			Category:  doc.Category,
			Text:      string(runes[start:end]),
			Position:  i,
			CharStart: start,
			CharEnd:   end,
		})
		if end == n {
			break
		}
	}

	return chunks, nil
}

// Reconstruct concatenates chunks produced by Chunk with the given overlap,
// dropping the shared prefix of every chunk after the first.
func Reconstruct(chunks []common.Chunk, overlap int) string {
	var out []rune
	for i, c := range chunks {
		r := []rune(c.Text)
		if i > 0 {
			r = r[min(overlap, len(r)):]
		}
		out = append(out, r...)
	}
	return string(out)
}
