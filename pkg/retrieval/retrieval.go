// Package retrieval assembles length-bounded knowledge base context for a
// report.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/index"
	"github.com/OFFIS-RIT/triage/pkg/logger"

	"github.com/pkoukk/tiktoken-go"
)

const (
	DefaultMaxContextLength = 2000
	DefaultTopK             = 10

	// Separator joins packed chunks and counts towards the length bound.
	Separator = "\n\n"
)

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Params struct {
	// MinScore drops retrieved chunks scoring below it; 0 keeps everything.
	MinScore float64
	// TokenEncoding, when set, names the tiktoken encoding used to fill
	// RetrievedContext.Tokens.
	TokenEncoding string
}

type Assembler struct {
	embedder QueryEmbedder
	index    index.Index
	params   Params

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

func NewAssembler(embedder QueryEmbedder, idx index.Index, params Params) (*Assembler, error) {
	if embedder == nil || idx == nil {
		return nil, common.ConfigError("context assembly needs an embedder and an index")
	}
	if params.MinScore < -1 || params.MinScore > 1 {
		return nil, common.ConfigError("minimum score must be within [-1, 1], got %v", params.MinScore)
	}
	return &Assembler{embedder: embedder, index: idx, params: params}, nil
}

// Assemble embeds query, retrieves the top k chunks and packs them greedily,
// best first, into at most maxLen characters. Chunks that would overflow are
// skipped, never split or reordered, except that a best chunk longer than
// maxLen on its own is truncated to fit. No matches yield an empty context.
func (a *Assembler) Assemble(ctx context.Context, query string, maxLen, k int) (common.RetrievedContext, error) {
	rc := common.RetrievedContext{Query: query, Chunks: []common.RetrievedChunk{}}
	if maxLen <= 0 || k <= 0 {
		return rc, common.ConfigError("max context length and top-k must be positive, got %d and %d", maxLen, k)
	}
	if strings.TrimSpace(query) == "" {
		return rc, nil
	}

	vec, err := a.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return rc, err
	}
	hits, err := a.index.Query(ctx, vec, k)
	if err != nil {
		return rc, err
	}
	rc.Considered = len(hits)

	hits = a.filter(hits)
	rc.Chunks, rc.Truncated = Pack(hits, maxLen)
	rc.Text = join(rc.Chunks)
	rc.Tokens = a.countTokens(rc.Text)

	logger.Debug("[Retrieval] Assembled context",
		"considered", rc.Considered,
		"packed", len(rc.Chunks),
		"length", len([]rune(rc.Text)),
		"truncated", rc.Truncated,
	)
	return rc, nil
}

func (a *Assembler) filter(hits []common.RetrievedChunk) []common.RetrievedChunk {
	if a.params.MinScore == 0 {
		return hits
	}
	kept := hits[:0:0]
	for _, h := range hits {
		if h.Score >= a.params.MinScore {
			kept = append(kept, h)
		}
	}
	return kept
}

// Pack selects chunks in the given order so that their texts joined by
// Separator stay within maxLen characters. It reports whether the first
// chunk had to be truncated.
func Pack(hits []common.RetrievedChunk, maxLen int) ([]common.RetrievedChunk, bool) {
	packed := make([]common.RetrievedChunk, 0, len(hits))
	sepLen := len([]rune(Separator))
	total := 0
	truncated := false

	for i, h := range hits {
		n := len([]rune(h.Chunk.Text))
		if i == 0 && n > maxLen {
			h.Chunk.Text = string([]rune(h.Chunk.Text)[:maxLen])
			h.Chunk.CharEnd = h.Chunk.CharStart + maxLen
			packed = append(packed, h)
			total = maxLen
			truncated = true
			continue
		}
		add := n
		if len(packed) > 0 {
			add += sepLen
		}
		if total+add > maxLen {
			continue
		}
		packed = append(packed, h)
		total += add
	}
	return packed, truncated
}

func join(chunks []common.RetrievedChunk) string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Chunk.Text
	}
	return strings.Join(texts, Separator)
}

func (a *Assembler) countTokens(text string) int {
	if a.params.TokenEncoding == "" || text == "" {
		return 0
	}
	a.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(a.params.TokenEncoding)
		if err != nil {
			logger.Warn("[Retrieval] Token counting disabled", "encoding", a.params.TokenEncoding, "err", err)
			return
		}
		a.enc = enc
	})
	if a.enc == nil {
		return 0
	}
	return len(a.enc.Encode(text, nil, nil))
}

// Render formats rc as a prompt section with numbered passages, or returns
// "" for an empty context.
func Render(rc common.RetrievedContext) string {
	if rc.Empty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant knowledge base context:\n")
	for i, c := range rc.Chunks {
		fmt.Fprintf(&b, "\n[%d] source: %s", i+1, c.Chunk.SourceID)
		if c.Chunk.Category != "" {
			fmt.Fprintf(&b, " (%s)", c.Chunk.Category)
		}
		fmt.Fprintf(&b, ", relevance %.2f\n%s\n", c.Score, c.Chunk.Text)
	}
	if rc.Truncated {
		b.WriteString("\n(the first passage was shortened)\n")
	}
	return b.String()
}
