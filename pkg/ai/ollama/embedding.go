package ollama

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/triage/pkg/ai"
	"github.com/OFFIS-RIT/triage/pkg/common"

	"github.com/ollama/ollama/api"
)

// GenerateEmbeddings embeds all inputs with one /api/embed request.
func (c *OllamaClient) GenerateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(rCtx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: inputs,
	})
	if err != nil {
		return nil, common.EmbeddingError(err)
	}

	c.AddMetrics(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	if len(res.Embeddings) != len(inputs) {
		return nil, common.EmbeddingError(fmt.Errorf("embedding response size mismatch: got %d want %d", len(res.Embeddings), len(inputs)))
	}
	return res.Embeddings, nil
}
