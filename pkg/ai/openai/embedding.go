package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/triage/pkg/ai"
	"github.com/OFFIS-RIT/triage/pkg/common"

	"github.com/openai/openai-go/v3"
)

// GenerateEmbeddings creates embeddings for all inputs in a single request.
// Vectors are returned in input order with the dimension the model produced.
func (c *OpenAIClient) GenerateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if c.EmbeddingClient == nil {
		return nil, common.ConfigError("openai embedding client not configured")
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Model:          c.embeddingModel,
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if c.dimensions > 0 {
		body.Dimensions = openai.Int(int64(c.dimensions))
	}

	if err := c.embeddingLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.embeddingLock.Release(1)

	start := time.Now()
	response, err := c.EmbeddingClient.Embeddings.New(rCtx, body)
	if err != nil {
		return nil, common.EmbeddingError(err)
	}

	c.AddMetrics(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if len(response.Data) != len(inputs) {
		return nil, common.EmbeddingError(fmt.Errorf("embedding response size mismatch: got %d want %d", len(response.Data), len(inputs)))
	}

	out := make([][]float32, len(inputs))
	for _, embedding := range response.Data {
		dataIdx := int(embedding.Index)
		if dataIdx < 0 || dataIdx >= len(inputs) {
			return nil, common.EmbeddingError(fmt.Errorf("embedding index out of range: %d", embedding.Index))
		}
		vec := make([]float32, len(embedding.Embedding))
		for i, v := range embedding.Embedding {
			vec[i] = float32(v)
		}
		out[dataIdx] = vec
	}
	for i := range out {
		if out[i] == nil {
			return nil, common.EmbeddingError(fmt.Errorf("missing embedding for index %d", i))
		}
	}
	return out, nil
}
