package ai

import (
	"context"
)

// GenerateOptions holds configuration for AI generation requests.
type GenerateOptions struct {
	Model         string   // Model identifier to use for generation
	SystemPrompts []string // System prompts prepended to the request
	Temperature   float64  // Sampling temperature (0.0-2.0)
	Thinking      string   // Extended thinking mode configuration
}

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	Requests       int     `json:"requests"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// GenerateOption is a functional option for configuring AI generation requests.
type GenerateOption func(*GenerateOptions)

// WithModel returns a GenerateOption that sets the model to use for generation.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts returns a GenerateOption that sets the system prompts
// to prepend to the generation request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature returns a GenerateOption that sets the sampling temperature.
// Higher values (e.g., 1.0) produce more random outputs, while lower values
// (e.g., 0.2) make outputs more focused and deterministic.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithThinking returns a GenerateOption that enables extended thinking mode.
func WithThinking(thinking string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Thinking = thinking
	}
}

// ApplyOptions folds opts over base.
func ApplyOptions(base GenerateOptions, opts ...GenerateOption) GenerateOptions {
	for _, o := range opts {
		o(&base)
	}
	return base
}

// StructuredGenerator produces model output constrained to the JSON schema
// of out. Transport failures are reported as common.ErrModelService, output
// that cannot be decoded into out as common.ErrMalformedResponse.
type StructuredGenerator interface {
	GenerateCompletionWithFormat(
		ctx context.Context,
		name string,
		description string,
		prompt string,
		out any,
		opts ...GenerateOption,
	) error
}

// Embedder maps texts to vectors, one per input and in input order.
// Failures are reported as common.ErrEmbeddingService.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)
}

// Transcriber turns recorded audio into text.
type Transcriber interface {
	GenerateAudioTranscription(
		ctx context.Context,
		audio []byte,
		language string,
	) (string, error)
}

// Client defines the AI operations the triage engine needs from a provider.
type Client interface {
	StructuredGenerator
	Embedder
	Transcriber

	ResetMetrics()
	GetMetrics() ModelMetrics
}
