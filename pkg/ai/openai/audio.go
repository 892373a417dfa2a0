package openai

import (
	"bytes"
	"context"
	"time"

	"github.com/OFFIS-RIT/triage/pkg/ai"
	"github.com/OFFIS-RIT/triage/pkg/common"

	"github.com/openai/openai-go/v3"
)

// GenerateAudioTranscription transcribes audio data to text using the configured audio model.
// The language parameter is optional and can be used to hint the expected language.
func (c *OpenAIClient) GenerateAudioTranscription(
	ctx context.Context,
	audio []byte,
	language string,
) (string, error) {
	if c.AudioClient == nil {
		return "", common.ConfigError("openai audio client not configured")
	}

	params := openai.AudioTranscriptionNewParams{
		File:  bytes.NewReader(audio),
		Model: openai.AudioModel(c.audioModel),
	}
	if language != "" {
		params.Language = openai.String(language)
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	transcription, err := c.AudioClient.Audio.Transcriptions.New(rCtx, params)
	if err != nil {
		return "", common.ModelError(err)
	}

	// no token usage is reported for audio
	c.AddMetrics(ai.ModelMetrics{
		DurationMs: time.Since(start).Milliseconds(),
	})

	return transcription.Text, nil
}
