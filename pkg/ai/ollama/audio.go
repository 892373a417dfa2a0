package ollama

import (
	"context"

	"github.com/OFFIS-RIT/triage/pkg/common"
)

// GenerateAudioTranscription is not supported by Ollama. Configure an
// OpenAI-compatible transcriber instead.
func (c *OllamaClient) GenerateAudioTranscription(
	ctx context.Context,
	audio []byte,
	language string,
) (string, error) {
	return "", common.ConfigError("audio transcription is not supported by the ollama adapter")
}
