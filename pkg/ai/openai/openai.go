package openai

import (
	"time"

	"github.com/OFFIS-RIT/triage/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// OpenAIClient implements ai.Client against the OpenAI API or any
// OpenAI-compatible endpoint. Chat, embedding and audio requests may be
// routed to different endpoints.
//
// An OpenAIClient should be created using NewOpenAIClient.
type OpenAIClient struct {
	ai.MetricsTracker

	chatModel      string
	embeddingModel string
	audioModel     string
	dimensions     int
	chatURL        string
	timeout        time.Duration

	embeddingLock *semaphore.Weighted

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
	AudioClient     *openai.Client
}

// NewOpenAIClientParams defines the configuration parameters for creating
// a new OpenAIClient.
//
// Dimensions, when > 0, is requested from models that support shortened
// embeddings (text-embedding-3-*). Empty audio URL/key fall back to the
// chat endpoint.
type NewOpenAIClientParams struct {
	ChatModel      string
	EmbeddingModel string
	AudioModel     string
	Dimensions     int

	ChatURL      string
	ChatKey      string
	EmbeddingURL string
	EmbeddingKey string
	AudioURL     string
	AudioKey     string

	Timeout                 time.Duration
	MaxConcurrentEmbeddings int64
}

// NewOpenAIClient creates and returns a new OpenAIClient.
//
// Example:
//
//	client := openai.NewOpenAIClient(openai.NewOpenAIClientParams{
//		ChatModel:      "gpt-4o-mini",
//		EmbeddingModel: "text-embedding-3-small",
//		AudioModel:     "whisper-1",
//		ChatKey:        os.Getenv("OPENAI_API_KEY"),
//		EmbeddingKey:   os.Getenv("OPENAI_API_KEY"),
//	})
func NewOpenAIClient(params NewOpenAIClientParams) *OpenAIClient {
	audioURL, audioKey := params.AudioURL, params.AudioKey
	if audioKey == "" {
		audioURL, audioKey = params.ChatURL, params.ChatKey
	}
	if params.MaxConcurrentEmbeddings <= 0 {
		params.MaxConcurrentEmbeddings = 4
	}
	if params.Timeout <= 0 {
		params.Timeout = 2 * time.Minute
	}

	return &OpenAIClient{
		chatModel:      params.ChatModel,
		embeddingModel: params.EmbeddingModel,
		audioModel:     params.AudioModel,
		dimensions:     params.Dimensions,
		chatURL:        params.ChatURL,
		timeout:        params.Timeout,

		embeddingLock: semaphore.NewWeighted(params.MaxConcurrentEmbeddings),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
		AudioClient:     newOpenaiClient(audioURL, audioKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries are driven by the caller's backoff policy
		option.WithMaxRetries(0),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}
