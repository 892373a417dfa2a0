package ollama

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/OFFIS-RIT/triage/pkg/ai"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/sync/semaphore"
)

// OllamaClient implements ai.Client using a locally hosted Ollama server.
// Audio transcription is not available through Ollama.
type OllamaClient struct {
	ai.MetricsTracker

	chatModel      string
	embeddingModel string
	timeout        time.Duration

	reqLock *semaphore.Weighted

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error

	Client *api.Client
}

// NewOllamaClientParams contains configuration options for creating a new OllamaClient.
type NewOllamaClientParams struct {
	ChatModel      string
	EmbeddingModel string

	BaseURL string
	ApiKey  string

	Timeout               time.Duration
	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewOllamaClient creates a new Ollama-based AI client. It connects to the
// server at BaseURL, or the default local address when empty.
func NewOllamaClient(
	params NewOllamaClientParams,
) (*OllamaClient, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	headers := map[string]string{}
	if params.ApiKey != "" {
		headers["Authorization"] = "Bearer " + params.ApiKey
	}
	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: headers,
			rt:      http.DefaultTransport,
		},
	}

	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 2
	}
	if params.Timeout <= 0 {
		params.Timeout = 5 * time.Minute
	}

	return &OllamaClient{
		chatModel:      params.ChatModel,
		embeddingModel: params.EmbeddingModel,
		timeout:        params.Timeout,

		reqLock: semaphore.NewWeighted(params.MaxConcurrentRequests),

		Client: api.NewClient(u, httpClient),
	}, nil
}

// contextWindow estimates the num_ctx needed for prompt. Ollama defaults to
// a small window and silently truncates longer prompts.
func (c *OllamaClient) contextWindow(prompt string) (int, error) {
	c.encOnce.Do(func() {
		c.enc, c.encErr = tiktoken.GetEncoding("o200k_base")
	})
	if c.encErr != nil {
		return 0, c.encErr
	}
	return 512 + len(c.enc.Encode(prompt, nil, nil)), nil
}
