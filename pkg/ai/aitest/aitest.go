// Package aitest provides a deterministic in-process ai.Client for tests.
package aitest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/OFFIS-RIT/triage/pkg/ai"
	"github.com/OFFIS-RIT/triage/pkg/common"
)

// Client embeds text as a hashed bag of words and answers structured calls
// from scripted responses.
//
// Synonyms maps a lowercase token onto a canonical token before hashing, so
// "peito" and "chest" can share a dimension. Handler, when set, takes
// precedence over Responses. Responses are consumed in order per schema
// name; the last one repeats.
type Client struct {
	ai.MetricsTracker

	Dim        int
	Synonyms   map[string]string
	Handler    func(name, prompt string, call int) (string, error)
	Responses  map[string][]string
	EmbedErr   func(call int, inputs []string) error
	Transcript string

	mu         sync.Mutex
	calls      map[string]int
	prompts    map[string][]string
	embedCalls int
}

var _ ai.Client = (*Client)(nil)

func New(dim int) *Client {
	return &Client{Dim: dim}
}

func (c *Client) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.calls == nil {
		c.calls = map[string]int{}
		c.prompts = map[string][]string{}
	}
	call := c.calls[name]
	c.calls[name]++
	c.prompts[name] = append(c.prompts[name], prompt)
	var raw string
	var err error
	switch {
	case c.Handler != nil:
	case len(c.Responses[name]) > 0:
		queue := c.Responses[name]
		raw = queue[min(call, len(queue)-1)]
	default:
		err = common.ModelError(errNoResponse(name))
	}
	handler := c.Handler
	c.mu.Unlock()

	if handler != nil {
		raw, err = handler(name, prompt, call)
	}
	if err != nil {
		return err
	}

	c.AddMetrics(ai.ModelMetrics{InputTokens: len(prompt) / 4, OutputTokens: len(raw) / 4, TotalTokens: (len(prompt) + len(raw)) / 4})
	return ai.DecodeStructured(raw, out)
}

// Calls returns how often the structured call name was made.
func (c *Client) Calls(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

// Prompts returns the prompts sent for name in call order.
func (c *Client) Prompts(name string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts[name]...)
}

func (c *Client) EmbedCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.embedCalls
}

func (c *Client) GenerateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	call := c.embedCalls
	c.embedCalls++
	c.mu.Unlock()

	if c.EmbedErr != nil {
		if err := c.EmbedErr(call, inputs); err != nil {
			return nil, err
		}
	}

	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = c.Vector(in)
	}
	return out, nil
}

// Vector returns the unnormalized bag-of-words vector of text.
func (c *Client) Vector(text string) []float32 {
	dim := c.Dim
	if dim <= 0 {
		dim = 64
	}
	v := make([]float32, dim)
	for _, tok := range Tokens(text) {
		if canon, ok := c.Synonyms[tok]; ok {
			tok = canon
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		v[int(h.Sum32()%uint32(dim))]++
	}
	return v
}

func (c *Client) GenerateAudioTranscription(ctx context.Context, audio []byte, language string) (string, error) {
	if len(audio) == 0 {
		return "", common.ModelError(errNoResponse("transcription"))
	}
	return c.Transcript, nil
}

// Tokens lowercases text and splits it on anything that is not a letter or digit.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

type errNoResponse string

func (e errNoResponse) Error() string { return "no scripted response for " + string(e) }
