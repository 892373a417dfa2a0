// Package gateway talks to an Evolution API instance: it receives WhatsApp
// messages through webhooks and sends replies back.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/OFFIS-RIT/triage/internal/util"
	"github.com/OFFIS-RIT/triage/pkg/logger"
)

type Params struct {
	BaseURL  string
	APIKey   string
	Instance string
	HTTP     *http.Client
	Retry    util.Backoff
}

var defaultRetry = util.Backoff{
	Attempts: 3,
	Initial:  500 * time.Millisecond,
	Max:      5 * time.Second,
	Jitter:   0.2,
	Timeout:  20 * time.Second,
}

type Client struct {
	baseURL  string
	apiKey   string
	instance string
	http     *http.Client
	retry    util.Backoff
}

func NewClient(params Params) *Client {
	if params.HTTP == nil {
		params.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	if params.Retry.Attempts <= 0 {
		params.Retry = defaultRetry
	}
	return &Client{
		baseURL:  strings.TrimRight(params.BaseURL, "/"),
		apiKey:   params.APIKey,
		instance: params.Instance,
		http:     params.HTTP,
		retry:    params.Retry,
	}
}

// StatusError is a non-2xx answer from the gateway.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway %s: status %d: %s", e.Path, e.Status, e.Body)
}

// SetWebhook points the instance's MESSAGES_UPSERT webhook at url.
func (c *Client) SetWebhook(ctx context.Context, url string) error {
	payload := map[string]any{
		"url":               url,
		"enabled":           true,
		"webhook_by_events": false,
		"webhook_base64":    false,
		"events":            []string{EventMessagesUpsert},
	}
	if err := c.post(ctx, "/webhook/set/"+c.instance, payload, nil); err != nil {
		return err
	}
	logger.Info("[Gateway] Webhook configured", "url", url)
	return nil
}

// MediaBase64 downloads the media of a message and returns the decoded bytes.
func (c *Client) MediaBase64(ctx context.Context, messageID string) ([]byte, error) {
	var out struct {
		Base64 string `json:"base64"`
	}
	payload := map[string]any{"message": map[string]any{"key": map[string]string{"id": messageID}}}
	if err := c.post(ctx, "/chat/getBase64FromMediaMessage/"+c.instance, payload, &out); err != nil {
		return nil, err
	}
	if out.Base64 == "" {
		return nil, fmt.Errorf("gateway returned no media for message %s", messageID)
	}
	data, err := base64.StdEncoding.DecodeString(out.Base64)
	if err != nil {
		return nil, fmt.Errorf("decode media: %w", err)
	}
	return data, nil
}

// SendText sends a text message to number.
func (c *Client) SendText(ctx context.Context, number, text string) error {
	payload := map[string]string{"number": number, "text": text}
	return c.post(ctx, "/message/sendText/"+c.instance, payload, nil)
}

// post sends payload as JSON and decodes the answer into out when non-nil.
// Transport errors and 5xx answers are retried.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = util.RetryBackoff(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, util.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("apikey", c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return struct{}{}, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			serr := &StatusError{Path: path, Status: resp.StatusCode, Body: util.Truncate(string(data), 200)}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return struct{}{}, serr
			}
			return struct{}{}, util.Permanent(serr)
		}
		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return struct{}{}, util.Permanent(fmt.Errorf("decode %s response: %w", path, err))
			}
		}
		return struct{}{}, nil
	})
	return err
}
