// Package web loads knowledge base pages over HTTP and keeps only their
// readable content.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codeberg.org/readeck/go-readability/v2"

	"github.com/OFFIS-RIT/triage/pkg/loader"
)

const maxBody = 20 << 20

// Loader fetches SourceFile.Path as a URL. HTML is reduced to its main
// article text; other content types are returned as is.
type Loader struct {
	client *http.Client
	cache  *loader.Cache
}

func NewLoader(client *http.Client) *Loader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Loader{client: client, cache: loader.NewCache()}
}

func (l *Loader) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	return l.cache.Load(loader.CacheKey(file), func() ([]byte, error) {
		pageURL, err := url.Parse(file.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to parse url: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch url: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
		}

		body := io.LimitReader(resp.Body, maxBody)
		if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
			return io.ReadAll(body)
		}

		article, err := readability.FromReader(body, pageURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse html: %w", err)
		}
		var b strings.Builder
		if err := article.RenderText(&b); err != nil {
			return nil, fmt.Errorf("failed to render article text: %w", err)
		}
		return []byte(b.String()), nil
	})
}
