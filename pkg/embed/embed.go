// Package embed turns texts into unit-length vectors through an ai.Embedder,
// adding batching, throttling and retry with exponential backoff.
package embed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/OFFIS-RIT/triage/internal/util"
	"github.com/OFFIS-RIT/triage/pkg/ai"
	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/logger"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Params configures an Embedder. Dimensions 0 adopts the dimension of the
// first response and enforces it afterwards. RequestsPerSecond 0 disables
// throttling.
type Params struct {
	Dimensions        int
	BatchSize         int
	Concurrency       int
	RequestsPerSecond float64
	Retry             util.Backoff
}

// DefaultRetry retries a failing embedding call three times in total,
// waiting 500ms, then 1s, each call bounded by 30s.
var DefaultRetry = util.Backoff{
	Attempts: 3,
	Initial:  500 * time.Millisecond,
	Max:      10 * time.Second,
	Jitter:   0.2,
	Timeout:  30 * time.Second,
}

type Embedder struct {
	client  ai.Embedder
	params  Params
	limiter *rate.Limiter
	dim     atomic.Int64
}

func New(client ai.Embedder, params Params) (*Embedder, error) {
	if client == nil {
		return nil, common.ConfigError("embedding client is required")
	}
	if params.Dimensions < 0 {
		return nil, common.ConfigError("embedding dimensions must not be negative, got %d", params.Dimensions)
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 64
	}
	if params.Concurrency <= 0 {
		params.Concurrency = 2
	}
	if params.Retry.Attempts <= 0 {
		params.Retry = DefaultRetry
	}

	e := &Embedder{client: client, params: params}
	if params.RequestsPerSecond > 0 {
		burst := max(1, int(math.Ceil(params.RequestsPerSecond)))
		e.limiter = rate.NewLimiter(rate.Limit(params.RequestsPerSecond), burst)
	}
	e.dim.Store(int64(params.Dimensions))
	return e, nil
}

// Dimensions returns the vector dimension, 0 while still unknown.
func (e *Embedder) Dimensions() int {
	return int(e.dim.Load())
}

// Embed returns one normalized vector per text, in input order. Blank texts
// map to zero vectors without a model call.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var pending []int
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		pending = append(pending, i)
	}

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(e.params.Concurrency)
	for start := 0; start < len(pending); start += e.params.BatchSize {
		batch := pending[start:min(start+e.params.BatchSize, len(pending))]
		eg.Go(func() error {
			inputs := make([]string, len(batch))
			for i, idx := range batch {
				inputs[i] = texts[idx]
			}
			vecs, err := e.embedBatch(ectx, inputs)
			if err != nil {
				return err
			}
			for i, idx := range batch {
				out[idx] = vecs[i]
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	dim := e.Dimensions()
	for i := range out {
		if out[i] == nil {
			out[i] = make([]float32, dim)
		}
	}
	return out, nil
}

// EmbedQuery embeds a single query text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	attempt := 0
	vecs, err := util.RetryBackoff(ctx, e.params.Retry, func(ctx context.Context) ([][]float32, error) {
		attempt++
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		vecs, err := e.client.GenerateEmbeddings(ctx, inputs)
		if err != nil {
			if errors.Is(err, common.ErrConfiguration) {
				return nil, util.Permanent(err)
			}
			logger.Warn("[Embed] Embedding request failed", "attempt", attempt, "batch", len(inputs), "err", err)
			return nil, err
		}
		if len(vecs) != len(inputs) {
			return nil, fmt.Errorf("embedding result size mismatch: got %d want %d", len(vecs), len(inputs))
		}
		for _, v := range vecs {
			if err := e.checkDimensions(len(v)); err != nil {
				return nil, util.Permanent(err)
			}
			normalize(v)
		}
		return vecs, nil
	})
	if err != nil {
		if common.IsContextErr(err) && ctx.Err() != nil {
			return nil, err
		}
		if errors.Is(err, common.ErrConfiguration) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: giving up after %d attempts: %w", common.ErrEmbeddingService, attempt, err)
	}
	return vecs, nil
}

func (e *Embedder) checkDimensions(got int) error {
	if got == 0 {
		return common.ConfigError("embedding model returned an empty vector")
	}
	if e.dim.CompareAndSwap(0, int64(got)) {
		return nil
	}
	if want := e.Dimensions(); want != got {
		return common.ConfigError("embedding dimension mismatch: model returned %d, index expects %d", got, want)
	}
	return nil
}

// normalize scales v to unit length in place. Zero vectors stay zero.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
