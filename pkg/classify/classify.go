// Package classify decides which emergency services a report needs and how
// urgent it is, using structured model calls grounded by retrieved context.
//
// A malformed answer is retried once with a stricter prompt and then
// replaced by a conservative default, so a report is never dropped because
// of a formatting defect. Transport failures are retried with backoff and
// returned once the budget is spent.
package classify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/triage/internal/util"
	"github.com/OFFIS-RIT/triage/pkg/ai"
	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/logger"
	"github.com/OFFIS-RIT/triage/pkg/retrieval"
)

// DefaultRetry gives model calls three attempts, each bounded by 30s.
var DefaultRetry = util.Backoff{
	Attempts: 3,
	Initial:  time.Second,
	Max:      15 * time.Second,
	Jitter:   0.2,
	Timeout:  30 * time.Second,
}

type Params struct {
	Retry       util.Backoff
	Model       string
	Temperature float64
}

type caller struct {
	gen   ai.StructuredGenerator
	retry util.Backoff
	opts  []ai.GenerateOption
}

func newCaller(gen ai.StructuredGenerator, params Params) (*caller, error) {
	if gen == nil {
		return nil, common.ConfigError("classification needs a model client")
	}
	if params.Retry.Attempts <= 0 {
		params.Retry = DefaultRetry
	}
	opts := []ai.GenerateOption{ai.WithTemperature(params.Temperature)}
	if params.Model != "" {
		opts = append(opts, ai.WithModel(params.Model))
	}
	return &caller{gen: gen, retry: params.Retry, opts: opts}, nil
}

// call performs one structured request, retrying transport failures only.
func (c *caller) call(ctx context.Context, name, description, prompt string, out any) error {
	attempt := 0
	_, err := util.RetryBackoff(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		attempt++
		err := c.gen.GenerateCompletionWithFormat(ctx, name, description, prompt, out, c.opts...)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, common.ErrMalformedResponse) || errors.Is(err, common.ErrConfiguration) {
			return struct{}{}, util.Permanent(err)
		}
		logger.Warn("[Classify] Model call failed", "call", name, "attempt", attempt, "err", err)
		return struct{}{}, err
	})
	if err == nil || ctx.Err() != nil {
		return err
	}
	if errors.Is(err, common.ErrMalformedResponse) || errors.Is(err, common.ErrConfiguration) || errors.Is(err, common.ErrModelService) {
		return err
	}
	return fmt.Errorf("%w: %s: giving up after %d attempts: %w", common.ErrModelService, name, attempt, err)
}

type response[T any] interface {
	*T
	// validate checks and normalizes a decoded answer. Rejections must
	// wrap common.ErrMalformedResponse.
	validate() error
}

// structured asks for T with prompt and, if the answer is malformed, once
// more with the strict suffix. It reports defaulted when both answers were
// unusable.
func structured[T any, P response[T]](ctx context.Context, c *caller, name, description, prompt string) (T, bool, error) {
	var zero T
	next := prompt
	for attempt := 1; attempt <= 2; attempt++ {
		var out T
		err := c.call(ctx, name, description, next, P(&out))
		if err == nil {
			err = P(&out).validate()
		}
		if err == nil {
			return out, false, nil
		}
		if !errors.Is(err, common.ErrMalformedResponse) {
			return zero, false, err
		}
		logger.Warn("[Classify] Malformed model response", "call", name, "attempt", attempt, "err", err)
		next = prompt + fmt.Sprintf(StrictSuffix, err)
	}
	return zero, true, nil
}

func contextBlock(rc common.RetrievedContext) string {
	if rc.Empty() {
		return noContext
	}
	return retrieval.Render(rc)
}
