// Package triage wires retrieval and the two classifiers into the
// classification engine.
//
// A report moves through RETRIEVING, TYPING and SCORING to DONE. When a stage
// runs out of retries the report ends in FAILED and the caller still gets a
// result: unclassified, urgency 3, flagged for human review.
package triage

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/triage/internal/util"
	"github.com/OFFIS-RIT/triage/pkg/ai"
	"github.com/OFFIS-RIT/triage/pkg/chunker"
	"github.com/OFFIS-RIT/triage/pkg/classify"
	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/embed"
	"github.com/OFFIS-RIT/triage/pkg/index"
	"github.com/OFFIS-RIT/triage/pkg/ingest"
	"github.com/OFFIS-RIT/triage/pkg/logger"
	"github.com/OFFIS-RIT/triage/pkg/retrieval"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config holds the engine knobs. Zero values select the defaults noted on
// each field.
type Config struct {
	EmbedDimensions int     // 0 adopts the model's dimension
	EmbedBatchSize  int     // 64
	EmbedRPS        float64 // 0 disables throttling

	ChunkSize    int // 1000
	ChunkOverlap int // 200

	MaxContextLength int // 2000 characters
	TopK             int // 10
	MinScore         float64
	TokenEncoding    string

	RetryAttempts int           // 3
	RetryInitial  time.Duration // first backoff wait, package defaults when 0
	CallTimeout   time.Duration // 30s

	ChatModel   string
	Temperature float64

	// Locker serializes ingestion per document, in-process by default.
	Locker ingest.Locker
	// OnTransition observes every state change of a classification.
	OnTransition func(Transition)
}

// Transition is one state change of a classification.
type Transition struct {
	ID   uuid.UUID
	From common.Stage
	To   common.Stage
	Err  error
}

func (c *Config) applyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = chunker.DefaultChunkSize
		if c.ChunkOverlap == 0 {
			c.ChunkOverlap = chunker.DefaultChunkOverlap
		}
	}
	if c.MaxContextLength == 0 {
		c.MaxContextLength = retrieval.DefaultMaxContextLength
	}
	if c.TopK == 0 {
		c.TopK = retrieval.DefaultTopK
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}
}

// Validate reports the first invalid setting as a configuration error.
func (c Config) Validate() error {
	if err := chunker.Validate(c.ChunkSize, c.ChunkOverlap); err != nil {
		return err
	}
	switch {
	case c.EmbedDimensions < 0:
		return common.ConfigError("embedding dimensions must not be negative, got %d", c.EmbedDimensions)
	case c.MaxContextLength <= 0:
		return common.ConfigError("max context length must be positive, got %d", c.MaxContextLength)
	case c.TopK <= 0:
		return common.ConfigError("top-k must be positive, got %d", c.TopK)
	case c.RetryAttempts <= 0:
		return common.ConfigError("retry attempts must be positive, got %d", c.RetryAttempts)
	case c.CallTimeout <= 0:
		return common.ConfigError("call timeout must be positive, got %s", c.CallTimeout)
	}
	return nil
}

type Engine struct {
	cfg       Config
	index     index.Index
	embedder  *embed.Embedder
	pipeline  *ingest.Pipeline
	assembler *retrieval.Assembler
	types     *classify.TypeClassifier
	urgency   *classify.UrgencyClassifier
}

// New builds an engine on client and idx. Invalid settings or a dimension
// conflict between cfg and idx are configuration errors.
func New(client ai.Client, idx index.Index, cfg Config) (*Engine, error) {
	if client == nil || idx == nil {
		return nil, common.ConfigError("engine needs a model client and an index")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d := idx.Dimensions(); d != 0 {
		if cfg.EmbedDimensions != 0 && cfg.EmbedDimensions != d {
			return nil, common.ConfigError("index holds %d-dimensional vectors but %d were configured", d, cfg.EmbedDimensions)
		}
		cfg.EmbedDimensions = d
	}

	embedRetry := embed.DefaultRetry
	embedRetry.Attempts = cfg.RetryAttempts
	embedRetry.Timeout = cfg.CallTimeout
	if cfg.RetryInitial > 0 {
		embedRetry.Initial = cfg.RetryInitial
	}
	emb, err := embed.New(client, embed.Params{
		Dimensions:        cfg.EmbedDimensions,
		BatchSize:         cfg.EmbedBatchSize,
		RequestsPerSecond: cfg.EmbedRPS,
		Retry:             embedRetry,
	})
	if err != nil {
		return nil, err
	}

	pipeline, err := ingest.NewPipeline(idx, emb, ingest.Params{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Locker:       cfg.Locker,
	})
	if err != nil {
		return nil, err
	}

	assembler, err := retrieval.NewAssembler(emb, idx, retrieval.Params{
		MinScore:      cfg.MinScore,
		TokenEncoding: cfg.TokenEncoding,
	})
	if err != nil {
		return nil, err
	}

	modelRetry := classify.DefaultRetry
	modelRetry.Attempts = cfg.RetryAttempts
	modelRetry.Timeout = cfg.CallTimeout
	if cfg.RetryInitial > 0 {
		modelRetry.Initial = cfg.RetryInitial
	}
	params := classify.Params{Retry: modelRetry, Model: cfg.ChatModel, Temperature: cfg.Temperature}
	types, err := classify.NewTypeClassifier(client, params)
	if err != nil {
		return nil, err
	}
	urgency, err := classify.NewUrgencyClassifier(client, params)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:       cfg,
		index:     idx,
		embedder:  emb,
		pipeline:  pipeline,
		assembler: assembler,
		types:     types,
		urgency:   urgency,
	}, nil
}

// IngestDocument adds or replaces doc in the knowledge base and returns the
// number of chunks indexed.
func (e *Engine) IngestDocument(ctx context.Context, doc common.Document) (int, error) {
	return e.pipeline.Ingest(ctx, doc)
}

func (e *Engine) IngestDocuments(ctx context.Context, docs []common.Document, concurrency int) ([]ingest.Result, error) {
	return e.pipeline.IngestAll(ctx, docs, concurrency)
}

func (e *Engine) RemoveDocument(ctx context.Context, sourceID string) (int, error) {
	return e.pipeline.Remove(ctx, sourceID)
}

func (e *Engine) Stats(ctx context.Context) (index.Stats, error) {
	return e.index.Stats(ctx)
}

// ClearIndex removes every document from the knowledge base and returns the
// number of chunks dropped.
func (e *Engine) ClearIndex(ctx context.Context) (int, error) {
	n, err := e.index.Clear(ctx)
	if err != nil {
		return 0, err
	}
	logger.Info("[Triage] Knowledge base cleared", "chunks", n)
	return n, nil
}

// Retrieve returns the context a report would be classified with.
func (e *Engine) Retrieve(ctx context.Context, report string) (common.RetrievedContext, error) {
	return e.assembler.Assemble(ctx, report, e.cfg.MaxContextLength, e.cfg.TopK)
}

// Classify runs report through the state machine. Only cancellation of ctx
// produces an error; every other failure yields the FAILED fallback result.
func (e *Engine) Classify(ctx context.Context, report string) (common.ClassificationResult, error) {
	run := &classification{engine: e, id: uuid.New(), state: common.StageRetrieving, start: time.Now()}
	e.notify(Transition{ID: run.id, To: common.StageRetrieving})

	rc, err := e.Retrieve(ctx, report)
	if err != nil {
		return run.fail(ctx, report, err)
	}

	run.advance(common.StageTyping)
	td, err := e.types.ClassifyType(ctx, report, rc)
	if err != nil {
		return run.fail(ctx, report, err)
	}

	run.advance(common.StageScoring)
	ud, err := e.urgency.ClassifyUrgency(ctx, report, rc, td.Types)
	if err != nil {
		return run.fail(ctx, report, err)
	}

	run.advance(common.StageDone)
	res := compose(run.id, report, rc, td, ud)
	logger.Info("[Triage] Report classified",
		"id", res.ID,
		"types", res.EmergencyTypes,
		"urgency", res.UrgencyLevel,
		"confidence", res.ConfidenceScore,
		"needs_review", res.NeedsReview,
		"context_chunks", res.ContextUsed,
		"duration", time.Since(run.start).Round(time.Millisecond),
	)
	return res, nil
}

// ClassifyBatch classifies reports with at most concurrency in flight.
// Results are in input order. As with Classify, only cancellation of ctx is
// an error.
func (e *Engine) ClassifyBatch(ctx context.Context, reports []string, concurrency int) ([]common.ClassificationResult, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]common.ClassificationResult, len(reports))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for i, report := range reports {
		eg.Go(func() error {
			res, err := e.Classify(ctx, report)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) notify(t Transition) {
	logger.Debug("[Triage] State transition", "id", t.ID, "from", t.From, "to", t.To)
	if e.cfg.OnTransition != nil {
		e.cfg.OnTransition(t)
	}
}

type classification struct {
	engine *Engine
	id     uuid.UUID
	state  common.Stage
	start  time.Time
}

func (c *classification) advance(to common.Stage) {
	c.engine.notify(Transition{ID: c.id, From: c.state, To: to})
	c.state = to
}

func (c *classification) fail(ctx context.Context, report string, err error) (common.ClassificationResult, error) {
	if ctx.Err() != nil {
		logger.Debug("[Triage] Classification abandoned", "id", c.id, "stage", c.state, "err", ctx.Err())
		return common.ClassificationResult{}, ctx.Err()
	}
	failed := c.state
	c.engine.notify(Transition{ID: c.id, From: failed, To: common.StageFailed, Err: err})
	logger.Error("[Triage] Classification failed, report needs review", "id", c.id, "stage", failed, "err", err)

	res := common.Fallback(report, failed)
	res.ID = c.id
	res.SituationSummary = summarize("", report)
	res.ResponseTime = ResponseTimeBand(res.UrgencyLevel)
	return res, nil
}

func compose(id uuid.UUID, report string, rc common.RetrievedContext, td classify.TypeDecision, ud classify.UrgencyDecision) common.ClassificationResult {
	res := common.ClassificationResult{
		ID:               id,
		EmergencyTypes:   td.Types,
		UrgencyLevel:     ud.Level,
		ConfidenceScore:  td.Confidence,
		SituationSummary: summarize(td.Summary, report),
		SourceReport:     report,
		Rationale:        td.Rationale,
		UrgencyRationale: ud.Rationale,
		SuggestedActions: mergeActions(td.SuggestedActions, ud.Actions),
		ResponseTime:     ud.ResponseTime,
		NeedsReview:      td.Defaulted || ud.Defaulted,
		State:            common.StageDone,
		ContextUsed:      len(rc.Chunks),
		CreatedAt:        time.Now().UTC(),
	}
	if res.ResponseTime == "" {
		res.ResponseTime = ResponseTimeBand(res.UrgencyLevel)
	}
	if res.HasType(common.EmergencyUnclassified) {
		res.NeedsReview = true
	}
	return res
}

const summaryLength = 280

func summarize(summary, report string) string {
	if summary != "" {
		return summary
	}
	return util.Truncate(util.NormalizeText(report), summaryLength)
}

func mergeActions(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, l := range lists {
		for _, a := range l {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	return out
}
