// Package bootstrap assembles the engine and its collaborators from a
// Config. The server, the worker and the CLI share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/OFFIS-RIT/triage/internal/config"
	"github.com/OFFIS-RIT/triage/internal/corpus"
	"github.com/OFFIS-RIT/triage/internal/database"
	"github.com/OFFIS-RIT/triage/internal/storage"
	"github.com/OFFIS-RIT/triage/internal/tickets"
	"github.com/OFFIS-RIT/triage/pkg/ai"
	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/index"
	"github.com/OFFIS-RIT/triage/pkg/index/memory"
	"github.com/OFFIS-RIT/triage/pkg/index/postgres"
	"github.com/OFFIS-RIT/triage/pkg/ingest"
	"github.com/OFFIS-RIT/triage/pkg/leaselock"
	"github.com/OFFIS-RIT/triage/pkg/loader/auto"
	loaderio "github.com/OFFIS-RIT/triage/pkg/loader/io"
	"github.com/OFFIS-RIT/triage/pkg/logger"
	"github.com/OFFIS-RIT/triage/pkg/triage"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Services struct {
	Config  config.Config
	AI      ai.Client
	Index   index.Index
	Engine  *triage.Engine
	Tickets tickets.Repository
	// Archive is nil unless S3_BUCKET is set.
	Archive *storage.Archive
	// Files loads local paths and URLs in every supported format.
	Files *auto.Loader

	pool *pgxpool.Pool
}

// Open builds the services for cfg. With the pgvector backend the database
// is migrated first and ingestion is locked across processes.
func Open(ctx context.Context, cfg config.Config) (*Services, error) {
	client, err := cfg.NewAIClient()
	if err != nil {
		return nil, err
	}
	return OpenWithClient(ctx, cfg, client)
}

// OpenWithClient is Open with a given model client.
func OpenWithClient(ctx context.Context, cfg config.Config, client ai.Client) (*Services, error) {
	s := &Services{
		Config: cfg,
		AI:     client,
		Files:  auto.NewLoader(loaderio.NewFileLoader(""), cfg.LoaderParams()),
	}
	engineCfg := cfg.EngineConfig()
	engineCfg.OnTransition = logTransition

	switch cfg.Index.Backend {
	case config.IndexPostgres:
		pool, err := database.Open(ctx, cfg.Index.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.pool = pool
		idx, err := postgres.New(ctx, pool, cfg.Engine.EmbedDimensions)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Index = idx
		s.Tickets = tickets.NewStore(pool)
		engineCfg.Locker = ingest.NewLeaseLocker(leaselock.New(pool), cfg.Index.LockTTL)
	default:
		s.Index = memory.New(cfg.Engine.EmbedDimensions)
		s.Tickets = tickets.NewMemoryStore()
	}

	engine, err := triage.New(client, s.Index, engineCfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Engine = engine

	if cfg.S3.Bucket != "" {
		s3Client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Archive = storage.NewArchive(s3Client, cfg.S3.Bucket)
	}

	logger.Info("[Bootstrap] Engine ready",
		"adapter", cfg.AI.Adapter,
		"chat_model", cfg.AI.ChatModel,
		"index", cfg.Index.Backend,
		"archive", s.Archive != nil,
	)
	return s, nil
}

func (s *Services) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ArchiveSources loads archived originals through the format loaders.
func (s *Services) ArchiveSources() *auto.Loader {
	if s.Archive == nil {
		return nil
	}
	return auto.NewLoader(s.Archive.Loader(), s.Config.LoaderParams())
}

func logTransition(t triage.Transition) {
	if t.Err != nil {
		logger.Warn("[Triage] Classification failed", "id", t.ID, "stage", t.From, "err", t.Err)
		return
	}
	logger.Debug("[Triage] Transition", "id", t.ID, "from", t.From, "to", t.To)
}

// SeedCorpus ingests the embedded protocols when Corpus.Seed is set and the
// documents below Corpus.Dir when it is set.
func (s *Services) SeedCorpus(ctx context.Context) error {
	var docs []common.Document
	if s.Config.Corpus.Seed {
		seed, err := corpus.Seed()
		if err != nil {
			return err
		}
		docs = append(docs, seed...)
	}
	var loadErr error
	if s.Config.Corpus.Dir != "" {
		dirDocs, err := corpus.LoadDir(ctx, s.Config.Corpus.Dir, s.Files)
		if dirDocs == nil && err != nil {
			return err
		}
		docs = append(docs, dirDocs...)
		loadErr = err
	}
	if len(docs) == 0 {
		return loadErr
	}
	return errors.Join(loadErr, s.Ingest(ctx, docs))
}

// Ingest adds docs with the configured worker concurrency and logs a
// summary.
func (s *Services) Ingest(ctx context.Context, docs []common.Document) error {
	results, err := s.Engine.IngestDocuments(ctx, docs, s.Config.Queue.Concurrency)
	chunks, failed := 0, 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		chunks += r.Chunks
	}
	logger.Info("[Bootstrap] Ingested documents", "documents", len(docs)-failed, "chunks", chunks, "failed", failed)
	return err
}

// LoadPaths reads files, directories and URLs into documents. Directories
// are scanned like the corpus directory.
func (s *Services) LoadPaths(ctx context.Context, paths []string) ([]common.Document, error) {
	var (
		docs []common.Document
		errs []error
	)
	for _, p := range paths {
		if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
			doc, err := s.Files.Source(p).Document(ctx)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			doc.SourceID = urlSourceID(p)
			docs = append(docs, doc)
			continue
		}

		info, err := os.Stat(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		if info.IsDir() {
			dirDocs, err := corpus.LoadDir(ctx, p, s.Files)
			docs = append(docs, dirDocs...)
			if err != nil {
				errs = append(errs, err)
			}
			continue
		}
		src := s.Files.Source(p)
		src.Version = loaderio.Version(info)
		doc, err := src.Document(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, errors.Join(errs...)
}

func urlSourceID(u string) string {
	u = strings.TrimPrefix(strings.TrimPrefix(u, "https://"), "http://")
	return corpus.SourceID(strings.Trim(u, "/"))
}
