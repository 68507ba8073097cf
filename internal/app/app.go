package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"CommunityArchive/internal/config"
	"CommunityArchive/internal/corpus"
	"CommunityArchive/internal/domain"
	"CommunityArchive/internal/infrastructure/archive"
	"CommunityArchive/internal/infrastructure/cache"
	"CommunityArchive/internal/infrastructure/parser"
	"CommunityArchive/internal/infrastructure/storage"
	"CommunityArchive/internal/infrastructure/tabular"
	"CommunityArchive/internal/input"
	"CommunityArchive/internal/logging"
	"CommunityArchive/internal/ports"
	"CommunityArchive/internal/usecase"
)

// Application wires configs to use cases.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	client   *archive.Client
	fetcher  *cache.Fetcher
	writer   *tabular.CSVWriter
	journal  *storage.SQLiteJournal
	pipeline *usecase.Pipeline
	crawler  *usecase.Crawler
}

// New validates cfg and builds every adapter. Errors here are setup errors:
// the cache directory, the output path or the journal is unusable.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	store, err := cache.NewStore(cfg.Cache.Dir)
	if err != nil {
		return nil, err
	}

	writer := tabular.NewCSVWriter(cfg.Output.Path, baseLogger.With("component", "writer"))
	if err := writer.Preflight(); err != nil {
		return nil, err
	}

	var journal *storage.SQLiteJournal
	var journalPort ports.Journal
	if cfg.Journal.Path != "" {
		journal, err = storage.OpenSQLiteJournal(cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
		journalPort = journal
	}

	client := archive.NewClient(nil, archive.OptionsFromConfig(cfg), baseLogger.With("component", "archive"))
	fetcher := cache.NewFetcher(client, store, baseLogger.With("component", "cache"))

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Fetcher:   fetcher,
		Extractor: parser.NewExtractor(parser.NewOrkutRegistry(), baseLogger.With("component", "extract")),
		Assembler: corpus.NewAssembler(corpus.Options{
			MinNameLength: cfg.Corpus.MinNameLength,
			Placeholders:  cfg.Corpus.Placeholders,
		}, baseLogger.With("component", "corpus")),
		Writer:      writer,
		Journal:     journalPort,
		Calls:       client,
		Logger:      baseLogger.With("component", "pipeline"),
		Concurrency: cfg.Fetch.Concurrency,
	})

	crawler := usecase.NewCrawler(fetcher, parser.NewNavigator(cfg.Archive.OriginBase), baseLogger.With("component", "crawler"))

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		client:   client,
		fetcher:  fetcher,
		writer:   writer,
		journal:  journal,
		pipeline: pipeline,
		crawler:  crawler,
	}, nil
}

// Fetch runs the pipeline over an explicit request list.
func (a *Application) Fetch(ctx context.Context, reqs []domain.SnapshotRequest) (usecase.Run, error) {
	return a.pipeline.Execute(ctx, "fetch", reqs)
}

// Discover walks the directory from the configured seed.
func (a *Application) Discover(ctx context.Context) ([]domain.SnapshotRequest, error) {
	return a.crawler.Discover(ctx, usecase.CrawlOptions{
		Seed:              domain.NewSnapshotRequest(a.cfg.Crawl.Seed, a.cfg.Crawl.SeedTimestamp),
		MaxPagesPerLetter: a.cfg.Crawl.MaxPagesPerLetter,
		PageDelay:         a.cfg.Crawl.PageDelay,
	})
}

// Crawl discovers the listing pages, optionally saves them to requestsOut in
// the input-list format, and runs the pipeline over them.
func (a *Application) Crawl(ctx context.Context, requestsOut string) ([]domain.SnapshotRequest, usecase.Run, error) {
	reqs, err := a.Discover(ctx)
	if err != nil {
		return reqs, usecase.Run{}, fmt.Errorf("crawl: %w", err)
	}
	if requestsOut != "" {
		if err := input.WriteFile(requestsOut, reqs); err != nil {
			return reqs, usecase.Run{}, fmt.Errorf("save discovered requests: %w", err)
		}
		a.logger.Info("discovered requests saved", "path", requestsOut, "requests", len(reqs))
	}
	run, err := a.pipeline.Execute(ctx, "crawl", reqs)
	return reqs, run, err
}

// CacheStats reports cache hits and misses since start.
func (a *Application) CacheStats() (hits, misses int64) {
	return a.fetcher.Hits(), a.fetcher.Misses()
}

// Close releases the journal.
func (a *Application) Close() error {
	var errs []error
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
		a.journal = nil
	}
	return errors.Join(errs...)
}
