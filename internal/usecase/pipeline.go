package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"CommunityArchive/internal/corpus"
	"CommunityArchive/internal/domain"
	"CommunityArchive/internal/ports"
)

// ErrInterrupted is returned when the run was cancelled before the artifact
// could be written.
var ErrInterrupted = errors.New("run interrupted")

// CorpusAssembler turns raw records into the final corpus.
type CorpusAssembler interface {
	Assemble(records []domain.CommunityRecord) (domain.Corpus, corpus.Report)
}

// CallCounter reports how many HTTP requests an adapter has sent.
type CallCounter interface {
	Calls() int64
}

// PipelineDeps wires the driven adapters into the pipeline.
type PipelineDeps struct {
	Fetcher     ports.SnapshotFetcher
	Extractor   ports.Extractor
	Assembler   CorpusAssembler
	Writer      ports.CorpusWriter
	Journal     ports.Journal
	Calls       CallCounter
	Logger      *slog.Logger
	Concurrency int
}

// Pipeline fetches every request, extracts records, assembles the corpus and
// writes the artifact.
type Pipeline struct {
	fetcher     ports.SnapshotFetcher
	extractor   ports.Extractor
	assembler   CorpusAssembler
	writer      ports.CorpusWriter
	journal     ports.Journal
	calls       CallCounter
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
	newID       func() string
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	concurrency := deps.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		fetcher:     deps.Fetcher,
		extractor:   deps.Extractor,
		assembler:   deps.Assembler,
		writer:      deps.Writer,
		journal:     deps.Journal,
		calls:       deps.Calls,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
		newID:       func() string { return uuid.NewString() },
	}
}

// Result is the outcome of one request, in input order.
type Result struct {
	Index             int
	Request           domain.SnapshotRequest
	ResolvedTimestamp string
	Status            int
	Attempts          int
	FromCache         bool
	Records           []domain.CommunityRecord
	Kind              domain.FailureKind
	Err               error
}

// Run is everything a finished (or interrupted) run produced.
type Run struct {
	ID      string
	Results []Result
	Corpus  domain.Corpus
	Report  corpus.Report
	Summary Summary
}

// Execute processes reqs. Per-item failures are counted, not returned; the
// error is non-nil only when the run was interrupted (ErrInterrupted) or the
// artifact could not be written.
func (p *Pipeline) Execute(ctx context.Context, command string, reqs []domain.SnapshotRequest) (Run, error) {
	if p.fetcher == nil || p.extractor == nil || p.assembler == nil {
		return Run{}, fmt.Errorf("pipeline is not fully configured")
	}

	started := p.now()
	run := Run{ID: p.newID()}
	info := ports.RunInfo{ID: run.ID, Command: command, StartedAt: started, Requests: len(reqs), Output: p.outputName()}
	p.beginRun(ctx, info)

	var callsBefore int64
	if p.calls != nil {
		callsBefore = p.calls.Calls()
	}

	p.logger.Info("run started", "run", run.ID, "command", command, "requests", len(reqs), "workers", p.concurrency)
	run.Results = p.FetchAll(ctx, run.ID, reqs)

	run.Summary = summarize(run.Results)
	run.Summary.RunID = run.ID
	if p.calls != nil {
		run.Summary.NetworkCalls = p.calls.Calls() - callsBefore
	}

	var records []domain.CommunityRecord
	for _, r := range run.Results {
		records = append(records, r.Records...)
	}
	run.Corpus, run.Report = p.assembler.Assemble(records)
	run.Summary.Duplicates = run.Report.Duplicates
	run.Summary.Dropped = run.Report.DroppedTotal()

	var runErr error
	switch {
	case ctx.Err() != nil:
		run.Summary.Interrupted = true
		runErr = fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		p.logger.Warn("run interrupted, artifact left untouched", "run", run.ID)
	case p.writer != nil:
		if err := p.writer.Write(ctx, run.Corpus); err != nil {
			runErr = fmt.Errorf("write artifact: %w", err)
		} else {
			run.Summary.Written = run.Corpus.Len()
		}
	default:
		run.Summary.Written = run.Corpus.Len()
	}
	run.Summary.Elapsed = p.now().Sub(started)

	info.FinishedAt = p.now()
	info.Succeeded = run.Summary.Succeeded
	info.Failed = run.Summary.FailedTotal()
	info.Records = run.Summary.Written
	p.finishRun(ctx, info)

	p.logger.Info("run finished",
		"run", run.ID,
		"succeeded", run.Summary.Succeeded,
		"failed", run.Summary.FailedTotal(),
		"cache_hits", run.Summary.CacheHits,
		"network_calls", run.Summary.NetworkCalls,
		"written", run.Summary.Written,
	)
	return run, runErr
}

// FetchAll runs the worker pool and returns one result per request, indexed
// like reqs. Requests never started because of cancellation are Cancelled.
func (p *Pipeline) FetchAll(ctx context.Context, runID string, reqs []domain.SnapshotRequest) []Result {
	results := make([]Result, len(reqs))
	for i, req := range reqs {
		results[i] = Result{Index: i, Request: req, Kind: domain.KindCancelled, Err: context.Canceled}
	}
	if len(reqs) == 0 {
		return results
	}

	workers := p.concurrency
	if workers > len(reqs) {
		workers = len(reqs)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = p.process(ctx, i, reqs[i])
				p.recordOutcome(ctx, runID, results[i])
			}
		}()
	}

feed:
	for i := range reqs {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	return results
}

func (p *Pipeline) process(ctx context.Context, index int, req domain.SnapshotRequest) Result {
	res := Result{Index: index, Request: req}
	if err := ctx.Err(); err != nil {
		return p.fail(res, err)
	}

	resp, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return p.fail(res, err)
	}
	res.Status = resp.Status
	res.ResolvedTimestamp = resp.ResolvedTimestamp
	res.FromCache = resp.FromCache

	records, err := p.extractor.Extract(resp)
	if err != nil {
		return p.fail(res, err)
	}
	res.Records = records
	p.logger.Debug("request done", "key", req.Key(), "records", len(records), "cached", resp.FromCache, "resolved", resp.ResolvedTimestamp)
	return res
}

func (p *Pipeline) fail(res Result, err error) Result {
	res.Err = err
	res.Kind = domain.KindOf(err)

	var fe *domain.FetchError
	if errors.As(err, &fe) {
		if fe.Status != 0 {
			res.Status = fe.Status
		}
		res.Attempts = fe.Attempts
		if fe.Cached {
			res.FromCache = true
		}
	}

	switch res.Kind {
	case domain.KindCancelled:
		p.logger.Debug("request cancelled", "key", res.Request.Key())
	case domain.KindNotArchived:
		p.logger.Info("not archived", "key", res.Request.Key(), "cached", res.FromCache)
	default:
		p.logger.Warn("request failed", "key", res.Request.Key(), "kind", res.Kind, "status", res.Status, "error", err)
	}
	return res
}

func (p *Pipeline) outputName() string {
	if named, ok := p.writer.(interface{ Path() string }); ok {
		return named.Path()
	}
	return ""
}

func (p *Pipeline) beginRun(ctx context.Context, info ports.RunInfo) {
	if p.journal == nil {
		return
	}
	if err := p.journal.BeginRun(context.WithoutCancel(ctx), info); err != nil {
		p.logger.Warn("journal begin run failed", "run", info.ID, "error", err)
	}
}

func (p *Pipeline) recordOutcome(ctx context.Context, runID string, r Result) {
	if p.journal == nil {
		return
	}
	outcome := ports.Outcome{
		RunID:             runID,
		Request:           r.Request,
		ResolvedTimestamp: r.ResolvedTimestamp,
		Kind:              r.Kind,
		Status:            r.Status,
		Attempts:          r.Attempts,
		Records:           len(r.Records),
		FromCache:         r.FromCache,
		RecordedAt:        p.now(),
	}
	if r.Err != nil {
		outcome.Message = r.Err.Error()
	}
	if err := p.journal.RecordOutcome(context.WithoutCancel(ctx), outcome); err != nil {
		p.logger.Warn("journal record failed", "key", r.Request.Key(), "error", err)
	}
}

func (p *Pipeline) finishRun(ctx context.Context, info ports.RunInfo) {
	if p.journal == nil {
		return
	}
	if err := p.journal.FinishRun(context.WithoutCancel(ctx), info); err != nil {
		p.logger.Warn("journal finish run failed", "run", info.ID, "error", err)
	}
}
