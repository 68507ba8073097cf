package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CommunityArchive/internal/corpus"
	"CommunityArchive/internal/domain"
	"CommunityArchive/internal/infrastructure/archive"
	"CommunityArchive/internal/infrastructure/cache"
	"CommunityArchive/internal/infrastructure/parser"
	"CommunityArchive/internal/infrastructure/tabular"
	"CommunityArchive/internal/ports"
)

func archiveServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch {
		case strings.HasPrefix(r.URL.Path, "/web/2/") && strings.HasSuffix(r.URL.Path, "/community/123"):
			w.Header().Set("Location", "/web/20080315120000/http://orkut.google.com/community/123")
			w.WriteHeader(http.StatusFound)
		case strings.HasPrefix(r.URL.Path, "/web/20080315120000/") && strings.HasSuffix(r.URL.Path, "/community/123"):
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, `<html><body><div id="wm-ipp-base">toolbar</div>
				<ul><li><a class="typoSectionTitleFont" href="/Community?cmm=123">Gaúchos Unidos</a> 1.234 membros</li></ul>
				</body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func realPipeline(t *testing.T, server *httptest.Server, cacheDir, output string) (*Pipeline, *archive.Client) {
	t.Helper()
	client := archive.NewClient(server.Client(), archive.Options{
		ServiceBase:    server.URL + "/web",
		ClosestSegment: "2",
		OriginBase:     "http://orkut.google.com/",
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, nil)
	store, err := cache.NewStore(cacheDir)
	require.NoError(t, err)

	return NewPipeline(PipelineDeps{
		Fetcher:     cache.NewFetcher(client, store, nil),
		Extractor:   parser.NewExtractor(nil, nil),
		Assembler:   corpus.NewAssembler(corpus.Options{MinNameLength: 3}, nil),
		Writer:      tabular.NewCSVWriter(output, nil),
		Calls:       client,
		Concurrency: 2,
	}), client
}

func TestPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	server := archiveServer(t, &hits)
	dir := t.TempDir()
	output := filepath.Join(dir, "communities.csv")
	reqs := []domain.SnapshotRequest{
		domain.NewSnapshotRequest("community/123", ""),
		domain.NewSnapshotRequest("community/404missing", ""),
	}

	p, _ := realPipeline(t, server, filepath.Join(dir, "cache"), output)
	run, err := p.Execute(context.Background(), "fetch", reqs)
	require.NoError(t, err)

	assert.Equal(t, 2, run.Summary.Requests)
	assert.Equal(t, 1, run.Summary.Succeeded)
	assert.Equal(t, map[domain.FailureKind]int{domain.KindNotArchived: 1}, run.Summary.Failures)
	assert.Equal(t, 1, run.Summary.Written)
	assert.EqualValues(t, 2, run.Summary.NetworkCalls)

	got, err := tabular.Read(output)
	require.NoError(t, err)
	require.Len(t, got.Records, 1)
	rec := got.Records[0]
	assert.Equal(t, "Gaúchos Unidos", rec.Name)
	assert.Equal(t, "20080315120000", rec.SnapshotTimestamp)
	assert.Equal(t, "community/123", rec.SourceID)
	require.NotNil(t, rec.MemberCount)
	assert.Equal(t, 1234, *rec.MemberCount)

	var buf bytes.Buffer
	run.Summary.Render(&buf)
	assert.Contains(t, buf.String(), "NotArchived")
}

func TestPipelineKeepsRecordsWithoutCaptureMetadata(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/web/2/") && strings.HasSuffix(r.URL.Path, "/community/123") {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, `<a class="typoSectionTitleFont">Gaúchos Unidos</a>`)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	output := filepath.Join(dir, "communities.csv")
	reqs := []domain.SnapshotRequest{
		domain.NewSnapshotRequest("community/123", ""),
		domain.NewSnapshotRequest("community/404missing", ""),
	}

	p, _ := realPipeline(t, server, filepath.Join(dir, "cache"), output)
	run, err := p.Execute(context.Background(), "fetch", reqs)
	require.NoError(t, err)

	assert.Equal(t, 1, run.Summary.Succeeded)
	assert.Equal(t, map[domain.FailureKind]int{domain.KindNotArchived: 1}, run.Summary.Failures)
	assert.Equal(t, 1, run.Summary.Written)
	assert.Zero(t, run.Summary.Dropped)

	got, err := tabular.Read(output)
	require.NoError(t, err)
	require.Len(t, got.Records, 1)
	assert.Equal(t, "Gaúchos Unidos", got.Records[0].Name)
	assert.True(t, domain.ValidSnapshotTimestamp(got.Records[0].SnapshotTimestamp), "timestamp %q", got.Records[0].SnapshotTimestamp)
}

func TestPipelineWarmCacheIsIdempotent(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	server := archiveServer(t, &hits)
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	reqs := []domain.SnapshotRequest{
		domain.NewSnapshotRequest("community/123", ""),
		domain.NewSnapshotRequest("community/404missing", ""),
	}

	first := filepath.Join(dir, "first.csv")
	p1, _ := realPipeline(t, server, cacheDir, first)
	_, err := p1.Execute(context.Background(), "fetch", reqs)
	require.NoError(t, err)
	hitsAfterFirst := hits.Load()

	second := filepath.Join(dir, "second.csv")
	p2, client := realPipeline(t, server, cacheDir, second)
	run, err := p2.Execute(context.Background(), "fetch", reqs)
	require.NoError(t, err)

	assert.Equal(t, hitsAfterFirst, hits.Load(), "warm cache must not reach the archive")
	assert.EqualValues(t, 0, client.Calls())
	assert.Equal(t, 2, run.Summary.CacheHits)
	assert.Equal(t, 1, run.Summary.Failures[domain.KindNotArchived])

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

type fakeFetcher struct {
	fn func(ctx context.Context, req domain.SnapshotRequest) (domain.SnapshotResponse, error)
}

func (f fakeFetcher) Fetch(ctx context.Context, req domain.SnapshotRequest) (domain.SnapshotResponse, error) {
	return f.fn(ctx, req)
}

// nameExtractor yields one record named after the request identifier.
type nameExtractor struct{}

func (nameExtractor) Extract(resp domain.SnapshotResponse) ([]domain.CommunityRecord, error) {
	return []domain.CommunityRecord{{
		Name:              "Community " + resp.Request.Identifier,
		SnapshotTimestamp: resp.ResolvedTimestamp,
		SourceID:          resp.Request.Identifier,
	}}, nil
}

type recordingWriter struct {
	mu     sync.Mutex
	calls  int
	corpus domain.Corpus
	err    error
}

func (w *recordingWriter) Write(_ context.Context, c domain.Corpus) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	w.corpus = c
	return w.err
}

type memoryJournal struct {
	mu       sync.Mutex
	begun    []ports.RunInfo
	finished []ports.RunInfo
	outcomes []ports.Outcome
}

func (j *memoryJournal) BeginRun(_ context.Context, run ports.RunInfo) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.begun = append(j.begun, run)
	return nil
}

func (j *memoryJournal) RecordOutcome(_ context.Context, o ports.Outcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes = append(j.outcomes, o)
	return nil
}

func (j *memoryJournal) FinishRun(_ context.Context, run ports.RunInfo) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finished = append(j.finished, run)
	return nil
}

func TestPipelineKeepsInputOrder(t *testing.T) {
	t.Parallel()

	var reqs []domain.SnapshotRequest
	var want []string
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("c%02d", i)
		reqs = append(reqs, domain.NewSnapshotRequest(id, ""))
		want = append(want, "Community "+id)
	}

	fetcher := fakeFetcher{fn: func(_ context.Context, req domain.SnapshotRequest) (domain.SnapshotResponse, error) {
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
		return domain.SnapshotResponse{Request: req, Status: 200, ResolvedTimestamp: "20080101000000"}, nil
	}}
	writer := &recordingWriter{}
	journal := &memoryJournal{}
	p := NewPipeline(PipelineDeps{
		Fetcher:     fetcher,
		Extractor:   nameExtractor{},
		Assembler:   corpus.NewAssembler(corpus.Options{MinNameLength: 3}, nil),
		Writer:      writer,
		Journal:     journal,
		Concurrency: 8,
	})

	run, err := p.Execute(context.Background(), "fetch", reqs)
	require.NoError(t, err)
	if diff := cmp.Diff(want, writer.corpus.Names()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	for i, r := range run.Results {
		assert.Equal(t, i, r.Index)
	}

	assert.Len(t, journal.outcomes, 40)
	require.Len(t, journal.finished, 1)
	assert.Equal(t, run.ID, journal.finished[0].ID)
	assert.Equal(t, 40, journal.finished[0].Records)
}

func TestPipelineIsolatesItemFailures(t *testing.T) {
	t.Parallel()

	fetcher := fakeFetcher{fn: func(_ context.Context, req domain.SnapshotRequest) (domain.SnapshotResponse, error) {
		switch req.Identifier {
		case "flaky":
			return domain.SnapshotResponse{}, &domain.FetchError{Kind: domain.KindNetworkTransient, Request: req, Status: 503, Attempts: 4}
		case "forbidden":
			return domain.SnapshotResponse{}, &domain.FetchError{Kind: domain.KindNetworkFatal, Request: req, Status: 403}
		}
		return domain.SnapshotResponse{Request: req, Status: 200, ResolvedTimestamp: "20080101000000"}, nil
	}}
	writer := &recordingWriter{}
	p := NewPipeline(PipelineDeps{
		Fetcher:     fetcher,
		Extractor:   nameExtractor{},
		Assembler:   corpus.NewAssembler(corpus.Options{MinNameLength: 3}, nil),
		Writer:      writer,
		Concurrency: 2,
	})

	reqs := []domain.SnapshotRequest{
		domain.NewSnapshotRequest("one", ""),
		domain.NewSnapshotRequest("flaky", ""),
		domain.NewSnapshotRequest("forbidden", ""),
		domain.NewSnapshotRequest("two", ""),
	}
	run, err := p.Execute(context.Background(), "fetch", reqs)
	require.NoError(t, err)

	assert.Equal(t, 2, run.Summary.Succeeded)
	assert.Equal(t, 1, run.Summary.Failures[domain.KindNetworkTransient])
	assert.Equal(t, 1, run.Summary.Failures[domain.KindNetworkFatal])
	assert.Equal(t, 4, run.Results[1].Attempts)
	assert.Equal(t, []string{"Community one", "Community two"}, writer.corpus.Names())
}

func TestPipelineInterruptedDoesNotWrite(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started atomic.Int64
	fetcher := fakeFetcher{fn: func(ctx context.Context, req domain.SnapshotRequest) (domain.SnapshotResponse, error) {
		if started.Add(1) == 1 {
			cancel()
		}
		<-ctx.Done()
		return domain.SnapshotResponse{}, &domain.FetchError{Kind: domain.KindCancelled, Request: req, Err: ctx.Err()}
	}}
	writer := &recordingWriter{}
	journal := &memoryJournal{}
	p := NewPipeline(PipelineDeps{
		Fetcher:     fetcher,
		Extractor:   nameExtractor{},
		Assembler:   corpus.NewAssembler(corpus.Options{}, nil),
		Writer:      writer,
		Journal:     journal,
		Concurrency: 1,
	})

	reqs := make([]domain.SnapshotRequest, 10)
	for i := range reqs {
		reqs[i] = domain.NewSnapshotRequest(fmt.Sprintf("c%d", i), "")
	}
	run, err := p.Execute(ctx, "fetch", reqs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInterrupted))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, writer.calls)
	assert.True(t, run.Summary.Interrupted)
	assert.Equal(t, 10, run.Summary.Failures[domain.KindCancelled])
	require.Len(t, journal.finished, 1, "an interrupted run is still closed in the journal")
}

func TestPipelineWriteFailureIsReturned(t *testing.T) {
	t.Parallel()

	fetcher := fakeFetcher{fn: func(_ context.Context, req domain.SnapshotRequest) (domain.SnapshotResponse, error) {
		return domain.SnapshotResponse{Request: req, ResolvedTimestamp: "20080101000000"}, nil
	}}
	p := NewPipeline(PipelineDeps{
		Fetcher:   fetcher,
		Extractor: nameExtractor{},
		Assembler: corpus.NewAssembler(corpus.Options{}, nil),
		Writer:    &recordingWriter{err: errors.New("disk full")},
	})

	run, err := p.Execute(context.Background(), "fetch", []domain.SnapshotRequest{domain.NewSnapshotRequest("x", "")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, run.Summary.Written)
}

func TestPipelineEmptyInput(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{}
	p := NewPipeline(PipelineDeps{
		Fetcher:   fakeFetcher{},
		Extractor: nameExtractor{},
		Assembler: corpus.NewAssembler(corpus.Options{}, nil),
		Writer:    writer,
	})
	run, err := p.Execute(context.Background(), "fetch", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, run.Summary.Requests)
	assert.Equal(t, 1, writer.calls)
}
