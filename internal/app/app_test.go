package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"CommunityArchive/internal/config"
	"CommunityArchive/internal/domain"
	"CommunityArchive/internal/infrastructure/storage"
	"CommunityArchive/internal/infrastructure/tabular"
	"CommunityArchive/internal/input"
	"CommunityArchive/internal/logging"
)

const listingPage = `<html><body>
<div class="listCommunityContainer">
  <ul>
    <li><a href="/Community?cmm=1">Eu odeio acordar cedo</a> 6.543.210 membros</li>
    <li><a href="/Community?cmm=2">Eu odeio acordar cedo</a></li>
    <li><a href="/Community?cmm=3">Futebol de botão</a> 812 membros</li>
  </ul>
  <a class="paginationSeparator" href="c-l-e-2.html">próxima &gt;</a>
</div>
</body></html>`

func testConfig(t *testing.T, serviceBase string) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Archive.ServiceBase = serviceBase
	cfg.Archive.RequestsPerSecond = 0
	cfg.Retry.MaxRetries = 0
	cfg.Cache.Dir = filepath.Join(dir, "cache")
	cfg.Output.Path = filepath.Join(dir, "out", "communities.csv")
	cfg.Journal.Path = filepath.Join(dir, "journal.db")
	cfg.Crawl.PageDelay = 0
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Fetch.Concurrency = 0
	_, err := New(cfg, logging.Discard())
	require.ErrorContains(t, err, "fetch.concurrency")
}

func TestFetchWritesCorpusAndJournal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/c-l-e.html") {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(listingPage))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL+"/web")
	application, err := New(cfg, logging.Discard())
	require.NoError(t, err)
	defer application.Close()

	reqs := []domain.SnapshotRequest{
		domain.NewSnapshotRequest("c-l-e.html", "20080315120000"),
		domain.NewSnapshotRequest("c-l-z.html", "20080315120000"),
	}
	run, err := application.Fetch(context.Background(), reqs)
	require.NoError(t, err)
	require.Equal(t, 1, run.Summary.Succeeded)
	require.Equal(t, 1, run.Summary.Failures[domain.KindNotArchived])
	require.Equal(t, 2, run.Summary.Written)

	written, err := tabular.Read(cfg.Output.Path)
	require.NoError(t, err)
	require.Equal(t, []string{"Eu odeio acordar cedo", "Futebol de botão"}, written.Names())

	hits, misses := application.CacheStats()
	require.Zero(t, hits)
	require.EqualValues(t, 2, misses)

	require.NoError(t, application.Close())
	journal, err := storage.OpenSQLiteJournal(cfg.Journal.Path)
	require.NoError(t, err)
	defer journal.Close()
	runs, err := journal.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, run.ID, runs[0].ID)
	require.Equal(t, "fetch", runs[0].Command)
}

func TestCrawlIsJournaledAsCrawl(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/20141001005309/http://orkut.google.com/"):
			_, _ = w.Write([]byte(`<div class="indexLettersContainer">
				<a class="indexLetters" href="/web/20141001005309/http://orkut.google.com/c-l-e.html">E</a>
			</div>`))
		case strings.HasSuffix(r.URL.Path, "/c-l-e.html"):
			_, _ = w.Write([]byte(listingPage))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL+"/web")
	cfg.Crawl.MaxPagesPerLetter = 1
	saved := filepath.Join(t.TempDir(), "discovered.txt")

	application, err := New(cfg, logging.Discard())
	require.NoError(t, err)
	defer application.Close()

	reqs, run, err := application.Crawl(context.Background(), saved)
	require.NoError(t, err)
	require.Equal(t, []domain.SnapshotRequest{
		{Identifier: "http://orkut.google.com/c-l-e.html", Timestamp: "20141001005309"},
	}, reqs)
	require.Equal(t, 2, run.Summary.Written)

	listed, err := input.ReadFile(saved)
	require.NoError(t, err)
	require.Equal(t, reqs, listed)

	require.NoError(t, application.Close())
	journal, err := storage.OpenSQLiteJournal(cfg.Journal.Path)
	require.NoError(t, err)
	defer journal.Close()
	runs, err := journal.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "crawl", runs[0].Command)
}
