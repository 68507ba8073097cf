package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CommunityArchive/internal/domain"
)

func TestStorePutGetRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	req := domain.NewSnapshotRequest("Community.aspx?cmm=1", "20080101000000")
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	resp := domain.SnapshotResponse{
		Request:           req,
		Status:            200,
		ResolvedTimestamp: "20080102030405",
		ContentType:       "text/html; charset=utf-8",
		Body:              []byte("<html>ok</html>"),
		FetchedAt:         at,
	}
	require.NoError(t, store.Put(entryFromResponse(resp)))

	entry, ok, err := store.Get(req.Key())
	require.NoError(t, err)
	require.True(t, ok)

	got, err := entry.Response()
	require.NoError(t, err)
	assert.True(t, got.FromCache)
	assert.Equal(t, "20080102030405", got.ResolvedTimestamp)
	assert.Equal(t, resp.Body, got.Body)
	assert.Equal(t, req, got.Request)
	assert.True(t, at.Equal(got.FetchedAt))
}

func TestStoreMissingEntry(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, ok, err := store.Get("nothing@closest")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorePathIsSharded(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	p := store.Path("a@closest")
	rel, err := filepath.Rel(dir, p)
	require.NoError(t, err)

	shard, file := filepath.Split(rel)
	assert.Len(t, filepath.Clean(shard), 2)
	assert.Equal(t, ".json", filepath.Ext(file))
	assert.Equal(t, file[:2], filepath.Clean(shard))
	assert.Equal(t, p, store.Path("a@closest"))
	assert.NotEqual(t, p, store.Path("a@20080101000000"))
}

func TestStoreRejectsForeignKey(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(Entry{Key: "other@closest", Identifier: "other", Timestamp: "closest"}))

	// Copy the entry under the wrong name, as a hash collision or a manual edit would.
	raw, err := os.ReadFile(store.Path("other@closest"))
	require.NoError(t, err)
	target := store.Path("mine@closest")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, raw, 0o644))

	_, ok, err := store.Get("mine@closest")
	require.Error(t, err)
	assert.False(t, ok)
}

func TestStoreCorruptEntry(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	target := store.Path("x@closest")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte("{not json"), 0o644))

	_, ok, err := store.Get("x@closest")
	require.Error(t, err)
	assert.False(t, ok)
}

func TestStoreOverwriteLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Put(Entry{Key: "k@closest", Identifier: "k", Timestamp: "closest", Body: []byte{byte(i)}}))
	}

	entries, err := os.ReadDir(filepath.Dir(store.Path("k@closest")))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entry, ok, err := store.Get("k@closest")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{2}, entry.Body)
}

func TestFailureEntryRestoresKind(t *testing.T) {
	t.Parallel()

	req := domain.NewSnapshotRequest("gone", "")
	fe := &domain.FetchError{Kind: domain.KindNotArchived, Request: req, Status: 404, Err: errors.New("archive returned 404")}

	_, err := entryFromFailure(req, fe, time.Now()).Response()
	require.Error(t, err)

	var got *domain.FetchError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, domain.KindNotArchived, got.Kind)
	assert.Equal(t, 404, got.Status)
	assert.True(t, got.Cached)
	assert.Contains(t, got.Error(), "archive returned 404")
}

func TestNewStoreRequiresDir(t *testing.T) {
	t.Parallel()

	_, err := NewStore("")
	require.Error(t, err)
}
