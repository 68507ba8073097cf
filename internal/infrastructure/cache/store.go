package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"CommunityArchive/internal/domain"
)

// Entry is the on-disk envelope for one request outcome.
type Entry struct {
	Key               string       `json:"key"`
	Identifier        string       `json:"identifier"`
	Timestamp         string       `json:"timestamp"`
	Status            int          `json:"status,omitempty"`
	ResolvedTimestamp string       `json:"resolvedTimestamp,omitempty"`
	ContentType       string       `json:"contentType,omitempty"`
	Body              []byte       `json:"body,omitempty"`
	FetchedAt         time.Time    `json:"fetchedAt"`
	Failure           *FailureNote `json:"failure,omitempty"`
}

// FailureNote records a definitive failure so a re-run does not ask again.
type FailureNote struct {
	Kind    domain.FailureKind `json:"kind"`
	Status  int                `json:"status,omitempty"`
	Message string             `json:"message"`
}

// Store is a content-addressed directory: sha256(key) -> JSON file.
type Store struct {
	dir string
}

// NewStore creates the directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("cache directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file that holds key. Files are sharded by the first two
// hex digits.
func (s *Store) Path(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(s.dir, name[:2], name+".json")
}

// Get loads the entry for key. A missing file is reported as ok=false.
func (s *Store) Get(key string) (Entry, bool, error) {
	raw, err := os.ReadFile(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read cache entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode cache entry %s: %w", s.Path(key), err)
	}
	if entry.Key != key {
		return Entry{}, false, fmt.Errorf("cache entry %s holds key %q, want %q", s.Path(key), entry.Key, key)
	}
	return entry, true, nil
}

// Put writes the entry atomically (temp file, fsync, rename).
func (s *Store) Put(entry Entry) error {
	if entry.Key == "" {
		return errors.New("cache entry without key")
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	path := s.Path(entry.Key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache shard: %w", err)
	}
	if err := renameio.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

func entryFromResponse(resp domain.SnapshotResponse) Entry {
	return Entry{
		Key:               resp.Request.Key(),
		Identifier:        resp.Request.Identifier,
		Timestamp:         resp.Request.Timestamp,
		Status:            resp.Status,
		ResolvedTimestamp: resp.ResolvedTimestamp,
		ContentType:       resp.ContentType,
		Body:              resp.Body,
		FetchedAt:         resp.FetchedAt,
	}
}

func entryFromFailure(req domain.SnapshotRequest, fe *domain.FetchError, at time.Time) Entry {
	msg := string(fe.Kind)
	if fe.Err != nil {
		msg = fe.Err.Error()
	}
	return Entry{
		Key:        req.Key(),
		Identifier: req.Identifier,
		Timestamp:  req.Timestamp,
		FetchedAt:  at,
		Failure:    &FailureNote{Kind: fe.Kind, Status: fe.Status, Message: msg},
	}
}

func (e Entry) request() domain.SnapshotRequest {
	return domain.SnapshotRequest{Identifier: e.Identifier, Timestamp: e.Timestamp}
}

// Response rebuilds what the archive served, or the cached failure.
func (e Entry) Response() (domain.SnapshotResponse, error) {
	req := e.request()
	if e.Failure != nil {
		return domain.SnapshotResponse{}, &domain.FetchError{
			Kind:    e.Failure.Kind,
			Request: req,
			Status:  e.Failure.Status,
			Cached:  true,
			Err:     errors.New(e.Failure.Message),
		}
	}
	return domain.SnapshotResponse{
		Request:           req,
		Status:            e.Status,
		ResolvedTimestamp: e.ResolvedTimestamp,
		ContentType:       e.ContentType,
		Body:              e.Body,
		FetchedAt:         e.FetchedAt,
		FromCache:         true,
	}, nil
}
