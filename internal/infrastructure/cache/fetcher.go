package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"CommunityArchive/internal/domain"
	"CommunityArchive/internal/ports"
)

// Fetcher serves requests from the Store and falls through to the wrapped
// fetcher on a miss. Concurrent misses on one key result in a single call.
type Fetcher struct {
	next   ports.SnapshotFetcher
	store  *Store
	locks  keyedMutex
	logger *slog.Logger
	now    func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

var _ ports.SnapshotFetcher = (*Fetcher)(nil)

// NewFetcher decorates next with the store.
func NewFetcher(next ports.SnapshotFetcher, store *Store, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		next:   next,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Hits reports how many requests were answered from disk.
func (f *Fetcher) Hits() int64 { return f.hits.Load() }

// Misses reports how many requests went to the wrapped fetcher.
func (f *Fetcher) Misses() int64 { return f.misses.Load() }

// Fetch implements ports.SnapshotFetcher.
func (f *Fetcher) Fetch(ctx context.Context, req domain.SnapshotRequest) (domain.SnapshotResponse, error) {
	key := req.Key()
	unlock := f.locks.lock(key)
	defer unlock()

	entry, ok, err := f.store.Get(key)
	switch {
	case err != nil:
		f.warn("cache entry unreadable, refetching", "key", key, "error", err)
	case ok:
		f.hits.Add(1)
		return entry.Response()
	}

	if err := ctx.Err(); err != nil {
		return domain.SnapshotResponse{}, &domain.FetchError{Kind: domain.KindCancelled, Request: req, Err: err}
	}

	f.misses.Add(1)
	resp, err := f.next.Fetch(ctx, req)
	if err != nil {
		var fe *domain.FetchError
		if errors.As(err, &fe) && fe.Kind.Cacheable() {
			if putErr := f.store.Put(entryFromFailure(req, fe, f.now().UTC())); putErr != nil {
				f.warn("cannot cache failure", "key", key, "error", putErr)
			}
		}
		return domain.SnapshotResponse{}, err
	}

	if err := f.store.Put(entryFromResponse(resp)); err != nil {
		return resp, &domain.FetchError{Kind: domain.KindIOFailure, Request: req, Err: fmt.Errorf("cache snapshot: %w", err)}
	}
	return resp, nil
}

func (f *Fetcher) warn(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Warn(msg, args...)
	}
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*refMutex{}
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
