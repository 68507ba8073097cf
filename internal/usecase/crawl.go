package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"CommunityArchive/internal/domain"
	"CommunityArchive/internal/ports"
)

// CrawlOptions bounds a directory walk.
type CrawlOptions struct {
	Seed              domain.SnapshotRequest
	MaxPagesPerLetter int
	PageDelay         time.Duration
}

// Crawler walks the archived community directory from a seed page and
// returns the listing pages to extract.
type Crawler struct {
	fetcher ports.SnapshotFetcher
	links   ports.LinkFinder
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewCrawler uses fetcher for every page; with a caching fetcher the later
// extraction pass costs no network calls.
func NewCrawler(fetcher ports.SnapshotFetcher, links ports.LinkFinder, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Crawler{fetcher: fetcher, links: links, logger: logger, sleep: sleepContext}
}

// Discover returns the letter pages and their pagination, in walk order.
// When the seed has no index letters, the seed itself is the only page.
func (c *Crawler) Discover(ctx context.Context, opts CrawlOptions) ([]domain.SnapshotRequest, error) {
	maxPages := opts.MaxPagesPerLetter
	if maxPages < 1 {
		maxPages = 1
	}

	seedResp, err := c.fetcher.Fetch(ctx, opts.Seed)
	if err != nil {
		return nil, fmt.Errorf("fetch seed %s: %w", opts.Seed.Key(), err)
	}

	letters, err := c.links.IndexLetters(seedResp)
	if err != nil {
		return nil, fmt.Errorf("index letters: %w", err)
	}
	c.logger.Info("index letters found", "seed", opts.Seed.Key(), "letters", len(letters))
	if len(letters) == 0 {
		return []domain.SnapshotRequest{opts.Seed}, nil
	}

	seen := map[string]struct{}{}
	var pages []domain.SnapshotRequest
	for i, letter := range letters {
		if err := ctx.Err(); err != nil {
			return pages, err
		}
		walked, err := c.walkLetter(ctx, letter, maxPages, opts.PageDelay, seen)
		pages = append(pages, walked...)
		if err != nil {
			return pages, err
		}
		c.logger.Info("letter walked", "letter", letter.Key(), "position", i+1, "of", len(letters), "pages", len(walked))
	}
	return pages, nil
}

func (c *Crawler) walkLetter(ctx context.Context, start domain.SnapshotRequest, maxPages int, delay time.Duration, seen map[string]struct{}) ([]domain.SnapshotRequest, error) {
	var pages []domain.SnapshotRequest
	current := start
	for page := 1; page <= maxPages; page++ {
		if _, dup := seen[current.Key()]; dup {
			break
		}
		seen[current.Key()] = struct{}{}
		pages = append(pages, current)

		resp, err := c.fetcher.Fetch(ctx, current)
		if err != nil {
			if domain.KindOf(err) == domain.KindCancelled {
				return pages, err
			}
			c.logger.Warn("listing page unavailable, stopping letter", "page", current.Key(), "kind", domain.KindOf(err), "error", err)
			break
		}

		next, err := c.links.NextPages(resp)
		if err != nil {
			c.logger.Warn("pagination unreadable", "page", current.Key(), "error", err)
			break
		}
		if len(next) == 0 {
			break
		}
		if page == maxPages {
			c.logger.Info("page limit reached", "letter", start.Key(), "limit", maxPages)
			break
		}
		current = next[0]

		if !resp.FromCache {
			if err := c.sleep(ctx, delay); err != nil {
				return pages, err
			}
		}
	}
	return pages, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
