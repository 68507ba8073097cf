package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"CommunityArchive/internal/config"
	"CommunityArchive/internal/domain"
	"CommunityArchive/internal/ports"
)

// Options bundles everything the client needs from configuration.
type Options struct {
	ServiceBase       string
	ClosestSegment    string
	OriginBase        string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxBodyBytes      int64
	NotFoundMarkers   []string

	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RateLimitCooldown time.Duration
	MaxCooldown       time.Duration
	MaxRateLimitWaits int
}

// OptionsFromConfig maps the archive and retry sections.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		ServiceBase:       cfg.Archive.ServiceBase,
		ClosestSegment:    cfg.Archive.ClosestSegment,
		OriginBase:        cfg.Archive.OriginBase,
		UserAgent:         cfg.Archive.UserAgent,
		Timeout:           cfg.Archive.Timeout,
		RequestsPerSecond: cfg.Archive.RequestsPerSecond,
		MaxBodyBytes:      cfg.Archive.MaxBodyBytes,
		NotFoundMarkers:   cfg.Archive.NotFoundMarkers,
		MaxRetries:        cfg.Retry.MaxRetries,
		InitialBackoff:    cfg.Retry.InitialBackoff,
		MaxBackoff:        cfg.Retry.MaxBackoff,
		RateLimitCooldown: cfg.Retry.RateLimitCooldown,
		MaxCooldown:       cfg.Retry.MaxCooldown,
		MaxRateLimitWaits: cfg.Retry.MaxRateLimitWaits,
	}
}

// Client retrieves snapshots from a Wayback-style archive.
type Client struct {
	http    *http.Client
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	calls   atomic.Int64
}

var _ ports.SnapshotFetcher = (*Client)(nil)

// ErrBodyTooLarge marks a snapshot larger than Options.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("snapshot body exceeds size limit")

// NewClient wires an HTTP client; a nil client gets one with opts.Timeout.
func NewClient(client *http.Client, opts Options, logger *slog.Logger) *Client {
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if opts.ClosestSegment == "" {
		opts.ClosestSegment = "2"
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Client{
		http:    client,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// Calls reports how many HTTP requests the client has issued.
func (c *Client) Calls() int64 {
	return c.calls.Load()
}

// Fetch retrieves one snapshot, retrying transient failures with backoff and
// waiting out rate limits without spending the retry budget.
func (c *Client) Fetch(ctx context.Context, req domain.SnapshotRequest) (domain.SnapshotResponse, error) {
	target, err := c.SnapshotURL(req)
	if err != nil {
		return domain.SnapshotResponse{}, domain.NewFetchError(domain.KindNetworkFatal, req, err)
	}

	var (
		attempts  int
		failures  int
		rateWaits int
	)

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.SnapshotResponse{}, c.cancelled(req, attempts, err)
		}

		attempts++
		resp, aerr := c.attempt(ctx, req, target)
		if aerr == nil {
			c.debug("snapshot fetched", "key", req.Key(), "attempts", attempts, "resolved", resp.ResolvedTimestamp)
			return resp, nil
		}

		switch aerr.kind {
		case domain.KindRateLimited:
			rateWaits++
			if rateWaits > c.opts.MaxRateLimitWaits {
				return domain.SnapshotResponse{}, aerr.toFetchError(req, attempts)
			}
			wait := c.cooldown(aerr.retryAfter)
			c.warn("rate limited, cooling down", "key", req.Key(), "cooldown", wait, "wait", rateWaits)
			if err := c.sleep(ctx, wait); err != nil {
				return domain.SnapshotResponse{}, c.cancelled(req, attempts, err)
			}

		case domain.KindNetworkTransient:
			failures++
			if failures > c.opts.MaxRetries {
				c.warn("retries exhausted", "key", req.Key(), "attempts", attempts, "error", aerr.err)
				return domain.SnapshotResponse{}, aerr.toFetchError(req, attempts)
			}
			wait := c.backoff(failures)
			c.debug("transient failure, backing off", "key", req.Key(), "retry", failures, "backoff", wait, "error", aerr.err)
			if err := c.sleep(ctx, wait); err != nil {
				return domain.SnapshotResponse{}, c.cancelled(req, attempts, err)
			}

		default:
			return domain.SnapshotResponse{}, aerr.toFetchError(req, attempts)
		}
	}
}

type attemptError struct {
	kind       domain.FailureKind
	status     int
	retryAfter time.Duration
	err        error
}

func (a *attemptError) toFetchError(req domain.SnapshotRequest, attempts int) *domain.FetchError {
	return &domain.FetchError{
		Kind:     a.kind,
		Request:  req,
		Status:   a.status,
		Attempts: attempts,
		Err:      a.err,
	}
}

func (c *Client) attempt(ctx context.Context, req domain.SnapshotRequest, target string) (domain.SnapshotResponse, *attemptError) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return domain.SnapshotResponse{}, &attemptError{kind: domain.KindNetworkFatal, err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("User-Agent", c.opts.UserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7")
	httpReq.Header.Set("Referer", "https://web.archive.org/")

	c.calls.Add(1)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return domain.SnapshotResponse{}, &attemptError{kind: domain.KindCancelled, err: ctx.Err()}
		}
		return domain.SnapshotResponse{}, &attemptError{kind: domain.KindNetworkTransient, err: fmt.Errorf("request snapshot: %w", err)}
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		body, err := c.readBody(resp.Body)
		if err != nil {
			if ctx.Err() != nil {
				return domain.SnapshotResponse{}, &attemptError{kind: domain.KindCancelled, err: ctx.Err()}
			}
			if errors.Is(err, ErrBodyTooLarge) {
				return domain.SnapshotResponse{}, &attemptError{kind: domain.KindNetworkFatal, status: status, err: err}
			}
			return domain.SnapshotResponse{}, &attemptError{kind: domain.KindNetworkTransient, status: status, err: fmt.Errorf("read body: %w", err)}
		}
		if marker, ok := c.notFoundMarker(body); ok {
			return domain.SnapshotResponse{}, &attemptError{kind: domain.KindNotArchived, status: status, err: fmt.Errorf("archive served not-found page (%q)", marker)}
		}
		fetchedAt := c.now().UTC()
		return domain.SnapshotResponse{
			Request:           req,
			Status:            status,
			ResolvedTimestamp: resolvedTimestamp(resp, req, body, fetchedAt),
			ContentType:       resp.Header.Get("Content-Type"),
			Body:              body,
			FetchedAt:         fetchedAt,
		}, nil

	case status == http.StatusNotFound || status == http.StatusGone:
		drain(resp.Body)
		return domain.SnapshotResponse{}, &attemptError{kind: domain.KindNotArchived, status: status, err: fmt.Errorf("archive returned %s", resp.Status)}

	case status == http.StatusTooManyRequests,
		status == http.StatusServiceUnavailable && resp.Header.Get("Retry-After") != "":
		drain(resp.Body)
		return domain.SnapshotResponse{}, &attemptError{
			kind:       domain.KindRateLimited,
			status:     status,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
			err:        fmt.Errorf("archive returned %s", resp.Status),
		}

	case status >= 500:
		drain(resp.Body)
		return domain.SnapshotResponse{}, &attemptError{kind: domain.KindNetworkTransient, status: status, err: fmt.Errorf("archive returned %s", resp.Status)}

	default:
		drain(resp.Body)
		return domain.SnapshotResponse{}, &attemptError{kind: domain.KindNetworkFatal, status: status, err: fmt.Errorf("archive returned %s", resp.Status)}
	}
}

func (c *Client) readBody(r io.Reader) ([]byte, error) {
	if c.opts.MaxBodyBytes <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, c.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.opts.MaxBodyBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, c.opts.MaxBodyBytes)
	}
	return body, nil
}

func (c *Client) notFoundMarker(body []byte) (string, bool) {
	for _, marker := range c.opts.NotFoundMarkers {
		if marker != "" && bytes.Contains(body, []byte(marker)) {
			return marker, true
		}
	}
	return "", false
}

// backoff doubles InitialBackoff per consumed retry, capped at MaxBackoff.
func (c *Client) backoff(retry int) time.Duration {
	d := c.opts.InitialBackoff
	for i := 1; i < retry; i++ {
		d *= 2
		if c.opts.MaxBackoff > 0 && d >= c.opts.MaxBackoff {
			return c.opts.MaxBackoff
		}
	}
	if c.opts.MaxBackoff > 0 && d > c.opts.MaxBackoff {
		return c.opts.MaxBackoff
	}
	return d
}

func (c *Client) cooldown(retryAfter time.Duration) time.Duration {
	d := c.opts.RateLimitCooldown
	if retryAfter > 0 {
		d = retryAfter
	}
	if c.opts.MaxCooldown > 0 && d > c.opts.MaxCooldown {
		d = c.opts.MaxCooldown
	}
	return d
}

func (c *Client) cancelled(req domain.SnapshotRequest, attempts int, err error) *domain.FetchError {
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", context.Canceled, err)
	}
	return &domain.FetchError{Kind: domain.KindCancelled, Request: req, Attempts: attempts, Err: err}
}

func (c *Client) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *Client) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 64<<10))
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

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
