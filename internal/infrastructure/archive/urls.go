package archive

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"CommunityArchive/internal/domain"
)

var (
	// /web/20141001005309/http://..., optionally with a modifier such as id_ or im_.
	servedTimestampExpr = regexp.MustCompile(`/(\d{14})(?:[a-z]{2}_)?/`)
	snapshotPathExpr    = regexp.MustCompile(`/(\d{1,14})(?:[a-z]{2}_)?/(https?:/+.+)$`)
	schemeSlashesExpr   = regexp.MustCompile(`^(https?):/+`)

	// Replay pages carry the capture in the toolbar script, e.g.
	// __wm.wombat("http://...","20080315120000",...) or wbCurrentUrl = "/web/2008.../http://...".
	embeddedTimestampExprs = []*regexp.Regexp{
		regexp.MustCompile(`__wm\.wombat\(\s*"[^"]*"\s*,\s*"(\d{14})"`),
		regexp.MustCompile(`wbCurrentUrl\s*=\s*"[^"]*/web/(\d{14})(?:[a-z]{2}_)?/`),
	}
)

// SnapshotURL renders {service_base}/{timestamp_or_closest}/{original_url}.
func (c *Client) SnapshotURL(req domain.SnapshotRequest) (string, error) {
	original, err := c.OriginalURL(req.Identifier)
	if err != nil {
		return "", err
	}

	segment := c.opts.ClosestSegment
	if !req.Closest() {
		if !domain.ValidRequestTimestamp(req.Timestamp) {
			return "", fmt.Errorf("invalid snapshot timestamp %q", req.Timestamp)
		}
		segment = req.Timestamp
	}

	base := strings.TrimSuffix(c.opts.ServiceBase, "/")
	return base + "/" + segment + "/" + original, nil
}

// OriginalURL maps an identifier to the URL the archive captured. Absolute
// URLs pass through; catalog keys resolve against OriginBase.
func (c *Client) OriginalURL(identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", fmt.Errorf("empty identifier")
	}
	if hasScheme(identifier) {
		return identifier, nil
	}
	if c.opts.OriginBase == "" {
		return "", fmt.Errorf("identifier %q is not a URL and no origin base is configured", identifier)
	}

	base, err := url.Parse(c.opts.OriginBase)
	if err != nil {
		return "", fmt.Errorf("invalid origin base %s: %w", c.opts.OriginBase, err)
	}
	ref, err := url.Parse(strings.TrimPrefix(identifier, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid identifier %q: %w", identifier, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// ParseSnapshotURL recognises an archive link (absolute or host-relative) and
// returns the request that would retrieve it.
func ParseSnapshotURL(raw string) (domain.SnapshotRequest, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return domain.SnapshotRequest{}, false
	}

	path := u.Path
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	m := snapshotPathExpr.FindStringSubmatch(path)
	if m == nil {
		return domain.SnapshotRequest{}, false
	}

	original := schemeSlashesExpr.ReplaceAllString(m[2], "$1://")
	return domain.NewSnapshotRequest(original, m[1]), true
}

func hasScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// resolvedTimestamp reports the capture actually served: the final redirect
// target first, then Memento-Datetime, then a fully specified request, then the
// timestamp embedded in the replay toolbar, and finally the fetch time.
func resolvedTimestamp(resp *http.Response, req domain.SnapshotRequest, body []byte, fetchedAt time.Time) string {
	if resp.Request != nil && resp.Request.URL != nil {
		if m := servedTimestampExpr.FindStringSubmatch(resp.Request.URL.Path); m != nil {
			return m[1]
		}
	}
	if v := resp.Header.Get("Memento-Datetime"); v != "" {
		if at, err := http.ParseTime(v); err == nil {
			return at.UTC().Format(domain.SnapshotLayout)
		}
	}
	if domain.ValidSnapshotTimestamp(req.Timestamp) {
		return req.Timestamp
	}
	for _, expr := range embeddedTimestampExprs {
		if m := expr.FindSubmatch(body); m != nil {
			return string(m[1])
		}
	}
	return fetchedAt.UTC().Format(domain.SnapshotLayout)
}
