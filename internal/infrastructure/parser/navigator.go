package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"CommunityArchive/internal/domain"
	"CommunityArchive/internal/infrastructure/archive"
	"CommunityArchive/internal/ports"
)

// Navigator finds directory navigation (index letters, next page) in
// archived pages and maps the links back to snapshot requests.
type Navigator struct {
	originBase string
}

var _ ports.LinkFinder = (*Navigator)(nil)

// NewNavigator resolves catalog-key identifiers against originBase.
func NewNavigator(originBase string) *Navigator {
	return &Navigator{originBase: originBase}
}

// IndexLetters returns the letter pages linked from a directory home page.
func (n *Navigator) IndexLetters(resp domain.SnapshotResponse) ([]domain.SnapshotRequest, error) {
	doc, err := Document(resp)
	if err != nil {
		return nil, err
	}
	var hrefs []string
	doc.Find("div.indexLettersContainer a.indexLetters").Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	return n.requests(resp, hrefs)
}

// NextPages returns the "next" pagination targets of a listing page.
func (n *Navigator) NextPages(resp domain.SnapshotResponse) ([]domain.SnapshotRequest, error) {
	doc, err := Document(resp)
	if err != nil {
		return nil, err
	}
	var hrefs []string
	doc.Find("a.paginationSeparator").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		text := strings.ToLower(a.Text())
		if strings.Contains(text, "next") || strings.Contains(text, "próxima") {
			hrefs = append(hrefs, href)
		}
	})
	return n.requests(resp, hrefs)
}

func (n *Navigator) requests(resp domain.SnapshotResponse, hrefs []string) ([]domain.SnapshotRequest, error) {
	page, err := n.pageURL(resp.Request.Identifier)
	if err != nil {
		return nil, err
	}

	timestamp := resp.ResolvedTimestamp
	if timestamp == "" {
		timestamp = resp.Request.Timestamp
	}

	seen := map[string]struct{}{}
	var out []domain.SnapshotRequest
	for _, href := range hrefs {
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			continue
		}

		req, ok := archive.ParseSnapshotURL(href)
		if !ok {
			ref, err := url.Parse(href)
			if err != nil {
				continue
			}
			req = domain.NewSnapshotRequest(page.ResolveReference(ref).String(), timestamp)
		}
		if _, dup := seen[req.Key()]; dup {
			continue
		}
		seen[req.Key()] = struct{}{}
		out = append(out, req)
	}
	return out, nil
}

func (n *Navigator) pageURL(identifier string) (*url.URL, error) {
	u, err := url.Parse(identifier)
	if err == nil && u.IsAbs() {
		return u, nil
	}
	base, err := url.Parse(n.originBase)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("cannot resolve links of %q without an absolute origin base", identifier)
	}
	ref, err := url.Parse(strings.TrimPrefix(identifier, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid identifier %q: %w", identifier, err)
	}
	return base.ResolveReference(ref), nil
}
