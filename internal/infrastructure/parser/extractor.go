package parser

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"CommunityArchive/internal/domain"
	"CommunityArchive/internal/extract"
	"CommunityArchive/internal/ports"
)

// waybackChrome matches the toolbar and banners the archive injects into replayed pages.
const waybackChrome = "#wm-ipp-base, #wm-ipp, #wm-ipp-print, #donato, #playback"

// Extractor runs the rule registry over retrieved snapshots.
type Extractor struct {
	registry *extract.Registry
	logger   *slog.Logger
}

var _ ports.Extractor = (*Extractor)(nil)

// NewExtractor uses reg, or the Orkut rules when reg is nil.
func NewExtractor(reg *extract.Registry, logger *slog.Logger) *Extractor {
	if reg == nil {
		reg = NewOrkutRegistry()
	}
	return &Extractor{registry: reg, logger: logger}
}

// Extract implements ports.Extractor. A page no rule recognises is an
// ExtractionMismatch.
func (e *Extractor) Extract(resp domain.SnapshotResponse) ([]domain.CommunityRecord, error) {
	doc, err := Document(resp)
	if err != nil {
		return nil, &domain.FetchError{Kind: domain.KindExtractionMismatch, Request: resp.Request, Status: resp.Status, Err: err}
	}

	rule, items, err := e.registry.Apply(doc)
	if errors.Is(err, extract.ErrNoRuleMatched) {
		e.debug("no rule matched", "key", resp.Request.Key(), "bytes", len(resp.Body))
		return nil, &domain.FetchError{Kind: domain.KindExtractionMismatch, Request: resp.Request, Status: resp.Status, Err: err}
	}
	if err != nil {
		return nil, err
	}

	e.debug("extracted", "key", resp.Request.Key(), "rule", rule, "items", len(items))

	records := make([]domain.CommunityRecord, 0, len(items))
	for _, item := range items {
		records = append(records, domain.CommunityRecord{
			Name:              item.Name,
			MemberCount:       item.MemberCount,
			Category:          item.Category,
			SnapshotTimestamp: resp.ResolvedTimestamp,
			SourceID:          resp.Request.Identifier,
		})
	}
	return records, nil
}

// Document decodes the body to UTF-8, parses it and strips the archive's
// replay chrome.
func Document(resp domain.SnapshotResponse) (*goquery.Document, error) {
	reader, err := charset.NewReader(bytes.NewReader(resp.Body), resp.ContentType)
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	doc.Find(waybackChrome).Remove()
	return doc, nil
}

func (e *Extractor) debug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}
