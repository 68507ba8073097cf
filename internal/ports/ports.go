package ports

import (
	"context"
	"time"

	"CommunityArchive/internal/domain"
)

// SnapshotFetcher retrieves a single archived page.
type SnapshotFetcher interface {
	Fetch(ctx context.Context, req domain.SnapshotRequest) (domain.SnapshotResponse, error)
}

// Extractor turns a retrieved page into community records.
type Extractor interface {
	Extract(resp domain.SnapshotResponse) ([]domain.CommunityRecord, error)
}

// CorpusWriter persists the final corpus as a tabular artifact.
type CorpusWriter interface {
	Write(ctx context.Context, corpus domain.Corpus) error
}

// Outcome is one per-request result recorded in the run journal.
type Outcome struct {
	RunID             string
	Request           domain.SnapshotRequest
	ResolvedTimestamp string
	Kind              domain.FailureKind
	Status            int
	Attempts          int
	Records           int
	FromCache         bool
	Message           string
	RecordedAt        time.Time
}

// RunInfo summarizes a finished run for the journal.
type RunInfo struct {
	ID         string
	Command    string
	StartedAt  time.Time
	FinishedAt time.Time
	Requests   int
	Succeeded  int
	Failed     int
	Records    int
	Output     string
}

// Journal stores run diagnostics for later inspection.
type Journal interface {
	BeginRun(ctx context.Context, run RunInfo) error
	RecordOutcome(ctx context.Context, outcome Outcome) error
	FinishRun(ctx context.Context, run RunInfo) error
}

// LinkFinder discovers directory navigation inside a retrieved page.
type LinkFinder interface {
	IndexLetters(resp domain.SnapshotResponse) ([]domain.SnapshotRequest, error)
	NextPages(resp domain.SnapshotResponse) ([]domain.SnapshotRequest, error)
}
