package corpus

import (
	"log/slog"
	"unicode/utf8"

	"CommunityArchive/internal/domain"
)

// DropReason explains why a record did not make it into the corpus.
type DropReason string

const (
	DropEmptyName        DropReason = "empty_name"
	DropShortName        DropReason = "short_name"
	DropPlaceholder      DropReason = "placeholder"
	DropInvalidTimestamp DropReason = "invalid_timestamp"
)

// DefaultPlaceholders are names the directory shows for missing or
// navigational entries.
var DefaultPlaceholders = []string{
	"Untitled community",
	"Comunidade sem título",
	"Sem título",
	"next >",
	"< previous",
	"next",
	"previous",
	"first",
	"last",
	"próxima >",
	"< anterior",
	"primeira",
	"última",
}

// Options configure the filters.
type Options struct {
	MinNameLength int
	Placeholders  []string
}

// Report counts what happened to the input records.
type Report struct {
	Input      int
	Kept       int
	Duplicates int
	Dropped    map[DropReason]int
}

// DroppedTotal sums drops over all reasons.
func (r Report) DroppedTotal() int {
	total := 0
	for _, n := range r.Dropped {
		total += n
	}
	return total
}

// Assembler normalizes, filters and deduplicates extracted records.
type Assembler struct {
	minLen       int
	placeholders map[string]struct{}
	logger       *slog.Logger
}

// NewAssembler merges opts.Placeholders with DefaultPlaceholders.
func NewAssembler(opts Options, logger *slog.Logger) *Assembler {
	placeholders := make(map[string]struct{}, len(DefaultPlaceholders)+len(opts.Placeholders))
	for _, p := range DefaultPlaceholders {
		placeholders[foldKey(NormalizeName(p))] = struct{}{}
	}
	for _, p := range opts.Placeholders {
		if n := NormalizeName(p); n != "" {
			placeholders[foldKey(n)] = struct{}{}
		}
	}
	return &Assembler{
		minLen:       opts.MinNameLength,
		placeholders: placeholders,
		logger:       logger,
	}
}

// Assemble returns the corpus in input order. The first occurrence of each
// (name, source) pair wins.
func (a *Assembler) Assemble(records []domain.CommunityRecord) (domain.Corpus, Report) {
	report := Report{Input: len(records), Dropped: map[DropReason]int{}}
	seen := make(map[string]struct{}, len(records))
	out := make([]domain.CommunityRecord, 0, len(records))

	for _, rec := range records {
		rec.Name = NormalizeName(rec.Name)
		rec.Category = NormalizeName(rec.Category)

		if reason, drop := a.reject(rec); drop {
			report.Dropped[reason]++
			a.debug("record dropped", "name", rec.Name, "source", rec.SourceID, "reason", reason)
			continue
		}

		key := rec.DedupKey()
		if _, dup := seen[key]; dup {
			report.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		out = append(out, rec)
	}

	report.Kept = len(out)
	return domain.Corpus{Records: out}, report
}

func (a *Assembler) reject(rec domain.CommunityRecord) (DropReason, bool) {
	switch {
	case rec.Name == "":
		return DropEmptyName, true
	case utf8.RuneCountInString(rec.Name) < a.minLen:
		return DropShortName, true
	case a.isPlaceholder(rec.Name):
		return DropPlaceholder, true
	case !domain.ValidSnapshotTimestamp(rec.SnapshotTimestamp):
		return DropInvalidTimestamp, true
	}
	return "", false
}

func (a *Assembler) isPlaceholder(name string) bool {
	_, ok := a.placeholders[foldKey(name)]
	return ok
}

func (a *Assembler) debug(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Debug(msg, args...)
	}
}
