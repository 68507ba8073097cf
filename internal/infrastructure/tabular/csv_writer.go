package tabular

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/renameio/v2"

	"CommunityArchive/internal/domain"
	"CommunityArchive/internal/ports"
)

// Header is the column layout of the artifact.
var Header = []string{"name", "member_count", "category", "snapshot_timestamp", "source_id"}

// CSVWriter replaces the artifact at path in one rename, so readers see
// either the previous file or the complete new one.
type CSVWriter struct {
	path   string
	logger *slog.Logger
}

var _ ports.CorpusWriter = (*CSVWriter)(nil)

// NewCSVWriter targets path.
func NewCSVWriter(path string, logger *slog.Logger) *CSVWriter {
	return &CSVWriter{path: path, logger: logger}
}

// Path returns the artifact location.
func (w *CSVWriter) Path() string {
	return w.path
}

// Preflight checks that the artifact can be created before any fetching starts.
func (w *CSVWriter) Preflight() error {
	if w.path == "" {
		return errors.New("output path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("output directory: %w", err)
	}
	pf, err := renameio.NewPendingFile(w.path, w.pendingOptions()...)
	if err != nil {
		return fmt.Errorf("output %s is not writable: %w", w.path, err)
	}
	return pf.Cleanup()
}

// Write implements ports.CorpusWriter.
func (w *CSVWriter) Write(ctx context.Context, corpus domain.Corpus) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pf, err := renameio.NewPendingFile(w.path, w.pendingOptions()...)
	if err != nil {
		return fmt.Errorf("create pending artifact: %w", err)
	}
	defer pf.Cleanup()

	if err := Encode(pf, corpus); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace artifact %s: %w", w.path, err)
	}

	if w.logger != nil {
		w.logger.Info("artifact written", "path", w.path, "records", corpus.Len())
	}
	return nil
}

// Encode writes the header and one row per record.
func Encode(out io.Writer, corpus domain.Corpus) error {
	cw := csv.NewWriter(out)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range corpus.Records {
		if err := cw.Write(row(rec)); err != nil {
			return fmt.Errorf("write row %q: %w", rec.Name, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func row(rec domain.CommunityRecord) []string {
	count := ""
	if rec.MemberCount != nil {
		count = strconv.Itoa(*rec.MemberCount)
	}
	return []string{rec.Name, count, rec.Category, rec.SnapshotTimestamp, rec.SourceID}
}

// Read loads an artifact written by CSVWriter.
func Read(path string) (domain.Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Corpus{}, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = len(Header)
	rows, err := cr.ReadAll()
	if err != nil {
		return domain.Corpus{}, fmt.Errorf("read artifact %s: %w", path, err)
	}
	if len(rows) == 0 {
		return domain.Corpus{}, fmt.Errorf("artifact %s has no header", path)
	}

	records := make([]domain.CommunityRecord, 0, len(rows)-1)
	for i, r := range rows[1:] {
		rec := domain.CommunityRecord{Name: r[0], Category: r[2], SnapshotTimestamp: r[3], SourceID: r[4]}
		if r[1] != "" {
			n, err := strconv.Atoi(r[1])
			if err != nil {
				return domain.Corpus{}, fmt.Errorf("row %d: member_count %q: %w", i+2, r[1], err)
			}
			rec.MemberCount = &n
		}
		records = append(records, rec)
	}
	return domain.Corpus{Records: records}, nil
}

func (w *CSVWriter) pendingOptions() []renameio.Option {
	return []renameio.Option{
		renameio.WithTempDir(filepath.Dir(w.path)),
		renameio.WithPermissions(0o644),
	}
}
