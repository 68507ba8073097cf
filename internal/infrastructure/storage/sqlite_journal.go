package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"CommunityArchive/internal/domain"
	"CommunityArchive/internal/ports"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    command TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    requests INTEGER NOT NULL DEFAULT 0,
    succeeded INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    records INTEGER NOT NULL DEFAULT 0,
    output TEXT
);

CREATE TABLE IF NOT EXISTS fetch_outcomes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    identifier TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    resolved_timestamp TEXT,
    kind TEXT NOT NULL DEFAULT '',
    status INTEGER,
    attempts INTEGER,
    records INTEGER NOT NULL DEFAULT 0,
    from_cache INTEGER NOT NULL DEFAULT 0,
    message TEXT,
    recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outcomes_run ON fetch_outcomes(run_id);
CREATE INDEX IF NOT EXISTS idx_outcomes_request ON fetch_outcomes(identifier, timestamp);
`

// SQLiteJournal records runs and per-request outcomes.
type SQLiteJournal struct {
	db *sql.DB
}

var _ ports.Journal = (*SQLiteJournal)(nil)

// OpenSQLiteJournal opens (or creates) the journal database at path.
func OpenSQLiteJournal(path string) (*SQLiteJournal, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// Workers record outcomes concurrently; SQLite takes one writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(journalSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

// Close releases the database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// BeginRun inserts the run row.
func (j *SQLiteJournal) BeginRun(ctx context.Context, run ports.RunInfo) error {
	query, args, err := sq.Insert("runs").
		Columns("id", "command", "started_at", "output").
		Values(run.ID, run.Command, formatTime(run.StartedAt), run.Output).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert run: %w", err)
	}
	if _, err := j.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordOutcome appends one per-request row.
func (j *SQLiteJournal) RecordOutcome(ctx context.Context, o ports.Outcome) error {
	recordedAt := o.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	query, args, err := sq.Insert("fetch_outcomes").
		Columns("run_id", "identifier", "timestamp", "resolved_timestamp", "kind",
			"status", "attempts", "records", "from_cache", "message", "recorded_at").
		Values(o.RunID, o.Request.Identifier, o.Request.Timestamp, o.ResolvedTimestamp, string(o.Kind),
			o.Status, o.Attempts, o.Records, o.FromCache, o.Message, formatTime(recordedAt)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert outcome: %w", err)
	}
	if _, err := j.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// FinishRun stores the run totals.
func (j *SQLiteJournal) FinishRun(ctx context.Context, run ports.RunInfo) error {
	query, args, err := sq.Update("runs").
		Set("finished_at", formatTime(run.FinishedAt)).
		Set("requests", run.Requests).
		Set("succeeded", run.Succeeded).
		Set("failed", run.Failed).
		Set("records", run.Records).
		Set("output", run.Output).
		Where(sq.Eq{"id": run.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update run: %w", err)
	}
	res, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s is not in the journal", run.ID)
	}
	return nil
}

// RecentRuns lists the latest runs, newest first.
func (j *SQLiteJournal) RecentRuns(ctx context.Context, limit int) ([]ports.RunInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	query, args, err := sq.Select("id", "command", "started_at", "COALESCE(finished_at, '')",
		"requests", "succeeded", "failed", "records", "COALESCE(output, '')").
		From("runs").
		OrderBy("started_at DESC", "id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select runs: %w", err)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []ports.RunInfo
	for rows.Next() {
		var (
			run               ports.RunInfo
			started, finished string
		)
		if err := rows.Scan(&run.ID, &run.Command, &started, &finished,
			&run.Requests, &run.Succeeded, &run.Failed, &run.Records, &run.Output); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = parseTime(started)
		run.FinishedAt = parseTime(finished)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return runs, nil
}

// KindCounts returns failure counts per kind for one run.
func (j *SQLiteJournal) KindCounts(ctx context.Context, runID string) (map[domain.FailureKind]int, error) {
	query, args, err := sq.Select("kind", "COUNT(*)").
		From("fetch_outcomes").
		Where(sq.And{sq.Eq{"run_id": runID}, sq.NotEq{"kind": ""}}).
		GroupBy("kind").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select kinds: %w", err)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query kinds: %w", err)
	}
	defer rows.Close()

	counts := map[domain.FailureKind]int{}
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan kind: %w", err)
		}
		counts[domain.FailureKind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return counts, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
