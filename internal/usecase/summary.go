package usecase

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"CommunityArchive/internal/domain"
)

// Summary is the post-run report.
type Summary struct {
	RunID        string
	Requests     int
	Succeeded    int
	CacheHits    int
	NetworkCalls int64
	Failures     map[domain.FailureKind]int
	Extracted    int
	Written      int
	Duplicates   int
	Dropped      int
	Interrupted  bool
	Elapsed      time.Duration
}

// FailedTotal sums failures over all kinds.
func (s Summary) FailedTotal() int {
	total := 0
	for _, n := range s.Failures {
		total += n
	}
	return total
}

func summarize(results []Result) Summary {
	s := Summary{Requests: len(results), Failures: map[domain.FailureKind]int{}}
	for _, r := range results {
		if r.FromCache {
			s.CacheHits++
		}
		if r.Kind != "" {
			s.Failures[r.Kind]++
			continue
		}
		s.Succeeded++
		s.Extracted += len(r.Records)
	}
	return s
}

// Render prints the summary as a table.
func (s Summary) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Metric", "Value"})

	t.AppendRow(table.Row{"Requests", s.Requests})
	t.AppendRow(table.Row{"Succeeded", s.Succeeded})
	t.AppendRow(table.Row{"Cache hits", s.CacheHits})
	t.AppendRow(table.Row{"Network calls", s.NetworkCalls})
	t.AppendSeparator()
	for _, kind := range domain.FailureKinds {
		if n := s.Failures[kind]; n > 0 {
			t.AppendRow(table.Row{string(kind), n})
		}
	}
	t.AppendRow(table.Row{"Failed", s.FailedTotal()})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Records extracted", s.Extracted})
	t.AppendRow(table.Row{"Duplicates", s.Duplicates})
	t.AppendRow(table.Row{"Dropped", s.Dropped})
	t.AppendRow(table.Row{"Records written", s.Written})

	footer := "run " + s.RunID
	if s.Interrupted {
		footer += " (interrupted, artifact not written)"
	}
	t.AppendFooter(table.Row{footer, s.Elapsed.Round(time.Millisecond).String()})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
