package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"CommunityArchive/internal/infrastructure/storage"
)

var (
	runsJournal string
	runsLimit   int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs recorded in the journal",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := cfg.Journal.Path
		if cmd.Flags().Changed("journal") {
			path = runsJournal
		}
		if path == "" {
			return errors.New("no journal configured: pass --journal or set journal.path")
		}

		journal, err := storage.OpenSQLiteJournal(path)
		if err != nil {
			return err
		}
		defer journal.Close()

		runs, err := journal.RecentRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"Run", "Command", "Started", "Duration", "Requests", "OK", "Failed", "Records", "Output"})
		for _, r := range runs {
			duration := "-"
			if !r.FinishedAt.IsZero() {
				duration = r.FinishedAt.Sub(r.StartedAt).Round(100 * time.Millisecond).String()
			}
			t.AppendRow(table.Row{r.ID, r.Command, r.StartedAt.Local().Format("2006-01-02 15:04:05"), duration, r.Requests, r.Succeeded, r.Failed, r.Records, r.Output})
		}
		t.AppendFooter(table.Row{fmt.Sprintf("%d runs", len(runs))})
		t.Render()
		return nil
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsJournal, "journal", "", "SQLite run journal path")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to show")
	rootCmd.AddCommand(runsCmd)
}
