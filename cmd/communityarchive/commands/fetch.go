package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"CommunityArchive/internal/app"
	"CommunityArchive/internal/domain"
	"CommunityArchive/internal/input"
	"CommunityArchive/internal/usecase"
)

var (
	fetchFlags   overrides
	inputFile    string
	targets      []string
	printCorpus  bool
	errNoTargets = errors.New("no snapshot requests: pass --input or --target")
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch snapshots and write the community corpus",
	Example: `  communityarchive fetch --input requests.txt -o communities.csv
  communityarchive fetch --target http://orkut.google.com/c-l-a.html@20080315120000`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		reqs, err := collectRequests()
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fetchFlags.apply(cmd, &cfg)

		application, err := app.New(cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		defer application.Close()

		run, runErr := application.Fetch(cmd.Context(), reqs)
		report(cmd.OutOrStdout(), run)
		return runErr
	},
}

func init() {
	fetchFlags.register(fetchCmd)
	fetchCmd.Flags().StringVarP(&inputFile, "input", "i", "", "request list, one \"identifier [timestamp]\" per line")
	fetchCmd.Flags().StringArrayVarP(&targets, "target", "t", nil, "single request as identifier[@timestamp] or archive link (repeatable)")
	fetchCmd.Flags().BoolVar(&printCorpus, "print", false, "print the numbered names to stdout")
	rootCmd.AddCommand(fetchCmd)
}

func collectRequests() ([]domain.SnapshotRequest, error) {
	var reqs []domain.SnapshotRequest
	if inputFile != "" {
		fromFile, err := input.ReadFile(inputFile)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, fromFile...)
	}
	for _, t := range targets {
		req, err := input.ParseTarget(t)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", t, err)
		}
		reqs = append(reqs, req)
	}
	if len(reqs) == 0 {
		return nil, errNoTargets
	}
	return reqs, nil
}

func report(w io.Writer, run usecase.Run) {
	if printCorpus {
		for i, name := range run.Corpus.Names() {
			fmt.Fprintf(w, "%d. %s\n", i+1, name)
		}
		fmt.Fprintln(w)
	}
	run.Summary.Render(w)
}
