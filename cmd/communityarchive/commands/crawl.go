package commands

import (
	"github.com/spf13/cobra"

	"CommunityArchive/internal/app"
)

var (
	crawlFlags    overrides
	seed          string
	seedTimestamp string
	maxPages      int
	requestsOut   string
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Walk the archived directory from a seed page, then fetch every listing",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		crawlFlags.apply(cmd, &cfg)
		f := cmd.Flags()
		if f.Changed("seed") {
			cfg.Crawl.Seed = seed
		}
		if f.Changed("seed-timestamp") {
			cfg.Crawl.SeedTimestamp = seedTimestamp
		}
		if f.Changed("max-pages") {
			cfg.Crawl.MaxPagesPerLetter = maxPages
		}

		application, err := app.New(cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		defer application.Close()

		_, run, runErr := application.Crawl(cmd.Context(), requestsOut)
		if run.ID != "" {
			report(cmd.OutOrStdout(), run)
		}
		return runErr
	},
}

func init() {
	crawlFlags.register(crawlCmd)
	crawlCmd.Flags().StringVar(&seed, "seed", "", "seed page identifier")
	crawlCmd.Flags().StringVar(&seedTimestamp, "seed-timestamp", "", "seed snapshot timestamp")
	crawlCmd.Flags().IntVar(&maxPages, "max-pages", 0, "pagination limit per index letter")
	crawlCmd.Flags().StringVar(&requestsOut, "requests-out", "", "save the discovered request list to this file")
	crawlCmd.Flags().BoolVar(&printCorpus, "print", false, "print the numbered names to stdout")
	rootCmd.AddCommand(crawlCmd)
}
