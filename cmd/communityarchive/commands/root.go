package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"CommunityArchive/internal/config"
	"CommunityArchive/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "communityarchive",
	Short: "Rebuilds a community name corpus from archived directory snapshots",
	Long: `communityarchive fetches archived snapshots of a defunct community
directory, extracts community names with layout-specific rules and writes a
deduplicated CSV corpus. Snapshots are cached on disk, so reruns are cheap.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "tint, text or json")
}

// ExecuteContext runs the root command and exits non-zero on failure.
func ExecuteContext(ctx context.Context) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the persistent flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	return logging.New(cfg.Logging.Level, cfg.Logging.Format)
}

// overrides copies explicitly set flags onto the config.
type overrides struct {
	cacheDir          string
	output            string
	journal           string
	concurrency       int
	maxRetries        int
	backoff           time.Duration
	maxBackoff        time.Duration
	rateLimitCooldown time.Duration
	rps               float64
}

func (o *overrides) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.cacheDir, "cache-dir", "", "snapshot cache directory")
	f.StringVarP(&o.output, "output", "o", "", "CSV artifact path")
	f.StringVar(&o.journal, "journal", "", "SQLite run journal path (empty disables it)")
	f.IntVarP(&o.concurrency, "concurrency", "c", 0, "parallel fetch workers")
	f.IntVar(&o.maxRetries, "max-retries", 0, "retries for transient failures")
	f.DurationVar(&o.backoff, "backoff", 0, "initial retry backoff")
	f.DurationVar(&o.maxBackoff, "max-backoff", 0, "retry backoff ceiling")
	f.DurationVar(&o.rateLimitCooldown, "rate-limit-cooldown", 0, "wait after a rate-limit response")
	f.Float64Var(&o.rps, "rps", 0, "request rate ceiling per second")
}

func (o *overrides) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("cache-dir") {
		cfg.Cache.Dir = o.cacheDir
	}
	if f.Changed("output") {
		cfg.Output.Path = o.output
	}
	if f.Changed("journal") {
		cfg.Journal.Path = o.journal
	}
	if f.Changed("concurrency") {
		cfg.Fetch.Concurrency = o.concurrency
	}
	if f.Changed("max-retries") {
		cfg.Retry.MaxRetries = o.maxRetries
	}
	if f.Changed("backoff") {
		cfg.Retry.InitialBackoff = o.backoff
	}
	if f.Changed("max-backoff") {
		cfg.Retry.MaxBackoff = o.maxBackoff
	}
	if f.Changed("rate-limit-cooldown") {
		cfg.Retry.RateLimitCooldown = o.rateLimitCooldown
	}
	if f.Changed("rps") {
		cfg.Archive.RequestsPerSecond = o.rps
	}
}
