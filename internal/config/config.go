package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv  = "COMMUNITY_ARCHIVE_CONFIG"
	serviceBaseEnv = "ARCHIVE_SERVICE_BASE"
	userAgentEnv   = "ARCHIVE_USER_AGENT"
	cacheDirEnv    = "COMMUNITY_ARCHIVE_CACHE_DIR"
	outputPathEnv  = "COMMUNITY_ARCHIVE_OUTPUT"
	journalPathEnv = "COMMUNITY_ARCHIVE_JOURNAL"
	logLevelEnv    = "LOG_LEVEL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Archive ArchiveConfig `yaml:"archive"`
	Retry   RetryConfig   `yaml:"retry"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Cache   CacheConfig   `yaml:"cache"`
	Output  OutputConfig  `yaml:"output"`
	Journal JournalConfig `yaml:"journal"`
	Corpus  CorpusConfig  `yaml:"corpus"`
	Crawl   CrawlConfig   `yaml:"crawl"`
}

// LoggingConfig selects level and handler ("tint", "text" or "json").
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ArchiveConfig describes the snapshot service and how requests are shaped.
type ArchiveConfig struct {
	ServiceBase       string        `yaml:"serviceBase"`
	ClosestSegment    string        `yaml:"closestSegment"`
	OriginBase        string        `yaml:"originBase"`
	UserAgent         string        `yaml:"userAgent"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	MaxBodyBytes      int64         `yaml:"maxBodyBytes"`
	NotFoundMarkers   []string      `yaml:"notFoundMarkers"`
}

// RetryConfig bounds retries of transient failures and rate-limit cooldowns.
type RetryConfig struct {
	MaxRetries        int           `yaml:"maxRetries"`
	InitialBackoff    time.Duration `yaml:"initialBackoff"`
	MaxBackoff        time.Duration `yaml:"maxBackoff"`
	RateLimitCooldown time.Duration `yaml:"rateLimitCooldown"`
	MaxCooldown       time.Duration `yaml:"maxCooldown"`
	MaxRateLimitWaits int           `yaml:"maxRateLimitWaits"`
}

// FetchConfig controls the worker pool.
type FetchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// CacheConfig points at the snapshot cache directory.
type CacheConfig struct {
	Dir string `yaml:"dir"`
}

// OutputConfig points at the CSV artifact.
type OutputConfig struct {
	Path string `yaml:"path"`
}

// JournalConfig enables the SQLite run journal when Path is set.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// CorpusConfig tunes name filtering.
type CorpusConfig struct {
	MinNameLength int      `yaml:"minNameLength"`
	Placeholders  []string `yaml:"placeholders"`
}

// CrawlConfig describes the directory walk started from a seed snapshot.
type CrawlConfig struct {
	Seed              string        `yaml:"seed"`
	SeedTimestamp     string        `yaml:"seedTimestamp"`
	MaxPagesPerLetter int           `yaml:"maxPagesPerLetter"`
	PageDelay         time.Duration `yaml:"pageDelay"`
}

// Load reads the YAML file at path (or the one named by the environment),
// decodes it over the defaults and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(serviceBaseEnv); v != "" {
		c.Archive.ServiceBase = v
	}
	if v := os.Getenv(userAgentEnv); v != "" {
		c.Archive.UserAgent = v
	}
	if v := os.Getenv(cacheDirEnv); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv(outputPathEnv); v != "" {
		c.Output.Path = v
	}
	if v := os.Getenv(journalPathEnv); v != "" {
		c.Journal.Path = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Archive.ServiceBase) == "" {
		errs = append(errs, errors.New("archive.serviceBase is required"))
	}
	if strings.TrimSpace(c.Archive.ClosestSegment) == "" {
		errs = append(errs, errors.New("archive.closestSegment is required"))
	}
	if c.Archive.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("archive.requestsPerSecond must not be negative"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.maxRetries must not be negative"))
	}
	if c.Retry.InitialBackoff < 0 || c.Retry.MaxBackoff < 0 || c.Retry.RateLimitCooldown < 0 || c.Retry.MaxCooldown < 0 {
		errs = append(errs, errors.New("retry durations must not be negative"))
	}
	if c.Retry.MaxRateLimitWaits < 0 {
		errs = append(errs, errors.New("retry.maxRateLimitWaits must not be negative"))
	}
	if c.Fetch.Concurrency < 1 {
		errs = append(errs, errors.New("fetch.concurrency must be at least 1"))
	}
	if strings.TrimSpace(c.Cache.Dir) == "" {
		errs = append(errs, errors.New("cache.dir is required"))
	}
	if strings.TrimSpace(c.Output.Path) == "" {
		errs = append(errs, errors.New("output.path is required"))
	}
	if c.Crawl.MaxPagesPerLetter < 1 {
		errs = append(errs, errors.New("crawl.maxPagesPerLetter must be at least 1"))
	}

	return errors.Join(errs...)
}

// Default returns the settings used when no file overrides them.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "tint"},
		Archive: ArchiveConfig{
			ServiceBase:       "https://web.archive.org/web",
			ClosestSegment:    "2",
			OriginBase:        "http://orkut.google.com/",
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 1,
			MaxBodyBytes:      10 << 20,
			NotFoundMarkers: []string{
				"Wayback Machine doesn't have that page archived",
				"Hrm. The Wayback Machine has not archived that URL",
				"This URL has been excluded from the Wayback Machine",
			},
		},
		Retry: RetryConfig{
			MaxRetries:        3,
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        30 * time.Second,
			RateLimitCooldown: 10 * time.Second,
			MaxCooldown:       2 * time.Minute,
			MaxRateLimitWaits: 10,
		},
		Fetch:   FetchConfig{Concurrency: 4},
		Cache:   CacheConfig{Dir: ".cache/snapshots"},
		Output:  OutputConfig{Path: "communities.csv"},
		Journal: JournalConfig{Path: ""},
		Corpus: CorpusConfig{
			MinNameLength: 3,
		},
		Crawl: CrawlConfig{
			Seed:              "http://orkut.google.com/",
			SeedTimestamp:     "20141001005309",
			MaxPagesPerLetter: 50,
			PageDelay:         time.Second,
		},
	}
}
