// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config captures all run configuration knobs loaded via Viper.
type Config struct {
	StartURLs  []string         `mapstructure:"start_urls"`
	OutputDir  string           `mapstructure:"output_dir"`
	LogLevel   string           `mapstructure:"log_level"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Metadata   MetadataConfig   `mapstructure:"metadata"`
	Server     ServerConfig     `mapstructure:"server"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs the fetch and download pipeline.
type CrawlerConfig struct {
	UserAgent          string        `mapstructure:"user_agent"`
	RespectRobots      bool          `mapstructure:"respect_robots"`
	FetchWorkers       int           `mapstructure:"fetch_workers"`
	DownloadWorkers    int           `mapstructure:"download_workers"`
	DownloadQueue      int           `mapstructure:"download_queue"`
	MaxDepth           int           `mapstructure:"max_depth"`
	AllowedDomains     []string      `mapstructure:"allowed_domains"`
	DocumentExtensions []string      `mapstructure:"document_extensions"`
	Follow             string        `mapstructure:"follow"`
	MaxPageBytes       int           `mapstructure:"max_page_bytes"`
	MaxDocumentBytes   int64         `mapstructure:"max_document_bytes"`
	DrainTimeout       time.Duration `mapstructure:"drain_timeout"`
	CancelGrace        time.Duration `mapstructure:"cancel_grace"`
}

// PolitenessConfig sets the per-domain pacing defaults and overrides.
type PolitenessConfig struct {
	DownloadDelay               time.Duration    `mapstructure:"download_delay"`
	ConcurrentRequestsPerDomain int              `mapstructure:"concurrent_requests_per_domain"`
	Overrides                   []DomainOverride `mapstructure:"overrides"`
}

// DomainOverride replaces the politeness defaults for one domain.
type DomainOverride struct {
	Domain             string        `mapstructure:"domain"`
	DownloadDelay      time.Duration `mapstructure:"download_delay"`
	ConcurrentRequests int           `mapstructure:"concurrent_requests"`
}

// HTTPConfig configures request timeouts and retry behavior.
type HTTPConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	BackoffInitial  time.Duration `mapstructure:"backoff_initial"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
}

// MetadataConfig controls the metadata sink and its optional mirror.
type MetadataConfig struct {
	Fsync    bool           `mapstructure:"fsync"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig enables the Postgres metadata mirror when DSN is set.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ServerConfig controls the optional status server. An empty address
// disables it.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("start_urls", []string{})
	v.SetDefault("output_dir", "output")
	v.SetDefault("log_level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("crawler.user_agent", "pdfcrawler/1.0 (+https://github.com/JakeFAU/pdfcrawler)")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.fetch_workers", 8)
	v.SetDefault("crawler.download_workers", 4)
	v.SetDefault("crawler.download_queue", 64)
	v.SetDefault("crawler.max_depth", 0)
	v.SetDefault("crawler.allowed_domains", []string{})
	v.SetDefault("crawler.document_extensions", []string{".pdf"})
	v.SetDefault("crawler.follow", "all")
	v.SetDefault("crawler.max_page_bytes", 5*1024*1024)
	v.SetDefault("crawler.max_document_bytes", 100*1024*1024)
	v.SetDefault("crawler.drain_timeout", 2*time.Minute)
	v.SetDefault("crawler.cancel_grace", 10*time.Second)
	v.SetDefault("politeness.download_delay", 300*time.Millisecond)
	v.SetDefault("politeness.concurrent_requests_per_domain", 8)
	v.SetDefault("http.timeout", 15*time.Second)
	v.SetDefault("http.download_timeout", 2*time.Minute)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial", 250*time.Millisecond)
	v.SetDefault("http.backoff_max", 5*time.Second)
	v.SetDefault("metadata.fsync", true)
	v.SetDefault("metadata.postgres.table", "document_fetches")
	v.SetDefault("server.listen_addr", "")
}

// Validate enforces required values and reasonable limits. It runs after
// command-line overrides are applied.
func (c Config) Validate() error {
	var errs []error
	if len(c.StartURLs) == 0 {
		errs = append(errs, errors.New("start_urls must contain at least one url"))
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		errs = append(errs, errors.New("output_dir is required"))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.Crawler.FetchWorkers <= 0 {
		errs = append(errs, errors.New("crawler.fetch_workers must be > 0"))
	}
	if c.Crawler.DownloadWorkers <= 0 {
		errs = append(errs, errors.New("crawler.download_workers must be > 0"))
	}
	if c.Crawler.MaxDepth < 0 {
		errs = append(errs, errors.New("crawler.max_depth must be >= 0"))
	}
	switch c.Crawler.Follow {
	case "all", "pagination":
	default:
		errs = append(errs, fmt.Errorf("crawler.follow must be all or pagination, got %q", c.Crawler.Follow))
	}
	if c.Crawler.MaxPageBytes <= 0 {
		errs = append(errs, errors.New("crawler.max_page_bytes must be > 0"))
	}
	if c.Crawler.MaxDocumentBytes < 0 {
		errs = append(errs, errors.New("crawler.max_document_bytes must be >= 0"))
	}
	if c.Crawler.DrainTimeout <= 0 {
		errs = append(errs, errors.New("crawler.drain_timeout must be > 0"))
	}
	if c.Crawler.CancelGrace <= 0 {
		errs = append(errs, errors.New("crawler.cancel_grace must be > 0"))
	}
	if c.Politeness.DownloadDelay < 0 {
		errs = append(errs, errors.New("politeness.download_delay must be >= 0"))
	}
	if c.Politeness.ConcurrentRequestsPerDomain <= 0 {
		errs = append(errs, errors.New("politeness.concurrent_requests_per_domain must be > 0"))
	}
	for i, o := range c.Politeness.Overrides {
		if strings.TrimSpace(o.Domain) == "" {
			errs = append(errs, fmt.Errorf("politeness.overrides[%d].domain is required", i))
		}
		if o.DownloadDelay < 0 || o.ConcurrentRequests < 0 {
			errs = append(errs, fmt.Errorf("politeness.overrides[%d] must not be negative", i))
		}
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be > 0"))
	}
	if c.HTTP.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("http.download_timeout must be > 0"))
	}
	if c.HTTP.MaxRetries < 0 {
		errs = append(errs, errors.New("http.max_retries must be >= 0"))
	}
	return errors.Join(errs...)
}

// Attempts is the total number of tries per request, the first included.
func (c HTTPConfig) Attempts() int {
	return c.MaxRetries + 1
}
