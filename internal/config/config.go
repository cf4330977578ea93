package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/amosWeiskopf/tracksmith/internal/models"
)

// Config holds all application configuration
type Config struct {
	// Crawler configuration
	Crawler CrawlerConfig `mapstructure:"crawler"`

	// Download configuration
	Download DownloadConfig `mapstructure:"download"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`

	// Report configuration
	Report ReportConfig `mapstructure:"report"`
}

// CrawlerConfig holds crawler-specific configuration
type CrawlerConfig struct {
	MaxLinkedPages  int                `mapstructure:"max_linked_pages"` // 0 scans the seed page only
	PageTimeout     time.Duration      `mapstructure:"page_timeout"`
	DownloadDelay   time.Duration      `mapstructure:"download_delay"`
	PageDelay       time.Duration      `mapstructure:"page_delay"`
	Concurrency     int                `mapstructure:"concurrency"`
	FollowRobotsTxt bool               `mapstructure:"follow_robots_txt"`
	DedupPolicy     models.DedupPolicy `mapstructure:"dedup_policy"`
	UserAgent       string             `mapstructure:"user_agent"`
}

// DownloadConfig holds settings for resolving and saving media
type DownloadConfig struct {
	OutputDir     string        `mapstructure:"output_dir"`
	Extension     string        `mapstructure:"extension"`
	FallbackName  string        `mapstructure:"fallback_name"`
	MaxNameLength int           `mapstructure:"max_name_length"`
	MinBytes      int64         `mapstructure:"min_bytes"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`
	ChunkSize     int           `mapstructure:"chunk_size"`
	MaxPageBytes  int64         `mapstructure:"max_page_bytes"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // "text", "json" or "logfmt"
	OutputPath string `mapstructure:"output_path"`
}

// ReportConfig holds summary rendering configuration
type ReportConfig struct {
	Format string `mapstructure:"format"` // "text", "markdown" or "json"
}

// flagKeys maps CLI flag names to configuration keys
var flagKeys = map[string]string{
	"output":      "download.output_dir",
	"max-pages":   "crawler.max_linked_pages",
	"concurrency": "crawler.concurrency",
	"robots":      "crawler.follow_robots_txt",
	"dedup":       "crawler.dedup_policy",
	"user-agent":  "crawler.user_agent",
	"extension":   "download.extension",
	"min-bytes":   "download.min_bytes",
	"log-level":   "logging.level",
	"log-format":  "logging.format",
	"format":      "report.format",
}

// Load loads configuration from defaults, an optional YAML file, the
// environment and finally any flags in flags that were set.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigName("tracksmith")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.tracksmith")
	}

	setDefaults(v)
	bindEnvVars(v)
	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error, we'll use defaults and env
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	// defaults always decode
	_ = v.Unmarshal(&config)
	return &config
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Crawler defaults
	v.SetDefault("crawler.max_linked_pages", 100)
	v.SetDefault("crawler.page_timeout", "15s")
	v.SetDefault("crawler.download_delay", "300ms")
	v.SetDefault("crawler.page_delay", "200ms")
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.follow_robots_txt", false)
	v.SetDefault("crawler.dedup_policy", string(models.DedupExact))
	v.SetDefault("crawler.user_agent", "")

	// Download defaults
	v.SetDefault("download.output_dir", "downloads")
	v.SetDefault("download.extension", ".mp3")
	v.SetDefault("download.fallback_name", "audio.mp3")
	v.SetDefault("download.max_name_length", 200)
	v.SetDefault("download.min_bytes", 1000)
	v.SetDefault("download.probe_timeout", "30s")
	v.SetDefault("download.stream_timeout", "120s")
	v.SetDefault("download.chunk_size", 8192)
	v.SetDefault("download.max_page_bytes", 10<<20)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output_path", "stderr")

	v.SetDefault("report.format", "text")
}

// bindEnvVars binds TRACKSMITH_* environment variables, e.g.
// TRACKSMITH_CRAWLER_CONCURRENCY=4
func bindEnvVars(v *viper.Viper) {
	v.SetEnvPrefix("TRACKSMITH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// zero is allowed and turns the linked-page stage off
	if c.Crawler.MaxLinkedPages < 0 {
		return fmt.Errorf("crawler.max_linked_pages must not be negative")
	}
	if c.Crawler.PageTimeout <= 0 {
		return fmt.Errorf("crawler.page_timeout must be positive")
	}
	if c.Crawler.DownloadDelay < 0 || c.Crawler.PageDelay < 0 {
		return fmt.Errorf("crawler delays must not be negative")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be positive")
	}
	switch c.Crawler.DedupPolicy {
	case models.DedupExact, models.DedupIgnoreQuery:
	default:
		return fmt.Errorf("crawler.dedup_policy must be %q or %q, got %q", models.DedupExact, models.DedupIgnoreQuery, c.Crawler.DedupPolicy)
	}

	if strings.TrimSpace(c.Download.OutputDir) == "" {
		return fmt.Errorf("download.output_dir must not be empty")
	}
	if strings.Trim(c.Download.Extension, ". ") == "" {
		return fmt.Errorf("download.extension must not be empty")
	}
	if c.Download.MaxNameLength <= len(c.Download.Extension) {
		return fmt.Errorf("download.max_name_length must be longer than the extension")
	}
	if c.Download.MinBytes <= 0 {
		return fmt.Errorf("download.min_bytes must be positive")
	}
	if c.Download.ProbeTimeout <= 0 || c.Download.StreamTimeout <= 0 {
		return fmt.Errorf("download timeouts must be positive")
	}
	if c.Download.StreamTimeout < c.Download.ProbeTimeout {
		return fmt.Errorf("download.stream_timeout must not be shorter than download.probe_timeout")
	}
	if c.Download.ChunkSize <= 0 {
		return fmt.Errorf("download.chunk_size must be positive")
	}

	switch c.Logging.Format {
	case "text", "json", "logfmt":
	default:
		return fmt.Errorf("logging.format must be text, json or logfmt, got %q", c.Logging.Format)
	}
	switch c.Report.Format {
	case "text", "markdown", "json":
	default:
		return fmt.Errorf("report.format must be text, markdown or json, got %q", c.Report.Format)
	}
	return nil
}
