package crawler

import (
	"time"

	"github.com/amosWeiskopf/tracksmith/internal/config"
	"github.com/amosWeiskopf/tracksmith/internal/models"
	"github.com/amosWeiskopf/tracksmith/pkg/downloader"
	"github.com/amosWeiskopf/tracksmith/pkg/utils"
)

// Options contains configuration for the crawler
type Options struct {
	MaxLinkedPages  int                // Linked pages visited after the seed; 0 visits none, negative means no cap
	PageTimeout     time.Duration      // Timeout for loading a page
	DownloadDelay   time.Duration      // Pause after each download finishes
	PageDelay       time.Duration      // Pause after each linked page
	Concurrency     int                // Downloads in flight per page
	FollowRobotsTxt bool               // Skip linked pages robots.txt disallows
	DedupPolicy     models.DedupPolicy // When two candidates are the same resource
	UserAgent       string             // Agent for robots.txt matching, empty means "tracksmith"
	Extension       string             // Media extension to look for
	MaxPageBytes    int64              // Cap on buffered page bodies
	Download        downloader.Options
}

// DefaultOptions runs one download at a time with polite delays
func DefaultOptions() Options {
	return Options{
		MaxLinkedPages: 100,
		PageTimeout:    15 * time.Second,
		DownloadDelay:  300 * time.Millisecond,
		PageDelay:      200 * time.Millisecond,
		Concurrency:    1,
		DedupPolicy:    models.DedupExact,
		Extension:      utils.DefaultExtension,
		MaxPageBytes:   10 << 20,
		Download:       downloader.DefaultOptions(),
	}
}

// OptionsFromConfig maps loaded configuration onto crawler options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxLinkedPages:  cfg.Crawler.MaxLinkedPages,
		PageTimeout:     cfg.Crawler.PageTimeout,
		DownloadDelay:   cfg.Crawler.DownloadDelay,
		PageDelay:       cfg.Crawler.PageDelay,
		Concurrency:     cfg.Crawler.Concurrency,
		FollowRobotsTxt: cfg.Crawler.FollowRobotsTxt,
		DedupPolicy:     cfg.Crawler.DedupPolicy,
		UserAgent:       cfg.Crawler.UserAgent,
		Extension:       cfg.Download.Extension,
		MaxPageBytes:    cfg.Download.MaxPageBytes,
		Download: downloader.Options{
			Rules: utils.FilenameRules{
				Extension: cfg.Download.Extension,
				Fallback:  cfg.Download.FallbackName,
				MaxLength: cfg.Download.MaxNameLength,
			},
			MinBytes:      cfg.Download.MinBytes,
			ProbeTimeout:  cfg.Download.ProbeTimeout,
			StreamTimeout: cfg.Download.StreamTimeout,
			ChunkSize:     cfg.Download.ChunkSize,
			MaxPageBytes:  cfg.Download.MaxPageBytes,
		},
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.PageTimeout <= 0 {
		o.PageTimeout = def.PageTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.DedupPolicy == "" {
		o.DedupPolicy = def.DedupPolicy
	}
	if o.Extension == "" {
		o.Extension = def.Extension
	}
	if o.MaxPageBytes <= 0 {
		o.MaxPageBytes = def.MaxPageBytes
	}
	if o.Download.Rules.Extension == "" {
		o.Download.Rules = utils.FilenameRules{Extension: o.Extension}
	}
	return o
}
