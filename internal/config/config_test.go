package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amosWeiskopf/tracksmith/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Crawler.MaxLinkedPages)
	assert.Equal(t, 15*time.Second, cfg.Crawler.PageTimeout)
	assert.Equal(t, 300*time.Millisecond, cfg.Crawler.DownloadDelay)
	assert.Equal(t, 200*time.Millisecond, cfg.Crawler.PageDelay)
	assert.Equal(t, 1, cfg.Crawler.Concurrency)
	assert.False(t, cfg.Crawler.FollowRobotsTxt)
	assert.Equal(t, models.DedupExact, cfg.Crawler.DedupPolicy)

	assert.Equal(t, "downloads", cfg.Download.OutputDir)
	assert.Equal(t, ".mp3", cfg.Download.Extension)
	assert.Equal(t, "audio.mp3", cfg.Download.FallbackName)
	assert.Equal(t, 200, cfg.Download.MaxNameLength)
	assert.Equal(t, int64(1000), cfg.Download.MinBytes)
	assert.Equal(t, 30*time.Second, cfg.Download.ProbeTimeout)
	assert.Equal(t, 120*time.Second, cfg.Download.StreamTimeout)
	assert.Equal(t, 8192, cfg.Download.ChunkSize)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Report.Format)

	assert.Equal(t, cfg, Default())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
crawler:
  max_linked_pages: 10
  download_delay: 1s
  dedup_policy: ignore_query
download:
  output_dir: podcasts
  extension: .ogg
report:
  format: json
`), 0644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Crawler.MaxLinkedPages)
	assert.Equal(t, time.Second, cfg.Crawler.DownloadDelay)
	assert.Equal(t, models.DedupIgnoreQuery, cfg.Crawler.DedupPolicy)
	assert.Equal(t, "podcasts", cfg.Download.OutputDir)
	assert.Equal(t, ".ogg", cfg.Download.Extension)
	assert.Equal(t, "json", cfg.Report.Format)
	assert.Equal(t, 200*time.Millisecond, cfg.Crawler.PageDelay, "unset keys keep defaults")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TRACKSMITH_CRAWLER_CONCURRENCY", "4")
	t.Setenv("TRACKSMITH_DOWNLOAD_OUTPUT_DIR", "from-env")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Crawler.Concurrency)
	assert.Equal(t, "from-env", cfg.Download.OutputDir)
}

func TestLoadFlagsWinOverEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TRACKSMITH_CRAWLER_CONCURRENCY", "4")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("concurrency", 1, "")
	fs.Int("max-pages", 100, "")
	fs.Bool("robots", false, "")
	require.NoError(t, fs.Parse([]string{"--concurrency=8", "--robots"}))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Crawler.Concurrency)
	assert.True(t, cfg.Crawler.FollowRobotsTxt)
	assert.Equal(t, 100, cfg.Crawler.MaxLinkedPages)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero concurrency", mutate: func(c *Config) { c.Crawler.Concurrency = 0 }},
		{name: "negative cap", mutate: func(c *Config) { c.Crawler.MaxLinkedPages = -1 }},
		{name: "unknown dedup", mutate: func(c *Config) { c.Crawler.DedupPolicy = "content" }},
		{name: "empty output", mutate: func(c *Config) { c.Download.OutputDir = " " }},
		{name: "empty extension", mutate: func(c *Config) { c.Download.Extension = "." }},
		{name: "stream shorter than probe", mutate: func(c *Config) { c.Download.StreamTimeout = time.Second }},
		{name: "zero min bytes", mutate: func(c *Config) { c.Download.MinBytes = 0 }},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }},
		{name: "bad report format", mutate: func(c *Config) { c.Report.Format = "html" }},
	}

	assert.NoError(t, Default().Validate())

	seedOnly := Default()
	seedOnly.Crawler.MaxLinkedPages = 0
	assert.NoError(t, seedOnly.Validate(), "zero disables linked pages")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
