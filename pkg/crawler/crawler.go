package crawler

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/amosWeiskopf/tracksmith/internal/models"
	"github.com/amosWeiskopf/tracksmith/pkg/downloader"
	"github.com/amosWeiskopf/tracksmith/pkg/extractor"
	"github.com/amosWeiskopf/tracksmith/pkg/fetch"
	"github.com/amosWeiskopf/tracksmith/pkg/storage"
)

// Crawler runs the seed page, one-hop link, download pipeline
type Crawler struct {
	fetcher   fetch.Fetcher
	opts      Options
	logger    *log.Logger
	extractor *extractor.Extractor
	onPage    func(models.PageEvent)
}

// New creates a Crawler. A nil logger discards output.
func New(f fetch.Fetcher, logger *log.Logger, opts Options) *Crawler {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	opts = opts.withDefaults()
	return &Crawler{
		fetcher:   f,
		opts:      opts,
		logger:    logger,
		extractor: extractor.New(opts.Extension),
	}
}

// OnPage registers fn to be called whenever a page load starts
func (c *Crawler) OnPage(fn func(models.PageEvent)) {
	c.onPage = fn
}

// run carries what every stage of a single Run needs
type run struct {
	target    models.SeedTarget
	session   *Session
	dl        *downloader.Downloader
	logger    *log.Logger
	downloads *rate.Limiter
	pages     *rate.Limiter
}

// Run crawls startURL and saves media into outputDir. Per-page and
// per-candidate failures are counted in the summary, never returned. An
// error is returned for an unusable seed, an output directory that cannot
// be created, or a cancelled ctx; in the last case the partial summary is
// returned with it.
func (c *Crawler) Run(ctx context.Context, startURL, outputDir string) (*models.CrawlSummary, error) {
	// Init
	target, err := NewSeedTarget(startURL, outputDir)
	if err != nil {
		return nil, err
	}
	dir, err := storage.Open(outputDir)
	if err != nil {
		return nil, fmt.Errorf("output directory: %w", err)
	}
	target.OutputDir = dir.Path()

	runID := uuid.NewString()
	logger := c.logger.With("run", runID)
	r := &run{
		target:    target,
		session:   newSession(runID, target, c.opts.DedupPolicy),
		dl:        downloader.New(c.fetcher, dir, logger, c.opts.Download),
		logger:    logger,
		downloads: newLimiter(c.opts.DownloadDelay),
		pages:     newLimiter(c.opts.PageDelay),
	}
	logger.Info("starting crawl", "seed", target.URL, "output", target.OutputDir)

	src := c.seedExtract(ctx, r)
	links := c.linkDiscover(r, src)
	c.linkedExtract(ctx, r, links)

	r.session.update(func(s *models.CrawlSummary) {
		s.FinishedAt = time.Now()
		if ctx.Err() == nil {
			s.Stage = models.StageDone
		}
	})
	summary := r.session.Summary()
	logger.Info("crawl finished",
		"found", summary.Found,
		"downloaded", summary.Downloaded,
		"failed", summary.Failed,
		"duration", summary.Duration().Round(time.Millisecond))

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("crawl interrupted: %w", err)
	}
	return summary, nil
}

// seedExtract loads the seed page once and downloads its candidates. The
// loaded page is returned for link discovery, nil when it failed.
func (c *Crawler) seedExtract(ctx context.Context, r *run) *extractor.Source {
	r.session.setStage(models.StageSeedExtract)
	c.emit(models.PageEvent{Stage: models.StageSeedExtract, URL: r.target.URL})

	r.logger.Info("scanning seed page", "url", r.target.URL)
	src, err := extractor.Load(ctx, c.fetcher, r.target.URL, c.opts.PageTimeout, c.opts.MaxPageBytes)
	if err != nil {
		r.logger.Warn("could not load page", "url", r.target.URL, "kind", downloader.Classify(err), "err", err)
		return nil
	}
	c.downloadAll(ctx, r, c.extractor.Extract(src), r.target.URL)
	return src
}

func (c *Crawler) linkDiscover(r *run, src *extractor.Source) []string {
	r.session.setStage(models.StageLinkDiscover)
	if src == nil {
		return nil
	}
	links := extractor.DiscoverLinks(src, r.target.Host)
	capped := extractor.Cap(links, c.opts.MaxLinkedPages)
	r.session.update(func(s *models.CrawlSummary) {
		s.LinkedDiscovered = len(links)
	})
	if c.opts.MaxLinkedPages == 0 && len(links) > 0 {
		r.logger.Info("linked pages disabled, scanning seed page only", "found", len(links))
	} else {
		r.logger.Info("found linked pages", "count", len(links), "checking", len(capped))
	}
	return capped
}

func (c *Crawler) linkedExtract(ctx context.Context, r *run, links []string) {
	r.session.setStage(models.StageLinkedExtract)
	if len(links) == 0 {
		return
	}

	var robots *robotsGate
	if c.opts.FollowRobotsTxt {
		robots = loadRobots(ctx, c.fetcher, r.target.BaseDomain, c.opts.UserAgent)
	}

	for i, link := range links {
		if ctx.Err() != nil {
			return
		}
		if !robots.Allowed(link) {
			r.logger.Info("skipped page (disallowed by robots.txt)", "url", link)
			r.session.update(func(s *models.CrawlSummary) { s.LinkedSkippedRobots++ })
			continue
		}
		if err := r.pages.Wait(ctx); err != nil {
			return
		}

		c.emit(models.PageEvent{Stage: models.StageLinkedExtract, URL: link, Index: i + 1, Total: len(links)})
		r.logger.Info(fmt.Sprintf("[%d/%d] checking page", i+1, len(links)), "url", link)

		src, err := extractor.Load(ctx, c.fetcher, link, c.opts.PageTimeout, c.opts.MaxPageBytes)
		if err != nil {
			r.logger.Warn("could not load page", "url", link, "kind", downloader.Classify(err), "err", err)
		} else {
			c.downloadAll(ctx, r, c.extractor.Extract(src), link)
		}
		r.session.update(func(s *models.CrawlSummary) { s.LinkedProcessed++ })
		pause(ctx, c.opts.PageDelay)
	}
}

// downloadAll downloads every candidate not seen before in this run, with
// at most Concurrency downloads in flight, and waits for all of them.
func (c *Crawler) downloadAll(ctx context.Context, r *run, candidates []string, referer string) {
	if len(candidates) == 0 {
		return
	}
	r.logger.Debug("candidates on page", "url", referer, "count", len(candidates))

	g := new(errgroup.Group)
	g.SetLimit(c.opts.Concurrency)
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}
		if !r.session.Claim(candidate) {
			r.logger.Debug("already seen", "url", candidate)
			continue
		}
		candidate := candidate
		g.Go(func() error {
			r.session.Record(c.downloadOne(ctx, r, candidate, referer))
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Crawler) downloadOne(ctx context.Context, r *run, candidate, referer string) models.DownloadResult {
	if err := r.downloads.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return models.DownloadResult{URL: candidate, Err: err, Kind: downloader.Classify(err)}
	}

	r.logger.Info("downloading", "url", candidate)
	result := r.dl.Download(ctx, candidate, referer)
	if result.Success {
		r.logger.Info("downloaded", "file", result.Filename, "size", downloader.FormatBytes(result.Bytes))
	} else {
		r.logger.Warn("download failed", "url", candidate, "kind", result.Kind, "reason", result.Reason())
	}
	pause(ctx, c.opts.DownloadDelay)
	return result
}

func (c *Crawler) emit(ev models.PageEvent) {
	if c.onPage != nil {
		c.onPage(ev)
	}
}

// pause waits d after a finished request, the limiters only space starts
func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// newLimiter spaces request starts at least every apart; zero means no spacing
func newLimiter(every time.Duration) *rate.Limiter {
	if every <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(every), 1)
}
