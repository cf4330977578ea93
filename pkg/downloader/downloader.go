package downloader

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/amosWeiskopf/tracksmith/internal/models"
	"github.com/amosWeiskopf/tracksmith/pkg/fetch"
	"github.com/amosWeiskopf/tracksmith/pkg/markup"
	"github.com/amosWeiskopf/tracksmith/pkg/storage"
	"github.com/amosWeiskopf/tracksmith/pkg/utils"
)

const (
	sniffLen       = 512
	htmlMarkerSpan = 100
)

var utf8BOM = []byte("\xef\xbb\xbf")

// Options tunes a Downloader. Zero values fall back to DefaultOptions.
type Options struct {
	Rules         utils.FilenameRules
	MinBytes      int64
	ProbeTimeout  time.Duration // wait for the first response headers
	StreamTimeout time.Duration // whole transfer of a media body
	ChunkSize     int
	MaxPageBytes  int64 // cap on buffered wrapper pages
}

// DefaultOptions returns the stock size and timeout limits
func DefaultOptions() Options {
	return Options{
		Rules:         utils.DefaultFilenameRules(),
		MinBytes:      1000,
		ProbeTimeout:  30 * time.Second,
		StreamTimeout: 120 * time.Second,
		ChunkSize:     8192,
		MaxPageBytes:  10 << 20,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Rules.Extension == "" {
		o.Rules = def.Rules
	}
	if o.MinBytes <= 0 {
		o.MinBytes = def.MinBytes
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = def.ProbeTimeout
	}
	if o.StreamTimeout <= 0 {
		o.StreamTimeout = def.StreamTimeout
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = def.ChunkSize
	}
	if o.MaxPageBytes <= 0 {
		o.MaxPageBytes = def.MaxPageBytes
	}
	return o
}

// Downloader resolves candidate URLs to media streams and saves them
type Downloader struct {
	fetcher fetch.Fetcher
	dir     *storage.Dir
	opts    Options
	logger  *log.Logger
}

// New creates a Downloader writing into dir. A nil logger discards output.
func New(f fetch.Fetcher, dir *storage.Dir, logger *log.Logger, opts Options) *Downloader {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Downloader{
		fetcher: f,
		dir:     dir,
		opts:    opts.withDefaults(),
		logger:  logger,
	}
}

// Download fetches candidate and persists the media behind it. A candidate
// that turns out to be a markup page is treated as a player wrapper and the
// player's source is downloaded instead. Failures are reported in the
// result, never returned.
func (d *Downloader) Download(ctx context.Context, candidate, referer string) models.DownloadResult {
	result := models.DownloadResult{URL: candidate, ResolvedURL: candidate}
	if err := ctx.Err(); err != nil {
		return fail(result, err)
	}

	d.logger.Debug("processing", "name", lastSegment(candidate), "url", candidate)
	resp, err := d.fetcher.Fetch(ctx, fetch.Request{
		URL:             candidate,
		Referer:         referer,
		Accept:          fetch.AcceptMedia,
		Timeout:         d.opts.StreamTimeout,
		ResponseTimeout: d.opts.ProbeTimeout,
	})
	if err != nil {
		return fail(result, err)
	}
	body := bufio.NewReaderSize(resp.Body, sniffLen)
	head, _ := body.Peek(sniffLen)

	if !IsMarkup(resp.ContentType(), head) {
		defer resp.Body.Close()
		return d.persist(result, body, candidate)
	}

	result.Wrapper = true
	d.logger.Debug("candidate is a markup page, looking for the real stream", "url", candidate)
	raw, err := fetch.ReadLimited(body, d.opts.MaxPageBytes)
	resp.Body.Close()
	if err != nil {
		return fail(result, err)
	}
	streamURL, err := d.resolveWrapper(resp.URL, raw)
	if err != nil {
		return fail(result, err)
	}
	result.ResolvedURL = streamURL
	d.logger.Debug("found real stream", "url", streamURL)

	stream, err := d.fetcher.Fetch(ctx, fetch.Request{
		URL:     streamURL,
		Referer: referer,
		Accept:  fetch.AcceptMedia,
		Timeout: d.opts.StreamTimeout,
	})
	if err != nil {
		return fail(result, err)
	}
	defer stream.Body.Close()
	return d.persist(result, stream.Body, streamURL)
}

// resolveWrapper finds the absolute player source on a wrapper page
func (d *Downloader) resolveWrapper(pageURL string, raw []byte) (string, error) {
	doc, err := markup.Parse(pageURL, raw)
	if err != nil {
		return "", err
	}
	src, ok := doc.FirstPlayerSource()
	if !ok {
		return "", &NoMediaSourceError{URL: pageURL}
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", &markup.ParseError{URL: pageURL, Err: err}
	}
	ref, err := url.Parse(src)
	if err != nil {
		return "", &NoMediaSourceError{URL: pageURL}
	}
	return base.ResolveReference(ref).String(), nil
}

// persist streams r into a new file named after mediaURL's path. Partial
// and undersized files are removed.
func (d *Downloader) persist(result models.DownloadResult, r io.Reader, mediaURL string) models.DownloadResult {
	name := d.opts.Rules.Sanitize(urlPath(mediaURL))
	f, saved, err := d.dir.Create(name)
	if err != nil {
		return fail(result, err)
	}
	result.Filename = saved

	w := &fileWriter{f: f, path: saved}
	n, copyErr := io.CopyBuffer(w, struct{ io.Reader }{r}, make([]byte, d.opts.ChunkSize))
	closeErr := f.Close()
	result.Bytes = n

	switch {
	case copyErr != nil:
		err = copyErr
	case closeErr != nil:
		err = &storage.FilesystemError{Op: "close", Path: saved, Err: closeErr}
	case n < d.opts.MinBytes:
		err = &UndersizedError{Bytes: n, Min: d.opts.MinBytes}
	}
	if err != nil {
		if rmErr := d.dir.Remove(saved); rmErr != nil {
			d.logger.Warn("could not remove rejected file", "file", saved, "err", rmErr)
		}
		result.Filename = ""
		return fail(result, err)
	}

	result.Success = true
	return result
}

// IsMarkup is a best-effort classifier: a declared HTML content type, or a
// body that opens with a doctype or carries an <html> tag near the start.
// A media server that mislabels its content is misclassified.
func IsMarkup(contentType string, head []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml") {
		return true
	}
	lower := bytes.ToLower(head)
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(lower, utf8BOM), " \t\r\n")
	if bytes.HasPrefix(trimmed, []byte("<!doctype")) {
		return true
	}
	if len(lower) > htmlMarkerSpan {
		lower = lower[:htmlMarkerSpan]
	}
	return bytes.Contains(lower, []byte("<html"))
}

func fail(result models.DownloadResult, err error) models.DownloadResult {
	result.Success = false
	result.Err = err
	result.Kind = Classify(err)
	return result
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.EscapedPath()
}

func lastSegment(raw string) string {
	p := urlPath(raw)
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// fileWriter hides os.File.ReadFrom so copies go through the fixed-size
// chunk buffer, and tags write failures as filesystem errors.
type fileWriter struct {
	f    io.Writer
	path string
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, &storage.FilesystemError{Op: "write", Path: w.path, Err: err}
	}
	return n, nil
}

// FormatBytes renders n as megabytes the way progress lines show it
func FormatBytes(n int64) string {
	return fmt.Sprintf("%.2f MB", float64(n)/(1024*1024))
}
