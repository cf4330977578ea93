package extractor

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/amosWeiskopf/tracksmith/pkg/fetch"
	"github.com/amosWeiskopf/tracksmith/pkg/markup"
)

// Source is a fetched and parsed page ready for extraction
type Source struct {
	Page *fetch.Page
	Doc  *markup.Document
}

// BaseURL is the URL relative references on the page resolve against
func (s *Source) BaseURL() string {
	if s.Page.FinalURL != "" {
		return s.Page.FinalURL
	}
	return s.Page.URL
}

// Load fetches and parses pageURL. Callers treat any error as "nothing on
// this page".
func Load(ctx context.Context, f fetch.Fetcher, pageURL string, timeout time.Duration, maxBytes int64) (*Source, error) {
	page, err := fetch.GetPage(ctx, f, pageURL, timeout, maxBytes)
	if err != nil {
		return nil, err
	}
	doc, err := markup.Parse(pageURL, page.Raw)
	if err != nil {
		return nil, err
	}
	return &Source{Page: page, Doc: doc}, nil
}

// Extractor finds candidate media URLs on a page
type Extractor struct {
	extension  string
	mediaRegex *regexp.Regexp
}

// New creates an Extractor for files ending in extension (e.g. ".mp3")
func New(extension string) *Extractor {
	ext := strings.ToLower(extension)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &Extractor{
		extension:  ext,
		mediaRegex: regexp.MustCompile(`(?i)https?://[^\s<>"']+` + regexp.QuoteMeta(ext) + `(?:\?[^\s<>"']*)?`),
	}
}

// Extension returns the lower-cased marker the extractor looks for
func (e *Extractor) Extension() string {
	return e.extension
}

// Extract unions three strategies: player elements, anchors and a raw-text
// scan. Player and anchor targets may live on any host. The result keeps
// first-seen order and holds no duplicates.
func (e *Extractor) Extract(src *Source) []string {
	base := src.BaseURL()
	var urls []string
	urls = append(urls, e.FromPlayers(src.Doc, base)...)
	urls = append(urls, e.FromAnchors(src.Doc, base)...)
	urls = append(urls, e.FromText(src.Page.Text)...)
	return uniqueStrings(urls)
}

// FromPlayers returns player and nested source targets carrying the extension
func (e *Extractor) FromPlayers(doc *markup.Document, base string) []string {
	var urls []string
	for _, src := range doc.PlayerSources() {
		if e.hasMarker(src) {
			urls = append(urls, resolveURL(base, src))
		}
	}
	return urls
}

// FromAnchors returns anchor targets carrying the extension
func (e *Extractor) FromAnchors(doc *markup.Document, base string) []string {
	var urls []string
	for _, href := range doc.Links() {
		if e.hasMarker(href) {
			urls = append(urls, resolveURL(base, href))
		}
	}
	return urls
}

// FromText scans unparsed page text for absolute media URLs
func (e *Extractor) FromText(text string) []string {
	var urls []string
	for _, match := range e.mediaRegex.FindAllString(text, -1) {
		match = strings.TrimRight(match, `",;)'`)
		if match != "" {
			urls = append(urls, match)
		}
	}
	return urls
}

func (e *Extractor) hasMarker(ref string) bool {
	return strings.Contains(strings.ToLower(ref), e.extension)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	result := []string{}
	for _, s := range values {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}

func resolveURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
