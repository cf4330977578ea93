package extractor

import (
	"net/url"
	"strings"
)

// DiscoverLinks returns the same-host http(s) links on a page in discovery
// order, without duplicates. Links whose path ends in the media extension
// are kept: such pages are usually player wrappers, not raw files.
func DiscoverLinks(src *Source, seedHost string) []string {
	base, err := url.Parse(src.BaseURL())
	if err != nil {
		return []string{}
	}

	var links []string
	for _, href := range src.Doc.Links() {
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		u := base.ResolveReference(ref)
		if u.Scheme != "http" && u.Scheme != "https" {
			continue
		}
		if !strings.EqualFold(u.Host, seedHost) {
			continue
		}
		u.Fragment = ""
		u.RawFragment = ""
		links = append(links, u.String())
	}
	return uniqueStrings(links)
}

// Cap keeps the first max links in discovery order. A negative max keeps all.
func Cap(links []string, max int) []string {
	if max < 0 || len(links) <= max {
		return links
	}
	return links[:max]
}
