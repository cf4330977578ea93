package markup

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// PlayerTag is the element that embeds an audio player
const PlayerTag = "audio"

// ParseError is returned when a body cannot be turned into a document
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Document is a parsed markup page
type Document struct {
	doc *goquery.Document
}

// Parse builds a Document from raw bytes. The parser is permissive, so an
// error here means the input could not be read at all.
func Parse(url string, body []byte) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{URL: url, Err: err}
	}
	return &Document{doc: doc}, nil
}

// Attrs returns the non-empty value of attr for every element named tag,
// in document order.
func (d *Document) Attrs(tag, attr string) []string {
	var values []string
	d.doc.Find(tag).Each(func(_ int, s *goquery.Selection) {
		if v, ok := attrValue(s, attr); ok {
			values = append(values, v)
		}
	})
	return values
}

// PlayerSources returns src of every player element followed by the src of
// its nested source elements, in document order.
func (d *Document) PlayerSources() []string {
	var srcs []string
	d.doc.Find(PlayerTag).Each(func(_ int, player *goquery.Selection) {
		if v, ok := attrValue(player, "src"); ok {
			srcs = append(srcs, v)
		}
		player.Find("source").Each(func(_ int, source *goquery.Selection) {
			if v, ok := attrValue(source, "src"); ok {
				srcs = append(srcs, v)
			}
		})
	})
	return srcs
}

// FirstPlayerSource returns the source of the first player element: its own
// src, else its first nested source src.
func (d *Document) FirstPlayerSource() (string, bool) {
	player := d.doc.Find(PlayerTag).First()
	if player.Length() == 0 {
		return "", false
	}
	if v, ok := attrValue(player, "src"); ok {
		return v, true
	}
	var src string
	player.Find("source").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, ok := attrValue(s, "src")
		if ok {
			src = v
		}
		return !ok
	})
	return src, src != ""
}

// Links returns the href of every anchor, in document order
func (d *Document) Links() []string {
	return d.Attrs("a[href]", "href")
}

func attrValue(s *goquery.Selection, attr string) (string, bool) {
	if s.Length() == 0 {
		return "", false
	}
	v, ok := nodeAttr(s.Get(0), attr)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func nodeAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}
