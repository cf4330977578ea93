package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/net/publicsuffix"
)

const (
	AcceptPage  = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	AcceptMedia = "audio/mpeg, audio/*, text/html, */*"

	DefaultTimeout = 15 * time.Second
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.5 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/115.0",
}

func getRandomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

// Request describes a single GET
type Request struct {
	URL     string
	Referer string        // sent as Referer when set, satisfies hotlink protection
	Accept  string        // defaults to AcceptPage
	Timeout time.Duration // covers the whole exchange including reading Body

	// ResponseTimeout, when set, bounds the wait for response headers so a
	// long Timeout can be used for large bodies without hanging on dead hosts.
	ResponseTimeout time.Duration
}

// Response is a successful (2xx) reply. Body must be closed by the caller.
type Response struct {
	URL        string // final URL after redirects
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ContentType returns the lower-cased declared content type
func (r *Response) ContentType() string {
	return strings.ToLower(r.Header.Get("Content-Type"))
}

// Fetcher retrieves URLs
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// FetchError covers network failures, timeouts and non-2xx replies
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Timeout reports whether the fetch failed because its deadline expired
func (e *FetchError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// Client is the HTTP implementation of Fetcher
type Client struct {
	client    *http.Client
	userAgent string
}

// Option configures a Client
type Option func(*Client)

// WithUserAgent pins the User-Agent header instead of rotating browser agents
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// NewClient creates a Client with a cookie jar and pooled transport
func NewClient(opts ...Option) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
	}

	c := &Client{
		client: &http.Client{Transport: transport, Jar: jar},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Fetch issues a GET with browser-like headers and follows redirects.
// Non-2xx replies are returned as *FetchError.
func (c *Client) Fetch(ctx context.Context, r Request) (*Response, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		cancel()
		return nil, &FetchError{URL: r.URL, Err: err}
	}
	ua := c.userAgent
	if ua == "" {
		ua = getRandomUserAgent()
	}
	accept := r.Accept
	if accept == "" {
		accept = AcceptPage
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Connection", "keep-alive")
	if r.Referer != "" {
		req.Header.Set("Referer", r.Referer)
	}

	var headerTimer *time.Timer
	if r.ResponseTimeout > 0 && r.ResponseTimeout < timeout {
		headerTimer = time.AfterFunc(r.ResponseTimeout, cancel)
	}

	resp, err := c.client.Do(req)
	if headerTimer != nil && !headerTimer.Stop() {
		// the header deadline fired, the context is already gone
		if err == nil {
			resp.Body.Close()
		}
		cancel()
		return nil, &FetchError{URL: r.URL, Err: context.DeadlineExceeded}
	}
	if err != nil {
		cancel()
		return nil, &FetchError{URL: r.URL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, &FetchError{URL: r.URL, StatusCode: resp.StatusCode}
	}

	return &Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &cancelOnClose{ReadCloser: resp.Body, cancel: cancel, url: r.URL},
	}, nil
}

// cancelOnClose releases the request context once the body is done and
// turns read failures into FetchErrors.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
	url    string
}

func (b *cancelOnClose) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && err != io.EOF {
		return n, &FetchError{URL: b.url, Err: err}
	}
	return n, err
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// Page is a fully buffered markup document
type Page struct {
	URL         string // URL that was requested
	FinalURL    string // URL after redirects, used to resolve relative references
	ContentType string
	Raw         []byte
	Text        string // Raw decoded to UTF-8 using the declared or sniffed charset
}

// GetPage fetches url and buffers at most maxBytes of its body
func GetPage(ctx context.Context, f Fetcher, url string, timeout time.Duration, maxBytes int64) (*Page, error) {
	resp, err := f.Fetch(ctx, Request{URL: url, Accept: AcceptPage, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := ReadLimited(resp.Body, maxBytes)
	if err != nil {
		return nil, err
	}
	return &Page{
		URL:         url,
		FinalURL:    resp.URL,
		ContentType: resp.ContentType(),
		Raw:         raw,
		Text:        DecodeText(raw, resp.ContentType()),
	}, nil
}

// ReadLimited reads r up to maxBytes; a non-positive maxBytes means no limit
func ReadLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes > 0 {
		r = io.LimitReader(r, maxBytes)
	}
	return io.ReadAll(r)
}

// DecodeText converts raw to UTF-8, falling back to the bytes as-is
func DecodeText(raw []byte, contentType string) string {
	reader, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return string(raw)
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}
