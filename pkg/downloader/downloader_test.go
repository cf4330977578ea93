package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amosWeiskopf/tracksmith/internal/models"
	"github.com/amosWeiskopf/tracksmith/pkg/fetch"
	"github.com/amosWeiskopf/tracksmith/pkg/markup"
	"github.com/amosWeiskopf/tracksmith/pkg/storage"
)

var audioBytes = bytes.Repeat([]byte{0xFF, 0xFB, 0x90, 0x64}, 1024)

type referers struct {
	mu   sync.Mutex
	seen map[string]string
}

func (r *referers) record(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[req.URL.Path] = req.Referer()
}

func (r *referers) get(path string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[path]
}

func newTestServer(t *testing.T) (*httptest.Server, *referers) {
	t.Helper()
	refs := &referers{seen: make(map[string]string)}
	mux := http.NewServeMux()
	mux.HandleFunc("/direct/track1.mp3", func(w http.ResponseWriter, r *http.Request) {
		refs.record(r)
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(audioBytes)
	})
	mux.HandleFunc("/wrapper/song.mp3", func(w http.ResponseWriter, r *http.Request) {
		refs.record(r)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><audio controls src="/real/t2-real.mp3"></audio></body></html>`))
	})
	mux.HandleFunc("/wrapper/mislabeled.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("\n<!DOCTYPE html><html><audio><source src=\"../real/t2-real.mp3\"></audio></html>"))
	})
	mux.HandleFunc("/wrapper/empty.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><p>gone</p></body></html>`))
	})
	mux.HandleFunc("/real/t2-real.mp3", func(w http.ResponseWriter, r *http.Request) {
		refs.record(r)
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(audioBytes)
	})
	mux.HandleFunc("/tiny.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3"))
	})
	mux.HandleFunc("/truncated.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Content-Length", strconv.Itoa(len(audioBytes)*4))
		w.Write(audioBytes)
	})
	mux.HandleFunc("/a/same.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Write(audioBytes)
	})
	mux.HandleFunc("/b/same.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Write(audioBytes)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, refs
}

func newDownloader(t *testing.T, opts Options) (*Downloader, *storage.Dir) {
	t.Helper()
	dir, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	client, err := fetch.NewClient()
	require.NoError(t, err)
	return New(client, dir, nil, opts), dir
}

func listDir(t *testing.T, dir *storage.Dir) []string {
	t.Helper()
	entries, err := os.ReadDir(dir.Path())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestDownloadDirectStream(t *testing.T) {
	server, refs := newTestServer(t)
	d, dir := newDownloader(t, Options{})

	res := d.Download(context.Background(), server.URL+"/direct/track1.mp3", "https://site.example/album")

	require.True(t, res.Success, res.Reason())
	assert.False(t, res.Wrapper)
	assert.Equal(t, "track1.mp3", res.Filename)
	assert.Equal(t, int64(len(audioBytes)), res.Bytes)
	assert.Equal(t, "https://site.example/album", refs.get("/direct/track1.mp3"))

	saved, err := os.ReadFile(filepath.Join(dir.Path(), "track1.mp3"))
	require.NoError(t, err)
	assert.Equal(t, audioBytes, saved)
}

func TestDownloadResolvesWrapper(t *testing.T) {
	server, refs := newTestServer(t)
	d, dir := newDownloader(t, Options{})

	res := d.Download(context.Background(), server.URL+"/wrapper/song.mp3", server.URL+"/album")

	require.True(t, res.Success, res.Reason())
	assert.True(t, res.Wrapper)
	assert.Equal(t, server.URL+"/real/t2-real.mp3", res.ResolvedURL)
	assert.Equal(t, "t2-real.mp3", res.Filename)
	assert.Equal(t, []string{"t2-real.mp3"}, listDir(t, dir))
	assert.Equal(t, server.URL+"/album", refs.get("/real/t2-real.mp3"))
}

func TestDownloadSniffsMislabeledMarkup(t *testing.T) {
	server, _ := newTestServer(t)
	d, dir := newDownloader(t, Options{})

	res := d.Download(context.Background(), server.URL+"/wrapper/mislabeled.mp3", "")

	require.True(t, res.Success, res.Reason())
	assert.True(t, res.Wrapper)
	assert.Equal(t, []string{"t2-real.mp3"}, listDir(t, dir))
}

func TestDownloadWrapperWithoutSource(t *testing.T) {
	server, _ := newTestServer(t)
	d, dir := newDownloader(t, Options{})

	res := d.Download(context.Background(), server.URL+"/wrapper/empty.mp3", "")

	assert.False(t, res.Success)
	assert.Equal(t, models.FailureNoMediaSource, res.Kind)
	assert.Contains(t, res.Reason(), "no playable source found")
	assert.Empty(t, listDir(t, dir))
}

func TestDownloadRejectsUndersized(t *testing.T) {
	server, _ := newTestServer(t)
	d, dir := newDownloader(t, Options{})

	res := d.Download(context.Background(), server.URL+"/tiny.mp3", "")

	assert.False(t, res.Success)
	assert.Equal(t, models.FailureUndersized, res.Kind)
	assert.Equal(t, int64(3), res.Bytes)
	assert.Empty(t, listDir(t, dir))
}

func TestDownloadRemovesPartialFile(t *testing.T) {
	server, _ := newTestServer(t)
	d, dir := newDownloader(t, Options{})

	res := d.Download(context.Background(), server.URL+"/truncated.mp3", "")

	assert.False(t, res.Success)
	assert.Equal(t, models.FailureFetch, res.Kind)
	assert.Empty(t, listDir(t, dir))
}

func TestDownloadNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	d, dir := newDownloader(t, Options{})

	res := d.Download(context.Background(), server.URL+"/nope.mp3", "")

	assert.False(t, res.Success)
	assert.Equal(t, models.FailureFetch, res.Kind)
	assert.Contains(t, res.Reason(), "404")
	assert.Empty(t, listDir(t, dir))
}

func TestDownloadCollisionKeepsBothFiles(t *testing.T) {
	server, _ := newTestServer(t)
	d, dir := newDownloader(t, Options{})

	first := d.Download(context.Background(), server.URL+"/a/same.mp3", "")
	second := d.Download(context.Background(), server.URL+"/b/same.mp3", "")

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, "same.mp3", first.Filename)
	assert.Equal(t, "same_1.mp3", second.Filename)
	assert.ElementsMatch(t, []string{"same.mp3", "same_1.mp3"}, listDir(t, dir))
}

func TestDownloadConcurrentCollisions(t *testing.T) {
	server, _ := newTestServer(t)
	d, dir := newDownloader(t, Options{})

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := "/a/same.mp3"
			if i%2 == 1 {
				path = "/b/same.mp3"
			}
			res := d.Download(context.Background(), fmt.Sprintf("%s%s?i=%d", server.URL, path, i), "")
			assert.True(t, res.Success, res.Reason())
		}(i)
	}
	wg.Wait()

	assert.Len(t, listDir(t, dir), n)
}

func TestDownloadProbeTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	d, dir := newDownloader(t, Options{ProbeTimeout: 50 * time.Millisecond, StreamTimeout: 5 * time.Second})
	res := d.Download(context.Background(), server.URL+"/slow.mp3", "")

	assert.False(t, res.Success)
	assert.Equal(t, models.FailureFetch, res.Kind)
	var fe *fetch.FetchError
	require.ErrorAs(t, res.Err, &fe)
	assert.True(t, fe.Timeout())
	assert.Empty(t, listDir(t, dir))
}

func TestDownloadCanceled(t *testing.T) {
	d, _ := newDownloader(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := d.Download(ctx, "http://127.0.0.1:1/x.mp3", "")
	assert.Equal(t, models.FailureCanceled, res.Kind)
}

func TestIsMarkup(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		head        string
		want        bool
	}{
		{name: "declared html", contentType: "text/html; charset=utf-8", head: "ID3", want: true},
		{name: "declared xhtml", contentType: "application/xhtml+xml", want: true},
		{name: "doctype", contentType: "audio/mpeg", head: "  <!DOCTYPE html><html>", want: true},
		{name: "bom doctype", head: "\xef\xbb\xbf<!doctype html>", want: true},
		{name: "html tag near start", contentType: "application/octet-stream", head: "<?xml version=\"1.0\"?>\n<HTML>", want: true},
		{name: "html tag too late", head: string(bytes.Repeat([]byte{'x'}, 120)) + "<html>", want: false},
		{name: "mp3 frame", contentType: "audio/mpeg", head: "ID3\x04\x00\x00", want: false},
		{name: "mislabeled media", contentType: "text/html", head: "ID3", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsMarkup(tt.contentType, []byte(tt.head)))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.FailureKind
	}{
		{name: "nil", err: nil, want: models.FailureNone},
		{name: "fetch", err: &fetch.FetchError{URL: "u", StatusCode: 500}, want: models.FailureFetch},
		{name: "parse", err: &markup.ParseError{URL: "u", Err: errors.New("bad")}, want: models.FailureParse},
		{name: "no source", err: &NoMediaSourceError{URL: "u"}, want: models.FailureNoMediaSource},
		{name: "undersized", err: &UndersizedError{Bytes: 1, Min: 1000}, want: models.FailureUndersized},
		{name: "filesystem", err: fmt.Errorf("saving: %w", &storage.FilesystemError{Op: "create", Path: "p", Err: os.ErrPermission}), want: models.FailureFilesystem},
		{name: "canceled", err: &fetch.FetchError{URL: "u", Err: context.Canceled}, want: models.FailureCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
