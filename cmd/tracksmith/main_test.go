package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/briandowns/spinner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amosWeiskopf/tracksmith/internal/models"
)

func TestPrompt(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantURL string
		wantDir string
		wantErr bool
	}{
		{name: "both answered", input: "site.example/album\nmusic\n", wantURL: "site.example/album", wantDir: "music"},
		{name: "default folder", input: "https://site.example\n\n", wantURL: "https://site.example", wantDir: "downloads"},
		{name: "no trailing newline", input: "https://site.example", wantURL: "https://site.example", wantDir: "downloads"},
		{name: "empty url", input: "\nmusic\n", wantErr: true},
		{name: "no input", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			url, dir, err := prompt(strings.NewReader(tt.input), &out, "downloads")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, url)
			assert.Equal(t, tt.wantDir, dir)
			assert.Contains(t, out.String(), "Enter the website URL: ")
			assert.Contains(t, out.String(), "(default: downloads)")
		})
	}
}

func TestPageSuffix(t *testing.T) {
	assert.Equal(t, " scanning https://site.example/album",
		pageSuffix(models.PageEvent{Stage: models.StageSeedExtract, URL: "https://site.example/album"}))
	assert.Equal(t, " [3/10] https://site.example/p3",
		pageSuffix(models.PageEvent{Stage: models.StageLinkedExtract, URL: "https://site.example/p3", Index: 3, Total: 10}))
}

func TestConsoleOutput(t *testing.T) {
	assert.Equal(t, os.Stderr, consoleOutput(""))
	assert.Equal(t, os.Stderr, consoleOutput("stderr"))
	assert.Equal(t, os.Stdout, consoleOutput("stdout"))
	assert.Nil(t, consoleOutput("/var/log/tracksmith.log"))
}

func TestSpinnerWriterPassesLinesThrough(t *testing.T) {
	var buf bytes.Buffer
	var sink bytes.Buffer
	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(&sink))
	w := &spinnerWriter{s: s, w: &buf}

	n, err := w.Write([]byte("INFO downloaded file=a.mp3\n"))
	require.NoError(t, err)
	assert.Equal(t, 27, n)
	assert.Equal(t, "INFO downloaded file=a.mp3\n", buf.String())
	assert.False(t, s.Active())

	w = &spinnerWriter{w: &buf}
	_, err = w.Write([]byte("next\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(buf.String(), "next\n"))
}
