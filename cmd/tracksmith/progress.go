package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/briandowns/spinner"

	"github.com/amosWeiskopf/tracksmith/internal/models"
)

// pageSuffix is the spinner text for a page load
func pageSuffix(ev models.PageEvent) string {
	if ev.Stage == models.StageSeedExtract {
		return " scanning " + ev.URL
	}
	return fmt.Sprintf(" [%d/%d] %s", ev.Index, ev.Total, ev.URL)
}

// spinnerWriter stops the spinner around each log line so the two never
// share a terminal line.
type spinnerWriter struct {
	mu sync.Mutex
	s  *spinner.Spinner
	w  io.Writer
}

func (sw *spinnerWriter) Write(p []byte) (int, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.s == nil || !sw.s.Active() {
		return sw.w.Write(p)
	}
	sw.s.Stop()
	defer sw.s.Start()
	return sw.w.Write(p)
}

// consoleOutput returns the stream a logging output_path names, nil for a file
func consoleOutput(outputPath string) io.Writer {
	switch outputPath {
	case "", "stderr":
		return os.Stderr
	case "stdout":
		return os.Stdout
	}
	return nil
}
