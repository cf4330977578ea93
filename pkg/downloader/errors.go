package downloader

import (
	"context"
	"errors"
	"fmt"

	"github.com/amosWeiskopf/tracksmith/internal/models"
	"github.com/amosWeiskopf/tracksmith/pkg/fetch"
	"github.com/amosWeiskopf/tracksmith/pkg/markup"
	"github.com/amosWeiskopf/tracksmith/pkg/storage"
)

// NoMediaSourceError means a wrapper page had no usable player source
type NoMediaSourceError struct {
	URL string
}

func (e *NoMediaSourceError) Error() string {
	return fmt.Sprintf("no playable source found on %s", e.URL)
}

// UndersizedError means the saved artifact was too small to be real media
// and has been deleted
type UndersizedError struct {
	Bytes int64
	Min   int64
}

func (e *UndersizedError) Error() string {
	return fmt.Sprintf("file too small: %d bytes (minimum %d)", e.Bytes, e.Min)
}

// Classify maps err to the failure kind reported for it
func Classify(err error) models.FailureKind {
	if err == nil {
		return models.FailureNone
	}

	var (
		noSource   *NoMediaSourceError
		undersized *UndersizedError
		fsErr      *storage.FilesystemError
		parseErr   *markup.ParseError
		fetchErr   *fetch.FetchError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return models.FailureCanceled
	case errors.As(err, &noSource):
		return models.FailureNoMediaSource
	case errors.As(err, &undersized):
		return models.FailureUndersized
	case errors.As(err, &fsErr):
		return models.FailureFilesystem
	case errors.As(err, &parseErr):
		return models.FailureParse
	case errors.As(err, &fetchErr):
		return models.FailureFetch
	default:
		return models.FailureFetch
	}
}
