package models

import "time"

// SeedTarget is the immutable starting point of a crawl
type SeedTarget struct {
	URL        string `json:"url"`
	BaseDomain string `json:"base_domain"` // scheme://host of URL
	Host       string `json:"host"`
	OutputDir  string `json:"output_dir"`
}

// Stage identifies where a crawl currently is
type Stage string

const (
	StageInit          Stage = "init"
	StageSeedExtract   Stage = "seed_extract"
	StageLinkDiscover  Stage = "link_discover"
	StageLinkedExtract Stage = "linked_extract"
	StageDone          Stage = "done"
)

// FailureKind classifies why a page or candidate produced nothing
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureFetch         FailureKind = "fetch"
	FailureParse         FailureKind = "parse"
	FailureNoMediaSource FailureKind = "no_media_source"
	FailureUndersized    FailureKind = "undersized"
	FailureFilesystem    FailureKind = "filesystem"
	FailureCanceled      FailureKind = "canceled"
)

// DedupPolicy decides when two candidate URLs count as the same resource
type DedupPolicy string

const (
	DedupExact       DedupPolicy = "exact"
	DedupIgnoreQuery DedupPolicy = "ignore_query"
)

// DownloadResult is produced once per candidate URL
type DownloadResult struct {
	URL         string      `json:"url"`
	ResolvedURL string      `json:"resolved_url,omitempty"`
	Wrapper     bool        `json:"wrapper"`
	Success     bool        `json:"success"`
	Bytes       int64       `json:"bytes"`
	Filename    string      `json:"filename,omitempty"`
	Kind        FailureKind `json:"failure_kind,omitempty"`
	Err         error       `json:"-"`
}

// Reason returns a human readable failure reason, empty on success
func (r DownloadResult) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// PageEvent is emitted when the crawler starts working on a page
type PageEvent struct {
	Stage Stage
	URL   string
	Index int // 1-based position among linked pages, 0 for the seed
	Total int
}

// CrawlSummary contains the aggregate results of one run
type CrawlSummary struct {
	RunID               string              `json:"run_id"`
	SeedURL             string              `json:"seed_url"`
	OutputDir           string              `json:"output_dir"`
	Found               int                 `json:"found"`
	Downloaded          int                 `json:"downloaded"`
	Failed              int                 `json:"failed"`
	Failures            map[FailureKind]int `json:"failures,omitempty"`
	LinkedDiscovered    int                 `json:"linked_discovered"`
	LinkedProcessed     int                 `json:"linked_processed"`
	LinkedSkippedRobots int                 `json:"linked_skipped_robots,omitempty"`
	Files               []string            `json:"files"`
	StartedAt           time.Time           `json:"started_at"`
	FinishedAt          time.Time           `json:"finished_at"`
	Stage               Stage               `json:"stage"`
}

// Duration returns how long the run took
func (s *CrawlSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
