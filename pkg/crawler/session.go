package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/amosWeiskopf/tracksmith/internal/models"
)

// ErrInvalidSeed is returned by Run for a start URL that cannot be crawled
var ErrInvalidSeed = errors.New("invalid seed URL")

// NewSeedTarget normalizes raw into a crawlable seed. A missing scheme
// defaults to https.
func NewSeedTarget(raw, outputDir string) (models.SeedTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.SeedTarget{}, fmt.Errorf("%w: empty", ErrInvalidSeed)
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return models.SeedTarget{}, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	if u.Host == "" {
		return models.SeedTarget{}, fmt.Errorf("%w: %q has no host", ErrInvalidSeed, raw)
	}
	return models.SeedTarget{
		URL:        raw,
		BaseDomain: u.Scheme + "://" + u.Host,
		Host:       u.Host,
		OutputDir:  outputDir,
	}, nil
}

// DedupKey returns the identity of candidate under policy
func DedupKey(policy models.DedupPolicy, candidate string) string {
	if policy != models.DedupIgnoreQuery {
		return candidate
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return candidate
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// Session is the mutable state of one run: the seen set, counters and the
// current stage. It is safe for concurrent use.
type Session struct {
	mu      sync.Mutex
	policy  models.DedupPolicy
	seen    map[string]struct{}
	summary models.CrawlSummary
}

func newSession(runID string, target models.SeedTarget, policy models.DedupPolicy) *Session {
	return &Session{
		policy: policy,
		seen:   make(map[string]struct{}),
		summary: models.CrawlSummary{
			RunID:     runID,
			SeedURL:   target.URL,
			OutputDir: target.OutputDir,
			Failures:  make(map[models.FailureKind]int),
			Files:     []string{},
			StartedAt: time.Now(),
			Stage:     models.StageInit,
		},
	}
}

// Claim marks candidate as seen and reports whether the caller is the first
// to see it. Only the first caller may download it.
func (s *Session) Claim(candidate string) bool {
	key := DedupKey(s.policy, candidate)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.summary.Found++
	return true
}

// Record folds a download result into the counters
func (s *Session) Record(r models.DownloadResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Success {
		s.summary.Downloaded++
		s.summary.Files = append(s.summary.Files, r.Filename)
		return
	}
	s.summary.Failed++
	s.summary.Failures[r.Kind]++
}

func (s *Session) setStage(stage models.Stage) {
	s.mu.Lock()
	s.summary.Stage = stage
	s.mu.Unlock()
}

func (s *Session) update(fn func(*models.CrawlSummary)) {
	s.mu.Lock()
	fn(&s.summary)
	s.mu.Unlock()
}

// Summary returns a copy of the current counters
func (s *Session) Summary() *models.CrawlSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.summary
	out.Failures = make(map[models.FailureKind]int, len(s.summary.Failures))
	for k, v := range s.summary.Failures {
		out.Failures[k] = v
	}
	out.Files = append([]string{}, s.summary.Files...)
	return &out
}
