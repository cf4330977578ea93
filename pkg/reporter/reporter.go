package reporter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"text/template"
	"time"

	"github.com/amosWeiskopf/tracksmith/internal/models"
)

// Reporter renders crawl summaries in various formats
type Reporter struct {
	text *template.Template
}

// New creates a new Reporter instance
func New() *Reporter {
	return &Reporter{
		text: template.Must(template.New("summary").Funcs(template.FuncMap{
			"failures": sortedFailures,
			"duration": roundDuration,
		}).Parse(textTemplate)),
	}
}

// Generate renders summary as "text", "markdown" or "json"
func (r *Reporter) Generate(summary *models.CrawlSummary, format string) (string, error) {
	if summary == nil {
		return "", fmt.Errorf("no summary to report")
	}

	switch format {
	case "", "text":
		return r.generateText(summary)
	case "json":
		return r.generateJSON(summary)
	case "markdown":
		return r.generateMarkdown(summary)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// generateJSON creates a JSON formatted report
func (r *Reporter) generateJSON(summary *models.CrawlSummary) (string, error) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	return string(data) + "\n", nil
}

const textTemplate = `
Crawl complete ({{.Stage}})
  Found {{.Found}} unique audio URLs
  Downloaded {{.Downloaded}} files to: {{.OutputDir}}
{{- if .Failed}}
  Failed {{.Failed}}:{{range failures .Failures}} {{.Kind}}={{.Count}}{{end}}
{{- end}}
  Linked pages: {{.LinkedProcessed}} checked of {{.LinkedDiscovered}} found
{{- if .LinkedSkippedRobots}}, {{.LinkedSkippedRobots}} skipped by robots.txt{{end}}
  Took {{duration .}}
`

// generateText creates the plain summary printed at the end of a run
func (r *Reporter) generateText(summary *models.CrawlSummary) (string, error) {
	var buf bytes.Buffer
	if err := r.text.Execute(&buf, summary); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// generateMarkdown creates a Markdown formatted report
func (r *Reporter) generateMarkdown(summary *models.CrawlSummary) (string, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Crawl Report for %s\n\n", summary.SeedURL)
	fmt.Fprintf(&buf, "*Run %s, started %s*\n\n", summary.RunID, summary.StartedAt.Format(time.RFC1123))

	fmt.Fprintf(&buf, "## Totals\n\n")
	fmt.Fprintf(&buf, "| Metric | Count |\n")
	fmt.Fprintf(&buf, "|--------|-------|\n")
	fmt.Fprintf(&buf, "| Unique audio URLs | %d |\n", summary.Found)
	fmt.Fprintf(&buf, "| Downloaded | %d |\n", summary.Downloaded)
	fmt.Fprintf(&buf, "| Failed | %d |\n", summary.Failed)
	fmt.Fprintf(&buf, "| Linked pages found | %d |\n", summary.LinkedDiscovered)
	fmt.Fprintf(&buf, "| Linked pages checked | %d |\n", summary.LinkedProcessed)
	if summary.LinkedSkippedRobots > 0 {
		fmt.Fprintf(&buf, "| Skipped by robots.txt | %d |\n", summary.LinkedSkippedRobots)
	}
	fmt.Fprintf(&buf, "\n")

	if summary.Failed > 0 {
		fmt.Fprintf(&buf, "## Failures\n\n")
		for _, f := range sortedFailures(summary.Failures) {
			fmt.Fprintf(&buf, "- **%s:** %d\n", f.Kind, f.Count)
		}
		fmt.Fprintf(&buf, "\n")
	}

	fmt.Fprintf(&buf, "## Files\n\n")
	fmt.Fprintf(&buf, "Saved to `%s`\n\n", summary.OutputDir)
	for _, name := range summary.Files {
		fmt.Fprintf(&buf, "- %s\n", name)
	}
	if len(summary.Files) == 0 {
		fmt.Fprintf(&buf, "No files were downloaded.\n")
	}

	return buf.String(), nil
}

type failureCount struct {
	Kind  models.FailureKind
	Count int
}

func sortedFailures(m map[models.FailureKind]int) []failureCount {
	out := make([]failureCount, 0, len(m))
	for kind, n := range m {
		out = append(out, failureCount{Kind: kind, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Count > out[j].Count
	})
	return out
}

func roundDuration(s *models.CrawlSummary) time.Duration {
	return s.Duration().Round(10 * time.Millisecond)
}
