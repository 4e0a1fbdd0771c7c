// Package report writes review dashboards as text, JSON, markdown or HTML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sprite-ai/repolens/internal/insight"
	"github.com/sprite-ai/repolens/internal/model"
)

// Format is an output format name.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat validates a format name. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatMarkdown, FormatHTML:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, json, markdown or html)", s)
	}
}

// Write renders d in the given format. now anchors relative timestamps.
func Write(w io.Writer, format Format, d *insight.Dashboard, now time.Time) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, d)
	case FormatMarkdown:
		return writeMarkdown(w, d, now)
	case FormatHTML:
		return writeHTML(w, d, now)
	default:
		return writeText(w, d, now)
	}
}

// ExitCode maps a dashboard to a process exit status: 2 when any issue is
// error tier, 1 for warnings, otherwise 0.
func ExitCode(d *insight.Dashboard) int {
	switch d.Summary.Max() {
	case model.SeverityError:
		return 2
	case model.SeverityWarning:
		return 1
	default:
		return 0
	}
}

// RelativeTime describes t relative to now the way the review table does:
// "just now", "N minutes ago" and so on up to 30 days, then a short date
// that includes the year only when it differs from now's.
func RelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < time.Minute {
		return "just now"
	}
	if m := int(d / time.Minute); m < 60 {
		return plural(m, "minute")
	}
	if h := int(d / time.Hour); h < 24 {
		return plural(h, "hour")
	}
	if days := int(d / (24 * time.Hour)); days < 30 {
		return plural(days, "day")
	}
	if t.Year() != now.Year() {
		return t.Format("Jan 2, 2006")
	}
	return t.Format("Jan 2")
}

func plural(n int, unit string) string {
	if n > 1 {
		unit += "s"
	}
	return fmt.Sprintf("%d %s ago", n, unit)
}

type jsonOutput struct {
	Project   string                      `json:"project"`
	CreatedAt time.Time                   `json:"created_at"`
	Summary   string                      `json:"summary"`
	MaxTier   model.UISeverity            `json:"max_tier"`
	Counts    insight.Summary             `json:"counts"`
	Tiles     []model.ScoreTile           `json:"tiles"`
	Buckets   map[model.Bucket][]jsonItem `json:"buckets"`
}

type jsonItem struct {
	model.InsightItem
	Fixes []jsonFix `json:"fixes,omitempty"`
}

type jsonFix struct {
	Title       string            `json:"title"`
	Explanation string            `json:"explanation,omitempty"`
	Lines       []insight.FixLine `json:"lines,omitempty"`
}

func writeJSON(w io.Writer, d *insight.Dashboard) error {
	out := jsonOutput{
		Project:   d.Response.Project,
		CreatedAt: d.Response.CreatedAt,
		Summary:   d.Summary.String(),
		MaxTier:   d.Summary.Max(),
		Counts:    d.Summary,
		Tiles:     d.Tiles,
		Buckets:   map[model.Bucket][]jsonItem{},
	}
	for _, b := range model.Buckets {
		items := make([]jsonItem, 0, len(d.Buckets[b]))
		for _, it := range d.Buckets[b] {
			ji := jsonItem{InsightItem: it}
			for _, f := range it.Fixes {
				ji.Fixes = append(ji.Fixes, jsonFix{
					Title:       f.Title,
					Explanation: f.Explanation,
					Lines:       insight.RenderFix(f),
				})
			}
			items = append(items, ji)
		}
		out.Buckets[b] = items
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
