package insight

import (
	"fmt"
	"strings"

	"github.com/sprite-ai/repolens/internal/model"
)

// DefaultLimit is how many issues a dashboard shows per review.
const DefaultLimit = 4

// Buckets holds insight cards grouped by display category.
type Buckets map[model.Bucket][]model.InsightItem

// Group classifies the first limit issues and groups them by bucket,
// keeping input order within each bucket. A limit <= 0 shows every issue.
// Buckets with no issues receive a single placeholder card.
func Group(issues []model.Issue, limit int) Buckets {
	if limit > 0 && len(issues) > limit {
		issues = issues[:limit]
	}

	out := make(Buckets, len(model.Buckets))
	for _, issue := range issues {
		b := BucketFor(issue.Type)
		out[b] = append(out[b], ToInsight(issue))
	}

	for _, b := range model.Buckets {
		if len(out[b]) == 0 {
			out[b] = []model.InsightItem{Placeholder(b)}
		}
	}
	return out
}

// Placeholder is the card shown for a bucket with no issues.
func Placeholder(b model.Bucket) model.InsightItem {
	return model.InsightItem{
		Category:    b.Label(),
		Type:        model.SeveritySuccess,
		Title:       "No issues in this category",
		Description: fmt.Sprintf("No %s issues were reported for this review.", strings.ToLower(b.Label())),
		Suggestions: []string{},
	}
}

// Summary counts the classified issues per tier.
type Summary struct {
	Total    int `json:"total"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Info     int `json:"info"`
}

// Summarize counts issues by tier across the full, uncapped list.
func Summarize(issues []model.Issue) Summary {
	s := Summary{Total: len(issues)}
	for _, issue := range issues {
		switch Severity(issue.Severity) {
		case model.SeverityError:
			s.Errors++
		case model.SeverityWarning:
			s.Warnings++
		default:
			s.Info++
		}
	}
	return s
}

// Max returns the most severe tier present, or SeveritySuccess when clean.
func (s Summary) Max() model.UISeverity {
	switch {
	case s.Errors > 0:
		return model.SeverityError
	case s.Warnings > 0:
		return model.SeverityWarning
	case s.Info > 0:
		return model.SeverityInfo
	default:
		return model.SeveritySuccess
	}
}

// String returns a one-line summary.
func (s Summary) String() string {
	if s.Total == 0 {
		return "No issues found"
	}
	var parts []string
	if s.Errors > 0 {
		parts = append(parts, fmt.Sprintf("%d error", s.Errors))
	}
	if s.Warnings > 0 {
		parts = append(parts, fmt.Sprintf("%d warning", s.Warnings))
	}
	if s.Info > 0 {
		parts = append(parts, fmt.Sprintf("%d info", s.Info))
	}
	return strings.Join(parts, ", ")
}

// Dashboard is a review ready for display.
type Dashboard struct {
	Response *model.AnalysisResponse `json:"response"`
	Tiles    []model.ScoreTile       `json:"tiles"`
	Buckets  Buckets                 `json:"buckets"`
	Summary  Summary                 `json:"summary"`
}

// NewDashboard derives the display state for a review response.
func NewDashboard(resp *model.AnalysisResponse, limit int) *Dashboard {
	return &Dashboard{
		Response: resp,
		Tiles:    resp.Tiles(),
		Buckets:  Group(resp.TopIssues, limit),
		Summary:  Summarize(resp.TopIssues),
	}
}
