// Package insight maps review issues onto severity tiers and display buckets.
package insight

import (
	"fmt"
	"strings"

	"github.com/sprite-ai/repolens/internal/model"
)

// Classification is the display placement of a single issue.
type Classification struct {
	UISeverity model.UISeverity `json:"uiSeverity"`
	Bucket     model.Bucket     `json:"bucket"`
}

// Keyword rules for buckets, checked in order; first match wins.
var bucketRules = []struct {
	bucket   model.Bucket
	keywords []string
}{
	{
		bucket:   model.BucketQuality,
		keywords: []string{"security", "maintainability", "performance", "complexity", "correctness"},
	},
	{
		bucket:   model.BucketDocs,
		keywords: []string{"documentation", "readme", "comment", "doc"},
	},
}

// Classify returns the severity tier and bucket for an issue. It never
// yields SeveritySuccess; that tier is reserved for empty-bucket placeholders.
func Classify(issue model.Issue) Classification {
	return Classification{
		UISeverity: Severity(issue.Severity),
		Bucket:     BucketFor(issue.Type),
	}
}

// Severity maps a backend severity string to a UI tier.
func Severity(s string) model.UISeverity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "major", "critical":
		return model.SeverityError
	case "minor", "warning":
		return model.SeverityWarning
	default:
		return model.SeverityInfo
	}
}

// BucketFor maps a free-text issue type to a display bucket.
func BucketFor(issueType string) model.Bucket {
	t := strings.ToLower(issueType)
	for _, rule := range bucketRules {
		for _, kw := range rule.keywords {
			if strings.Contains(t, kw) {
				return rule.bucket
			}
		}
	}
	return model.BucketStructure
}

// Title renders the card title for an issue.
func Title(issue model.Issue) string {
	return fmt.Sprintf("Line %s – %s", issue.LineLabel(), issue.Type)
}

// ToInsight converts an issue into its display card. Suggestions are passed
// through in backend order.
func ToInsight(issue model.Issue) model.InsightItem {
	item := model.InsightItem{
		Category:    issue.Type,
		Type:        Severity(issue.Severity),
		Title:       Title(issue),
		Description: issue.Message,
		Suggestions: []string{},
		Line:        issue.Line,
	}
	for _, s := range issue.Suggestions {
		item.Suggestions = append(item.Suggestions, s.Title)
		if s.Explanation != "" || s.DiffExample != "" {
			item.Fixes = append(item.Fixes, s)
		}
	}
	return item
}
