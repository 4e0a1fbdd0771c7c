// Package model defines the core data types shared across repolens.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UISeverity is the UI-facing urgency tier of an insight.
type UISeverity int

const (
	SeverityInfo UISeverity = iota
	SeveritySuccess
	SeverityWarning
	SeverityError
)

func (s UISeverity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeveritySuccess:
		return "success"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the tier by name.
func (s UISeverity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a tier name.
func (s *UISeverity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "info":
		*s = SeverityInfo
	case "success":
		*s = SeveritySuccess
	case "warning":
		*s = SeverityWarning
	case "error":
		*s = SeverityError
	default:
		return fmt.Errorf("unknown severity tier %q", b)
	}
	return nil
}

// Bucket is one of the three display categories an issue is grouped into.
type Bucket string

const (
	BucketStructure Bucket = "structure"
	BucketQuality   Bucket = "quality"
	BucketDocs      Bucket = "docs"
)

// Buckets lists the display categories in tab order.
var Buckets = []Bucket{BucketStructure, BucketQuality, BucketDocs}

// Label returns the tab title for the bucket.
func (b Bucket) Label() string {
	switch b {
	case BucketQuality:
		return "Quality"
	case BucketDocs:
		return "Documentation"
	default:
		return "Structure"
	}
}

// Provider identifies a git hosting service.
type Provider string

const (
	ProviderGitHub    Provider = "github"
	ProviderBitbucket Provider = "bitbucket"
)

// ParseProvider validates a provider name.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderGitHub, ProviderBitbucket:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported provider %q", s)
	}
}

// Session is the authenticated context passed to every call that reaches
// a git host or the review backend.
type Session struct {
	Provider    Provider `json:"provider"`
	AccessToken string   `json:"-"`
	User        string   `json:"user,omitempty"`
}

// Authenticated reports whether the session carries a token.
func (s Session) Authenticated() bool {
	return s.AccessToken != "" && s.Provider != ""
}

// EntryType is the git object type of a listing entry.
type EntryType string

const (
	EntryBlob EntryType = "blob"
	EntryTree EntryType = "tree"
)

// FileEntry is one row of a recursive branch listing.
type FileEntry struct {
	Path string    `json:"path"`
	Type EntryType `json:"type"`
	SHA  string    `json:"sha"`
	Size *int64    `json:"size,omitempty"`
}

// NodeType distinguishes tree leaves from folders.
type NodeType string

const (
	NodeFile   NodeType = "file"
	NodeFolder NodeType = "folder"
)

// TreeNode is a node in the display tree built from a flat path listing.
type TreeNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Type     NodeType   `json:"type"`
	Children []TreeNode `json:"children,omitempty"`
}

// IsFolder reports whether the node is a folder.
func (n TreeNode) IsFolder() bool {
	return n.Type == NodeFolder
}

// Repo is a repository visible to the signed-in user.
type Repo struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Description   string `json:"description,omitempty"`
	Language      string `json:"language,omitempty"`
	Stars         int    `json:"stars"`
	Forks         int    `json:"forks"`
	DefaultBranch string `json:"default_branch"`
}

// Suggestion is a backend-provided fix proposal for an issue.
type Suggestion struct {
	Title       string `json:"title"`
	Explanation string `json:"explanation,omitempty"`
	DiffExample string `json:"diff_example,omitempty"`
}

// UnmarshalJSON accepts either a bare string or an object.
func (s *Suggestion) UnmarshalJSON(b []byte) error {
	var text string
	if err := json.Unmarshal(b, &text); err == nil {
		*s = Suggestion{Title: text}
		return nil
	}
	type plain Suggestion
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = Suggestion(p)
	return nil
}

// Issue is a single finding returned by the review backend.
type Issue struct {
	Line        *int         `json:"line"`
	Severity    string       `json:"severity"`
	Type        string       `json:"type"`
	Message     string       `json:"message"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
}

// LineLabel renders the issue line or "N/A".
func (i Issue) LineLabel() string {
	if i.Line == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d", *i.Line)
}

// InsightItem is the card rendered for an issue.
type InsightItem struct {
	Category    string       `json:"category"`
	Type        UISeverity   `json:"type"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Suggestions []string     `json:"suggestions"`
	Fixes       []Suggestion `json:"fixes,omitempty"`
	Line        *int         `json:"line,omitempty"`
}

// Metrics are the per-review health scores, each 0-100.
type Metrics struct {
	TestCoverageEstimate int `json:"testCoverageEstimate"`
	DocumentationScore   int `json:"documentationScore"`
	Readability          int `json:"readability"`
}

// AnalysisResponse is the normalized review shown in the dashboard.
type AnalysisResponse struct {
	Project          string    `json:"project"`
	CreatedAt        time.Time `json:"createdAt"`
	OverallFileScore int       `json:"overallFileScore"`
	Metrics          Metrics   `json:"metrics"`
	TopIssues        []Issue   `json:"topIssues"`
}

// ScoreTile is one labelled health score.
type ScoreTile struct {
	Label string     `json:"label"`
	Score int        `json:"score"`
	Band  UISeverity `json:"band"`
}

// Tiles returns the four dashboard score tiles in display order.
func (r *AnalysisResponse) Tiles() []ScoreTile {
	tiles := []ScoreTile{
		{Label: "Overall Health", Score: r.OverallFileScore},
		{Label: "Code Coverage", Score: r.Metrics.TestCoverageEstimate},
		{Label: "Documentation", Score: r.Metrics.DocumentationScore},
		{Label: "Readability", Score: r.Metrics.Readability},
	}
	for i := range tiles {
		tiles[i].Band = ScoreBand(tiles[i].Score)
	}
	return tiles
}

// ScoreBand maps a 0-100 score to a display tier.
func ScoreBand(score int) UISeverity {
	switch {
	case score >= 80:
		return SeveritySuccess
	case score >= 60:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// ReviewedFile is a row of the last-review table.
type ReviewedFile struct {
	Filename       string     `json:"filename"`
	Language       string     `json:"language"`
	FileScore      int        `json:"fileScore"`
	TotalIssues    int        `json:"totalIssues"`
	CriticalIssues int        `json:"criticalIssues"`
	MajorIssues    int        `json:"majorIssues"`
	Summary        string     `json:"summary"`
	LastReviewedAt *time.Time `json:"lastReviewedAt,omitempty"`
}
