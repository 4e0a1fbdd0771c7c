package model

import (
	"encoding/json"
	"testing"
)

func TestUISeverityString(t *testing.T) {
	tests := []struct {
		level UISeverity
		want  string
	}{
		{SeverityInfo, "info"},
		{SeveritySuccess, "success"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{UISeverity(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("UISeverity(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestScoreBand(t *testing.T) {
	tests := []struct {
		score int
		want  UISeverity
	}{
		{100, SeveritySuccess},
		{80, SeveritySuccess},
		{79, SeverityWarning},
		{60, SeverityWarning},
		{59, SeverityError},
		{0, SeverityError},
	}
	for _, tt := range tests {
		if got := ScoreBand(tt.score); got != tt.want {
			t.Errorf("ScoreBand(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestSuggestionAcceptsStringOrObject(t *testing.T) {
	var issue Issue
	raw := `{"line":null,"severity":"minor","type":"style","message":"m",
		"suggestions":["Rename the variable",{"title":"Extract helper","diff_example":"+func x() {}"}]}`
	if err := json.Unmarshal([]byte(raw), &issue); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if issue.Line != nil {
		t.Errorf("expected nil line, got %d", *issue.Line)
	}
	if len(issue.Suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(issue.Suggestions))
	}
	if issue.Suggestions[0].Title != "Rename the variable" {
		t.Errorf("unexpected first suggestion %+v", issue.Suggestions[0])
	}
	if issue.Suggestions[1].DiffExample == "" {
		t.Error("expected diff example on second suggestion")
	}
}

func TestParseProvider(t *testing.T) {
	if p, err := ParseProvider(" GitHub "); err != nil || p != ProviderGitHub {
		t.Errorf("ParseProvider(GitHub) = %q, %v", p, err)
	}
	if _, err := ParseProvider("gitlab"); err == nil {
		t.Error("expected error for gitlab")
	}
}

func TestTiles(t *testing.T) {
	r := AnalysisResponse{
		OverallFileScore: 85,
		Metrics:          Metrics{TestCoverageEstimate: 40, DocumentationScore: 65, Readability: 90},
	}
	tiles := r.Tiles()
	if len(tiles) != 4 {
		t.Fatalf("expected 4 tiles, got %d", len(tiles))
	}
	if tiles[1].Band != SeverityError || tiles[2].Band != SeverityWarning {
		t.Errorf("unexpected bands: %+v", tiles)
	}
}
