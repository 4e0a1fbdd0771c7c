package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sprite-ai/repolens/internal/model"
)

// FileTier colors a stored file score. A zero score means the backend has
// none and is shown muted.
func FileTier(score int) model.UISeverity {
	if score == 0 {
		return model.SeverityInfo
	}
	return model.ScoreBand(score)
}

// WriteFiles renders the table of files with stored reviews.
func WriteFiles(w io.Writer, format Format, files []model.ReviewedFile, now time.Time) error {
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if files == nil {
			files = []model.ReviewedFile{}
		}
		return enc.Encode(files)
	}

	if len(files) == 0 {
		_, err := fmt.Fprintln(w, "No reviews found for this branch.")
		return err
	}

	if format == FormatMarkdown {
		fmt.Fprintln(w, "| File | Score | Critical | Major | Summary | Last Reviewed |")
		fmt.Fprintln(w, "|------|-------|----------|-------|---------|---------------|")
		for _, f := range files {
			fmt.Fprintf(w, "| `%s` | %d | %d | %d | %s | %s |\n",
				f.Filename, f.FileScore, f.CriticalIssues, f.MajorIssues, mdEscape(f.Summary), lastReviewed(f, now))
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSCORE\tCRITICAL\tMAJOR\tLAST REVIEWED")
	for _, f := range files {
		score := tierColor(FileTier(f.FileScore)).Sprintf("%d", f.FileScore)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", f.Filename, score, f.CriticalIssues, f.MajorIssues, lastReviewed(f, now))
	}
	return tw.Flush()
}

func lastReviewed(f model.ReviewedFile, now time.Time) string {
	if f.LastReviewedAt == nil {
		return "-"
	}
	return RelativeTime(*f.LastReviewedAt, now)
}
