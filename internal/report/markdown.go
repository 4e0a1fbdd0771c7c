package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sprite-ai/repolens/internal/insight"
	"github.com/sprite-ai/repolens/internal/model"
)

func writeMarkdown(w io.Writer, d *insight.Dashboard, now time.Time) error {
	var b strings.Builder

	fmt.Fprintf(&b, "## Review: %s\n\n", d.Response.Project)
	fmt.Fprintf(&b, "_Reviewed %s_ | **Issues:** %s\n\n", RelativeTime(d.Response.CreatedAt, now), d.Summary)

	b.WriteString("| Metric | Score |\n")
	b.WriteString("|--------|-------|\n")
	for _, t := range d.Tiles {
		fmt.Fprintf(&b, "| %s | %d |\n", t.Label, t.Score)
	}

	for _, bucket := range model.Buckets {
		fmt.Fprintf(&b, "\n### %s\n\n", bucket.Label())
		for _, it := range d.Buckets[bucket] {
			fmt.Fprintf(&b, "- **%s** `%s` %s\n", it.Type, it.Title, mdEscape(it.Description))
			for _, s := range it.Suggestions {
				fmt.Fprintf(&b, "  - %s\n", mdEscape(s))
			}
			for _, f := range it.Fixes {
				if f.DiffExample == "" {
					continue
				}
				b.WriteString("\n  ```diff\n")
				for _, l := range insight.RenderFix(f) {
					fmt.Fprintf(&b, "  %s%s\n", fixPrefix(l.Op), l.Text)
				}
				b.WriteString("  ```\n")
			}
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func fixPrefix(op insight.FixOp) string {
	switch op {
	case insight.FixAdd:
		return "+"
	case insight.FixDelete:
		return "-"
	default:
		return " "
	}
}

func mdEscape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
