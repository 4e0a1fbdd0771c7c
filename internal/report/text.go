package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/sprite-ai/repolens/internal/insight"
	"github.com/sprite-ai/repolens/internal/model"
)

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	successColor = color.New(color.FgGreen)
	headerColor  = color.New(color.FgMagenta, color.Bold)
	dimColor     = color.New(color.Faint)
)

func tierColor(s model.UISeverity) *color.Color {
	switch s {
	case model.SeverityError:
		return errorColor
	case model.SeverityWarning:
		return warningColor
	case model.SeveritySuccess:
		return successColor
	default:
		return infoColor
	}
}

func tierIcon(s model.UISeverity) string {
	switch s {
	case model.SeverityError:
		return "✖"
	case model.SeverityWarning:
		return "▲"
	case model.SeveritySuccess:
		return "✔"
	default:
		return "●"
	}
}

func writeText(w io.Writer, d *insight.Dashboard, now time.Time) error {
	var b strings.Builder

	headerColor.Fprintf(&b, "%s", d.Response.Project)
	fmt.Fprintf(&b, "  reviewed %s\n", RelativeTime(d.Response.CreatedAt, now))

	for i, t := range d.Tiles {
		if i > 0 {
			b.WriteString("   ")
		}
		fmt.Fprintf(&b, "%s ", t.Label)
		tierColor(t.Band).Fprintf(&b, "%d", t.Score)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Issues: %s\n", d.Summary)

	for _, bucket := range model.Buckets {
		b.WriteString("\n")
		headerColor.Fprintln(&b, bucket.Label())
		for _, it := range d.Buckets[bucket] {
			c := tierColor(it.Type)
			b.WriteString("  ")
			c.Fprint(&b, tierIcon(it.Type))
			fmt.Fprintf(&b, " %s\n", it.Title)
			if it.Description != "" {
				fmt.Fprintf(&b, "      %s\n", it.Description)
			}
			for _, s := range it.Suggestions {
				dimColor.Fprintf(&b, "      → %s\n", s)
			}
			for _, f := range it.Fixes {
				writeTextFix(&b, f)
			}
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeTextFix(b *strings.Builder, s model.Suggestion) {
	lines := insight.RenderFix(s)
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "      fix: %s\n", s.Title)
	for _, l := range lines {
		switch l.Op {
		case insight.FixAdd:
			successColor.Fprintf(b, "        + %s\n", l.Text)
		case insight.FixDelete:
			errorColor.Fprintf(b, "        - %s\n", l.Text)
		default:
			fmt.Fprintf(b, "          %s\n", l.Text)
		}
	}
}
