package insight

import (
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/sprite-ai/repolens/internal/model"
)

// FixOp marks how a fix line changes the code.
type FixOp int

const (
	FixContext FixOp = iota
	FixAdd
	FixDelete
)

// FixLine is one line of a rendered suggestion diff.
type FixLine struct {
	Op   FixOp  `json:"op"`
	Text string `json:"text"`
}

// RenderFix splits a suggestion's diff example into typed lines. Complete
// unified diffs are parsed with gitdiff; bare snippets fall back to their
// leading +/- markers.
func RenderFix(s model.Suggestion) []FixLine {
	example := strings.TrimRight(s.DiffExample, "\n")
	if example == "" {
		return nil
	}

	if lines := parseUnified(example); len(lines) > 0 {
		return lines
	}

	var out []FixLine
	for _, raw := range strings.Split(example, "\n") {
		switch {
		case strings.HasPrefix(raw, "+"):
			out = append(out, FixLine{Op: FixAdd, Text: raw[1:]})
		case strings.HasPrefix(raw, "-"):
			out = append(out, FixLine{Op: FixDelete, Text: raw[1:]})
		default:
			out = append(out, FixLine{Op: FixContext, Text: strings.TrimPrefix(raw, " ")})
		}
	}
	return out
}

func parseUnified(example string) []FixLine {
	files, _, err := gitdiff.Parse(strings.NewReader(example + "\n"))
	if err != nil || len(files) == 0 {
		return nil
	}

	var out []FixLine
	for _, f := range files {
		for _, frag := range f.TextFragments {
			for _, line := range frag.Lines {
				fl := FixLine{Text: strings.TrimRight(line.Line, "\r\n")}
				switch line.Op {
				case gitdiff.OpAdd:
					fl.Op = FixAdd
				case gitdiff.OpDelete:
					fl.Op = FixDelete
				default:
					fl.Op = FixContext
				}
				out = append(out, fl)
			}
		}
	}
	return out
}
