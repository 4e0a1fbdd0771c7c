// Package highlight wraps chroma to render source files with line numbers.
package highlight

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// DefaultStyle is the chroma style used when none is configured.
const DefaultStyle = "dracula"

// HighlightedLine represents a line with syntax-highlighted tokens.
type HighlightedLine struct {
	Tokens []Token
}

// Token is a syntax-highlighted chunk of text.
type Token struct {
	Text  string
	Color string // hex color, empty for default
}

// Plain returns the concatenated plain text of all tokens.
func (hl HighlightedLine) Plain() string {
	var b strings.Builder
	for _, t := range hl.Tokens {
		b.WriteString(t.Text)
	}
	return b.String()
}

// Lines applies syntax highlighting to source lines for a given filename.
// Returns one HighlightedLine per input line.
func Lines(filename string, lines []string) []HighlightedLine {
	lexer := lexerForFile(filename)
	if lexer == nil {
		return plainLines(lines)
	}

	source := strings.Join(lines, "\n")
	iterator, err := lexer.Tokenise(nil, source)
	if err != nil {
		return plainLines(lines)
	}

	style := styleOrFallback(DefaultStyle)

	result := make([]HighlightedLine, 0, len(lines))
	current := HighlightedLine{}

	for _, token := range iterator.Tokens() {
		// Split tokens that span multiple lines
		parts := strings.Split(token.Value, "\n")
		for i, part := range parts {
			if i > 0 {
				result = append(result, current)
				current = HighlightedLine{}
			}
			if part != "" {
				current.Tokens = append(current.Tokens, Token{
					Text:  part,
					Color: tokenColor(style, token.Type),
				})
			}
		}
	}
	result = append(result, current)

	// Pad result if we have fewer lines than input
	for len(result) < len(lines) {
		result = append(result, HighlightedLine{Tokens: []Token{{Text: ""}}})
	}

	return result[:len(lines)]
}

// Options controls HTML rendering.
type Options struct {
	Style string
	// HighlightStart and HighlightEnd mark an inclusive line range; zero
	// disables range highlighting.
	HighlightStart int
	HighlightEnd   int
}

// HTML renders source as a standalone line-numbered block. Each line
// number links to an "L<n>" anchor so the viewer can address rows.
func HTML(filename, source string, opts Options) (string, error) {
	lexer := lexerForFile(filename)
	if lexer == nil {
		lexer = lexers.Fallback
	}

	iterator, err := lexer.Tokenise(nil, source)
	if err != nil {
		return "", fmt.Errorf("tokenising %s: %w", filename, err)
	}

	formatterOpts := []html.Option{
		html.WithLineNumbers(true),
		html.WithLinkableLineNumbers(true, "L"),
		html.TabWidth(4),
	}
	if opts.HighlightStart > 0 {
		end := opts.HighlightEnd
		if end < opts.HighlightStart {
			end = opts.HighlightStart
		}
		formatterOpts = append(formatterOpts, html.HighlightLines([][2]int{{opts.HighlightStart, end}}))
	}

	name := opts.Style
	if name == "" {
		name = DefaultStyle
	}

	var buf bytes.Buffer
	if err := html.New(formatterOpts...).Format(&buf, styleOrFallback(name), iterator); err != nil {
		return "", fmt.Errorf("formatting %s: %w", filename, err)
	}
	return buf.String(), nil
}

// Language returns the viewer language name for a path.
func Language(path string) string {
	switch strings.TrimPrefix(filepath.Ext(path), ".") {
	case "ts", "tsx":
		return "typescript"
	case "js", "jsx":
		return "javascript"
	case "py":
		return "python"
	case "json":
		return "json"
	case "html":
		return "markup"
	case "css":
		return "css"
	default:
		return "javascript"
	}
}

// LineCount returns the number of rendered rows for source.
func LineCount(source string) int {
	if source == "" {
		return 0
	}
	return len(SplitLines(source))
}

// SplitLines splits source into rows, dropping one trailing newline.
func SplitLines(source string) []string {
	return strings.Split(strings.TrimSuffix(source, "\n"), "\n")
}

func plainLines(lines []string) []HighlightedLine {
	result := make([]HighlightedLine, len(lines))
	for i, line := range lines {
		result[i] = HighlightedLine{Tokens: []Token{{Text: line}}}
	}
	return result
}

func lexerForFile(filename string) chroma.Lexer {
	lexer := lexers.Match(filename)
	if lexer == nil {
		ext := filepath.Ext(filename)
		if ext != "" {
			lexer = lexers.Match("file" + ext)
		}
	}
	if lexer != nil {
		lexer = chroma.Coalesce(lexer)
	}
	return lexer
}

func styleOrFallback(name string) *chroma.Style {
	style := styles.Get(name)
	if style == nil {
		style = styles.Fallback
	}
	return style
}

func tokenColor(style *chroma.Style, tt chroma.TokenType) string {
	entry := style.Get(tt)
	if entry.Colour.IsSet() {
		return entry.Colour.String()
	}
	return ""
}
