// Package tui implements the Bubble Tea review dashboard.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sprite-ai/repolens/internal/highlight"
	"github.com/sprite-ai/repolens/internal/insight"
	"github.com/sprite-ai/repolens/internal/jump"
	"github.com/sprite-ai/repolens/internal/model"
	"github.com/sprite-ai/repolens/internal/report"
)

// Rows used outside the two panels: header, tiles, status bar.
const chromeHeight = 1 + 3 + 1

// Model is the top-level Bubble Tea model for the review dashboard.
type Model struct {
	dash *insight.Dashboard
	now  time.Time

	// Source of the reviewed file; empty for project reviews.
	path  string
	lines []highlight.HighlightedLine
	view  *jump.CodeView

	// UI state
	width  int
	height int

	tab      int // index into model.Buckets
	selected int // card within the tab

	// Last jumped range, re-applied after a resize.
	markStart int
	markEnd   int

	status   string
	help     help.Model
	showHelp bool
}

// New creates a dashboard model. source may be empty when no single file
// was reviewed.
func New(d *insight.Dashboard, path, source string) Model {
	m := Model{
		dash: d,
		now:  time.Now(),
		path: path,
		view: jump.NewCodeView(jump.Layout{}),
		help: help.New(),
	}
	if source != "" {
		m.lines = highlight.Lines(path, highlight.SplitLines(source))
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.view.SetLayout(jump.Layout{
			Lines:      len(m.lines),
			LineHeight: 1,
			Viewport:   float64(m.codeRows()),
			ScrollTop:  m.view.ScrollTop(),
		})
		if m.markStart > 0 {
			jump.JumpToRange(m.view, m.markStart, m.markEnd)
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, keys.Help):
			m.showHelp = !m.showHelp

		case key.Matches(msg, keys.Down):
			if m.selected < len(m.items())-1 {
				m.selected++
			}

		case key.Matches(msg, keys.Up):
			if m.selected > 0 {
				m.selected--
			}

		case key.Matches(msg, keys.NextTab):
			m.tab = (m.tab + 1) % len(model.Buckets)
			m.selected = 0

		case key.Matches(msg, keys.PrevTab):
			m.tab = (m.tab + len(model.Buckets) - 1) % len(model.Buckets)
			m.selected = 0

		case key.Matches(msg, keys.Jump):
			m.jumpToSelected()

		case key.Matches(msg, keys.PageDown):
			m.view.SetScroll(m.view.ScrollTop() + float64(m.codeRows()/2))

		case key.Matches(msg, keys.PageUp):
			m.view.SetScroll(m.view.ScrollTop() - float64(m.codeRows()/2))
		}
	}

	return m, nil
}

func (m Model) bucket() model.Bucket {
	return model.Buckets[m.tab]
}

func (m Model) items() []model.InsightItem {
	return m.dash.Buckets[m.bucket()]
}

func (m *Model) jumpToSelected() {
	items := m.items()
	if len(items) == 0 {
		return
	}
	item := items[m.selected]
	switch {
	case item.Line == nil:
		m.status = "This insight has no line"
	case len(m.lines) == 0:
		m.status = "No source loaded for this review"
	case *item.Line > len(m.lines):
		m.status = fmt.Sprintf("Line %d is past the end of %s", *item.Line, m.path)
	default:
		m.markStart, m.markEnd = jump.Normalize(*item.Line, *item.Line)
		jump.JumpToRange(m.view, m.markStart, m.markEnd)
		m.status = fmt.Sprintf("Line %d", *item.Line)
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	if m.showHelp {
		return m.renderHelp()
	}

	listWidth := m.listWidth()
	codeWidth := m.width - listWidth - 1
	bodyHeight := m.height - chromeHeight

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderInsights(listWidth, bodyHeight),
		" ",
		m.renderCode(codeWidth, bodyHeight),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderTiles(),
		body,
		m.renderStatusBar(),
	)
}

func (m Model) listWidth() int {
	w := m.width * 9 / 20
	if w < 30 {
		w = 30
	}
	if w > m.width-20 {
		w = m.width - 20
	}
	return w
}

// codeRows is the number of source rows visible in the code panel.
func (m Model) codeRows() int {
	// borders and the file header with its padding
	rows := m.height - chromeHeight - 2 - 2
	if rows < 1 {
		rows = 1
	}
	return rows
}

func (m Model) renderHeader() string {
	meta := fmt.Sprintf("  reviewed %s · %s", report.RelativeTime(m.dash.Response.CreatedAt, m.now), m.dash.Summary)
	return headerStyle.Render(m.dash.Response.Project) + metaStyle.Render(meta)
}

func (m Model) renderTiles() string {
	tiles := make([]string, 0, len(m.dash.Tiles))
	for _, t := range m.dash.Tiles {
		score := lipgloss.NewStyle().Foreground(tierColor(t.Band)).Bold(true).Render(fmt.Sprintf("%d", t.Score))
		tiles = append(tiles, tileStyle.BorderForeground(tierColor(t.Band)).Render(t.Label+" "+score))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tiles...)
}

func (m Model) renderTabs() string {
	tabs := make([]string, 0, len(model.Buckets))
	for i, b := range model.Buckets {
		label := fmt.Sprintf("%s (%d)", b.Label(), issueCount(m.dash.Buckets[b]))
		if i == m.tab {
			tabs = append(tabs, tabActiveStyle.Render(label))
		} else {
			tabs = append(tabs, tabStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

// issueCount ignores the empty-bucket placeholder.
func issueCount(items []model.InsightItem) int {
	n := 0
	for _, it := range items {
		if it.Type != model.SeveritySuccess {
			n++
		}
	}
	return n
}

func (m Model) renderInsights(width, height int) string {
	inner := width - 4
	var b strings.Builder
	b.WriteString(m.renderTabs())
	b.WriteString("\n\n")

	for i, it := range m.items() {
		icon := lipgloss.NewStyle().Foreground(tierColor(it.Type)).Render(tierIcon(it.Type))
		card := icon + " " + cardTitleStyle.Render(truncate(it.Title, inner-2))
		if it.Description != "" {
			card += "\n  " + cardTextStyle.Render(truncate(it.Description, inner-2))
		}
		for _, s := range it.Suggestions {
			card += "\n  " + suggestionStyle.Render(truncate("→ "+s, inner-2))
		}
		if i == m.selected {
			card = cardSelectedStyle.Width(inner).Render(card)
		}
		b.WriteString(card)
		b.WriteString("\n\n")
	}

	return listStyle.Width(width).Height(height - 2).MaxHeight(height).Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) renderCode(width, height int) string {
	inner := width - 4
	if len(m.lines) == 0 {
		return codeViewStyle.Width(width).Height(height - 2).Render(metaStyle.Render("No source loaded"))
	}

	var b strings.Builder
	b.WriteString(fileHeaderStyle.Render(m.path))
	b.WriteByte('\n')

	top := int(m.view.ScrollTop())
	end := top + m.codeRows()
	if end > len(m.lines) {
		end = len(m.lines)
	}
	for i := top; i < end; i++ {
		b.WriteString(m.renderCodeLine(i+1, inner))
		if i < end-1 {
			b.WriteByte('\n')
		}
	}

	return codeViewStyle.Width(width).Height(height - 2).Render(b.String())
}

func (m Model) renderCodeLine(line, width int) string {
	var b strings.Builder
	for _, tok := range m.lines[line-1].Tokens {
		if tok.Color != "" {
			b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(tok.Color)).Render(tok.Text))
		} else {
			b.WriteString(tok.Text)
		}
	}
	row := lineNumberStyle.Render(fmt.Sprintf("%d", line)) + " " + b.String()
	row = lipgloss.NewStyle().MaxWidth(width).Render(row)
	if m.view.Marked(line) {
		row = markedLineStyle.Width(width).Render(row)
	}
	return row
}

func (m Model) renderStatusBar() string {
	left := fmt.Sprintf(" %s %d/%d", m.bucket().Label(), m.selected+1, len(m.items()))
	if m.status != "" {
		left += "  " + m.status
	}
	right := m.help.ShortHelpView(keys.ShortHelp())

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 0 {
		gap = 0
	}
	return statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) renderHelp() string {
	var b strings.Builder
	b.WriteString(fileHeaderStyle.Render("repolens: Keyboard Shortcuts"))
	b.WriteString("\n\n")
	b.WriteString(m.help.FullHelpView(keys.FullHelp()))
	b.WriteString("\n\n")
	b.WriteString(helpBarStyle.Render("Press ? to close help"))
	return b.String()
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}

// Run starts the dashboard.
func Run(d *insight.Dashboard, path, source string) error {
	p := tea.NewProgram(New(d, path, source), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
