package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// SectionBox renders a titled box with content.
//
//	╭─ TITLE ──────────────────────────╮
//	│  content line 1                  │
//	╰──────────────────────────────────╯
func SectionBox(title, content string, width int, s Styles) string {
	if width < 20 {
		width = 60
	}

	titleText := " " + title + " "
	remaining := width - 4 - lipgloss.Width(titleText)
	if remaining < 0 {
		remaining = 0
	}
	titleBar := "─" + s.Header.Render(titleText) + strings.Repeat("─", remaining)

	box := lipgloss.NewStyle().
		Border(lipgloss.Border{
			Bottom:      "─",
			Left:        "│",
			Right:       "│",
			BottomLeft:  "╰",
			BottomRight: "╯",
		}, false, true, true, true).
		BorderForeground(DefaultTheme.Border).
		Width(width - 2).
		Padding(0, 1)

	return "╭" + titleBar + "╮\n" + box.Render(content)
}

// Table renders rows under a header with aligned columns.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Render renders the table, or empty when there are no rows.
func (t Table) Render(s Styles) string {
	if len(t.Headers) == 0 || len(t.Rows) == 0 {
		return ""
	}

	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	var b strings.Builder
	for i, h := range t.Headers {
		b.WriteString(s.SectionName.Render(padRight(h, widths[i])))
		if i < len(t.Headers)-1 {
			b.WriteString("  ")
		}
	}
	b.WriteString("\n")

	total := 2 * (len(widths) - 1)
	for _, w := range widths {
		total += w
	}
	b.WriteString(s.Muted.Render(strings.Repeat("─", total)))

	for _, row := range t.Rows {
		b.WriteString("\n")
		for i := range t.Headers {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			b.WriteString(padRight(cell, widths[i]))
			if i < len(t.Headers)-1 {
				b.WriteString("  ")
			}
		}
	}
	return b.String()
}

// KeyHint represents a keyboard shortcut hint.
type KeyHint struct {
	Key   string
	Label string
}

// KeyHints renders a row of keyboard shortcuts.
//
//	[r] Refresh    [q] Quit
func KeyHints(hints []KeyHint, s Styles) string {
	parts := make([]string, 0, len(hints))
	for _, h := range hints {
		parts = append(parts, s.KeyBinding.Render("["+h.Key+"]")+" "+s.KeyHint.Render(h.Label))
	}
	return strings.Join(parts, "    ")
}

// Field renders a dim label followed by its value.
func Field(label, value string, s Styles) string {
	return s.Label.Render(label) + value
}

func padRight(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

// truncateString truncates a string to max length, adding "..." if truncated.
func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
