package tui

import (
	"fmt"
	"strings"
)

// Sparkline renders a mini line chart using braille characters. Values are
// scaled to the largest one; shorter series are padded on the left.
func Sparkline(values []float64, width int, s Styles) string {
	if len(values) == 0 || width < 1 {
		return ""
	}
	blocks := []rune{'⣀', '⣤', '⣶', '⣿'}

	maxVal := 0.0
	for _, v := range values {
		maxVal = max(maxVal, v)
	}
	if maxVal == 0 {
		maxVal = 1
	}

	sampled := make([]float64, width)
	if len(values) >= width {
		copy(sampled, values[len(values)-width:])
	} else {
		copy(sampled[width-len(values):], values)
	}

	var b strings.Builder
	for _, v := range sampled {
		level := int(v / maxVal * float64(len(blocks)-1))
		level = min(max(level, 0), len(blocks)-1)
		b.WriteRune(blocks[level])
	}
	return s.Info.Render(b.String())
}

// formatNumber formats a number with K/M/B suffix.
func formatNumber(n float64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", n/1_000_000_000)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", n/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", n/1_000)
	default:
		return fmt.Sprintf("%.0f", n)
	}
}

// formatDuration formats seconds in a compact form.
func formatDuration(seconds float64) string {
	if seconds < 60 {
		return fmt.Sprintf("%.0fs", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%.0fm", seconds/60)
	}
	return fmt.Sprintf("%.1fh", seconds/3600)
}
