package tui

import "github.com/charmbracelet/lipgloss"

// Theme defines the color palette for the dashboard.
// Tokyo Night tones.
type Theme struct {
	BgDark  lipgloss.Color
	BgPanel lipgloss.Color

	TextPrimary lipgloss.Color
	TextDim     lipgloss.Color
	TextMuted   lipgloss.Color

	Border        lipgloss.Color
	BorderFocused lipgloss.Color

	Accent  lipgloss.Color // blue
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Info    lipgloss.Color
	Purple  lipgloss.Color
}

// DefaultTheme is the dark theme.
var DefaultTheme = Theme{
	BgDark:  lipgloss.Color("#1a1b26"),
	BgPanel: lipgloss.Color("#24283b"),

	TextPrimary: lipgloss.Color("#c0caf5"),
	TextDim:     lipgloss.Color("#565f89"),
	TextMuted:   lipgloss.Color("#414868"),

	Border:        lipgloss.Color("#414868"),
	BorderFocused: lipgloss.Color("#7aa2f7"),

	Accent:  lipgloss.Color("#7aa2f7"),
	Success: lipgloss.Color("#9ece6a"),
	Warning: lipgloss.Color("#e0af68"),
	Error:   lipgloss.Color("#f7768e"),
	Info:    lipgloss.Color("#7dcfff"),
	Purple:  lipgloss.Color("#bb9af7"),
}

// Styles provides pre-configured lipgloss styles using the theme.
type Styles struct {
	Base  lipgloss.Style
	Dim   lipgloss.Style
	Muted lipgloss.Style
	Bold  lipgloss.Style

	Title       lipgloss.Style
	Header      lipgloss.Style
	SectionName lipgloss.Style

	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style
	Purple  lipgloss.Style

	KeyBinding lipgloss.Style
	KeyHint    lipgloss.Style

	Label  lipgloss.Style
	Footer lipgloss.Style
}

// NewStyles creates a new Styles instance from a Theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Base:  lipgloss.NewStyle().Foreground(t.TextPrimary),
		Dim:   lipgloss.NewStyle().Foreground(t.TextDim),
		Muted: lipgloss.NewStyle().Foreground(t.TextMuted),
		Bold:  lipgloss.NewStyle().Foreground(t.TextPrimary).Bold(true),

		Title: lipgloss.NewStyle().
			Foreground(t.Accent).
			Bold(true).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Foreground(t.Accent).
			Bold(true),
		SectionName: lipgloss.NewStyle().
			Foreground(t.TextDim).
			Bold(true),

		Success: lipgloss.NewStyle().Foreground(t.Success),
		Warning: lipgloss.NewStyle().Foreground(t.Warning),
		Error:   lipgloss.NewStyle().Foreground(t.Error),
		Info:    lipgloss.NewStyle().Foreground(t.Info),
		Purple:  lipgloss.NewStyle().Foreground(t.Purple),

		KeyBinding: lipgloss.NewStyle().
			Foreground(t.Accent).
			Bold(true),
		KeyHint: lipgloss.NewStyle().
			Foreground(t.TextDim),

		Label: lipgloss.NewStyle().
			Foreground(t.TextDim).
			Width(14),
		Footer: lipgloss.NewStyle().
			Foreground(t.TextDim),
	}
}

// DefaultStyles returns styles using the default theme.
var DefaultStyles = NewStyles(DefaultTheme)

// StateIcon returns a colored indicator for a connection state.
func StateIcon(state string, s Styles) string {
	switch state {
	case "established":
		return s.Success.Render("●")
	case "timed-out", "deferred-delete":
		return s.Error.Render("●")
	case "configuring", "waiting-for-connection-id", "closing":
		return s.Warning.Render("●")
	default:
		return s.Dim.Render("○")
	}
}

// CheckIcon returns a styled check/cross icon.
func CheckIcon(checked bool, s Styles) string {
	if checked {
		return s.Success.Render("✓")
	}
	return s.Dim.Render("✗")
}
