package theme

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for the application title bar.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// ErrorBarStyle replaces StatusBarStyle while an error is shown.
var ErrorBarStyle = StatusBarStyle.
	Background(ColorRed)

// PanelStyle wraps full-screen panels such as the message and help views.
var PanelStyle = lipgloss.NewStyle().
	Padding(1, 2).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// ListItemStyle is the base style for inbox rows.
var ListItemStyle = lipgloss.NewStyle().
	PaddingLeft(2)

// SelectedItemStyle highlights the focused inbox row.
var SelectedItemStyle = lipgloss.NewStyle().
	PaddingLeft(1).
	Foreground(ColorBlue).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(ColorBlue)

// UnreadStyle marks rows that have never been opened.
var UnreadStyle = lipgloss.NewStyle().Bold(true)

// HelpStyle is used for keyboard hints and secondary text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// MutedStyle is used for timestamps and labels.
var MutedStyle = lipgloss.NewStyle().Foreground(ColorGray)

// BackendStyle returns the header style for a backend status label.
func BackendStyle(state string) lipgloss.Style {
	base := HeaderStyle.Bold(true)

	switch state {
	case "up":
		return base.Foreground(ColorGreen)
	case "down":
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorYellow)
	}
}

// VerificationStyle colors the signature badge on a message.
func VerificationStyle(label string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch label {
	case "verified":
		return base.Foreground(ColorGreen)
	case "not verified":
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}
