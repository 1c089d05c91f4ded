package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/securemail/internal/theme"
)

// Layout tracks the terminal size and the fixed chrome around a view.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with a one-line header and status bar.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the rows left between header and status bar.
func (l Layout) ContentHeight() int {
	return max(l.Height-l.HeaderHeight-l.StatusBarHeight, 0)
}

// RenderHeader draws the title on the left and the backend state on the
// right, styled by state ("up", "down" or "checking").
func (l Layout) RenderHeader(title, state, label string) string {
	left := theme.HeaderStyle.Render(title)
	right := theme.BackendStyle(state).Render(label)
	return l.fill(theme.HeaderStyle, left, right)
}

// RenderStatusBar draws the last operation result, or the key hints when
// there is none. Errors use the error bar colors.
func (l Layout) RenderStatusBar(message string, isErr bool, hints string) string {
	style := theme.StatusBarStyle
	if isErr {
		style = theme.ErrorBarStyle
	}
	text := message
	if text == "" {
		text = hints
	}
	return l.fill(style, style.Render(truncate(text, l.Width-2)), "")
}

func (l Layout) fill(style lipgloss.Style, left, right string) string {
	gap := l.Width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	filler := lipgloss.NewStyle().
		Width(gap).
		Background(style.GetBackground()).
		Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top, left, filler, right)
}

// RenderWithFrame stacks header, content and status bar.
func (l Layout) RenderWithFrame(
	header string,
	content string,
	statusBar string,
) string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		content,
		statusBar,
	)
}

func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}
