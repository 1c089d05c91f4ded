package help

import (
	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/securemail/internal/keys"
	"github.com/nhle/securemail/internal/theme"
)

// Model lists every keybinding, grouped by view.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	width  int
	height int
}

// New creates a new help view model.
func New(keys *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.ShowAll = true
	h.Width = width - 4
	return Model{
		keys:   keys,
		help:   h,
		width:  width,
		height: height,
	}
}

// Update is a no-op; the root model closes help on any key.
func (m Model) Update(tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

func (m Model) View() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1).
		Render("Keyboard Shortcuts")

	footer := theme.HelpStyle.Render("press any key to close")

	content := lipgloss.JoinVertical(lipgloss.Left, title, m.help.View(m.keys), "", footer)

	return theme.PanelStyle.
		Width(max(m.width-4, 0)).
		Height(max(m.height-4, 0)).
		Render(content)
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
