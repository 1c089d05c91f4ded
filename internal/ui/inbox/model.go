package inbox

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/securemail/internal/keys"
	"github.com/nhle/securemail/internal/model"
	"github.com/nhle/securemail/internal/theme"
)

// OpenMsg asks the parent to select a message.
type OpenMsg struct {
	ID int64
}

// Model is the inbox list view.
type Model struct {
	list    list.Model
	keys    *keys.KeyMap
	loading bool
	width   int
	height  int
}

// New creates an empty inbox view.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, max(height-2, 0))
	l.Title = "Inbox"
	l.SetShowStatusBar(true)
	l.SetStatusBarItemName("message", "messages")
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	// The root model owns quit.
	l.DisableQuitKeybindings()
	l.Styles.Title = theme.HeaderStyle

	return Model{
		list:   l,
		keys:   k,
		width:  width,
		height: height,
	}
}

// SetMessages replaces the rows, keeping the cursor on the same message
// when it is still listed.
func (m *Model) SetMessages(msgs []model.MessageSummary) tea.Cmd {
	current, hadCurrent := m.SelectedID()

	items := make([]list.Item, len(msgs))
	cursor := 0
	for i, s := range msgs {
		items[i] = MessageItem{Summary: s}
		if hadCurrent && s.ID == current {
			cursor = i
		}
	}
	cmd := m.list.SetItems(items)
	m.list.Select(cursor)
	return cmd
}

// SetLoading toggles the loading placeholder shown while the list is
// empty.
func (m *Model) SetLoading(loading bool) {
	m.loading = loading
}

// SelectedID returns the id under the cursor.
func (m Model) SelectedID() (int64, bool) {
	it, ok := m.list.SelectedItem().(MessageItem)
	if !ok {
		return 0, false
	}
	return it.Summary.ID, true
}

// Len returns the number of listed messages.
func (m Model) Len() int {
	return len(m.list.Items())
}

// Update handles navigation and the open key.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, m.keys.Open) {
		id, ok := m.SelectedID()
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg { return OpenMsg{ID: id} }
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the inbox, or a placeholder when it has no rows.
func (m Model) View() string {
	if len(m.list.Items()) > 0 {
		return m.list.View()
	}

	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if m.loading {
		return style.Render("Loading…")
	}
	return style.Render("No messages.")
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, max(height-2, 0))
}
