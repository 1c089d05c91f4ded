package detail

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/nhle/securemail/internal/keys"
	"github.com/nhle/securemail/internal/model"
	"github.com/nhle/securemail/internal/theme"
)

// BackMsg signals the parent to navigate back to the inbox.
type BackMsg struct{}

// MarkUnreadMsg asks the parent to mark the open message unread.
type MarkUnreadMsg struct {
	ID int64
}

// DeleteMsg asks the parent to delete the open message.
type DeleteMsg struct {
	ID int64
}

// DownloadMsg asks the parent to save one attachment.
type DownloadMsg struct {
	Attachment model.AttachmentRef
}

// Model shows one message in a scrollable viewport.
type Model struct {
	message  *model.MessageDetail
	viewport viewport.Model
	keys     *keys.KeyMap
	width    int
	height   int
	loading  bool
}

// New creates a new detail view model.
func New(keys *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, max(height, 0))
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     keys,
		width:    width,
		height:   height,
	}
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, m.keys.Back):
			return m, func() tea.Msg { return BackMsg{} }

		case key.Matches(msg, m.keys.MarkUnread):
			if m.message != nil && !m.loading {
				id := m.message.ID
				return m, func() tea.Msg { return MarkUnreadMsg{ID: id} }
			}
			return m, nil

		case key.Matches(msg, m.keys.Delete):
			if m.message != nil && !m.loading {
				id := m.message.ID
				return m, func() tea.Msg { return DeleteMsg{ID: id} }
			}
			return m, nil

		case key.Matches(msg, m.keys.Download):
			if ref, ok := m.attachmentFor(msg.String()); ok {
				return m, func() tea.Msg { return DownloadMsg{Attachment: ref} }
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// attachmentFor maps a digit key to the attachment shown with that number.
func (m Model) attachmentFor(k string) (model.AttachmentRef, bool) {
	if m.message == nil || m.loading || len(k) != 1 || k[0] < '1' || k[0] > '9' {
		return model.AttachmentRef{}, false
	}
	i := int(k[0] - '1')
	if i >= len(m.message.Attachments) {
		return model.AttachmentRef{}, false
	}
	return m.message.Attachments[i], true
}

func (m Model) View() string {
	placeholder := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if m.loading {
		return placeholder.Render("Loading…")
	}
	if m.message == nil {
		return placeholder.Render("No message selected")
	}
	return m.viewport.View()
}

// renderContent builds the full message text for the viewport.
func (m Model) renderContent() string {
	msg := m.message
	if msg == nil {
		return ""
	}

	var sections []string

	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	badge := theme.VerificationStyle(msg.Verified.String()).Render(msg.Verified.String())
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, titleStyle.Render(subject), "  ", badge))
	sections = append(sections, "")

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	row := func(label, value string) string {
		return fmt.Sprintf("%s %s", metaStyle.Render(fmt.Sprintf("%-6s", label)), valStyle.Render(value))
	}

	sections = append(sections, row("From:", msg.SenderAddress))
	if len(msg.Recipients) > 0 {
		sections = append(sections, row("To:", strings.Join(msg.Recipients, ", ")))
	}
	if !msg.CreatedAt.IsZero() {
		local := msg.CreatedAt.Local()
		sections = append(sections, row("Date:", fmt.Sprintf(
			"%s (%s)", local.Format("2006-01-02 15:04"), humanize.Time(msg.CreatedAt),
		)))
	}
	if msg.Unread() {
		sections = append(sections, row("", theme.UnreadStyle.Render("unread")))
	}

	sepStyle := lipgloss.NewStyle().Foreground(theme.ColorSubtle)
	separator := sepStyle.Render(strings.Repeat("─", max(min(m.width-4, 80), 1)))
	sections = append(sections, "", separator, "")

	body := msg.Body
	if body == "" {
		body = lipgloss.NewStyle().
			Foreground(theme.ColorGray).
			Italic(true).
			Render("No content")
	}
	sections = append(sections, lipgloss.NewStyle().Width(max(m.width-2, 1)).Render(body))

	if len(msg.Attachments) > 0 {
		header := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
		sections = append(sections, "", separator, "")
		sections = append(sections, header.Render(fmt.Sprintf("Attachments (%d)", len(msg.Attachments))))
		for i, a := range msg.Attachments {
			label := fmt.Sprintf("[%d]", i+1)
			if i >= 9 {
				label = "   "
			}
			sections = append(sections, fmt.Sprintf(
				"%s %s %s",
				metaStyle.Render(label),
				valStyle.Render(a.Filename),
				metaStyle.Render(fmt.Sprintf("(%s, %s)", a.ContentType, humanize.Bytes(uint64(max(a.SizeBytes, 0))))),
			))
		}
		sections = append(sections, "", theme.HelpStyle.Render("press a number to download"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// SetMessage updates the displayed message. Scrolling is kept when the
// same message is re-rendered, for example after a read receipt.
func (m *Model) SetMessage(msg *model.MessageDetail) {
	same := m.message != nil && msg != nil && m.message.ID == msg.ID
	m.message = msg
	m.loading = false
	m.viewport.SetContent(m.renderContent())
	if !same {
		m.viewport.GotoTop()
	}
}

// Message returns the displayed message, if any.
func (m Model) Message() *model.MessageDetail {
	return m.message
}

// SetLoading shows the loading placeholder until SetMessage is called.
func (m *Model) SetLoading(loading bool) {
	m.loading = loading
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = max(height, 0)
	m.viewport.SetContent(m.renderContent())
}
