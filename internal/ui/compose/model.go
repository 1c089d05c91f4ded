package compose

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/securemail/internal/keys"
	"github.com/nhle/securemail/internal/model"
	"github.com/nhle/securemail/internal/theme"
)

// SendMsg is dispatched when the draft is submitted.
type SendMsg struct {
	Recipients     string
	Subject        string
	Body           string
	AttachmentPath string
}

// CancelMsg is dispatched when the user leaves the form without sending.
type CancelMsg struct{}

type formBindings struct {
	recipients string
	subject    string
	body       string
	attachment string
}

// Model is the compose form.
type Model struct {
	form    *huh.Form
	fb      *formBindings
	keys    *keys.KeyMap
	sending bool
	errText string
	width   int
	height  int
}

// New creates a new compose view.
func New(k *keys.KeyMap, width, height int) Model {
	return Model{
		fb:     &formBindings{},
		keys:   k,
		width:  width,
		height: height,
	}
}

// StartNew clears the draft and shows an empty form.
func (m *Model) StartNew() tea.Cmd {
	*m.fb = formBindings{}
	m.errText = ""
	return m.start()
}

// Retry shows err above the form and keeps what was typed.
func (m *Model) Retry(err error) tea.Cmd {
	m.errText = err.Error()
	return m.start()
}

func (m *Model) start() tea.Cmd {
	m.sending = false
	m.form = m.buildForm()
	return m.form.Init()
}

// Update handles messages for the compose form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil || m.sending {
		return m, nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, m.keys.Back) {
		return m, func() tea.Msg { return CancelMsg{} }
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.sending = true
		m.errText = ""
		return m, m.handleSubmit()
	case huh.StateAborted:
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1).
		Render("New Message")

	parts := []string{title}
	if m.errText != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.ColorRed).Render(m.errText), "")
	}
	if m.sending {
		parts = append(parts, theme.HelpStyle.Render("Sending…"))
	} else {
		parts = append(parts, m.form.View(), "", theme.HelpStyle.Render("esc to discard"))
	}

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	if m.form != nil {
		m.form = m.form.WithWidth(m.formWidth())
	}
}

func (m *Model) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("To").
				Description("Separate addresses with commas or semicolons").
				Placeholder("alice@smail.com; bob@smail.com").
				Value(&m.fb.recipients).
				Validate(validateRecipients),
			huh.NewInput().
				Title("Subject").
				Value(&m.fb.subject),
			huh.NewText().
				Title("Body").
				Lines(8).
				Value(&m.fb.body),
			huh.NewInput().
				Title("Attachment").
				Placeholder("path to a file (optional)").
				Value(&m.fb.attachment).
				Validate(validateAttachment),
		),
	).WithWidth(m.formWidth()).WithShowHelp(false)
}

func (m Model) handleSubmit() tea.Cmd {
	msg := SendMsg{
		Recipients:     m.fb.recipients,
		Subject:        m.fb.subject,
		Body:           m.fb.body,
		AttachmentPath: strings.TrimSpace(m.fb.attachment),
	}
	return func() tea.Msg { return msg }
}

func (m Model) formWidth() int {
	return min(max(m.width-4, 40), 100)
}

func validateRecipients(s string) error {
	if len(model.ParseRecipients(s)) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	return nil
}

func validateAttachment(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	info, err := os.Stat(model.ExpandPath(s))
	if err != nil {
		return fmt.Errorf("cannot read %s", s)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", s)
	}
	return nil
}
