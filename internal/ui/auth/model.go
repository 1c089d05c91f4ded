// Package auth is the login and registration view.
package auth

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/securemail/internal/keys"
	"github.com/nhle/securemail/internal/theme"
)

// Mode selects which form is shown.
type Mode int

const (
	ModeLogin Mode = iota
	ModeRegister
)

func (m Mode) String() string {
	if m == ModeRegister {
		return "Register"
	}
	return "Log in"
}

// LoginMsg is dispatched when the login form is submitted.
type LoginMsg struct {
	Email    string
	Password string
	Code     string
}

// RegisterMsg is dispatched when the registration form is submitted.
type RegisterMsg struct {
	Email    string
	Password string
}

// formBindings holds field values on the heap so huh's Value pointers
// stay valid across Bubble Tea model copies.
type formBindings struct {
	email    string
	password string
	code     string
}

// Model is the Bubble Tea model for the auth forms.
type Model struct {
	form    *huh.Form
	fb      *formBindings
	keys    *keys.KeyMap
	mode    Mode
	busy    bool
	errText string
	totpURI string
	width   int
	height  int
}

// New creates the auth view in login mode.
func New(k *keys.KeyMap, width, height int) Model {
	m := Model{
		fb:     &formBindings{},
		keys:   k,
		width:  width,
		height: height,
	}
	m.form = m.buildForm()
	return m
}

// Init focuses the first field of the current form.
func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// Start shows a fresh form in the given mode. The email is kept.
func (m *Model) Start(mode Mode) tea.Cmd {
	m.mode = mode
	m.busy = false
	m.fb.password = ""
	m.fb.code = ""
	m.form = m.buildForm()
	return m.form.Init()
}

// Mode returns the form currently shown.
func (m Model) Mode() Mode {
	return m.mode
}

// SetBusy marks a submission as in flight.
func (m *Model) SetBusy(busy bool) {
	m.busy = busy
}

// Fail shows err and restarts the current form.
func (m *Model) Fail(err error) tea.Cmd {
	m.errText = err.Error()
	return m.Start(m.mode)
}

// Registered shows the provisioning URI and switches to the login form.
func (m *Model) Registered(totpURI string) tea.Cmd {
	m.errText = ""
	m.totpURI = totpURI
	return m.Start(ModeLogin)
}

// Reset clears everything, including the email and any shown URI.
func (m *Model) Reset() tea.Cmd {
	m.fb.email = ""
	m.errText = ""
	m.totpURI = ""
	return m.Start(ModeLogin)
}

// Update handles messages for the auth view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil || m.busy {
		return m, nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, m.keys.ToggleMode) {
		next := ModeRegister
		if m.mode == ModeRegister {
			next = ModeLogin
		}
		m.errText = ""
		return m, m.Start(next)
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.busy = true
		m.errText = ""
		return m, m.handleSubmit()
	case huh.StateAborted:
		return m, m.Start(m.mode)
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
		Render("SecureMail · " + m.mode.String())

	parts := []string{title}

	if m.totpURI != "" {
		parts = append(parts,
			lipgloss.NewStyle().Foreground(theme.ColorGreen).Render(
				"Account created. Add this URI to your authenticator app:"),
			m.totpURI,
			"",
		)
	}

	if m.busy {
		parts = append(parts, theme.HelpStyle.Render("Working…"))
	} else {
		parts = append(parts, m.form.View())
	}

	if m.errText != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.ColorRed).Render(m.errText))
	}

	other := ModeRegister
	if m.mode == ModeRegister {
		other = ModeLogin
	}
	parts = append(parts, "", theme.HelpStyle.Render(
		fmt.Sprintf("%s to %s", m.keys.ToggleMode.Help().Key, strings.ToLower(other.String())),
	))

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
	fields := []huh.Field{
		huh.NewInput().
			Title("Email").
			Placeholder("you@smail.com").
			Value(&m.fb.email).
			Validate(validateRequired("Email")),
		huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&m.fb.password).
			Validate(validateRequired("Password")),
	}
	if m.mode == ModeLogin {
		fields = append(fields, huh.NewInput().
			Title("Authenticator code").
			Placeholder("123456").
			Value(&m.fb.code).
			Validate(validateRequired("Code")))
	}

	return huh.NewForm(huh.NewGroup(fields...)).
		WithWidth(m.formWidth()).
		WithShowHelp(false)
}

func (m Model) handleSubmit() tea.Cmd {
	email := strings.TrimSpace(m.fb.email)
	password := m.fb.password
	if m.mode == ModeRegister {
		return func() tea.Msg { return RegisterMsg{Email: email, Password: password} }
	}
	code := strings.TrimSpace(m.fb.code)
	return func() tea.Msg { return LoginMsg{Email: email, Password: password, Code: code} }
}

func (m Model) formWidth() int {
	return min(max(m.width-4, 40), 80)
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}
