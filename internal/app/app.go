package app

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/nhle/securemail/internal/attachment"
	"github.com/nhle/securemail/internal/keys"
	"github.com/nhle/securemail/internal/mailbox"
	"github.com/nhle/securemail/internal/session"
	"github.com/nhle/securemail/internal/status"
	"github.com/nhle/securemail/internal/ui"
	"github.com/nhle/securemail/internal/ui/auth"
	"github.com/nhle/securemail/internal/ui/compose"
	"github.com/nhle/securemail/internal/ui/detail"
	helpview "github.com/nhle/securemail/internal/ui/help"
	"github.com/nhle/securemail/internal/ui/inbox"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewAuth ViewState = iota
	ViewInbox
	ViewDetail
	ViewCompose
	ViewHelp
)

// Deps are the long-lived components the UI drives.
type Deps struct {
	Session *session.Manager
	Mailbox *mailbox.Store
	Codec   *attachment.Codec
	Monitor *status.Monitor
	Log     zerolog.Logger
}

// Model is the root Bubble Tea model. It routes input to the active view
// and runs every server call as a tea.Cmd.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap

	session *session.Manager
	mailbox *mailbox.Store
	codec   *attachment.Codec
	monitor *status.Monitor
	events  *bridge
	log     zerolog.Logger

	auth     auth.Model
	inbox    inbox.Model
	detail   detail.Model
	compose  compose.Model
	helpView helpview.Model

	// openID is the message the detail view is showing or waiting for.
	openID     int64
	backend    status.Result
	unread     int
	statusText string
	statusErr  bool
	ready      bool
}

// New creates the root model. It starts on the inbox when the session
// was restored and on the login form otherwise.
func New(d Deps) Model {
	k := keys.DefaultKeyMap()

	m := Model{
		currentView: ViewAuth,
		keys:        k,
		session:     d.Session,
		mailbox:     d.Mailbox,
		codec:       d.Codec,
		monitor:     d.Monitor,
		events:      newBridge(d.Session, d.Mailbox),
		log:         d.Log,
		auth:        auth.New(k, 80, 24),
		inbox:       inbox.New(k, 80, 24),
		detail:      detail.New(k, 80, 24),
		compose:     compose.New(k, 80, 24),
		helpView:    helpview.New(k, 80, 24),
		backend:     d.Monitor.Current(),
	}

	if d.Session.Authenticated() {
		m.currentView = ViewInbox
		m.inbox.SetLoading(true)
	}
	return m
}

// Init starts the event bridge and the status monitor, then loads the
// inbox or focuses the login form.
func (m Model) Init() tea.Cmd {
	first := m.auth.Init()
	if m.currentView == ViewInbox {
		first = m.refreshInbox()
	}
	return tea.Batch(m.events.wait(), m.monitor.Start(), first)
}

// Close detaches from the stores and stops background probes. Call it
// after the program exits.
func (m Model) Close() {
	m.events.close()
	m.monitor.Stop()
}

// CurrentView reports the active view.
func (m Model) CurrentView() ViewState {
	return m.currentView
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.auth.SetSize(w, h)
		m.inbox.SetSize(w, h)
		m.detail.SetSize(w, h)
		m.compose.SetSize(w, h)
		m.helpView.SetSize(w, h)
		// Forward to the active view so huh forms can lay out.
		return m.updateActiveView(msg)

	case status.ResultMsg:
		m.backend = msg.Result
		return m, m.monitor.WaitForNextResult()

	case sessionEventMsg:
		cmd := m.applySession(msg.event)
		return m, tea.Batch(cmd, m.events.wait())

	case mailboxEventMsg:
		cmd := m.syncMailbox()
		return m, tea.Batch(cmd, m.events.wait())

	case auth.LoginMsg:
		m.setStatus("Logging in…")
		return m, m.login(msg.Email, msg.Password, msg.Code)

	case auth.RegisterMsg:
		m.setStatus("Creating account…")
		return m, m.register(msg.Email, msg.Password)

	case loginResultMsg:
		if msg.err != nil {
			m.setError(msg.err)
			return m, m.auth.Fail(msg.err)
		}
		return m, nil

	case registerResultMsg:
		if msg.err != nil {
			m.setError(msg.err)
			return m, m.auth.Fail(msg.err)
		}
		m.setStatus("Account created. Scan the URI, then log in.")
		return m, m.auth.Registered(msg.totpURI)

	case inbox.OpenMsg:
		m.openID = msg.ID
		m.currentView = ViewDetail
		m.detail.SetMessage(nil)
		m.detail.SetLoading(true)
		return m, m.openMessage(msg.ID)

	case selectResultMsg:
		return m.handleSelected(msg)

	case detail.BackMsg:
		m.openID = 0
		m.currentView = ViewInbox
		return m, nil

	case detail.MarkUnreadMsg:
		return m, m.markUnread(msg.ID)

	case detail.DeleteMsg:
		m.setStatus("Deleting…")
		return m, m.deleteSelected()

	case deleteResultMsg:
		return m.handleDeleted(msg)

	case detail.DownloadMsg:
		m.setStatus(fmt.Sprintf("Downloading %s…", msg.Attachment.Filename))
		return m, m.download(msg.Attachment)

	case compose.SendMsg:
		m.setStatus("Sending…")
		return m, m.send(msg)

	case sendResultMsg:
		return m.handleSent(msg)

	case compose.CancelMsg:
		m.codec.Clear()
		m.currentView = ViewInbox
		m.setStatus("Draft discarded")
		return m, nil

	case opResultMsg:
		switch {
		case errors.Is(msg.err, mailbox.ErrSuperseded):
		case msg.err != nil:
			m.setError(msg.err)
		default:
			m.setStatus(msg.text)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m.updateActiveView(msg)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	if m.currentView == ViewHelp {
		m.currentView = m.previousView
		return m, nil
	}

	// Forms own every other key.
	if m.currentView == ViewAuth || m.currentView == ViewCompose {
		return m.updateActiveView(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.previousView = m.currentView
		m.currentView = ViewHelp
		return m, nil

	case key.Matches(msg, m.keys.Status):
		m.setStatus("Checking backend…")
		return m, m.monitor.Trigger()

	case key.Matches(msg, m.keys.Logout):
		m.session.Logout()
		return m, nil
	}

	if m.currentView == ViewInbox {
		switch {
		case key.Matches(msg, m.keys.Refresh):
			m.setStatus("Refreshing…")
			return m, m.refreshInbox()

		case key.Matches(msg, m.keys.Compose):
			m.currentView = ViewCompose
			return m, m.compose.StartNew()
		}
	}

	return m.updateActiveView(msg)
}

// applySession moves between the login form and the mailbox. Mailbox
// content is dropped whichever way the session changed.
func (m *Model) applySession(ev session.Event) tea.Cmd {
	m.log.Debug().Stringer("reason", ev.Reason).Bool("authenticated", ev.Authenticated).Msg("session changed")

	m.openID = 0
	m.unread = 0
	m.inbox.SetMessages(nil)
	m.detail.SetMessage(nil)

	if m.session.Authenticated() {
		if ev.Reason == session.ReasonRestored {
			m.setStatus("Session restored")
		} else {
			m.setStatus("Logged in")
		}
		m.currentView = ViewInbox
		m.inbox.SetLoading(true)
		return m.refreshInbox()
	}

	if ev.Reason == session.ReasonExpired {
		m.setError(mailbox.ErrSessionExpired)
	} else {
		m.setStatus("Logged out")
	}
	m.currentView = ViewAuth
	m.previousView = ViewAuth
	m.inbox.SetLoading(false)
	return m.auth.Reset()
}

// syncMailbox redraws the inbox and the open message from the store.
func (m *Model) syncMailbox() tea.Cmd {
	if !m.session.Authenticated() {
		return nil
	}

	cmd := m.inbox.SetMessages(m.mailbox.Messages())
	m.inbox.SetLoading(m.mailbox.Loading().List)
	m.unread = m.mailbox.UnreadCount()

	if m.openID != 0 {
		if sel := m.mailbox.Selected(); sel != nil && sel.ID == m.openID {
			m.detail.SetMessage(sel)
		}
	}
	return cmd
}

func (m Model) handleSelected(msg selectResultMsg) (tea.Model, tea.Cmd) {
	if errors.Is(msg.err, mailbox.ErrSuperseded) || msg.id != m.openID {
		return m, nil
	}

	if msg.detail != nil {
		m.detail.SetMessage(msg.detail)
		if msg.err != nil {
			m.setError(msg.err)
		} else {
			m.clearStatus()
		}
		return m, nil
	}

	m.detail.SetLoading(false)
	m.setError(msg.err)
	if m.currentView == ViewDetail {
		m.openID = 0
		m.currentView = ViewInbox
	}
	return m, nil
}

func (m Model) handleDeleted(msg deleteResultMsg) (tea.Model, tea.Cmd) {
	var refreshErr *mailbox.RefreshError
	switch {
	case errors.Is(msg.err, mailbox.ErrSuperseded):
		return m, nil
	case msg.err == nil:
		m.setStatus("Message deleted")
	case errors.As(msg.err, &refreshErr):
		m.setError(msg.err)
	default:
		m.setError(msg.err)
		return m, nil
	}

	m.openID = 0
	m.detail.SetMessage(nil)
	if m.currentView == ViewDetail {
		m.currentView = ViewInbox
	}
	return m, nil
}

func (m Model) handleSent(msg sendResultMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil && msg.id == 0 {
		m.setError(msg.err)
		if m.currentView == ViewCompose {
			return m, m.compose.Retry(msg.err)
		}
		return m, nil
	}

	if msg.err != nil {
		m.setError(fmt.Errorf("message %d sent; %w", msg.id, msg.err))
	} else {
		m.setStatus(fmt.Sprintf("Message %d sent", msg.id))
	}
	if m.currentView == ViewCompose {
		m.currentView = ViewInbox
	}
	return m, nil
}

func (m *Model) setStatus(text string) {
	m.statusText = text
	m.statusErr = false
}

func (m *Model) setError(err error) {
	m.statusText = err.Error()
	m.statusErr = true
}

func (m *Model) clearStatus() {
	m.statusText = ""
	m.statusErr = false
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewAuth:
		m.auth, cmd = m.auth.Update(msg)
	case ViewInbox:
		m.inbox, cmd = m.inbox.Update(msg)
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewCompose:
		m.compose, cmd = m.compose.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := "SecureMail"
	if m.currentView != ViewAuth && m.unread > 0 {
		title = fmt.Sprintf("SecureMail [%d unread]", m.unread)
	}
	state := m.backend.State.String()
	header := m.layout.RenderHeader(title, state, "backend "+state)
	statusBar := m.layout.RenderStatusBar(m.statusText, m.statusErr, m.keyHints())

	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewAuth:
		return m.auth.View()
	case ViewInbox:
		return m.inbox.View()
	case ViewDetail:
		return m.detail.View()
	case ViewCompose:
		return m.compose.View()
	case ViewHelp:
		return m.helpView.View()
	default:
		return ""
	}
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewAuth:
		return "enter next | ctrl+r login/register | ctrl+c quit"
	case ViewDetail:
		return "esc back | u unread | d delete | 1-9 download | j/k scroll"
	case ViewCompose:
		return "enter next | esc discard"
	case ViewHelp:
		return "any key to close"
	default:
		return "q quit | ? help | enter open | r refresh | n compose | s status | L logout"
	}
}
