package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/nhle/securemail/internal/api"
	"github.com/nhle/securemail/internal/attachment"
	"github.com/nhle/securemail/internal/credential"
	"github.com/nhle/securemail/internal/mailbox"
	"github.com/nhle/securemail/internal/session"
	"github.com/nhle/securemail/internal/status"
	"github.com/nhle/securemail/internal/ui/detail"
	"github.com/nhle/securemail/internal/ui/inbox"
	"github.com/nhle/securemail/tests/testutil"
)

type fixture struct {
	backend *testutil.Backend
	sess    *session.Manager
	mailbox *mailbox.Store
	model   Model
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	backend := testutil.NewBackend(t)
	client := api.NewClient(backend.URL)
	sess := session.NewManager(client, credential.NewMemory(), zerolog.Nop())
	codec := attachment.New(t.TempDir(), zerolog.Nop())
	mb := mailbox.New(client, sess, codec, zerolog.Nop())
	t.Cleanup(mb.Close)

	m := New(Deps{
		Session: sess,
		Mailbox: mb,
		Codec:   codec,
		Monitor: status.New(client, 0, zerolog.Nop()),
		Log:     zerolog.Nop(),
	})
	t.Cleanup(m.Close)

	f := &fixture{backend: backend, sess: sess, mailbox: mb, model: m}
	f.send(tea.WindowSizeMsg{Width: 120, Height: 30})
	return f
}

func (f *fixture) send(msg tea.Msg) tea.Cmd {
	next, cmd := f.model.Update(msg)
	f.model = next.(Model)
	return cmd
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	f.backend.AddUser("alice@smail.com", "password123")
	if _, err := f.sess.Login(context.Background(), "alice@smail.com", "password123", testutil.TOTPCode); err != nil {
		t.Fatal(err)
	}
	f.send(sessionEventMsg{event: session.Event{Authenticated: true, Reason: session.ReasonLogin}})
}

func (f *fixture) refresh(t *testing.T) {
	t.Helper()
	if _, err := f.mailbox.RefreshList(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.send(mailboxEventMsg{event: mailbox.Event{Kind: mailbox.EventListUpdated}})
}

func TestStartsOnLoginForm(t *testing.T) {
	f := newFixture(t)
	if f.model.CurrentView() != ViewAuth {
		t.Fatalf("view = %v, want auth", f.model.CurrentView())
	}
	if !strings.Contains(f.model.View(), "Log in") {
		t.Error("login form not rendered")
	}
}

func TestSessionEventsSwitchViews(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	if f.model.CurrentView() != ViewInbox {
		t.Fatalf("view after login = %v", f.model.CurrentView())
	}

	f.sess.Logout()
	f.send(sessionEventMsg{event: session.Event{Reason: session.ReasonLogout}})
	if f.model.CurrentView() != ViewAuth {
		t.Fatalf("view after logout = %v", f.model.CurrentView())
	}
	if !strings.Contains(f.model.View(), "Logged out") {
		t.Error("status bar should report the logout")
	}
}

func TestInboxShowsMessagesAndHidesThemAfterLogout(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.backend.AddUser("bob@smail.com", "password123")
	f.backend.Deliver("bob@smail.com", []string{"alice@smail.com"}, "Quarterly numbers", "see attached", nil)
	f.refresh(t)

	view := f.model.View()
	if !strings.Contains(view, "Quarterly numbers") {
		t.Fatalf("inbox does not show the message:\n%s", view)
	}
	if !strings.Contains(view, "[1 unread]") {
		t.Error("header should count unread messages")
	}

	f.sess.Logout()
	f.send(sessionEventMsg{event: session.Event{Reason: session.ReasonLogout}})
	if strings.Contains(f.model.View(), "Quarterly numbers") {
		t.Error("mailbox content visible after logout")
	}
}

func TestEmptyInbox(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	if !strings.Contains(f.model.View(), "Loading…") {
		t.Error("inbox should show loading before the first refresh")
	}
	f.refresh(t)
	if !strings.Contains(f.model.View(), "No messages.") {
		t.Errorf("empty inbox view:\n%s", f.model.View())
	}
}

func TestExpiredSessionReturnsToLogin(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	tok, _ := f.sess.Token()

	f.sess.Expire(tok)
	f.send(sessionEventMsg{event: session.Event{Reason: session.ReasonExpired}})

	if f.model.CurrentView() != ViewAuth {
		t.Fatalf("view = %v, want auth", f.model.CurrentView())
	}
	if !strings.Contains(f.model.View(), "Session expired") {
		t.Error("expiry message missing from status bar")
	}
}

func TestSupersededResultsAreIgnored(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.send(opResultMsg{text: "Inbox refreshed"})

	f.send(opResultMsg{err: mailbox.ErrSuperseded})
	f.send(selectResultMsg{id: 7, err: mailbox.ErrSuperseded})

	if f.model.statusErr || f.model.statusText != "Inbox refreshed" {
		t.Errorf("status = %q (err=%v)", f.model.statusText, f.model.statusErr)
	}
}

func TestOpenShowsLoadingThenDetail(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.backend.AddUser("bob@smail.com", "password123")
	id := f.backend.Deliver("bob@smail.com", []string{"alice@smail.com"}, "Hello", "Body text", nil)
	f.refresh(t)

	cmd := f.send(inbox.OpenMsg{ID: id})
	if f.model.CurrentView() != ViewDetail {
		t.Fatalf("view = %v", f.model.CurrentView())
	}
	if !strings.Contains(f.model.View(), "Loading…") {
		t.Error("detail should show loading until the response arrives")
	}
	if cmd == nil {
		t.Fatal("open returned no command")
	}

	f.send(cmd())
	view := f.model.View()
	if !strings.Contains(view, "Body text") || !strings.Contains(view, "bob@smail.com") {
		t.Errorf("detail view:\n%s", view)
	}

	f.send(detail.BackMsg{})
	if f.model.CurrentView() != ViewInbox {
		t.Errorf("view after back = %v", f.model.CurrentView())
	}
}

func TestFailedOpenReturnsToInbox(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	f.send(inbox.OpenMsg{ID: 99})
	f.send(selectResultMsg{id: 99, err: errors.New("Message not found")})

	if f.model.CurrentView() != ViewInbox {
		t.Errorf("view = %v", f.model.CurrentView())
	}
	if !f.model.statusErr || f.model.statusText != "Message not found" {
		t.Errorf("status = %q", f.model.statusText)
	}
}

func TestQuitIgnoredWhileTyping(t *testing.T) {
	f := newFixture(t)
	cmd := f.send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd != nil {
		if _, ok := cmd().(tea.QuitMsg); ok {
			t.Error("q should type into the login form, not quit")
		}
	}
}

func TestSessionChangeSurvivesFullEventBuffer(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	for i := 0; i < 200; i++ {
		f.model.events.publish(mailboxEventMsg{event: mailbox.Event{Kind: mailbox.EventListUpdated}})
	}
	f.sess.Logout()

	msg := f.model.events.wait()()
	ev, ok := msg.(sessionEventMsg)
	if !ok {
		t.Fatalf("next event = %T, want the session change", msg)
	}
	if ev.event.Authenticated {
		t.Error("delivered session event should be the logout")
	}

	f.send(msg)
	if f.model.CurrentView() != ViewAuth {
		t.Errorf("view = %v, want auth", f.model.CurrentView())
	}
}
