package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/securemail/internal/mailbox"
	"github.com/nhle/securemail/internal/model"
	"github.com/nhle/securemail/internal/ui/compose"
)

// loginResultMsg reports the outcome of a login attempt. Success is
// also announced through the session event.
type loginResultMsg struct {
	err error
}

// registerResultMsg carries the provisioning URI of a new account.
type registerResultMsg struct {
	totpURI string
	err     error
}

// selectResultMsg reports the outcome of opening a message.
type selectResultMsg struct {
	id     int64
	detail *model.MessageDetail
	err    error
}

// sendResultMsg reports the outcome of sending the draft.
type sendResultMsg struct {
	id  int64
	err error
}

// deleteResultMsg reports the outcome of deleting the open message.
type deleteResultMsg struct {
	err error
}

// opResultMsg is the outcome of an operation that only updates the
// status bar.
type opResultMsg struct {
	text string
	err  error
}

func (m Model) login(email, password, code string) tea.Cmd {
	sess := m.session
	return func() tea.Msg {
		_, err := sess.Login(context.Background(), email, password, code)
		return loginResultMsg{err: err}
	}
}

func (m Model) register(email, password string) tea.Cmd {
	sess := m.session
	return func() tea.Msg {
		uri, err := sess.Register(context.Background(), email, password)
		return registerResultMsg{totpURI: uri, err: err}
	}
}

func (m Model) refreshInbox() tea.Cmd {
	mb := m.mailbox
	return func() tea.Msg {
		msgs, err := mb.RefreshList(context.Background())
		if err != nil {
			return opResultMsg{err: err}
		}
		return opResultMsg{text: fmt.Sprintf("Inbox refreshed · %d messages", len(msgs))}
	}
}

func (m Model) openMessage(id int64) tea.Cmd {
	mb := m.mailbox
	return func() tea.Msg {
		detail, err := mb.SelectMessage(context.Background(), id)
		return selectResultMsg{id: id, detail: detail, err: err}
	}
}

func (m Model) markUnread(id int64) tea.Cmd {
	mb := m.mailbox
	return func() tea.Msg {
		err := mb.MarkUnread(context.Background(), id)
		var refreshErr *mailbox.RefreshError
		if err != nil && !errors.As(err, &refreshErr) {
			return opResultMsg{err: err}
		}
		return opResultMsg{text: "Marked as unread", err: err}
	}
}

func (m Model) deleteSelected() tea.Cmd {
	mb := m.mailbox
	return func() tea.Msg {
		return deleteResultMsg{err: mb.DeleteSelected(context.Background())}
	}
}

func (m Model) download(ref model.AttachmentRef) tea.Cmd {
	mb := m.mailbox
	return func() tea.Msg {
		path, err := mb.DownloadAttachment(context.Background(), ref)
		if err != nil {
			return opResultMsg{err: err}
		}
		return opResultMsg{text: "Saved " + filepath.Base(path) + " to " + filepath.Dir(path)}
	}
}

// send encodes the attachment into the codec slot and sends the draft.
// A blank path clears the slot so a previous attachment is not reused.
func (m Model) send(msg compose.SendMsg) tea.Cmd {
	mb := m.mailbox
	codec := m.codec
	return func() tea.Msg {
		ctx := context.Background()
		if _, err := codec.Attach(ctx, msg.AttachmentPath); err != nil {
			return sendResultMsg{err: err}
		}
		id, err := mb.Send(ctx, mailbox.Draft{
			Recipients: msg.Recipients,
			Subject:    msg.Subject,
			Body:       msg.Body,
		})
		return sendResultMsg{id: id, err: err}
	}
}
