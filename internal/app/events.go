package app

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/securemail/internal/mailbox"
	"github.com/nhle/securemail/internal/session"
)

// sessionEventMsg forwards a session change into the Bubble Tea loop.
type sessionEventMsg struct {
	event session.Event
}

// mailboxEventMsg forwards a mailbox change into the Bubble Tea loop.
type mailboxEventMsg struct {
	event mailbox.Event
}

// bridge turns observer callbacks, which fire on command goroutines,
// into messages for the update loop. Session changes travel on their own
// one-slot channel that always holds the latest change.
type bridge struct {
	events  chan tea.Msg
	session chan tea.Msg
	mu      sync.Mutex
	unsub   []func()
}

func newBridge(sess *session.Manager, mb *mailbox.Store) *bridge {
	b := &bridge{
		events:  make(chan tea.Msg, 64),
		session: make(chan tea.Msg, 1),
	}
	b.unsub = append(b.unsub,
		sess.Subscribe(func(ev session.Event) {
			b.publishSession(sessionEventMsg{event: ev})
		}),
		mb.Subscribe(func(ev mailbox.Event) {
			b.publish(mailboxEventMsg{event: ev})
		}),
	)
	return b
}

// publish never blocks the notifying goroutine. Views re-read store
// state on every mailbox event, so one dropped while the buffer is full
// is redrawn by any event still queued.
func (b *bridge) publish(msg tea.Msg) {
	select {
	case b.events <- msg:
	default:
	}
}

// publishSession replaces an undelivered session change with msg.
func (b *bridge) publishSession(msg tea.Msg) {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.session:
	default:
	}
	b.session <- msg
}

// wait returns a command that delivers the next event, session changes
// first.
func (b *bridge) wait() tea.Cmd {
	events, sess := b.events, b.session
	return func() tea.Msg {
		select {
		case msg := <-sess:
			return msg
		default:
		}
		select {
		case msg := <-sess:
			return msg
		case msg := <-events:
			return msg
		}
	}
}

func (b *bridge) close() {
	for _, fn := range b.unsub {
		fn()
	}
	b.unsub = nil
}
