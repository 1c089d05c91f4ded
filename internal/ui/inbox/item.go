package inbox

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/nhle/securemail/internal/model"
	"github.com/nhle/securemail/internal/theme"
)

const unreadMarker = "●"

// MessageItem wraps a model.MessageSummary for the bubbles list.
type MessageItem struct {
	Summary model.MessageSummary
}

// FilterValue returns the string used for fuzzy filtering.
func (i MessageItem) FilterValue() string { return i.Summary.Subject }

// Title returns the subject, or a placeholder for an empty one.
func (i MessageItem) Title() string {
	if i.Summary.Subject == "" {
		return "(no subject)"
	}
	return i.Summary.Subject
}

// Description returns the sender and the relative receive time.
func (i MessageItem) Description() string {
	return fmt.Sprintf("%s · %s", i.Summary.SenderAddress, relativeTime(i.Summary.CreatedAt))
}

// ItemDelegate renders one inbox row per line.
type ItemDelegate struct{}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single row: unread marker, sender, subject, age.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(MessageItem)
	if !ok {
		return
	}

	marker := " "
	if it.Summary.Unread() {
		marker = unreadMarker
	}

	line := fmt.Sprintf("%s %-28s %s", marker, clip(it.Summary.SenderAddress, 28), it.Title())
	if it.Summary.Unread() {
		line = theme.UnreadStyle.Render(line)
	}
	line += "  " + theme.MutedStyle.Render(relativeTime(it.Summary.CreatedAt))

	if index == m.Index() {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}

	fmt.Fprint(w, line)
}

func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.Time(t)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
