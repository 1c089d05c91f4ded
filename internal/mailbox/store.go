// Package mailbox keeps the local view of the inbox in step with the
// server. Every mutation is confirmed by the server and followed by a
// full refresh of the listing; nothing is applied optimistically.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/securemail/internal/api"
	"github.com/nhle/securemail/internal/attachment"
	"github.com/nhle/securemail/internal/model"
	"github.com/nhle/securemail/internal/session"
)

// ErrSessionExpired is returned after the server rejected the token. The
// session has already been expired when a caller sees it.
var ErrSessionExpired = &api.UnauthorizedError{Message: "Session expired. Please log in again."}

// ErrSuperseded means a newer selection or session change made this
// response irrelevant. Callers should ignore it.
var ErrSuperseded = errors.New("request superseded")

// RefreshError reports that a mutation succeeded but the listing could
// not be reloaded afterwards.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return "saved, but refreshing the inbox failed: " + e.Err.Error()
}

func (e *RefreshError) Unwrap() error { return e.Err }

// ReadReceiptError reports that a message was opened but could not be
// marked as read. The detail is still selected.
type ReadReceiptError struct {
	Err error
}

func (e *ReadReceiptError) Error() string {
	return "could not mark message as read: " + e.Err.Error()
}

func (e *ReadReceiptError) Unwrap() error { return e.Err }

// API is the mailbox half of the transport.
type API interface {
	ListMessages(ctx context.Context, token string) ([]model.MessageSummary, error)
	GetMessage(ctx context.Context, token string, id int64) (*model.MessageDetail, error)
	SendMessage(ctx context.Context, token string, msg model.OutgoingMessage) (int64, error)
	MarkRead(ctx context.Context, token string, id int64) error
	MarkUnread(ctx context.Context, token string, id int64) error
	DeleteMessage(ctx context.Context, token string, id int64) error
	DownloadAttachment(ctx context.Context, token string, id int64) (*model.AttachmentData, error)
}

// Session is what the store needs from the session manager.
type Session interface {
	Token() (string, bool)
	Expire(token string)
	Subscribe(fn func(session.Event)) func()
}

// EventKind identifies what changed.
type EventKind int

const (
	EventListUpdated EventKind = iota
	EventSelectionChanged
	EventLoadingChanged
	EventCleared
)

func (k EventKind) String() string {
	switch k {
	case EventListUpdated:
		return "list-updated"
	case EventSelectionChanged:
		return "selection-changed"
	case EventLoadingChanged:
		return "loading-changed"
	case EventCleared:
		return "cleared"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is published after each state change.
type Event struct {
	Kind EventKind
}

// LoadingState says which regions are waiting on the server.
type LoadingState struct {
	List   bool
	Detail bool
}

// Draft is the compose form as typed by the user.
type Draft struct {
	// Recipients is the raw recipients field; see model.ParseRecipients.
	Recipients string
	Subject    string
	Body       string

	// Attachment overrides the codec's pending attachment when set.
	Attachment *model.OutgoingAttachment
}

// Store is the local copy of the inbox and the selected message.
type Store struct {
	api   API
	sess  Session
	codec *attachment.Codec
	log   zerolog.Logger

	mu          sync.Mutex
	messages    []model.MessageSummary
	selected    *model.MessageDetail
	selSeq      uint64
	epoch       uint64
	listSeq     uint64
	listApplied uint64
	listLoads   int
	detailWait  bool
	observers   map[int]func(Event)
	nextObs     int
	unsubscribe func()
}

// New creates a store and subscribes it to session changes. Call Close
// to detach it.
func New(a API, sess Session, codec *attachment.Codec, log zerolog.Logger) *Store {
	s := &Store{
		api:       a,
		sess:      sess,
		codec:     codec,
		log:       log,
		observers: make(map[int]func(Event)),
	}
	s.unsubscribe = sess.Subscribe(s.onSessionEvent)
	return s
}

// Close detaches the store from the session.
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// onSessionEvent drops everything the previous session could see.
func (s *Store) onSessionEvent(ev session.Event) {
	s.mu.Lock()
	s.messages = nil
	s.selected = nil
	s.selSeq++
	s.epoch++
	s.listLoads = 0
	s.detailWait = false
	s.mu.Unlock()

	if !ev.Authenticated {
		s.codec.Clear()
	}
	s.log.Debug().Stringer("reason", ev.Reason).Msg("mailbox cleared")
	s.notify(EventCleared)
}

// Subscribe registers fn for state changes and returns a function that
// removes it. fn is never called with the store's lock held.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(kinds ...EventKind) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, kind := range kinds {
		for _, fn := range fns {
			fn(Event{Kind: kind})
		}
	}
}

// token reads the current token once; the caller uses it for the whole
// operation.
func (s *Store) token() (string, error) {
	tok, ok := s.sess.Token()
	if !ok {
		return "", api.ErrNotAuthenticated
	}
	return tok, nil
}

// check turns a 401 into a forced logout. It runs before any local state
// is touched.
func (s *Store) check(err error, token string) error {
	if api.IsUnauthorized(err) {
		s.log.Info().Err(err).Msg("server rejected session")
		s.sess.Expire(token)
		return ErrSessionExpired
	}
	return err
}

// Messages returns a copy of the listing in server order.
func (s *Store) Messages() []model.MessageSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneSummaries(s.messages)
}

// Selected returns a copy of the selected message, or nil.
func (s *Store) Selected() *model.MessageDetail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected.Clone()
}

// Loading reports which regions are waiting on the server.
func (s *Store) Loading() LoadingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return LoadingState{List: s.listLoads > 0, Detail: s.detailWait}
}

// UnreadCount counts unread rows in the listing.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.Unread() {
			n++
		}
	}
	return n
}

// RefreshList replaces the listing with the server's and brings the
// selected detail's read state in line with its row. A listing requested
// before one that was already applied, or before a confirmed mutation,
// is discarded with ErrSuperseded.
func (s *Store) RefreshList(ctx context.Context) ([]model.MessageSummary, error) {
	tok, err := s.token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	epoch := s.epoch
	s.listSeq++
	seq := s.listSeq
	s.listLoads++
	s.mu.Unlock()
	s.notify(EventLoadingChanged)

	items, err := s.api.ListMessages(ctx, tok)
	if err != nil {
		if err = s.check(err, tok); errors.Is(err, ErrSessionExpired) {
			return nil, err
		}
		s.mu.Lock()
		stale := epoch != s.epoch || seq <= s.listApplied
		if epoch == s.epoch && s.listLoads > 0 {
			s.listLoads--
		}
		s.mu.Unlock()
		s.notify(EventLoadingChanged)
		if stale {
			return nil, ErrSuperseded
		}
		return nil, err
	}

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return nil, ErrSuperseded
	}
	if s.listLoads > 0 {
		s.listLoads--
	}
	if seq <= s.listApplied {
		s.mu.Unlock()
		s.log.Debug().Uint64("seq", seq).Msg("dropping superseded listing")
		s.notify(EventLoadingChanged)
		return nil, ErrSuperseded
	}
	s.listApplied = seq
	s.messages = model.CloneSummaries(items)
	selectionChanged := false
	if s.selected != nil {
		for _, row := range s.messages {
			if row.ID == s.selected.ID {
				if !sameTime(row.ReadAt, s.selected.ReadAt) {
					s.selected.ReadAt = copyTime(row.ReadAt)
					selectionChanged = true
				}
				break
			}
		}
	}
	out := model.CloneSummaries(s.messages)
	s.mu.Unlock()

	s.log.Debug().Int("count", len(out)).Msg("inbox refreshed")
	if selectionChanged {
		s.notify(EventLoadingChanged, EventListUpdated, EventSelectionChanged)
	} else {
		s.notify(EventLoadingChanged, EventListUpdated)
	}
	return out, nil
}

// SelectMessage fetches a message and makes it the selection. Only the
// most recent call can win; earlier ones return ErrSuperseded whatever
// order the responses arrive in. An unread message is then marked read;
// if that fails the detail stays selected and a *ReadReceiptError is
// returned along with it.
func (s *Store) SelectMessage(ctx context.Context, id int64) (*model.MessageDetail, error) {
	tok, err := s.token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.selSeq++
	seq := s.selSeq
	epoch := s.epoch
	s.detailWait = true
	s.mu.Unlock()
	s.notify(EventLoadingChanged)

	detail, err := s.api.GetMessage(ctx, tok, id)
	if err != nil {
		if err = s.check(err, tok); errors.Is(err, ErrSessionExpired) {
			return nil, err
		}

		// The selection follows what was asked for last, even when it
		// could not be fetched.
		s.mu.Lock()
		current := seq == s.selSeq && epoch == s.epoch
		if current {
			s.detailWait = false
			s.selected = nil
		}
		s.mu.Unlock()

		if !current {
			return nil, ErrSuperseded
		}
		s.notify(EventLoadingChanged, EventSelectionChanged)
		return nil, err
	}

	s.mu.Lock()
	if seq != s.selSeq || epoch != s.epoch {
		s.mu.Unlock()
		s.log.Debug().Int64("id", id).Msg("dropping superseded message detail")
		return nil, ErrSuperseded
	}
	s.selected = detail.Clone()
	s.detailWait = false
	s.mu.Unlock()
	s.notify(EventLoadingChanged, EventSelectionChanged)

	if !detail.Unread() {
		return detail.Clone(), nil
	}

	err = s.setReadState(ctx, tok, id, true)

	s.mu.Lock()
	stale := seq != s.selSeq || epoch != s.epoch
	current := s.selected.Clone()
	s.mu.Unlock()

	var refreshErr *RefreshError
	switch {
	case errors.Is(err, ErrSessionExpired):
		return nil, err
	case stale:
		return nil, ErrSuperseded
	case err == nil:
		return current, nil
	case errors.As(err, &refreshErr):
		return current, err
	default:
		s.log.Warn().Err(err).Int64("id", id).Msg("read receipt failed")
		return current, &ReadReceiptError{Err: err}
	}
}

// MarkRead records a read receipt for the selected message.
func (s *Store) MarkRead(ctx context.Context, id int64) error {
	return s.markSelected(ctx, id, true)
}

// MarkUnread clears the read receipt of the selected message.
func (s *Store) MarkUnread(ctx context.Context, id int64) error {
	return s.markSelected(ctx, id, false)
}

func (s *Store) markSelected(ctx context.Context, id int64, read bool) error {
	tok, err := s.token()
	if err != nil {
		return err
	}

	s.mu.Lock()
	selected := s.selected != nil && s.selected.ID == id
	s.mu.Unlock()
	if !selected {
		return &api.ValidationError{Field: "id", Message: "that message is not open"}
	}

	return s.setReadState(ctx, tok, id, read)
}

// setReadState performs the round trip, then applies the same read time
// to the detail and its row before refreshing.
func (s *Store) setReadState(ctx context.Context, tok string, id int64, read bool) error {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	var err error
	if read {
		err = s.api.MarkRead(ctx, tok, id)
	} else {
		err = s.api.MarkUnread(ctx, tok, id)
	}
	if err != nil {
		return s.check(err, tok)
	}

	var readAt *time.Time
	if read {
		now := time.Now().UTC()
		readAt = &now
	}

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return ErrSuperseded
	}
	if s.selected != nil && s.selected.ID == id {
		s.selected.ReadAt = copyTime(readAt)
	}
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].ReadAt = copyTime(readAt)
		}
	}
	s.invalidateListingsLocked()
	s.mu.Unlock()
	s.notify(EventListUpdated, EventSelectionChanged)

	return s.refreshAfterMutation(ctx, epoch)
}

// invalidateListingsLocked discards every listing still in flight; they
// were requested before the change just confirmed by the server.
func (s *Store) invalidateListingsLocked() {
	s.listApplied = s.listSeq
}

// refreshAfterMutation reloads the listing. Losing to a newer listing of
// the same session is fine; that one already reflects the mutation.
func (s *Store) refreshAfterMutation(ctx context.Context, epoch uint64) error {
	_, err := s.RefreshList(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSuperseded) {
		s.mu.Lock()
		same := epoch == s.epoch
		s.mu.Unlock()
		if same {
			return nil
		}
	}
	return &RefreshError{Err: err}
}

// DeleteSelected deletes the selected message. On failure the selection
// is kept.
func (s *Store) DeleteSelected(ctx context.Context) error {
	tok, err := s.token()
	if err != nil {
		return err
	}

	s.mu.Lock()
	var id int64
	hasSelection := s.selected != nil
	if hasSelection {
		id = s.selected.ID
	}
	epoch := s.epoch
	s.mu.Unlock()
	if !hasSelection {
		return &api.ValidationError{Field: "selection", Message: "no message is open"}
	}

	if err := s.api.DeleteMessage(ctx, tok, id); err != nil {
		return s.check(err, tok)
	}

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return ErrSuperseded
	}
	if s.selected != nil && s.selected.ID == id {
		s.selected = nil
	}
	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	s.invalidateListingsLocked()
	s.mu.Unlock()

	s.log.Info().Int64("id", id).Msg("message deleted")
	s.notify(EventListUpdated, EventSelectionChanged)

	return s.refreshAfterMutation(ctx, epoch)
}

// Send validates the draft, submits it and refreshes the listing. It
// returns the new message id. Validation failures never reach the
// network.
func (s *Store) Send(ctx context.Context, d Draft) (int64, error) {
	tok, err := s.token()
	if err != nil {
		return 0, err
	}

	recipients := model.ParseRecipients(d.Recipients)
	if len(recipients) == 0 {
		return 0, &api.ValidationError{Field: "recipients", Message: "at least one recipient is required"}
	}

	msg := model.OutgoingMessage{
		Recipients:  recipients,
		Subject:     d.Subject,
		Body:        d.Body,
		Attachments: s.codec.Pending(),
	}
	if d.Attachment != nil {
		msg.Attachments = []model.OutgoingAttachment{*d.Attachment}
	}

	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	id, err := s.api.SendMessage(ctx, tok, msg)
	if err != nil {
		return 0, s.check(err, tok)
	}

	s.codec.Clear()
	s.log.Info().
		Int64("id", id).
		Int("recipients", len(recipients)).
		Int("attachments", len(msg.Attachments)).
		Msg("message sent")

	s.mu.Lock()
	if epoch == s.epoch {
		s.invalidateListingsLocked()
	}
	s.mu.Unlock()

	if err := s.refreshAfterMutation(ctx, epoch); err != nil {
		return id, err
	}
	return id, nil
}

// DownloadAttachment fetches one attachment and saves it to the download
// directory, returning the saved path.
func (s *Store) DownloadAttachment(ctx context.Context, ref model.AttachmentRef) (string, error) {
	tok, err := s.token()
	if err != nil {
		return "", err
	}

	data, err := s.api.DownloadAttachment(ctx, tok, ref.ID)
	if err != nil {
		return "", s.check(err, tok)
	}

	name := strings.TrimSpace(ref.Filename)
	if name == "" {
		name = strings.TrimSpace(data.Filename)
	}
	if name == "" {
		name = fmt.Sprintf("attachment-%d", ref.ID)
	}

	path, err := s.codec.DecodeForDownload(ctx, data.Data, name)
	if err != nil {
		return "", fmt.Errorf("saving attachment: %w", err)
	}
	return path, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
