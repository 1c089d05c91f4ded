package testutil

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// TOTPCode is the only one-time code the fake backend accepts.
const TOTPCode = "123456"

// Backend is an in-process SecureMail server for tests. It keeps users,
// tokens and messages in memory and speaks the same JSON as the real
// service. Timestamps are emitted as naive UTC, like the real backend.
type Backend struct {
	*httptest.Server

	mu          sync.Mutex
	users       map[string]string // email -> password
	tokens      map[string]string // token -> email
	messages    map[int64]*fakeMessage
	attachments map[int64]*fakeAttachment
	nextID      int64
	nextToken   int
	hits        map[string]int
	failures    map[string]failure
	holds       map[string]*Hold
	health      string
	now         time.Time
}

type failure struct {
	status int
	body   string
}

type fakeMessage struct {
	id          int64
	sender      string
	recipients  []string
	subject     string
	body        string
	createdAt   time.Time
	readAt      map[string]time.Time
	deleted     map[string]bool
	attachments []int64
}

type fakeAttachment struct {
	id          int64
	filename    string
	contentType string
	data        []byte
}

// Hold parks matching requests until Release is called.
type Hold struct {
	arrived chan struct{}
	release chan struct{}
	once    sync.Once
}

// Arrived is closed once a matching request reaches the server.
func (h *Hold) Arrived() <-chan struct{} { return h.arrived }

// Release lets the parked request finish.
func (h *Hold) Release() { close(h.release) }

// NewBackend starts a fake backend that is closed when the test ends.
func NewBackend(t *testing.T) *Backend {
	t.Helper()

	b := &Backend{
		users:       make(map[string]string),
		tokens:      make(map[string]string),
		messages:    make(map[int64]*fakeMessage),
		attachments: make(map[int64]*fakeAttachment),
		hits:        make(map[string]int),
		failures:    make(map[string]failure),
		holds:       make(map[string]*Hold),
		health:      "ok",
		now:         time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", b.handleHealth)
	mux.HandleFunc("POST /api/auth/register", b.handleRegister)
	mux.HandleFunc("POST /api/auth/login", b.handleLogin)
	mux.HandleFunc("GET /api/messages", b.handleList)
	mux.HandleFunc("POST /api/messages", b.handleSend)
	mux.HandleFunc("GET /api/messages/{id}", b.handleGet)
	mux.HandleFunc("DELETE /api/messages/{id}", b.handleDelete)
	mux.HandleFunc("POST /api/messages/{id}/read", b.handleRead)
	mux.HandleFunc("POST /api/messages/{id}/unread", b.handleUnread)
	mux.HandleFunc("GET /api/attachments/{id}", b.handleDownload)

	b.Server = httptest.NewServer(b.intercept(mux))
	t.Cleanup(b.Close)
	return b
}

// intercept counts requests and applies queued failures and holds.
func (b *Backend) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + r.URL.Path

		b.mu.Lock()
		b.hits[route]++
		f, failing := b.failures[route]
		if failing {
			delete(b.failures, route)
		}
		h := b.holds[route]
		if h != nil {
			delete(b.holds, route)
		}
		b.mu.Unlock()

		if h != nil {
			h.once.Do(func() { close(h.arrived) })
			<-h.release
		}

		if failing {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(f.body))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AddUser registers an account directly.
func (b *Backend) AddUser(email, password string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[strings.ToLower(email)] = password
}

// IssueToken returns a valid token for an existing user.
func (b *Backend) IssueToken(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.issueTokenLocked(strings.ToLower(email))
}

func (b *Backend) issueTokenLocked(email string) string {
	b.nextToken++
	tok := fmt.Sprintf("token-%d-%s", b.nextToken, email)
	b.tokens[tok] = email
	return tok
}

// RevokeTokens invalidates every issued token.
func (b *Backend) RevokeTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = make(map[string]string)
}

// SetHealth changes the status value /api/health reports.
func (b *Backend) SetHealth(status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.health = status
}

// Deliver stores a message from sender to recipients and returns its id.
// Each attachment is given as filename -> bytes.
func (b *Backend) Deliver(sender string, recipients []string, subject, body string, files map[string][]byte) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var names []string
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var ids []int64
	for _, name := range names {
		ids = append(ids, b.addAttachmentLocked(name, mime.TypeByExtension(extOf(name)), files[name]))
	}
	return b.addMessageLocked(strings.ToLower(sender), recipients, subject, body, ids)
}

// Fail makes the next request to route ("METHOD /path") answer with
// status and a {"detail": detail} body.
func (b *Backend) Fail(route string, status int, detail string) {
	body, _ := json.Marshal(map[string]string{"detail": detail})
	b.FailRaw(route, status, string(body))
}

// FailRaw is Fail with an arbitrary body.
func (b *Backend) FailRaw(route string, status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[route] = failure{status: status, body: body}
}

// HoldNext parks the next request to route until the returned hold is
// released.
func (b *Backend) HoldNext(route string) *Hold {
	h := &Hold{arrived: make(chan struct{}), release: make(chan struct{})}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holds[route] = h
	return h
}

// Hits reports how many requests reached route.
func (b *Backend) Hits(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[route]
}

// TotalHits reports how many requests reached the server.
func (b *Backend) TotalHits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.hits {
		n += c
	}
	return n
}

// ReadAt reports when reader last read message id, if at all.
func (b *Backend) ReadAt(id int64, reader string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.messages[id]
	if !ok {
		return time.Time{}, false
	}
	at, ok := m.readAt[strings.ToLower(reader)]
	return at, ok
}

func (b *Backend) addAttachmentLocked(name, contentType string, data []byte) int64 {
	b.nextID++
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	b.attachments[b.nextID] = &fakeAttachment{
		id:          b.nextID,
		filename:    name,
		contentType: contentType,
		data:        append([]byte(nil), data...),
	}
	return b.nextID
}

func (b *Backend) addMessageLocked(sender string, recipients []string, subject, body string, attachmentIDs []int64) int64 {
	b.nextID++
	b.now = b.now.Add(time.Minute)
	var rcpts []string
	for _, r := range recipients {
		rcpts = append(rcpts, strings.ToLower(r))
	}
	b.messages[b.nextID] = &fakeMessage{
		id:          b.nextID,
		sender:      sender,
		recipients:  rcpts,
		subject:     subject,
		body:        body,
		createdAt:   b.now,
		readAt:      make(map[string]time.Time),
		deleted:     make(map[string]bool),
		attachments: attachmentIDs,
	}
	return b.nextID
}

func naive(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000")
}

func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i:]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail interface{}) {
	writeJSON(w, status, map[string]interface{}{"detail": detail})
}

func (b *Backend) handleHealth(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	status := b.health
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (b *Backend) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body")
		return
	}

	var problems []map[string]interface{}
	if !strings.Contains(req.Email, "@") {
		problems = append(problems, map[string]interface{}{
			"loc": []string{"body", "email"}, "msg": "value is not a valid email address",
		})
	}
	if len(req.Password) < 8 {
		problems = append(problems, map[string]interface{}{
			"loc": []string{"body", "password"}, "msg": "String should have at least 8 characters",
		})
	}
	if len(problems) > 0 {
		writeDetail(w, http.StatusUnprocessableEntity, problems)
		return
	}

	email := strings.ToLower(req.Email)
	b.mu.Lock()
	if _, exists := b.users[email]; exists {
		b.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	b.users[email] = req.Password
	b.nextID++
	userID := b.nextID
	b.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user":     map[string]interface{}{"id": userID, "email": email},
		"totp_uri": "otpauth://totp/SecureMail:" + email + "?secret=JBSWY3DPEHPK3PXP&issuer=SecureMail",
	})
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		TOTPCode string `json:"totp_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body")
		return
	}

	email := strings.ToLower(req.Email)
	b.mu.Lock()
	password, ok := b.users[email]
	if !ok || password != req.Password || req.TOTPCode != TOTPCode {
		b.mu.Unlock()
		writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	tok := b.issueTokenLocked(email)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"access_token": tok, "token_type": "bearer"})
}

// authorize resolves the bearer token. The caller must hold b.mu.
func (b *Backend) authorizeLocked(w http.ResponseWriter, r *http.Request) (string, bool) {
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	email, ok := b.tokens[tok]
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return "", false
	}
	return email, true
}

// visibleLocked returns the message if user may see it.
func (b *Backend) visibleLocked(w http.ResponseWriter, r *http.Request, user string) (*fakeMessage, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusNotFound, "Message not found")
		return nil, false
	}
	m, ok := b.messages[id]
	if !ok || m.deleted[user] || !containsString(m.recipients, user) {
		writeDetail(w, http.StatusNotFound, "Message not found")
		return nil, false
	}
	return m, true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (b *Backend) readAtJSON(m *fakeMessage, user string) interface{} {
	if at, ok := m.readAt[user]; ok {
		return naive(at)
	}
	return nil
}

func (b *Backend) detailJSON(m *fakeMessage, user string) map[string]interface{} {
	atts := make([]map[string]interface{}, 0, len(m.attachments))
	for _, id := range m.attachments {
		a := b.attachments[id]
		atts = append(atts, map[string]interface{}{
			"id":           a.id,
			"filename":     a.filename,
			"content_type": a.contentType,
			"size":         len(a.data),
		})
	}
	return map[string]interface{}{
		"id":           m.id,
		"subject":      m.subject,
		"body":         m.body,
		"sender_email": m.sender,
		"created_at":   naive(m.createdAt),
		"recipients":   m.recipients,
		"verified":     true,
		"read_at":      b.readAtJSON(m, user),
		"attachments":  atts,
	}
}

func (b *Backend) handleList(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	user, ok := b.authorizeLocked(w, r)
	if !ok {
		return
	}

	var ids []int64
	for id, m := range b.messages {
		if !m.deleted[user] && containsString(m.recipients, user) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	out := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		m := b.messages[id]
		out = append(out, map[string]interface{}{
			"id":           m.id,
			"subject":      m.subject,
			"sender_email": m.sender,
			"created_at":   naive(m.createdAt),
			"read_at":      b.readAtJSON(m, user),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleGet(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	user, ok := b.authorizeLocked(w, r)
	if !ok {
		return
	}
	m, ok := b.visibleLocked(w, r, user)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, b.detailJSON(m, user))
}

func (b *Backend) handleSend(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	user, ok := b.authorizeLocked(w, r)
	if !ok {
		return
	}

	var req struct {
		Recipients  []string `json:"recipients"`
		Subject     string   `json:"subject"`
		Body        string   `json:"body"`
		Attachments []struct {
			Filename    string `json:"filename"`
			ContentType string `json:"content_type"`
			DataBase64  string `json:"data_base64"`
		} `json:"attachments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body")
		return
	}
	if len(req.Recipients) == 0 {
		writeDetail(w, http.StatusBadRequest, "At least one recipient is required")
		return
	}
	for _, rcpt := range req.Recipients {
		if _, ok := b.users[strings.ToLower(rcpt)]; !ok {
			writeDetail(w, http.StatusBadRequest, "Unknown recipient: "+rcpt)
			return
		}
	}

	var ids []int64
	for _, a := range req.Attachments {
		data, err := base64.StdEncoding.Strict().DecodeString(a.DataBase64)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "Invalid attachment encoding")
			return
		}
		ids = append(ids, b.addAttachmentLocked(a.Filename, a.ContentType, data))
	}

	id := b.addMessageLocked(user, req.Recipients, req.Subject, req.Body, ids)
	writeJSON(w, http.StatusCreated, b.detailJSON(b.messages[id], user))
}

func (b *Backend) handleRead(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	user, ok := b.authorizeLocked(w, r)
	if !ok {
		return
	}
	m, ok := b.visibleLocked(w, r, user)
	if !ok {
		return
	}
	if _, already := m.readAt[user]; !already {
		b.now = b.now.Add(time.Second)
		m.readAt[user] = b.now
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (b *Backend) handleUnread(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	user, ok := b.authorizeLocked(w, r)
	if !ok {
		return
	}
	m, ok := b.visibleLocked(w, r, user)
	if !ok {
		return
	}
	delete(m.readAt, user)
	writeJSON(w, http.StatusOK, map[string]string{"status": "unread"})
}

func (b *Backend) handleDelete(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	user, ok := b.authorizeLocked(w, r)
	if !ok {
		return
	}
	m, ok := b.visibleLocked(w, r, user)
	if !ok {
		return
	}
	m.deleted[user] = true
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleDownload(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.authorizeLocked(w, r); !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusNotFound, "Attachment not found")
		return
	}
	a, ok := b.attachments[id]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Attachment not found")
		return
	}
	w.Header().Set("Content-Type", a.contentType)
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": a.filename}))
	_, _ = w.Write(a.data)
}
