// Package session owns the bearer token: login, registration, logout,
// forced expiry and restoring a persisted token on startup.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nhle/securemail/internal/api"
	"github.com/nhle/securemail/internal/credential"
)

// StorageKey is the fixed key the token is persisted under.
const StorageKey = "securemail_token"

// ErrNotFound is what Storage.Get returns for a missing key.
var ErrNotFound = credential.ErrNotFound

// Authenticator is the part of the transport the session needs.
type Authenticator interface {
	Login(ctx context.Context, email, password, code string) (string, error)
	Register(ctx context.Context, email, password string) (string, error)
}

// Storage persists the token between runs. credential.Keyring,
// credential.Memory and store.ProfileStorage implement it.
type Storage interface {
	Get(key string) (string, error)
	Set(key string, value string) error
	Delete(key string) error
}

// Reason says why the authentication state changed.
type Reason int

const (
	ReasonLogin Reason = iota
	ReasonRestored
	ReasonLogout
	ReasonExpired
)

func (r Reason) String() string {
	switch r {
	case ReasonLogin:
		return "login"
	case ReasonRestored:
		return "restored"
	case ReasonLogout:
		return "logout"
	case ReasonExpired:
		return "expired"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Event is delivered to subscribers after every state change.
type Event struct {
	Authenticated bool
	Reason        Reason
}

// Manager holds the current token. It is safe for concurrent use.
// Subscribers are called synchronously, never under the manager's lock.
type Manager struct {
	auth    Authenticator
	storage Storage
	log     zerolog.Logger

	mu        sync.Mutex
	token     string
	observers map[int]func(Event)
	nextObs   int
}

// NewManager creates a manager with no session.
func NewManager(auth Authenticator, storage Storage, log zerolog.Logger) *Manager {
	return &Manager{
		auth:      auth,
		storage:   storage,
		log:       log,
		observers: make(map[int]func(Event)),
	}
}

// Token returns the current token and whether one is set.
func (m *Manager) Token() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.token != ""
}

// Authenticated reports whether a token is set.
func (m *Manager) Authenticated() bool {
	_, ok := m.Token()
	return ok
}

// Subscribe registers fn for state changes and returns a function that
// removes it.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notify(ev Event) {
	m.mu.Lock()
	fns := make([]func(Event), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Login exchanges credentials for a token and persists it. Blank fields
// fail locally. A server rejection clears any existing session.
func (m *Manager) Login(ctx context.Context, email, password, code string) (string, error) {
	email = strings.TrimSpace(email)
	code = strings.TrimSpace(code)
	switch {
	case email == "":
		return "", &api.ValidationError{Field: "email", Message: "email is required"}
	case password == "":
		return "", &api.ValidationError{Field: "password", Message: "password is required"}
	case code == "":
		return "", &api.ValidationError{Field: "totp_code", Message: "authenticator code is required"}
	}

	token, err := m.auth.Login(ctx, email, password, code)
	if err != nil {
		m.log.Info().Err(err).Msg("login rejected")
		if m.clear() {
			m.notify(Event{Authenticated: false, Reason: ReasonLogout})
		}
		return "", err
	}

	m.mu.Lock()
	m.token = token
	m.mu.Unlock()

	if err := m.storage.Set(StorageKey, token); err != nil {
		m.log.Warn().Err(err).Msg("persisting session token failed; session will not survive restart")
	}

	m.log.Info().Msg("logged in")
	m.notify(Event{Authenticated: true, Reason: ReasonLogin})
	return token, nil
}

// Register creates an account and returns the TOTP provisioning URI. It
// does not change the session.
func (m *Manager) Register(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(email)
	switch {
	case email == "":
		return "", &api.ValidationError{Field: "email", Message: "email is required"}
	case password == "":
		return "", &api.ValidationError{Field: "password", Message: "password is required"}
	}

	uri, err := m.auth.Register(ctx, email, password)
	if err != nil {
		return "", err
	}
	m.log.Info().Msg("account registered")
	return uri, nil
}

// Logout drops the token from memory and storage.
func (m *Manager) Logout() {
	m.clear()
	m.log.Info().Msg("logged out")
	m.notify(Event{Authenticated: false, Reason: ReasonLogout})
}

// Expire is the forced logout after the server rejected token. It does
// nothing when a different session has started since token was read.
func (m *Manager) Expire(token string) {
	m.mu.Lock()
	if token == "" || m.token != token {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.clear()
	m.log.Info().Msg("session expired")
	m.notify(Event{Authenticated: false, Reason: ReasonExpired})
}

// RestoreFromStorage loads a persisted token without asking the server
// whether it is still valid. It reports whether a token was found.
func (m *Manager) RestoreFromStorage() (bool, error) {
	token, err := m.storage.Get(StorageKey)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading stored session: %w", err)
	}
	if token == "" {
		return false, nil
	}

	m.mu.Lock()
	m.token = token
	m.mu.Unlock()

	m.log.Info().Msg("session restored")
	m.notify(Event{Authenticated: true, Reason: ReasonRestored})
	return true, nil
}

// clear drops the token and reports whether one was set.
func (m *Manager) clear() bool {
	m.mu.Lock()
	had := m.token != ""
	m.token = ""
	m.mu.Unlock()

	if err := m.storage.Delete(StorageKey); err != nil {
		m.log.Warn().Err(err).Msg("removing stored session token failed")
	}
	return had
}
