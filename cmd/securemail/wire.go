package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/securemail/internal/api"
	"github.com/nhle/securemail/internal/attachment"
	"github.com/nhle/securemail/internal/credential"
	"github.com/nhle/securemail/internal/logging"
	"github.com/nhle/securemail/internal/mailbox"
	"github.com/nhle/securemail/internal/model"
	"github.com/nhle/securemail/internal/session"
	"github.com/nhle/securemail/internal/status"
	"github.com/nhle/securemail/internal/store"
)

// components are the long-lived pieces shared by the TUI and the
// headless commands.
type components struct {
	cfg     *model.AppConfig
	log     zerolog.Logger
	client  *api.Client
	session *session.Manager
	codec   *attachment.Codec
	mailbox *mailbox.Store
	monitor *status.Monitor
	closers []func() error
}

func wire(cfg *model.AppConfig, log zerolog.Logger) (*components, error) {
	c := &components{cfg: cfg, log: log}

	storage, closeStorage, err := openStorage(cfg.Session, logging.Component(log, "storage"))
	if err != nil {
		return nil, err
	}
	if closeStorage != nil {
		c.closers = append(c.closers, closeStorage)
	}

	c.client = api.NewClient(
		cfg.Server.BaseURL,
		api.WithTimeout(time.Duration(cfg.Server.TimeoutSec)*time.Second),
		api.WithLogger(logging.Component(log, "api")),
	)

	c.session = session.NewManager(c.client, storage, logging.Component(log, "session"))
	c.codec = attachment.New(cfg.Downloads.Dir, logging.Component(log, "attachment"))
	c.mailbox = mailbox.New(c.client, c.session, c.codec, logging.Component(log, "mailbox"))
	c.closers = append(c.closers, func() error {
		c.mailbox.Close()
		return nil
	})
	c.monitor = status.New(
		c.client,
		time.Duration(cfg.Status.PollIntervalSec)*time.Second,
		logging.Component(log, "status"),
	)

	restored, err := c.session.RestoreFromStorage()
	if err != nil {
		log.Warn().Err(err).Msg("could not read stored session")
	}
	log.Info().
		Str("backend", cfg.Session.Backend).
		Str("profile", cfg.Session.Profile).
		Bool("restored", restored).
		Msg("starting")

	return c, nil
}

// openStorage returns the token storage selected by session.backend and
// an optional closer.
func openStorage(cfg model.SessionConfig, log zerolog.Logger) (session.Storage, func() error, error) {
	switch cfg.Backend {
	case model.SessionBackendKeyring:
		kr, err := credential.Open(cfg)
		if err != nil {
			return nil, nil, err
		}
		return kr, nil, nil

	case model.SessionBackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating session directory: %w", err)
		}
		st, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		version, err := st.SchemaVersion(context.Background())
		if err != nil {
			st.Close()
			return nil, nil, err
		}
		log.Debug().Str("path", cfg.DBPath).Int("schema_version", version).Msg("session database ready")
		return store.ForProfile(st, cfg.Profile), st.Close, nil

	default:
		return credential.NewMemory(), nil, nil
	}
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.log.Warn().Err(err).Msg("shutdown")
		}
	}
}
