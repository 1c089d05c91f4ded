package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/securemail/internal/credential"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Every pooled connection to ":memory:" is its own database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SchemaVersion reports the highest applied migration.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.GetContext(ctx, &v, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// GetValue returns the value stored for (profile, key), or
// credential.ErrNotFound.
func (s *SQLiteStore) GetValue(ctx context.Context, profile, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value,
		"SELECT value FROM session_storage WHERE profile = ? AND key = ?",
		profile, key,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return "", credential.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting %s/%s: %w", profile, key, err)
	}
	return value, nil
}

// SetValue inserts or replaces the value for (profile, key).
func (s *SQLiteStore) SetValue(ctx context.Context, profile, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_storage (profile, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(profile, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		profile, key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("setting %s/%s: %w", profile, key, err)
	}
	return nil
}

// DeleteValue removes the value for (profile, key). Deleting a missing
// value is not an error.
func (s *SQLiteStore) DeleteValue(ctx context.Context, profile, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM session_storage WHERE profile = ? AND key = ?",
		profile, key,
	)
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", profile, key, err)
	}
	return nil
}
