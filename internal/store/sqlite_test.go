package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nhle/securemail/internal/credential"
	"github.com/nhle/securemail/internal/store"
	"github.com/nhle/securemail/tests/testutil"
)

func TestSQLiteStoreValueLifecycle(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	if _, err := s.GetValue(ctx, "default", "securemail_token"); !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("GetValue on empty store: err = %v", err)
	}

	if err := s.SetValue(ctx, "default", "securemail_token", "a"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if err := s.SetValue(ctx, "default", "securemail_token", "b"); err != nil {
		t.Fatalf("SetValue overwrite: %v", err)
	}

	got, err := s.GetValue(ctx, "default", "securemail_token")
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if got != "b" {
		t.Errorf("GetValue = %q, want b", got)
	}

	if err := s.DeleteValue(ctx, "default", "securemail_token"); err != nil {
		t.Fatalf("DeleteValue: %v", err)
	}
	if _, err := s.GetValue(ctx, "default", "securemail_token"); !errors.Is(err, credential.ErrNotFound) {
		t.Errorf("GetValue after delete: err = %v", err)
	}
	if err := s.DeleteValue(ctx, "default", "securemail_token"); err != nil {
		t.Errorf("DeleteValue on missing key: %v", err)
	}
}

func TestProfileStorageIsolation(t *testing.T) {
	s := testutil.NewTestStore(t)
	work := store.ForProfile(s, "work")
	home := store.ForProfile(s, "home")

	if err := work.Set("securemail_token", "work-token"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := home.Get("securemail_token"); !errors.Is(err, credential.ErrNotFound) {
		t.Errorf("home profile saw a value: err = %v", err)
	}
	if err := home.Delete("securemail_token"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if v, err := work.Get("securemail_token"); err != nil || v != "work-token" {
		t.Errorf("work Get = %q, %v", v, err)
	}
}

func TestSQLiteStoreReopenKeepsValuesAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	ctx := context.Background()

	first, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := first.SetValue(ctx, "default", "securemail_token", "persisted"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	t.Cleanup(func() { second.Close() })

	v, err := second.GetValue(ctx, "default", "securemail_token")
	if err != nil || v != "persisted" {
		t.Errorf("GetValue after reopen = %q, %v", v, err)
	}

	version, err := second.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != 1 {
		t.Errorf("schema version = %d, want 1", version)
	}
}
