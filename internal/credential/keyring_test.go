package credential

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
)

func TestKeyringRoundTrip(t *testing.T) {
	k := NewWithRing(keyring.NewArrayKeyring(nil), "work")

	if _, err := k.Get("securemail_token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty ring: err = %v, want ErrNotFound", err)
	}

	if err := k.Set("securemail_token", "tok-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := k.Get("securemail_token")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "tok-1" {
		t.Errorf("Get = %q, want tok-1", got)
	}

	if err := k.Delete("securemail_token"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := k.Get("securemail_token"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete: err = %v, want ErrNotFound", err)
	}
	if err := k.Delete("securemail_token"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestKeyringScopesByProfile(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)
	work := NewWithRing(ring, "work")
	home := NewWithRing(ring, "home")

	if err := work.Set("securemail_token", "work-token"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := home.Get("securemail_token"); !errors.Is(err, ErrNotFound) {
		t.Errorf("home profile saw work token: err = %v", err)
	}

	item, err := ring.Get("work/securemail_token")
	if err != nil {
		t.Fatalf("raw ring lookup: %v", err)
	}
	if string(item.Data) != "work-token" {
		t.Errorf("raw item = %q", item.Data)
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	if _, err := m.Get("k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if err := m.Set("k", "v"); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.Get("k"); v != "v" {
		t.Errorf("Get = %q", v)
	}
	if err := m.Delete("k"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get("k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err after delete = %v", err)
	}
}
