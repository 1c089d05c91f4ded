package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/nhle/securemail/internal/model"
)

const serviceName = "securemail"

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("credential not found")

// Keyring persists values in the OS keychain, scoped by profile. Items are
// stored as "<profile>/<key>" so two profiles never see each other's
// token.
type Keyring struct {
	ring    keyring.Keyring
	profile string
}

// Open returns a Keyring backed by the platform keychain, falling back to
// an encrypted file under cfg.KeyringDir.
func Open(cfg model.SessionConfig) (*Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  cfg.KeyringDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("securemail-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewWithRing(ring, cfg.Profile), nil
}

// NewWithRing wraps an already opened keyring. Tests pass a
// keyring.ArrayKeyring here.
func NewWithRing(ring keyring.Keyring, profile string) *Keyring {
	return &Keyring{ring: ring, profile: profile}
}

func (k *Keyring) itemKey(key string) string {
	return k.profile + "/" + key
}

// Get retrieves a value by key.
func (k *Keyring) Get(key string) (string, error) {
	item, err := k.ring.Get(k.itemKey(key))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a value by key.
func (k *Keyring) Set(key string, value string) error {
	err := k.ring.Set(keyring.Item{
		Key:         k.itemKey(key),
		Data:        []byte(value),
		Label:       "SecureMail " + k.profile,
		Description: "SecureMail session token",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a value. Deleting a missing key is not an error.
func (k *Keyring) Delete(key string) error {
	err := k.ring.Remove(k.itemKey(key))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}
