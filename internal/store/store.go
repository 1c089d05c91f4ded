package store

import "context"

// Store persists small per-profile session values. It never holds mailbox
// content; only the session token is written.
type Store interface {
	GetValue(ctx context.Context, profile, key string) (string, error)
	SetValue(ctx context.Context, profile, key, value string) error
	DeleteValue(ctx context.Context, profile, key string) error
	Close() error
}

// ProfileStorage binds a Store to one profile and exposes the key/value
// shape the session manager expects.
type ProfileStorage struct {
	store   Store
	profile string
}

// ForProfile returns a view of s scoped to profile.
func ForProfile(s Store, profile string) *ProfileStorage {
	return &ProfileStorage{store: s, profile: profile}
}

func (p *ProfileStorage) Get(key string) (string, error) {
	return p.store.GetValue(context.Background(), p.profile, key)
}

func (p *ProfileStorage) Set(key string, value string) error {
	return p.store.SetValue(context.Background(), p.profile, key, value)
}

func (p *ProfileStorage) Delete(key string) error {
	return p.store.DeleteValue(context.Background(), p.profile, key)
}
