// Package state persists small pieces of client-side state, such as the
// currently selected organization, across process restarts.
package state

import (
	"context"
	"errors"
)

// CurrentOrganizationKey is the key holding the current organization id.
const CurrentOrganizationKey = "current_organization_id"

// Sentinel errors
var (
	// ErrNotFound is returned when a key has no stored value.
	ErrNotFound = errors.New("state key not found")

	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("invalid state key")
)

// Store is a string key/value store with synchronous read-your-writes semantics:
// a Get that follows a successful Set on the same store observes the new value.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// GetString returns the value for key, or "" when it is missing or unreadable.
// Read failures other than ErrNotFound are returned alongside "".
func GetString(ctx context.Context, s Store, key string) (string, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

// Prefixed namespaces every key of s under prefix, written as "<prefix>:<key>".
func Prefixed(s Store, prefix string) Store {
	return &prefixedStore{store: s, prefix: prefix}
}

type prefixedStore struct {
	store  Store
	prefix string
}

func (p *prefixedStore) key(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	return p.prefix + ":" + key, nil
}

func (p *prefixedStore) Get(ctx context.Context, key string) (string, error) {
	k, err := p.key(key)
	if err != nil {
		return "", err
	}
	return p.store.Get(ctx, k)
}

func (p *prefixedStore) Set(ctx context.Context, key, value string) error {
	k, err := p.key(key)
	if err != nil {
		return err
	}
	return p.store.Set(ctx, k, value)
}

func (p *prefixedStore) Delete(ctx context.Context, key string) error {
	k, err := p.key(key)
	if err != nil {
		return err
	}
	return p.store.Delete(ctx, k)
}
