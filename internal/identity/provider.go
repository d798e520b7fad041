// Package identity is the boundary to the third-party identity provider.
package identity

import (
	"context"
	"errors"
	"sync"
)

// Sentinel errors
var (
	// ErrNotSignedIn is returned when a token is requested without a session.
	ErrNotSignedIn = errors.New("not signed in")
)

// TokenOptions controls token retrieval.
type TokenOptions struct {
	// SkipCache forces a fresh token from the provider.
	SkipCache bool
}

// Provider is the identity provider session handle.
type Provider interface {
	// GetToken returns a short-lived bearer token, or "" when unauthenticated.
	GetToken(ctx context.Context, opts TokenOptions) (string, error)

	// IsLoaded reports whether the provider has finished initializing.
	IsLoaded() bool

	// IsSignedIn reports whether a user session is available.
	IsSignedIn() bool

	// SignOut ends the session.
	SignOut(ctx context.Context) error
}

// StaticProvider serves a fixed token, e.g. one supplied on the command line.
type StaticProvider struct {
	mu    sync.RWMutex
	token string
}

// NewStaticProvider creates a provider that is signed in while token is non-empty.
func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{token: token}
}

func (p *StaticProvider) GetToken(ctx context.Context, opts TokenOptions) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token, nil
}

func (p *StaticProvider) IsLoaded() bool { return true }

func (p *StaticProvider) IsSignedIn() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token != ""
}

func (p *StaticProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	return nil
}
