package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// refreshMargin is how long before expiry a cached token is considered stale.
const refreshMargin = 1 * time.Minute

// OAuth2Provider obtains access tokens by refreshing an OAuth2 session.
type OAuth2Provider struct {
	config *oauth2.Config

	mu    sync.RWMutex
	token *oauth2.Token
}

// NewOAuth2Provider creates a provider from a client configuration and an
// existing session token (typically holding only a refresh token).
// A nil token leaves the provider signed out.
func NewOAuth2Provider(config *oauth2.Config, token *oauth2.Token) *OAuth2Provider {
	return &OAuth2Provider{config: config, token: token}
}

// GetToken returns a cached access token, or refreshes it when it is close to
// expiry or opts.SkipCache is set.
func (p *OAuth2Provider) GetToken(ctx context.Context, opts TokenOptions) (string, error) {
	if !opts.SkipCache {
		p.mu.RLock()
		if p.fresh() {
			token := p.token.AccessToken
			p.mu.RUnlock()
			return token, nil
		}
		p.mu.RUnlock()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token == nil {
		return "", nil
	}

	// Double-check after acquiring write lock
	if !opts.SkipCache && p.fresh() {
		return p.token.AccessToken, nil
	}

	// An expired copy makes the token source refresh unconditionally.
	stale := *p.token
	stale.Expiry = time.Now().Add(-time.Second)

	tok, err := p.config.TokenSource(ctx, &stale).Token()
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	p.token = tok

	log.Debug().
		Time("expiry", tok.Expiry).
		Bool("skipCache", opts.SkipCache).
		Msg("refreshed access token")

	return tok.AccessToken, nil
}

// fresh must be called with p.mu held.
func (p *OAuth2Provider) fresh() bool {
	if p.token == nil || p.token.AccessToken == "" {
		return false
	}
	if p.token.Expiry.IsZero() {
		return true
	}
	return time.Now().Add(refreshMargin).Before(p.token.Expiry)
}

func (p *OAuth2Provider) IsLoaded() bool { return true }

func (p *OAuth2Provider) IsSignedIn() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token != nil
}

// RefreshToken returns the current refresh token, which may have been rotated
// by the last refresh.
func (p *OAuth2Provider) RefreshToken() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == nil {
		return ""
	}
	return p.token.RefreshToken
}

// SignOut drops the session tokens.
func (p *OAuth2Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.token = nil
	log.Info().Msg("signed out")
	return nil
}
