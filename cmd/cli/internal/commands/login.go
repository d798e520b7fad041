package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/wolfeidau/testdash/internal/identity"
	"github.com/wolfeidau/testdash/internal/state"
)

// LoginCmd saves an identity provider session for later commands.
type LoginCmd struct {
	RefreshToken string `help:"OAuth2 refresh token issued by the identity provider" required:"" env:"TESTDASH_REFRESH_TOKEN"`
}

func (c *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	if globals.OAuthTokenURL == "" {
		return errors.New("no OAuth token URL configured, set --oauth-token-url or TESTDASH_OAUTH_TOKEN_URL")
	}

	store, err := state.NewFileStore(globals.StateDir)
	if err != nil {
		return fmt.Errorf("failed to initialize state store: %w", err)
	}

	provider := identity.NewOAuth2Provider(globals.oauthConfig(), &oauth2.Token{RefreshToken: c.RefreshToken})
	token, err := provider.GetToken(ctx, identity.TokenOptions{SkipCache: true})
	if err != nil {
		return fmt.Errorf("failed to sign in: %w", err)
	}

	// the provider may rotate the refresh token on first use
	if err := store.Set(ctx, RefreshTokenKey, provider.RefreshToken()); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	subject := ""
	if claims, err := identity.ParseClaims(token); err == nil {
		subject = claims.Subject
		if claims.Email != "" {
			subject = claims.Email
		}
	} else {
		log.Debug().Err(err).Msg("access token is not a JWT")
	}

	if subject != "" {
		fmt.Fprintf(globals.out(), "Signed in as %s\n", subject)
	} else {
		fmt.Fprintln(globals.out(), "Signed in.")
	}
	fmt.Fprintf(globals.out(), "Session saved to %s\n", store.Path())
	return nil
}

// LogoutCmd removes the saved session and organization.
type LogoutCmd struct{}

func (c *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	store, err := state.NewFileStore(globals.StateDir)
	if err != nil {
		return fmt.Errorf("failed to initialize state store: %w", err)
	}

	for _, key := range []string{RefreshTokenKey, state.CurrentOrganizationKey} {
		if err := store.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to remove %s: %w", key, err)
		}
	}

	fmt.Fprintln(globals.out(), "Signed out.")
	return nil
}
