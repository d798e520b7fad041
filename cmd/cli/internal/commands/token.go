package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfeidau/testdash/internal/identity"
)

// TokenCmd prints the current session token.
type TokenCmd struct {
	Refresh bool `help:"Force a fresh token from the identity provider"`
	Raw     bool `help:"Print the encoded token instead of its claims"`
}

func (c *TokenCmd) Run(ctx context.Context, globals *Globals) error {
	rt, err := globals.connect(ctx)
	if err != nil {
		return err
	}
	if !rt.provider.IsSignedIn() {
		return errNotSignedIn
	}

	token, err := rt.provider.GetToken(ctx, identity.TokenOptions{SkipCache: c.Refresh})
	if err != nil {
		return err
	}

	out := globals.out()
	if c.Raw {
		fmt.Fprintln(out, token)
		return nil
	}

	claims, err := identity.ParseClaims(token)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Subject:  %s\n", claims.Subject)
	if claims.Email != "" {
		fmt.Fprintf(out, "Email:    %s\n", claims.Email)
	}
	if claims.SID != "" {
		fmt.Fprintf(out, "Session:  %s\n", claims.SID)
	}
	if claims.Issuer != "" {
		fmt.Fprintf(out, "Issuer:   %s\n", claims.Issuer)
	}
	if claims.ExpiresAt != nil {
		fmt.Fprintf(out, "Expires:  %s (in %s)\n",
			claims.ExpiresAt.Format(time.RFC3339), time.Until(claims.ExpiresAt.Time).Round(time.Second))
	}
	return nil
}
