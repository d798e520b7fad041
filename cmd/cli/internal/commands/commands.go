package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/wolfeidau/testdash/internal/apiclient"
	"github.com/wolfeidau/testdash/internal/identity"
	"github.com/wolfeidau/testdash/internal/orgclient"
	"github.com/wolfeidau/testdash/internal/orgcontext"
	"github.com/wolfeidau/testdash/internal/state"
)

// RefreshTokenKey holds the OAuth2 refresh token saved by login.
const RefreshTokenKey = "refresh_token"

var errNotSignedIn = errors.New("not signed in\n\n" +
	"Sign in with one of:\n" +
	"  testdash login --refresh-token <TOKEN>\n" +
	"  testdash --token <ACCESS_TOKEN> ...\n" +
	"  testdash --api-key <KEY> ...")

type Globals struct {
	Debug   bool
	Version string

	BackendHost string
	Origin      string
	APIKey      string
	Token       string
	StateDir    string
	CacheDir    string
	NoCache     bool
	Telemetry   bool

	OAuthClientID string
	OAuthTokenURL string

	// Out receives command output, os.Stdout when nil.
	Out io.Writer
}

func (g *Globals) out() io.Writer {
	if g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

// runtime is the wired client stack shared by the commands.
type runtime struct {
	store    *state.FileStore
	provider identity.Provider
	api      *apiclient.Client
	orgs     *orgclient.Client
	resolver *orgcontext.Resolver
	apiKey   string
}

func (g *Globals) connect(ctx context.Context) (*runtime, error) {
	store, err := state.NewFileStore(g.StateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state store: %w", err)
	}

	provider, err := g.provider(ctx, store)
	if err != nil {
		return nil, err
	}

	cfg := apiclient.DefaultConfig()
	cfg.Host = apiclient.HostConfig{Override: g.BackendHost, Origin: g.Origin}
	cfg.CacheDir = g.CacheDir
	cfg.DisableCache = g.NoCache
	cfg.Tracing = g.Telemetry

	api := apiclient.New(cfg).WithProvider(provider)
	orgs := orgclient.New(api, store)

	rt := &runtime{
		store:    store,
		provider: provider,
		api:      api,
		orgs:     orgs,
		apiKey:   g.APIKey,
	}
	rt.resolver = orgcontext.NewResolver(orgs, provider, orgcontext.DefaultCandidates(orgs, rt.auth))

	log.Debug().
		Str("backend", api.BaseURL()).
		Str("state", store.Path()).
		Bool("signedIn", provider.IsSignedIn()).
		Msg("client initialized")

	return rt, nil
}

// provider picks the identity source: an explicit access token, then a saved
// refresh token, otherwise a signed-out provider.
func (g *Globals) provider(ctx context.Context, store state.Store) (identity.Provider, error) {
	if g.Token != "" {
		return identity.NewStaticProvider(g.Token), nil
	}

	refreshToken, err := state.GetString(ctx, store, RefreshTokenKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read saved session: %w", err)
	}
	if refreshToken == "" {
		return identity.NewStaticProvider(""), nil
	}
	if g.OAuthTokenURL == "" {
		log.Warn().Msg("saved session found but no OAuth token URL configured, ignoring it")
		return identity.NewStaticProvider(""), nil
	}

	return identity.NewOAuth2Provider(g.oauthConfig(), &oauth2.Token{RefreshToken: refreshToken}), nil
}

func (g *Globals) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID: g.OAuthClientID,
		Endpoint: oauth2.Endpoint{TokenURL: g.OAuthTokenURL},
	}
}

// auth supplies per-request credentials; the provider covers the token case.
func (rt *runtime) auth(ctx context.Context) apiclient.Options {
	return apiclient.Options{APIKey: rt.apiKey}
}

// load fetches organizations and selects the current one.
func (rt *runtime) load(ctx context.Context) error {
	if rt.apiKey != "" {
		return rt.resolver.Refresh(ctx)
	}
	if !rt.provider.IsSignedIn() {
		return errNotSignedIn
	}
	return rt.resolver.Start(ctx)
}
