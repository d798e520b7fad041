package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/testdash/cmd/cli/internal/commands"
	"github.com/wolfeidau/testdash/internal/config"
	"github.com/wolfeidau/testdash/internal/logger"
	"github.com/wolfeidau/testdash/internal/telemetry"
)

var (
	version = "dev"
	cli     struct {
		Login   commands.LoginCmd   `cmd:"" help:"Save an identity provider session"`
		Logout  commands.LogoutCmd  `cmd:"" help:"Remove the saved session"`
		Orgs    commands.OrgsCmd    `cmd:"" help:"Manage the current organization"`
		API     commands.APICmd     `cmd:"" name:"api" help:"Send requests to the backend as the current organization"`
		Session commands.SessionCmd `cmd:"" help:"Interactive session with idle sign out"`
		Token   commands.TokenCmd   `cmd:"" help:"Show the current session token"`

		Debug   bool `help:"Enable debug mode." env:"TESTDASH_DEBUG"`
		Version kong.VersionFlag

		BackendHost string `help:"Backend API host" env:"TESTDASH_BACKEND_HOST"`
		Origin      string `help:"Origin the client runs on, a localhost origin talks to the local proxy" env:"TESTDASH_ORIGIN"`
		APIKey      string `help:"API key sent as X-API-Key" env:"TESTDASH_API_KEY"`
		AccessToken string `name:"token" help:"Bearer access token, overrides the saved session" env:"TESTDASH_TOKEN"`
		StateDir    string `help:"Directory holding local state" env:"TESTDASH_STATE_DIR"`
		CacheDir    string `help:"Directory for the HTTP response cache" env:"TESTDASH_CACHE_DIR"`
		NoCache     bool   `help:"Disable the HTTP response cache" env:"TESTDASH_NO_CACHE"`
		Telemetry   bool   `help:"Export traces and metrics over OTLP" env:"TESTDASH_TELEMETRY"`

		OAuthClientID string `name:"oauth-client-id" help:"OAuth2 client id" env:"TESTDASH_OAUTH_CLIENT_ID"`
		OAuthTokenURL string `name:"oauth-token-url" help:"OAuth2 token endpoint" env:"TESTDASH_OAUTH_TOKEN_URL"`
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("testdash"),
		kong.Description("Organization aware client for the testdash backend."),
		kong.Vars{
			"version": version,
		},
		config.Option(),
		kong.BindTo(ctx, (*context.Context)(nil)))

	log.Logger = logger.Setup(cli.Debug)

	if cli.Telemetry {
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "testdash-cli",
			Version:     version,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("Failed to shutdown telemetry")
				}
			}()
		}
	}

	err := cmd.Run(&commands.Globals{
		Debug:         cli.Debug,
		Version:       version,
		BackendHost:   cli.BackendHost,
		Origin:        cli.Origin,
		APIKey:        cli.APIKey,
		Token:         cli.AccessToken,
		StateDir:      cli.StateDir,
		CacheDir:      cli.CacheDir,
		NoCache:       cli.NoCache,
		Telemetry:     cli.Telemetry,
		OAuthClientID: cli.OAuthClientID,
		OAuthTokenURL: cli.OAuthTokenURL,
	})
	cmd.FatalIfErrorf(err)
}
