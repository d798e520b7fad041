package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfeidau/testdash/internal/apiclient"
	httpmiddleware "github.com/wolfeidau/testdash/internal/http"
	"github.com/wolfeidau/testdash/internal/logger"
	"github.com/wolfeidau/testdash/internal/orgclient"
	"github.com/wolfeidau/testdash/internal/proxy"
	"github.com/wolfeidau/testdash/internal/state"
	"github.com/wolfeidau/testdash/internal/telemetry"
)

// sessionKeyPrefix namespaces per-session state in Redis.
const sessionKeyPrefix = "testdash:session"

type ServerCmd struct {
	// Server configuration
	Listen          string        `help:"HTTP server listen address" default:"0.0.0.0:3000" env:"TESTDASH_LISTEN"`
	Cert            string        `help:"path to TLS cert file" default:"" env:"TESTDASH_TLS_CERT"`
	Key             string        `help:"path to TLS key file" default:"" env:"TESTDASH_TLS_KEY"`
	ShutdownTimeout time.Duration `help:"time allowed for in-flight requests on shutdown" default:"10s" env:"TESTDASH_SHUTDOWN_TIMEOUT"`

	// Backend configuration
	BackendHost string `help:"backend API host, the production host when empty" default:"" env:"TESTDASH_BACKEND_HOST"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"http://localhost:3000" env:"TESTDASH_CORS_ORIGINS"`

	// Session state configuration
	Redis      RedisFlags    `embed:"" prefix:"redis-"`
	SessionTTL time.Duration `help:"how long a session's organization is remembered" default:"168h" env:"TESTDASH_SESSION_TTL"`

	// Telemetry
	Tracing     bool    `help:"enable tracing" default:"false" env:"TESTDASH_TRACING"`
	SampleRatio float64 `help:"fraction of traces sampled" default:"1" env:"TESTDASH_TRACE_SAMPLE_RATIO"`
}

type RedisFlags struct {
	Addr     string `help:"Redis address for session state, in memory when empty" env:"TESTDASH_REDIS_ADDR"`
	Password string `help:"Redis password" env:"TESTDASH_REDIS_PASSWORD"`
	DB       int    `help:"Redis database" default:"0" env:"TESTDASH_REDIS_DB"`
}

// Validate validates the TLS flags.
func (c *ServerCmd) Validate() error {
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("both --cert and --key are required to serve TLS")
	}
	for _, path := range []string{c.Cert, c.Key} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("TLS file not found at %s: %w", path, err)
		}
	}
	return nil
}

func (c *ServerCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx = log.WithContext(ctx)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	transport := http.DefaultTransport
	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "testdash-bff",
			Version:     globals.Version,
			SampleRatio: c.SampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
		transport = otelhttp.NewTransport(transport)
	}

	sessions, closeSessions, err := c.sessionStores(ctx)
	if err != nil {
		return err
	}
	defer closeSessions()

	backend := apiclient.ResolveHost(apiclient.HostConfig{Override: c.BackendHost, Server: true})
	p, err := proxy.New(proxy.Config{
		Backend:   backend,
		Transport: transport,
		Sessions:  sessions,
	})
	if err != nil {
		return fmt.Errorf("failed to create proxy: %w", err)
	}

	handler := newHandler(log, p, c.CORSOrigins)
	if c.Tracing {
		handler = otelhttp.NewHandler(handler, "testdash-bff")
	}

	srv := configureHTTPServer(c.Listen, handler)

	errCh := make(chan error, 1)
	go func() {
		tls := c.Cert != "" && c.Key != ""
		log.Info().Str("addr", c.Listen).Str("backend", p.Backend()).Bool("tls", tls).Msg("Starting HTTP server")
		if tls {
			errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// sessionStores picks Redis when an address is configured, otherwise an
// in-process map that is lost on restart.
func (c *ServerCmd) sessionStores(ctx context.Context) (proxy.SessionStores, func(), error) {
	log := zerolog.Ctx(ctx)

	if c.Redis.Addr == "" {
		log.Info().Msg("Using in-memory session state")
		mem := state.NewMemoryStore()
		return func(key string) state.Store { return state.Prefixed(mem, key) }, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", c.Redis.Addr, err)
	}

	log.Info().Str("addr", c.Redis.Addr).Msg("Using Redis session state")

	base := state.NewRedisStore(client, sessionKeyPrefix, c.SessionTTL)
	stores := func(key string) state.Store {
		return base.WithPrefix(sessionKeyPrefix + ":" + key)
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
	return stores, closeFn, nil
}

// newHandler assembles the BFF routes: the health check and the API proxy.
func newHandler(log zerolog.Logger, p *proxy.Proxy, corsOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle(proxy.DefaultPrefix+"/", withCORS(corsOrigins, p))

	var handler http.Handler = mux
	handler = logger.HTTPRequests(log)(handler)
	handler = httpmiddleware.ClientIPMiddleware()(handler)
	handler = httpmiddleware.RequestIDMiddleware()(handler)
	return handler
}

// withCORS adds CORS support to the API routes.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{
			apiclient.HeaderAuthorization, apiclient.HeaderContentType, apiclient.HeaderAPIKey,
			orgclient.HeaderOrganizationID, proxy.HeaderSessionID, httpmiddleware.HeaderRequestID,
		},
		ExposedHeaders:   []string{httpmiddleware.HeaderRequestID},
		// Authorization on cross-origin calls; the BFF sets no cookies
		AllowCredentials: true,
	})
	return middleware.Handler(h)
}
