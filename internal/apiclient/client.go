// Package apiclient issues authenticated HTTP requests to the backend.
package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfeidau/testdash/internal/identity"
)

// Header names sent to the backend.
const (
	HeaderAuthorization = "Authorization"
	HeaderAPIKey        = "X-API-Key"
	HeaderContentType   = "Content-Type"
	HeaderRequestID     = "X-Request-ID"
)

// ErrNoHost is returned when a relative endpoint has nothing to resolve against.
var ErrNoHost = errors.New("no backend host or origin configured")

// Config holds common client configuration
type Config struct {
	Host HostConfig

	// Timeout applies to every request; zero leaves the http.Client default.
	Timeout time.Duration

	// CacheDir enables disk caching of cacheable responses; "" keeps the cache in memory.
	CacheDir string

	// DisableCache sends every request straight to the network.
	DisableCache bool

	// Tracing wraps the transport with OpenTelemetry instrumentation.
	Tracing bool

	// Transport is the underlying round tripper, http.DefaultTransport when nil.
	Transport http.RoundTripper
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
	}
}

// Options select the credential attached to a request.
// APIKey takes precedence over Token when both are set.
type Options struct {
	Token  string
	APIKey string
	Header http.Header
}

// Client is an authenticated HTTP client for the backend.
type Client struct {
	baseURL    string
	origin     string
	httpClient *http.Client
	provider   identity.Provider
}

// New creates a client from config.
func New(cfg Config) *Client {
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if !cfg.DisableCache {
		transport = NewCachePolicyTransport(transport, cfg.CacheDir)
	}
	if cfg.Tracing {
		transport = otelhttp.NewTransport(transport)
	}

	baseURL := ResolveHost(cfg.Host)

	log.Debug().
		Str("baseURL", baseURL).
		Str("origin", cfg.Host.Origin).
		Bool("cache", !cfg.DisableCache).
		Msg("initialized api client")

	return &Client{
		baseURL: baseURL,
		origin:  strings.TrimRight(cfg.Host.Origin, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// WithProvider returns a copy of the client that fetches a token from p for
// every request that carries no explicit credential.
func (c *Client) WithProvider(p identity.Provider) *Client {
	clone := *c
	clone.provider = p
	return &clone
}

// BaseURL returns the resolved backend host, "" when same-origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// URL resolves endpoint against the backend host. Absolute URLs are returned unchanged.
func (c *Client) URL(endpoint string) (string, error) {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint, nil
	}

	base := c.baseURL
	if base == "" {
		base = c.origin
	}
	if base == "" {
		return "", ErrNoHost
	}

	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return base + endpoint, nil
}

// Do issues the request and returns the raw response. A non-2xx status is not
// an error; callers inspect resp.StatusCode.
func (c *Client) Do(ctx context.Context, method, endpoint string, body io.Reader, opts Options) (*http.Response, error) {
	target, err := c.URL(endpoint)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(HeaderContentType, "application/json")
	for k, vs := range opts.Header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get(HeaderRequestID) == "" {
		if id, err := uuid.NewV7(); err == nil {
			req.Header.Set(HeaderRequestID, id.String())
		}
	}

	c.setCredential(ctx, req.Header, opts)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debug().Err(err).
			Str("method", method).
			Str("url", target).
			Dur("duration", time.Since(started)).
			Msg("api request failed")
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}

	log.Debug().
		Str("method", method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Bool("cached", resp.Header.Get("X-From-Cache") == "1").
		Dur("duration", time.Since(started)).
		Msg("api request")

	return resp, nil
}

func (c *Client) setCredential(ctx context.Context, h http.Header, opts Options) {
	switch {
	case opts.APIKey != "":
		h.Set(HeaderAPIKey, opts.APIKey)
	case opts.Token != "":
		h.Set(HeaderAuthorization, "Bearer "+opts.Token)
	case c.provider != nil:
		token, err := c.provider.GetToken(ctx, identity.TokenOptions{})
		if err != nil {
			// Caller decides whether an unauthenticated request is acceptable.
			log.Warn().Err(err).Msg("failed to get token, sending unauthenticated request")
			return
		}
		if token != "" {
			h.Set(HeaderAuthorization, "Bearer "+token)
		}
	}
}
