// Package proxy forwards dashboard API calls to the backend so the browser
// only ever talks to its own origin.
package proxy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/wolfeidau/testdash/internal/apiclient"
	"github.com/wolfeidau/testdash/internal/identity"
	"github.com/wolfeidau/testdash/internal/orgclient"
	"github.com/wolfeidau/testdash/internal/state"
	"github.com/wolfeidau/testdash/internal/telemetry"
)

const (
	// DefaultPrefix is the path forwarded to the backend.
	DefaultPrefix = "/api/v1"

	// HeaderSessionID identifies a browser session when no bearer token
	// carries one.
	HeaderSessionID = "X-Session-ID"

	switchPrefix = "/api/v1/users/me/organizations/"
	switchSuffix = "/switch"
)

// ErrNoBackend is returned when no backend URL is configured.
var ErrNoBackend = errors.New("backend url is required")

// SessionStores returns the state store of one browser session.
type SessionStores func(sessionKey string) state.Store

// Config configures the proxy.
type Config struct {
	Backend   string
	Prefix    string
	Transport http.RoundTripper

	// Sessions, when set, remembers each session's organization so requests
	// without X-Organization-ID are still scoped.
	Sessions SessionStores
}

// Proxy is the /api/v1 reverse proxy.
type Proxy struct {
	backend  *url.URL
	prefix   string
	sessions SessionStores
	rp       *httputil.ReverseProxy
}

// New creates a proxy forwarding to cfg.Backend.
func New(cfg Config) (*Proxy, error) {
	if cfg.Backend == "" {
		return nil, ErrNoBackend
	}

	backend, err := url.Parse(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if backend.Scheme == "" || backend.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q: scheme and host are required", cfg.Backend)
	}

	prefix := strings.TrimSuffix(cfg.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}

	p := &Proxy{
		backend:  backend,
		prefix:   prefix,
		sessions: cfg.Sessions,
	}

	p.rp = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.errorHandler,
		Transport:      cfg.Transport,
		// flush immediately so event streams are not buffered
		FlushInterval: -1,
	}

	return p, nil
}

// Backend returns the upstream URL.
func (p *Proxy) Backend() string {
	return p.backend.String()
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != p.prefix && !strings.HasPrefix(r.URL.Path, p.prefix+"/") {
		http.NotFound(w, r)
		return
	}

	telemetry.GetMetrics().ProxyRequestsTotal.Add(r.Context(), 1)
	p.rp.ServeHTTP(w, r)
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(p.backend)
	pr.SetXForwarded()

	if pr.Out.Header.Get(orgclient.HeaderOrganizationID) != "" || p.sessions == nil {
		return
	}

	key := SessionKey(pr.In)
	if key == "" {
		return
	}

	orgID, err := state.GetString(pr.In.Context(), p.sessions(key), state.CurrentOrganizationKey)
	if err != nil {
		zerolog.Ctx(pr.In.Context()).Warn().Err(err).Msg("failed to read session organization")
		return
	}
	if orgID != "" {
		pr.Out.Header.Set(orgclient.HeaderOrganizationID, orgID)
	}
}

// modifyResponse records the organization of a session once the backend
// accepted a switch.
func (p *Proxy) modifyResponse(resp *http.Response) error {
	if p.sessions == nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil
	}

	req := resp.Request
	if req.Method != http.MethodPost {
		return nil
	}

	orgID := switchTarget(req.URL.Path)
	if orgID == "" {
		return nil
	}

	key := SessionKey(req)
	if key == "" {
		return nil
	}

	if err := p.sessions(key).Set(req.Context(), state.CurrentOrganizationKey, orgID); err != nil {
		zerolog.Ctx(req.Context()).Warn().Err(err).Str("orgID", orgID).Msg("failed to record session organization")
		return nil
	}

	zerolog.Ctx(req.Context()).Debug().Str("orgID", orgID).Msg("recorded session organization")
	return nil
}

func (p *Proxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	telemetry.GetMetrics().ProxyErrorsTotal.Add(r.Context(), 1)
	zerolog.Ctx(r.Context()).Error().Err(err).Str("backend", p.backend.Host).Msg("backend request failed")

	w.Header().Set(apiclient.HeaderContentType, "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "backend unavailable"})
}

// SessionKey identifies the browser session of r. Credentialed requests are
// keyed by their credential: a hash of the API key, else the sid or subject
// claim of the bearer token, else a hash of an opaque token. X-Session-ID is
// only honoured on requests carrying no credential. Keys are namespaced by
// source so one kind can never collide with another.
func SessionKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(apiclient.HeaderAPIKey)); key != "" {
		return "key:" + digest(key)
	}

	if token, ok := strings.CutPrefix(r.Header.Get(apiclient.HeaderAuthorization), "Bearer "); ok && token != "" {
		claims, err := identity.ParseClaims(token)
		if err == nil {
			if claims.SID != "" {
				return "sid:" + claims.SID
			}
			if claims.Subject != "" {
				return "sub:" + claims.Subject
			}
		}
		return "token:" + digest(token)
	}
	if r.Header.Get(apiclient.HeaderAuthorization) != "" {
		return ""
	}

	if id := strings.TrimSpace(r.Header.Get(HeaderSessionID)); id != "" {
		return "session:" + id
	}
	return ""
}

func digest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// switchTarget returns the organization id of a switch notification path.
func switchTarget(path string) string {
	rest, ok := strings.CutPrefix(path, switchPrefix)
	if !ok {
		return ""
	}
	id, ok := strings.CutSuffix(rest, switchSuffix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}
