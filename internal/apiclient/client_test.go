package apiclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/testdash/internal/identity"
)

func newRecordingServer(t *testing.T) (*httptest.Server, *http.Request) {
	var captured http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = *r.Clone(context.Background())
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func newTestClient(baseURL string) *Client {
	cfg := DefaultConfig()
	cfg.Host = HostConfig{Override: baseURL}
	cfg.DisableCache = true
	return New(cfg)
}

func TestResolveHost(t *testing.T) {
	tests := []struct {
		name     string
		cfg      HostConfig
		expected string
	}{
		{
			name:     "override wins",
			cfg:      HostConfig{Override: "https://staging.example.com/", Server: true, Origin: "http://localhost:3000"},
			expected: "https://staging.example.com",
		},
		{
			name:     "server default",
			cfg:      HostConfig{Server: true, ServerDefault: "https://internal.example.com", Origin: "http://localhost:3000"},
			expected: "https://internal.example.com",
		},
		{
			name:     "server falls back to production",
			cfg:      HostConfig{Server: true},
			expected: DefaultProductionHost,
		},
		{
			name:     "client on localhost is same-origin",
			cfg:      HostConfig{ClientDefault: "https://api.example.com", Origin: "http://localhost:3000"},
			expected: "",
		},
		{
			name:     "client on loopback ip is same-origin",
			cfg:      HostConfig{Origin: "http://127.0.0.1:8080"},
			expected: "",
		},
		{
			name:     "client production",
			cfg:      HostConfig{ClientDefault: "https://api.example.com", Origin: "https://app.example.com"},
			expected: "https://api.example.com",
		},
		{
			name:     "client without origin",
			cfg:      HostConfig{},
			expected: DefaultProductionHost,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, ResolveHost(tt.cfg))
		})
	}
}

func TestClient_URL(t *testing.T) {
	c := newTestClient("https://api.example.com")

	u, err := c.URL("/api/v1/orgs")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/api/v1/orgs", u)

	u, err = c.URL("api/v1/orgs")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/api/v1/orgs", u)

	u, err = c.URL("https://other.example.com/x")
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.com/x", u)
}

func TestClient_URL_SameOrigin(t *testing.T) {
	c := New(Config{Host: HostConfig{Origin: "http://localhost:3000/"}, DisableCache: true})
	assert.Empty(t, c.BaseURL())

	u, err := c.URL("/api/v1/orgs")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000/api/v1/orgs", u)
}

func TestClient_URL_NoHost(t *testing.T) {
	c := &Client{}
	_, err := c.URL("/api/v1/orgs")
	assert.ErrorIs(t, err, ErrNoHost)
}

func TestClient_BearerToken(t *testing.T) {
	srv, captured := newRecordingServer(t)
	c := newTestClient(srv.URL)

	resp, err := c.Do(context.Background(), http.MethodGet, "/api/v1/orgs", nil, Options{Token: "tok"})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer tok", captured.Header.Get(HeaderAuthorization))
	assert.Empty(t, captured.Header.Get(HeaderAPIKey))
	assert.Equal(t, "application/json", captured.Header.Get(HeaderContentType))
	assert.NotEmpty(t, captured.Header.Get(HeaderRequestID))
}

func TestClient_APIKeyTakesPrecedence(t *testing.T) {
	srv, captured := newRecordingServer(t)
	c := newTestClient(srv.URL)

	resp, err := c.Do(context.Background(), http.MethodGet, "/api/v1/orgs", nil, Options{Token: "tok", APIKey: "key"})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "key", captured.Header.Get(HeaderAPIKey))
	assert.Empty(t, captured.Header.Get(HeaderAuthorization))
}

func TestClient_NoCredential(t *testing.T) {
	srv, captured := newRecordingServer(t)
	c := newTestClient(srv.URL)

	resp, err := c.Do(context.Background(), http.MethodGet, "/api/v1/health", nil, Options{})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, captured.Header.Get(HeaderAuthorization))
	assert.Empty(t, captured.Header.Get(HeaderAPIKey))
}

func TestClient_HeaderOverride(t *testing.T) {
	srv, captured := newRecordingServer(t)
	c := newTestClient(srv.URL)

	h := http.Header{}
	h.Set(HeaderContentType, "text/plain")
	resp, err := c.Do(context.Background(), http.MethodPost, "/api/v1/upload", strings.NewReader("x"), Options{Header: h})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "text/plain", captured.Header.Get(HeaderContentType))
}

func TestClient_NonOKIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.Do(context.Background(), http.MethodGet, "/api/v1/orgs", nil, Options{})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "nope")
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(url)
	_, err := c.Do(context.Background(), http.MethodGet, "/api/v1/orgs", nil, Options{})
	require.Error(t, err)
}

type failingProvider struct{ *identity.StaticProvider }

func (failingProvider) GetToken(ctx context.Context, opts identity.TokenOptions) (string, error) {
	return "", errors.New("provider unavailable")
}

func TestClient_WithProvider(t *testing.T) {
	srv, captured := newRecordingServer(t)
	c := newTestClient(srv.URL).WithProvider(identity.NewStaticProvider("from-provider"))

	resp, err := c.Do(context.Background(), http.MethodGet, "/api/v1/orgs", nil, Options{})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer from-provider", captured.Header.Get(HeaderAuthorization))

	// explicit token beats the provider
	resp, err = c.Do(context.Background(), http.MethodGet, "/api/v1/orgs", nil, Options{Token: "explicit"})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer explicit", captured.Header.Get(HeaderAuthorization))
}

func TestClient_ProviderErrorSendsUnauthenticated(t *testing.T) {
	srv, captured := newRecordingServer(t)
	c := newTestClient(srv.URL).WithProvider(failingProvider{identity.NewStaticProvider("unused")})

	resp, err := c.Do(context.Background(), http.MethodGet, "/api/v1/orgs", nil, Options{})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, captured.Header.Get(HeaderAuthorization))
}

func TestCachePolicyTransport(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=300")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	httpClient := &http.Client{Transport: NewCachePolicyTransport(http.DefaultTransport, "")}

	get := func(path string, header http.Header) *http.Response {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		for k, v := range header {
			req.Header[k] = v
		}
		resp, err := httpClient.Do(req)
		require.NoError(t, err)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp
	}

	t.Run("cacheable get served from cache", func(t *testing.T) {
		hits.Store(0)
		get("/static/app.js", nil)
		resp := get("/static/app.js", nil)
		assert.Equal(t, "1", resp.Header.Get("X-From-Cache"))
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("streaming bypasses cache", func(t *testing.T) {
		hits.Store(0)
		get("/api/v1/chat/stream", nil)
		get("/api/v1/chat/stream", nil)
		assert.Equal(t, int32(2), hits.Load())
	})

	t.Run("credentialed get cached per credential", func(t *testing.T) {
		hits.Store(0)
		alice := http.Header{}
		alice.Set(HeaderAuthorization, "Bearer alice")
		bob := http.Header{}
		bob.Set(HeaderAuthorization, "Bearer bob")

		get("/api/v1/orgs", alice)
		resp := get("/api/v1/orgs", alice)
		assert.Equal(t, "1", resp.Header.Get("X-From-Cache"))
		assert.Equal(t, int32(1), hits.Load())

		resp = get("/api/v1/orgs", bob)
		assert.Empty(t, resp.Header.Get("X-From-Cache"))
		assert.Equal(t, int32(2), hits.Load())
	})

	t.Run("organization change misses cache", func(t *testing.T) {
		hits.Store(0)
		orgA := http.Header{}
		orgA.Set(HeaderAPIKey, "key-1")
		orgA.Set("X-Organization-ID", "org-a")
		orgB := orgA.Clone()
		orgB.Set("X-Organization-ID", "org-b")

		get("/api/v1/projects", orgA)
		resp := get("/api/v1/projects", orgB)
		assert.Empty(t, resp.Header.Get("X-From-Cache"))
		assert.Equal(t, int32(2), hits.Load())
	})
}

func TestCachePolicyTransport_ScopeHeaderStaysLocal(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get(HeaderCacheScope))
		w.Header().Set("Cache-Control", "max-age=300")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	httpClient := &http.Client{Transport: NewCachePolicyTransport(http.DefaultTransport, t.TempDir())}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/orgs", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderAuthorization, "Bearer secret")
	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	assert.Equal(t, "", seen.Load())
	assert.Empty(t, req.Header.Get(HeaderCacheScope))
}

func TestIsStreamingRequest(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		accept   string
		expected bool
	}{
		{name: "event stream accept", path: "/api/v1/runs/1", accept: "text/event-stream", expected: true},
		{name: "stream path", path: "/api/v1/chat/stream", expected: true},
		{name: "events suffix", path: "/api/v1/runs/1/events", expected: true},
		{name: "events segment", path: "/api/v1/events/123", expected: true},
		{name: "plain json", path: "/api/v1/orgs", accept: "application/json", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			require.Equal(t, tt.expected, IsStreamingRequest(req))
		})
	}
}
