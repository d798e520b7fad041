package commands

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/testdash/internal/orgclient"
	"github.com/wolfeidau/testdash/internal/proxy"
	"github.com/wolfeidau/testdash/internal/state"
)

type upstream struct {
	mu     sync.Mutex
	header http.Header
	path   string
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.header = r.Header.Clone()
	u.path = r.URL.Path
	u.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"ok":true}`)
}

func newTestHandler(t *testing.T, origins ...string) (http.Handler, *upstream) {
	u := &upstream{}
	srv := httptest.NewServer(u)
	t.Cleanup(srv.Close)

	mem := state.NewMemoryStore()
	p, err := proxy.New(proxy.Config{
		Backend:  srv.URL,
		Sessions: func(key string) state.Store { return state.Prefixed(mem, key) },
	})
	require.NoError(t, err)

	return newHandler(zerolog.Nop(), p, origins), u
}

func TestHandler_Healthz(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandler_ProxiesAPI(t *testing.T) {
	h, u := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	req.Header.Set(orgclient.HeaderOrganizationID, "org-a")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	u.mu.Lock()
	defer u.mu.Unlock()
	assert.Equal(t, "/api/v1/projects", u.path)
	assert.Equal(t, "org-a", u.header.Get(orgclient.HeaderOrganizationID))
	assert.Equal(t, rec.Header().Get("X-Request-ID"), u.header.Get("X-Request-ID"))
}

func TestHandler_UnknownRoute(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_CORS(t *testing.T) {
	h, _ := newTestHandler(t, "http://localhost:3000")

	tests := []struct {
		name   string
		origin string
		want   string
	}{
		{name: "allowed origin", origin: "http://localhost:3000", want: "http://localhost:3000"},
		{name: "other origin", origin: "https://evil.example", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/v1/projects", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", orgclient.HeaderOrganizationID)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.want != "" {
				assert.Contains(t, strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers")), "x-organization-id")
				assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
			}
		})
	}
}

func TestServerCmd_Validate(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "cert.pem")
	require.NoError(t, os.WriteFile(cert, []byte("cert"), 0o600))

	assert.NoError(t, (&ServerCmd{}).Validate())
	assert.Error(t, (&ServerCmd{Cert: cert}).Validate())
	assert.Error(t, (&ServerCmd{Cert: cert, Key: filepath.Join(dir, "missing.pem")}).Validate())
	assert.NoError(t, (&ServerCmd{Cert: cert, Key: cert}).Validate())
}

func TestServerCmd_InMemorySessionStores(t *testing.T) {
	stores, closeFn, err := (&ServerCmd{}).sessionStores(context.Background())
	require.NoError(t, err)
	defer closeFn()

	ctx := context.Background()
	require.NoError(t, stores("s1").Set(ctx, state.CurrentOrganizationKey, "org-a"))

	v, err := state.GetString(ctx, stores("s1"), state.CurrentOrganizationKey)
	require.NoError(t, err)
	assert.Equal(t, "org-a", v)

	v, err = state.GetString(ctx, stores("s2"), state.CurrentOrganizationKey)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestHandler_CORSCredentialedAuthorization(t *testing.T) {
	h, _ := newTestHandler(t, "http://localhost:3000")

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/projects", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "authorization")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers")), "authorization")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Authorization", "Bearer token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Values("Set-Cookie"))
}
