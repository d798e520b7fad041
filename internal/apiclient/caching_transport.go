package apiclient

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// HeaderCacheScope carries a digest of the request's credential and
// organization between the cache and the network. It never leaves the client.
const HeaderCacheScope = "X-Cache-Scope"

// scopeHeaders are the request headers a cached response is bound to.
var scopeHeaders = []string{HeaderAuthorization, HeaderAPIKey, "X-Organization-ID"}

// CachePolicyTransport routes streaming requests straight to the network and
// sends everything else through an HTTP cache that honours the response's
// Cache-Control headers. Cached entries are keyed by URL and only reused for
// requests with the same credential and organization.
type CachePolicyTransport struct {
	network http.RoundTripper
	cached  http.RoundTripper
}

// NewCachePolicyTransport creates a transport with a disk cache in cacheDir,
// or an in-memory cache when cacheDir is empty.
func NewCachePolicyTransport(base http.RoundTripper, cacheDir string) *CachePolicyTransport {
	var cache httpcache.Cache = httpcache.NewMemoryCache()
	if cacheDir != "" {
		// Use disk-based cache for persistence across restarts
		cache = diskcache.New(cacheDir)
	}

	cached := httpcache.NewTransport(cache)
	cached.Transport = &scopedTransport{base: base}
	cached.MarkCachedResponses = true

	return &CachePolicyTransport{
		network: base,
		cached:  cached,
	}
}

func (t *CachePolicyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !IsCacheable(req) {
		return t.network.RoundTrip(req)
	}

	req = req.Clone(req.Context())
	req.Header.Set(HeaderCacheScope, cacheScope(req.Header))
	return t.cached.RoundTrip(req)
}

// scopedTransport strips the scope header before the request goes out and
// marks the response as varying on it, so the cache stores the digest rather
// than the raw credential.
type scopedTransport struct {
	base http.RoundTripper
}

func (t *scopedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Header.Del(HeaderCacheScope)

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	resp.Header.Add("Vary", HeaderCacheScope)
	return resp, nil
}

func cacheScope(h http.Header) string {
	sum := sha256.New()
	for _, name := range scopeHeaders {
		sum.Write([]byte(name))
		sum.Write([]byte{0})
		sum.Write([]byte(h.Get(name)))
		sum.Write([]byte{0})
	}
	return hex.EncodeToString(sum.Sum(nil))
}

// IsStreamingRequest reports whether req expects an incrementally delivered
// response, such as server-sent events or chat streams.
func IsStreamingRequest(req *http.Request) bool {
	if strings.Contains(req.Header.Get("Accept"), "text/event-stream") {
		return true
	}

	path := req.URL.Path
	return strings.Contains(path, "/stream") || strings.Contains(path, "/events")
}

// IsCacheable reports whether req may be served from the cache.
func IsCacheable(req *http.Request) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	return !IsStreamingRequest(req)
}
