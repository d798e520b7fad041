package apiclient

import (
	"net"
	"net/url"
	"strings"
)

// DefaultProductionHost is the backend used when nothing else is configured.
const DefaultProductionHost = "https://api.testpilot.dev"

// HostConfig holds the inputs for backend host resolution.
type HostConfig struct {
	// Override is an explicit host from the environment, always preferred.
	Override string

	// ServerDefault is the production host used by the server runtime (the BFF).
	ServerDefault string

	// ClientDefault is the production host used by clients.
	ClientDefault string

	// Server is true when running inside the BFF rather than a client.
	Server bool

	// Origin is the client's own origin. When it is a localhost address the
	// client talks same-origin and relies on the BFF proxy.
	Origin string
}

// ResolveHost picks the backend host: explicit override, then the server
// default on the server runtime, then "" for clients on localhost, then the
// client default. The result never has a trailing slash.
func ResolveHost(cfg HostConfig) string {
	if cfg.Override != "" {
		return strings.TrimRight(cfg.Override, "/")
	}

	if cfg.Server {
		return strings.TrimRight(orDefault(cfg.ServerDefault), "/")
	}

	if IsLocalhost(cfg.Origin) {
		return ""
	}

	return strings.TrimRight(orDefault(cfg.ClientDefault), "/")
}

// IsLocalhost reports whether origin points at the local machine.
func IsLocalhost(origin string) bool {
	if origin == "" {
		return false
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}

	host := u.Hostname()
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}

	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func orDefault(host string) string {
	if host == "" {
		return DefaultProductionHost
	}
	return host
}
