package proxy

import (
	"fmt"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/router-for-me/AutoRouter/internal/registry"
)

// hopByHopHeaders are transport-level headers regenerated on each leg.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
	"Host",
}

// credentialHeaders carry the caller's gateway key and never leave the gateway.
var credentialHeaders = []string{
	"Authorization",
	"X-Api-Key",
}

// FilterHeaders returns a copy of h without hop-by-hop headers, including any
// header named in the Connection header.
func FilterHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	drop := make(map[string]struct{}, len(hopByHopHeaders))
	for _, name := range hopByHopHeaders {
		drop[name] = struct{}{}
	}
	for _, value := range h.Values("Connection") {
		for _, token := range strings.Split(value, ",") {
			if token = strings.TrimSpace(token); token != "" {
				drop[textproto.CanonicalMIMEHeaderKey(token)] = struct{}{}
			}
		}
	}
	for name, values := range h {
		if _, skip := drop[textproto.CanonicalMIMEHeaderKey(name)]; skip {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

// InjectAuth returns a copy of h carrying the upstream credential in the
// provider's header. h itself is not modified.
func InjectAuth(h http.Header, provider registry.Provider, secret string) (http.Header, error) {
	out := h.Clone()
	if out == nil {
		out = make(http.Header)
	}
	switch provider {
	case registry.ProviderOpenAI:
		out.Set("Authorization", "Bearer "+secret)
	case registry.ProviderAnthropic:
		out.Set("X-Api-Key", secret)
	default:
		return nil, fmt.Errorf("proxy: unsupported provider %q", provider)
	}
	return out, nil
}

// JoinURL joins a base URL and an escaped relative path with exactly one slash.
// Percent-encoded octets in path are kept as they are.
func JoinURL(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// outboundHeaders builds the header set sent upstream.
func outboundHeaders(in http.Header, cfg registry.Config) (http.Header, error) {
	filtered := FilterHeaders(in)
	for _, name := range credentialHeaders {
		filtered.Del(name)
	}
	filtered.Del("Content-Length")
	// Let the transport negotiate compression so bodies arrive decoded for usage parsing.
	filtered.Del("Accept-Encoding")
	return InjectAuth(filtered, cfg.Provider, cfg.APIKey)
}

// responseHeaders filters upstream response headers for the client.
func responseHeaders(in http.Header) http.Header {
	out := FilterHeaders(in)
	out.Del("Content-Length")
	return out
}
