package proxy

import (
	"net/http"
	"strings"
)

// hopHeaders apply to a single connection and are never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ShapeHeaders returns the client-facing headers for an upstream response:
// cross-origin access for everyone, the policy's Cache-Control, no cookies.
func ShapeHeaders(upstream http.Header, policy CachePolicy) http.Header {
	h := upstream.Clone()
	if h == nil {
		h = make(http.Header)
	}

	if c := h.Get("Connection"); c != "" {
		for _, name := range strings.Split(c, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}

	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Cache-Control", policy.Header())
	h.Del("Set-Cookie")

	return h
}

// CacheKey normalizes the identity of an inbound request. HEAD shares the
// GET entry and query parameters are compared in sorted order.
func CacheKey(r *http.Request) string {
	host := r.Host
	if host == "" && r.URL != nil {
		host = r.URL.Host
	}

	path := "/"
	query := ""
	if r.URL != nil {
		if r.URL.Path != "" {
			path = r.URL.Path
		}
		// Encode sorts by key.
		query = r.URL.Query().Encode()
	}

	var sb strings.Builder
	sb.WriteString(http.MethodGet)
	sb.WriteByte(' ')
	sb.WriteString(strings.ToLower(host))
	sb.WriteString(path)
	if query != "" {
		sb.WriteByte('?')
		sb.WriteString(query)
	}
	return sb.String()
}

// Cacheable reports whether requests with method may use the edge cache.
func Cacheable(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}
