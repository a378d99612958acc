// Package proxy holds the rules of the image edge proxy: which targets may be
// fetched, what the upstream sees, and how responses are shaped for caching.
package proxy

import (
	"fmt"
	"strings"
	"time"
)

const (
	// Path is the only route served by the proxy; everything else goes to assets.
	Path = "/proxy"

	// TargetParam is the query parameter holding the upstream URL.
	TargetParam = "url"

	// DefaultAllowedHost is the substring every accepted target must contain.
	DefaultAllowedHost = "doubanio.com"

	DefaultReferer   = "https://movie.douban.com/"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36"

	// DefaultEdgeMaxAge is how long shared caches keep a response (s-maxage).
	DefaultEdgeMaxAge = 30 * 24 * time.Hour
	// DefaultBrowserMaxAge is how long browsers keep a response (max-age).
	DefaultBrowserMaxAge = 7 * 24 * time.Hour
)

// Messages returned to clients.
const (
	MsgMissingTarget   = `Missing "url" parameter`
	MsgForbiddenTarget = "Forbidden: Only Douban images are allowed"
	MsgInvalidTarget   = `Invalid "url" parameter`
	MsgUpstreamFailed  = "Failed to fetch from source"
)

// AllowList is the set of substrings a target URL must contain one of.
type AllowList []string

// NewAllowList trims and de-duplicates entries, dropping empty ones.
func NewAllowList(entries ...string) AllowList {
	seen := make(map[string]struct{}, len(entries))
	list := make(AllowList, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		list = append(list, e)
	}
	return list
}

// DefaultAllowList returns the list used when nothing is configured.
func DefaultAllowList() AllowList {
	return AllowList{DefaultAllowedHost}
}

// Allows reports whether target contains any allowed substring.
// The match is against the raw string, not the parsed host.
func (a AllowList) Allows(target string) bool {
	for _, entry := range a {
		if strings.Contains(target, entry) {
			return true
		}
	}
	return false
}

// UpstreamIdentity is what the upstream sees on every fetch.
type UpstreamIdentity struct {
	Referer   string
	UserAgent string
}

// DefaultUpstreamIdentity returns the fixed Referer and User-Agent pair.
func DefaultUpstreamIdentity() UpstreamIdentity {
	return UpstreamIdentity{
		Referer:   DefaultReferer,
		UserAgent: DefaultUserAgent,
	}
}

// CachePolicy controls the Cache-Control directive placed on proxied responses.
type CachePolicy struct {
	EdgeMaxAge    time.Duration
	BrowserMaxAge time.Duration
}

// DefaultCachePolicy is 30 days at the edge and 7 days in the browser.
func DefaultCachePolicy() CachePolicy {
	return CachePolicy{
		EdgeMaxAge:    DefaultEdgeMaxAge,
		BrowserMaxAge: DefaultBrowserMaxAge,
	}
}

// Header renders the Cache-Control value.
func (p CachePolicy) Header() string {
	return fmt.Sprintf("public, s-maxage=%d, max-age=%d",
		int64(p.EdgeMaxAge/time.Second),
		int64(p.BrowserMaxAge/time.Second),
	)
}

// EdgeTTL is the lifetime of an entry in the edge cache.
func (p CachePolicy) EdgeTTL() time.Duration {
	return p.EdgeMaxAge
}
