package ports

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/tianshipapa/doubandai/domain/proxy"
)

// CachedResponse is a complete upstream response kept in the edge cache.
// Header holds the already shaped client-facing headers.
type CachedResponse struct {
	StatusCode int         `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"stored_at"`
}

// Size approximates the memory held by the entry.
func (c *CachedResponse) Size() int64 {
	n := int64(len(c.Body))
	for k, vs := range c.Header {
		n += int64(len(k))
		for _, v := range vs {
			n += int64(len(v))
		}
	}
	return n
}

// ResponseCache is the edge cache keyed by normalized request identity.
// This is a port in hexagonal architecture - memory and DynamoDB stores implement it.
type ResponseCache interface {
	// Get returns the entry for key; ok is false on a miss or an expired entry.
	Get(ctx context.Context, key string) (resp *CachedResponse, ok bool, err error)

	// Put stores resp for ttl. Implementations may drop entries they cannot hold.
	Put(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error
}

// UpstreamResponse is a successful or failed answer from the upstream.
// Callers own Body and must close it.
type UpstreamResponse struct {
	StatusCode    int
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// OK reports a 2xx status.
func (r *UpstreamResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Fetcher retrieves a target from the upstream with the fixed identity headers.
type Fetcher interface {
	Fetch(ctx context.Context, target proxy.Target) (*UpstreamResponse, error)
}

// AllowListSource supplies the current allow-list; it may change at runtime.
type AllowListSource interface {
	AllowList() proxy.AllowList
}

// StaticAllowList is an AllowListSource that never changes.
type StaticAllowList proxy.AllowList

// AllowList implements AllowListSource.
func (s StaticAllowList) AllowList() proxy.AllowList {
	return proxy.AllowList(s)
}

// Scheduler runs work after the response has been handed back, the way an
// edge runtime's waitUntil does. Failures are the task's own business.
type Scheduler interface {
	Go(name string, task func(ctx context.Context) error)
}
