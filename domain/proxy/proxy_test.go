package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkgerrors "github.com/tianshipapa/doubandai/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	allow := DefaultAllowList()

	tests := []struct {
		name    string
		raw     string
		status  int
		message string
	}{
		{"missing", "", http.StatusBadRequest, MsgMissingTarget},
		{"other host", "https://example.com/a.jpg", http.StatusForbidden, MsgForbiddenTarget},
		{"allowed but malformed", "://doubanio.com", http.StatusBadRequest, MsgInvalidTarget},
		{"allowed but not http", "ftp://img1.doubanio.com/a.jpg", http.StatusBadRequest, MsgInvalidTarget},
		{"allowed relative", "/doubanio.com/a.jpg", http.StatusBadRequest, MsgInvalidTarget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTarget(tt.raw, allow)
			require.Error(t, err)
			appErr := pkgerrors.GetAppError(err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
			assert.Equal(t, tt.message, appErr.Message)
		})
	}

	t.Run("Should accept an allowed image URL", func(t *testing.T) {
		raw := "https://img9.doubanio.com/view/photo/s_ratio_poster/public/p2578474613.jpg"
		target, err := ParseTarget(raw, allow)
		require.NoError(t, err)
		assert.Equal(t, raw, target.String())
		assert.Equal(t, "img9.doubanio.com", target.Host())
	})

	t.Run("Should match the substring anywhere in the URL", func(t *testing.T) {
		_, err := ParseTarget("https://example.com/?ref=doubanio.com", allow)
		assert.NoError(t, err)
	})

	t.Run("Should reject everything with an empty list", func(t *testing.T) {
		_, err := ParseTarget("https://img1.doubanio.com/a.jpg", NewAllowList())
		assert.True(t, pkgerrors.IsForbidden(err))
	})
}

func TestNewAllowList(t *testing.T) {
	list := NewAllowList(" doubanio.com ", "", "doubanio.com", "img.example.org")
	assert.Equal(t, AllowList{"doubanio.com", "img.example.org"}, list)
	assert.True(t, list.Allows("https://img.example.org/x.png"))
	assert.False(t, list.Allows("https://example.org/x.png"))
}

func TestCachePolicyHeader(t *testing.T) {
	assert.Equal(t, "public, s-maxage=2592000, max-age=604800", DefaultCachePolicy().Header())

	p := CachePolicy{EdgeMaxAge: time.Hour, BrowserMaxAge: time.Minute}
	assert.Equal(t, "public, s-maxage=3600, max-age=60", p.Header())
	assert.Equal(t, time.Hour, p.EdgeTTL())
}

func TestShapeHeaders(t *testing.T) {
	upstream := http.Header{}
	upstream.Set("Content-Type", "image/jpeg")
	upstream.Set("Cache-Control", "no-store")
	upstream.Add("Set-Cookie", "bid=abc")
	upstream.Add("Set-Cookie", "ll=108288")
	upstream.Set("Connection", "keep-alive, X-Private")
	upstream.Set("X-Private", "1")
	upstream.Set("Transfer-Encoding", "chunked")

	shaped := ShapeHeaders(upstream, DefaultCachePolicy())

	assert.Equal(t, "image/jpeg", shaped.Get("Content-Type"))
	assert.Equal(t, "*", shaped.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "public, s-maxage=2592000, max-age=604800", shaped.Get("Cache-Control"))
	assert.Empty(t, shaped.Values("Set-Cookie"))
	assert.Empty(t, shaped.Get("X-Private"))
	assert.Empty(t, shaped.Get("Connection"))
	assert.Empty(t, shaped.Get("Transfer-Encoding"))

	// The upstream header map is left untouched.
	assert.Len(t, upstream.Values("Set-Cookie"), 2)

	t.Run("Should handle nil headers", func(t *testing.T) {
		shaped := ShapeHeaders(nil, DefaultCachePolicy())
		assert.Equal(t, "*", shaped.Get("Access-Control-Allow-Origin"))
	})
}

func TestCacheKey(t *testing.T) {
	a := httptest.NewRequest(http.MethodGet, "http://Edge.example.com/proxy?url=https%3A%2F%2Fimg1.doubanio.com%2Fa.jpg&w=1", nil)
	b := httptest.NewRequest(http.MethodHead, "http://edge.example.com/proxy?w=1&url=https%3A%2F%2Fimg1.doubanio.com%2Fa.jpg", nil)
	c := httptest.NewRequest(http.MethodGet, "http://edge.example.com/proxy?url=https%3A%2F%2Fimg1.doubanio.com%2Fb.jpg", nil)

	assert.Equal(t, CacheKey(a), CacheKey(b))
	assert.NotEqual(t, CacheKey(a), CacheKey(c))
	assert.Equal(t, "GET edge.example.com/proxy?url=https%3A%2F%2Fimg1.doubanio.com%2Fb.jpg", CacheKey(c))
}

func TestCacheable(t *testing.T) {
	assert.True(t, Cacheable(http.MethodGet))
	assert.True(t, Cacheable(http.MethodHead))
	assert.False(t, Cacheable(http.MethodPost))
}
