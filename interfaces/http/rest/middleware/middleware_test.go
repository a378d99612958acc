package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/tianshipapa/doubandai/pkg/errors"
	"github.com/tianshipapa/doubandai/pkg/ratelimit"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("Should generate request ID when not provided", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/proxy", nil)
		w := httptest.NewRecorder()

		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Len(t, GetRequestIDFromRequest(r), 36)
			w.WriteHeader(http.StatusOK)
		}))
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("Should use provided request ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/proxy", nil)
		req.Header.Set("X-Request-ID", "test-request-id")
		w := httptest.NewRecorder()

		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "test-request-id", GetRequestIDFromRequest(r))
		}))
		handler.ServeHTTP(w, req)

		assert.Equal(t, "test-request-id", w.Header().Get("X-Request-ID"))
	})

	t.Run("Should replace oversized request IDs", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/proxy", nil)
		req.Header.Set("X-Request-ID", strings.Repeat("x", 500))
		w := httptest.NewRecorder()

		RequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(w, req)
		assert.Len(t, w.Header().Get("X-Request-ID"), 36)
	})
}

func TestLoggerMiddleware(t *testing.T) {
	t.Run("Should log status and cache outcome", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		handler := RequestID(Logger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(CacheStatusHeader, "HIT")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("img"))
		})))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/proxy?url=x", nil))

		entries := logs.FilterMessage("HTTP Request").All()
		if assert.Len(t, entries, 1) {
			fields := entries[0].ContextMap()
			assert.Equal(t, int64(200), fields["status"])
			assert.Equal(t, int64(3), fields["bytes"])
			assert.Equal(t, "HIT", fields["cache"])
			assert.NotEmpty(t, fields["requestID"])
		}
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	errorHandler := pkgerrors.NewErrorHandler(nil, false, GetRequestIDFromRequest)

	t.Run("Should pass through when disabled", func(t *testing.T) {
		handler := RateLimit(nil, errorHandler)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		for i := 0; i < 5; i++ {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest("GET", "/proxy", nil))
			assert.Equal(t, http.StatusNoContent, w.Code)
		}
	})

	t.Run("Should limit per client address", func(t *testing.T) {
		handler := RateLimit(ratelimit.NewTokenBucket(2), errorHandler)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		send := func(addr string) int {
			req := httptest.NewRequest("GET", "/proxy", nil)
			req.RemoteAddr = addr
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			return w.Code
		}

		assert.Equal(t, http.StatusNoContent, send("10.0.0.1:5000"))
		assert.Equal(t, http.StatusNoContent, send("10.0.0.1:5001"))
		assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:5002"))
		assert.Equal(t, http.StatusNoContent, send("10.0.0.2:5000"))
	})
}
