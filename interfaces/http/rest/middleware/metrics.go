package middleware

import (
	"net/http"
	"time"

	"github.com/tianshipapa/doubandai/pkg/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Metrics records request counts and latency per matched route pattern.
// Unmatched paths are grouped under "assets" to bound label cardinality.
func Metrics(m *observability.Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "assets"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" && pattern != "/*" {
					route = pattern
				}
			}
			m.RecordHTTP(r.Method, route, ww.Status(), time.Since(start))
		})
	}
}
