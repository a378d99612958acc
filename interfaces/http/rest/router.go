package rest

import (
	"net/http"

	"github.com/tianshipapa/doubandai/application/services"
	"github.com/tianshipapa/doubandai/domain/proxy"
	"github.com/tianshipapa/doubandai/interfaces/http/rest/handlers"
	"github.com/tianshipapa/doubandai/interfaces/http/rest/middleware"
	pkgerrors "github.com/tianshipapa/doubandai/pkg/errors"
	"github.com/tianshipapa/doubandai/pkg/observability"
	"github.com/tianshipapa/doubandai/pkg/ratelimit"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig collects what the router needs besides the proxy service
type RouterConfig struct {
	ServiceName string
	AssetsDir   string
	// Limiter may be nil to disable rate limiting on /proxy.
	Limiter *ratelimit.TokenBucket
	// Metrics may be nil; /metrics is then not mounted.
	Metrics *observability.Metrics
	// Status feeds extra fields into /ready.
	Status func() map[string]string
	Debug  bool
}

// Router creates and configures the HTTP router
type Router struct {
	proxyService *services.ProxyService
	cfg          RouterConfig
	logger       *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(proxyService *services.ProxyService, cfg RouterConfig, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		proxyService: proxyService,
		cfg:          cfg,
		logger:       logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() *chi.Mux {
	router := chi.NewRouter()
	errorHandler := pkgerrors.NewErrorHandler(rt.logger, rt.cfg.Debug, middleware.GetRequestIDFromRequest)

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(errorHandler.Middleware)
	router.Use(middleware.Logger(rt.logger))
	router.Use(middleware.Metrics(rt.cfg.Metrics))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Range", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", middleware.CacheStatusHeader},
		MaxAge:         86400,
	}))

	proxyHandler := handlers.NewProxyHandler(rt.proxyService, errorHandler, rt.logger)
	router.With(middleware.RateLimit(rt.cfg.Limiter, errorHandler)).
		HandleFunc(proxy.Path, proxyHandler.Serve)

	health := handlers.NewHealthHandler(rt.cfg.ServiceName, rt.cfg.Status)
	router.Get("/health", health.Health)
	router.Get("/ready", health.Ready)

	if rt.cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", rt.cfg.Metrics.Handler())
	}

	// Everything else is a static asset.
	assets := handlers.NewAssetsHandler(rt.cfg.AssetsDir, errorHandler, rt.logger)
	router.NotFound(assets.ServeHTTP)
	router.MethodNotAllowed(assets.ServeHTTP)

	return router
}
