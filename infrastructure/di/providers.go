package di

import (
	"context"
	"fmt"
	"time"

	"github.com/tianshipapa/doubandai/application/ports"
	"github.com/tianshipapa/doubandai/application/services"
	"github.com/tianshipapa/doubandai/infrastructure/cache"
	"github.com/tianshipapa/doubandai/infrastructure/config"
	"github.com/tianshipapa/doubandai/infrastructure/upstream"
	"github.com/tianshipapa/doubandai/interfaces/http/rest"
	"github.com/tianshipapa/doubandai/pkg/observability"
	"github.com/tianshipapa/doubandai/pkg/ratelimit"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const metricsNamespace = "doubandai"

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() || cfg.IsLambda {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("service", cfg.ServiceName))
	if cfg.LambdaFunctionName != "" {
		logger = logger.With(zap.String("function", cfg.LambdaFunctionName))
	}
	return logger, nil
}

// ProvideMetrics creates the Prometheus collectors, or nil when disabled
func ProvideMetrics(cfg *config.Config) *observability.Metrics {
	if !cfg.EnableMetrics {
		return nil
	}
	return observability.NewMetrics(metricsNamespace)
}

// ProvideTracing installs the OTLP tracer provider when tracing is enabled
func ProvideTracing(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*observability.TracerProvider, error) {
	if !cfg.EnableTracing {
		return nil, nil
	}
	tp, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.Environment, cfg.OTLPEndpoint, cfg.TraceSampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	logger.Info("Tracing enabled",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.Float64("sample_rate", cfg.TraceSampleRate),
	)
	return tp, nil
}

// ProvidePolicyWatcher starts watching POLICY_FILE; nil when none is configured
func ProvidePolicyWatcher(cfg *config.Config, logger *zap.Logger) (*config.PolicyWatcher, error) {
	if cfg.PolicyFile == "" {
		return nil, nil
	}
	w, err := config.NewPolicyWatcher(cfg.PolicyFile, logger)
	if err != nil {
		return nil, err
	}
	w.Start()
	return w, nil
}

// ProvideAllowListSource prefers the hot-reloaded policy over the static list
func ProvideAllowListSource(cfg *config.Config, watcher *config.PolicyWatcher) ports.AllowListSource {
	if watcher != nil {
		return watcher
	}
	return ports.StaticAllowList(cfg.AllowList())
}

// ProvideResponseCache creates the edge cache store
func ProvideResponseCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.ResponseCache, error) {
	return cache.NewResponseCache(ctx, cfg, logger)
}

// ProvideUpstreamClient creates the breaker-guarded upstream client
func ProvideUpstreamClient(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) *upstream.Client {
	return upstream.NewClient(cfg.UpstreamIdentity(), cfg.Upstream.Timeout, cfg.Breaker, logger, metrics)
}

// ProvideBackground creates the runner for deferred cache writes
func ProvideBackground(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) *services.Background {
	return services.NewBackground(cfg.Cache.WriteTimeout, logger, metrics)
}

// ProvideProxyService creates the proxy application service
func ProvideProxyService(
	cfg *config.Config,
	allow ports.AllowListSource,
	responseCache ports.ResponseCache,
	fetcher ports.Fetcher,
	scheduler ports.Scheduler,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *services.ProxyService {
	return services.NewProxyService(
		allow,
		responseCache,
		fetcher,
		scheduler,
		cfg.CachePolicy(),
		cfg.Cache.MaxObjectBytes,
		logger,
		metrics,
	)
}

// ProvideRateLimiter creates the per-client limiter, or nil when disabled
func ProvideRateLimiter(ctx context.Context, cfg *config.Config) *ratelimit.TokenBucket {
	if !cfg.RateLimit.Enabled || cfg.RateLimit.RequestsPerMinute <= 0 {
		return nil
	}
	limiter := ratelimit.NewTokenBucket(cfg.RateLimit.RequestsPerMinute)
	limiter.StartCleanup(ctx, 5*time.Minute)
	return limiter
}

// ProvideRouter builds the HTTP handler tree
func ProvideRouter(
	cfg *config.Config,
	svc *services.ProxyService,
	client *upstream.Client,
	allow ports.AllowListSource,
	limiter *ratelimit.TokenBucket,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *chi.Mux {
	status := func() map[string]string {
		return map[string]string{
			"environment":      cfg.Environment,
			"cache_provider":   cfg.Cache.Provider,
			"upstream_breaker": client.BreakerState().String(),
			"allowed_hosts":    fmt.Sprint(len(allow.AllowList())),
		}
	}
	return rest.NewRouter(svc, rest.RouterConfig{
		ServiceName: cfg.ServiceName,
		AssetsDir:   cfg.AssetsDir,
		Limiter:     limiter,
		Metrics:     metrics,
		Status:      status,
		Debug:       cfg.IsDevelopment(),
	}, logger).Setup()
}
