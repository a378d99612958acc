package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tianshipapa/doubandai/application/ports"
	"github.com/tianshipapa/doubandai/infrastructure/cache"
	"github.com/tianshipapa/doubandai/infrastructure/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("LOG_LEVEL", "error")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	return cfg
}

func TestInitializeContainer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Run("Should wire the default stack", func(t *testing.T) {
		cfg := testConfig(t)
		c, err := InitializeContainer(ctx, cfg)
		require.NoError(t, err)

		assert.IsType(t, &cache.MemoryCache{}, c.Cache)
		assert.IsType(t, ports.StaticAllowList{}, c.AllowList)
		assert.NotNil(t, c.Metrics)
		assert.Nil(t, c.RateLimiter)
		assert.Nil(t, c.PolicyWatcher)

		rec := httptest.NewRecorder()
		c.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"upstream_breaker":"closed"`)

		rec = httptest.NewRecorder()
		c.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		shutdownCtx, done := context.WithTimeout(ctx, time.Second)
		defer done()
		assert.NoError(t, c.Shutdown(shutdownCtx))
	})

	t.Run("Should honour disabled features", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Cache.Provider = config.CacheProviderNone
		cfg.EnableMetrics = false
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.RequestsPerMinute = 10

		c, err := InitializeContainer(ctx, cfg)
		require.NoError(t, err)

		assert.Nil(t, c.Cache)
		assert.Nil(t, c.Metrics)
		assert.NotNil(t, c.RateLimiter)

		rec := httptest.NewRecorder()
		c.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Should build a production logger for Lambda", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.IsLambda = true
		cfg.LambdaFunctionName = "doubandai-edge"

		logger, err := ProvideLogger(cfg)
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("Should reject an unknown log level", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.LogLevel = "loud"
		_, err := InitializeContainer(ctx, cfg)
		assert.Error(t, err)
	})
}
