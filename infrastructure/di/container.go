// Package di wires the proxy's components together.
package di

import (
	"context"
	"errors"

	"github.com/tianshipapa/doubandai/application/ports"
	"github.com/tianshipapa/doubandai/application/services"
	"github.com/tianshipapa/doubandai/infrastructure/config"
	"github.com/tianshipapa/doubandai/infrastructure/upstream"
	"github.com/tianshipapa/doubandai/pkg/observability"
	"github.com/tianshipapa/doubandai/pkg/ratelimit"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Container holds all application dependencies
type Container struct {
	Config        *config.Config
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	Tracing       *observability.TracerProvider
	PolicyWatcher *config.PolicyWatcher
	AllowList     ports.AllowListSource
	Cache         ports.ResponseCache
	Upstream      *upstream.Client
	Background    *services.Background
	ProxyService  *services.ProxyService
	RateLimiter   *ratelimit.TokenBucket
	Router        *chi.Mux
}

// Shutdown drains pending cache writes and releases resources. It keeps
// going after a failure and reports every error.
func (c *Container) Shutdown(ctx context.Context) error {
	var errs []error

	if err := c.Background.Close(ctx); err != nil {
		c.Logger.Warn("Pending cache writes abandoned", zap.Error(err))
		errs = append(errs, err)
	}
	if c.PolicyWatcher != nil {
		c.PolicyWatcher.Stop()
	}
	if err := c.Tracing.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	_ = c.Logger.Sync()

	return errors.Join(errs...)
}
