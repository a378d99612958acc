//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/tianshipapa/doubandai/application/ports"
	"github.com/tianshipapa/doubandai/application/services"
	"github.com/tianshipapa/doubandai/infrastructure/config"
	"github.com/tianshipapa/doubandai/infrastructure/upstream"

	"github.com/google/wire"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideTracing,
	ProvidePolicyWatcher,
	ProvideAllowListSource,
	ProvideResponseCache,
	ProvideUpstreamClient,
	wire.Bind(new(ports.Fetcher), new(*upstream.Client)),
	ProvideBackground,
	wire.Bind(new(ports.Scheduler), new(*services.Background)),
	ProvideProxyService,
	ProvideRateLimiter,
	ProvideRouter,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(SuperSet)
	return nil, nil
}
