package cache

import (
	"context"
	"fmt"

	"github.com/tianshipapa/doubandai/application/ports"
	"github.com/tianshipapa/doubandai/infrastructure/config"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"
)

// NewResponseCache builds the store selected by cfg.Cache.Provider.
// The "none" provider yields a nil cache, which disables edge caching.
func NewResponseCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.ResponseCache, error) {
	switch cfg.Cache.Provider {
	case config.CacheProviderNone:
		logger.Info("Edge cache disabled")
		return nil, nil

	case config.CacheProviderDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
		}
		logger.Info("Using DynamoDB edge cache",
			zap.String("table", cfg.Cache.TableName),
			zap.String("region", cfg.AWSRegion),
		)
		return NewDynamoDBCache(dynamodb.NewFromConfig(awsCfg), cfg.Cache.TableName, logger), nil

	case config.CacheProviderMemory, "":
		logger.Info("Using in-memory edge cache",
			zap.Int("max_items", cfg.Cache.MaxItems),
			zap.Int64("max_memory_bytes", cfg.Cache.MaxMemoryBytes),
		)
		mc := NewMemoryCache(cfg.Cache.MaxItems, cfg.Cache.MaxMemoryBytes, logger)
		mc.StartCleanup(ctx, cleanupInterval)
		return mc, nil

	default:
		return nil, fmt.Errorf("unknown cache provider %q", cfg.Cache.Provider)
	}
}
