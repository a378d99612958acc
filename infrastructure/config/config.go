package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tianshipapa/doubandai/domain/proxy"

	"github.com/go-playground/validator/v10"
)

// Cache providers
const (
	CacheProviderMemory   = "memory"
	CacheProviderDynamoDB = "dynamodb"
	CacheProviderNone     = "none"
)

// UpstreamConfig controls how the upstream is called
type UpstreamConfig struct {
	Referer   string        `validate:"required,url"`
	UserAgent string        `validate:"required"`
	Timeout   time.Duration `validate:"gt=0"`
}

// BreakerConfig holds configuration for the upstream circuit breaker
type BreakerConfig struct {
	MaxRequests      uint32        `validate:"gte=1"`
	Interval         time.Duration `validate:"gte=0"`
	Timeout          time.Duration `validate:"gt=0"`
	FailureThreshold float64       `validate:"gt=0,lte=1"`
	MinRequests      uint32        `validate:"gte=1"`
}

// CacheConfig configures the edge cache
type CacheConfig struct {
	Provider       string        `validate:"oneof=memory dynamodb none"`
	MaxItems       int           `validate:"gte=1"`
	MaxMemoryBytes int64         `validate:"gte=1"`
	MaxObjectBytes int64         `validate:"gte=1"`
	TableName      string        `validate:"required_if=Provider dynamodb"`
	WriteTimeout   time.Duration `validate:"gt=0"`
	EdgeMaxAge     time.Duration `validate:"gt=0"`
	BrowserMaxAge  time.Duration `validate:"gte=0"`
}

// RateLimitConfig configures per-client limiting on /proxy
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int `validate:"required_if=Enabled true,gte=0"`
}

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress   string `validate:"required"`
	Environment     string `validate:"oneof=development staging production test"`
	ShutdownTimeout time.Duration

	// AWS configuration
	AWSRegion string

	// Lambda configuration
	IsLambda           bool
	LambdaFunctionName string

	// Logging
	LogLevel string `validate:"oneof=debug info warn error"`

	// Proxy policy
	AllowedHosts []string `validate:"min=1,dive,required"`
	PolicyFile   string
	AssetsDir    string

	Upstream  UpstreamConfig
	Breaker   BreakerConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig

	// Observability
	EnableMetrics   bool
	EnableTracing   bool
	OTLPEndpoint    string `validate:"required_if=EnableTracing true"`
	TraceSampleRate float64 `validate:"gte=0,lte=1"`
	ServiceName     string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress:   getEnv("SERVER_ADDRESS", ":8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		AWSRegion:       getEnv("AWS_REGION", "us-west-2"),

		// Lambda configuration
		IsLambda:           getEnvBool("IS_LAMBDA", os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""),
		LambdaFunctionName: getEnv("AWS_LAMBDA_FUNCTION_NAME", ""),

		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),

		AllowedHosts: getEnvList("ALLOWED_HOSTS", []string{proxy.DefaultAllowedHost}),
		PolicyFile:   getEnv("POLICY_FILE", ""),
		AssetsDir:    getEnv("ASSETS_DIR", ""),

		Upstream: UpstreamConfig{
			Referer:   getEnv("UPSTREAM_REFERER", proxy.DefaultReferer),
			UserAgent: getEnv("UPSTREAM_USER_AGENT", proxy.DefaultUserAgent),
			Timeout:   getEnvDuration("UPSTREAM_TIMEOUT", 15*time.Second),
		},

		Breaker: BreakerConfig{
			MaxRequests:      uint32(getEnvInt("BREAKER_MAX_REQUESTS", 5)),
			Interval:         getEnvDuration("BREAKER_INTERVAL", 30*time.Second),
			Timeout:          getEnvDuration("BREAKER_TIMEOUT", 60*time.Second),
			FailureThreshold: getEnvFloat("BREAKER_FAILURE_THRESHOLD", 0.8),
			MinRequests:      uint32(getEnvInt("BREAKER_MIN_REQUESTS", 5)),
		},

		Cache: CacheConfig{
			Provider:       strings.ToLower(getEnv("CACHE_PROVIDER", CacheProviderMemory)),
			MaxItems:       getEnvInt("CACHE_MAX_ITEMS", 1000),
			MaxMemoryBytes: int64(getEnvInt("CACHE_MAX_MEMORY_MB", 256)) << 20,
			MaxObjectBytes: int64(getEnvInt("CACHE_MAX_OBJECT_MB", 10)) << 20,
			TableName:      getEnv("CACHE_TABLE", "doubandai-edge-cache"),
			WriteTimeout:   getEnvDuration("CACHE_WRITE_TIMEOUT", 10*time.Second),
			EdgeMaxAge:     getEnvDuration("EDGE_MAX_AGE", proxy.DefaultEdgeMaxAge),
			BrowserMaxAge:  getEnvDuration("BROWSER_MAX_AGE", proxy.DefaultBrowserMaxAge),
		},

		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("ENABLE_RATE_LIMIT", false),
			RequestsPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 600),
		},

		EnableMetrics:   getEnvBool("ENABLE_METRICS", true),
		EnableTracing:   getEnvBool("ENABLE_TRACING", false),
		OTLPEndpoint:    getEnv("OTLP_ENDPOINT", ""),
		TraceSampleRate: getEnvFloat("TRACE_SAMPLE_RATE", 0.1),
		ServiceName:     getEnv("SERVICE_NAME", "doubandai"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration against its struct rules
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return fmt.Errorf("invalid configuration: %s failed on '%s'", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// AllowList returns the configured allow-list
func (c *Config) AllowList() proxy.AllowList {
	return proxy.NewAllowList(c.AllowedHosts...)
}

// CachePolicy returns the Cache-Control policy
func (c *Config) CachePolicy() proxy.CachePolicy {
	return proxy.CachePolicy{
		EdgeMaxAge:    c.Cache.EdgeMaxAge,
		BrowserMaxAge: c.Cache.BrowserMaxAge,
	}
}

// UpstreamIdentity returns the headers sent upstream
func (c *Config) UpstreamIdentity() proxy.UpstreamIdentity {
	return proxy.UpstreamIdentity{
		Referer:   c.Upstream.Referer,
		UserAgent: c.Upstream.UserAgent,
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("2592000")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvList splits a comma separated variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
