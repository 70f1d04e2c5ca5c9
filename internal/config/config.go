// Package config loads and validates runtime configuration for the CLI,
// the mock server and the example programs. The client library itself never reads
// the environment; it takes a client.Config built by ClientConfig.
//
// Configuration is read from environment variables or from a config.yaml
// file in the working directory; a .env file is loaded first when present.
// Environment variables take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case. For example ANTHROPIC_API_KEY becomes
// anthropic_api_key in YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/nulpointcorp/anthropic-go/pkg/client"
)

// Config is the top-level configuration container.
type Config struct {
	// APIKey is sent as x-api-key. Required.
	APIKey string

	// BaseURL overrides the API endpoint (ANTHROPIC_API_BASE, or its alias
	// ANTHROPIC_BASE_URL). Useful for the local mock.
	BaseURL string

	// APIVersion is sent as anthropic-version. Default: 2023-06-01.
	APIVersion string

	// Beta lists anthropic-beta flags (comma separated in the environment).
	Beta []string

	// Timeout bounds a Call, and a stream until headers arrive. Default: 60s.
	Timeout time.Duration

	// Model is the default model for the CLI and examples.
	Model string

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// MaxRetries is the number of retries after the first attempt.
	// 0 disables retries. Default: 2.
	MaxRetries int

	CircuitBreaker CircuitBreakerConfig

	// Redis holds the connection URL for the Redis-backed cache and rate
	// limiter.
	Redis RedisConfig

	// Cache controls response caching for deterministic calls.
	Cache CacheConfig

	// RateLimit controls the client-side request budget.
	RateLimit RateLimitConfig

	// MetricsAddr, when set, serves /metrics and /healthz on that address
	// (e.g. ":9090") while a command runs.
	MetricsAddr string

	// ClickHouseDSN, when set, sends the call log to ClickHouse instead of
	// the structured logger.
	ClickHouseDSN string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// Mode selects the cache backend:
	//   "redis"   shared Redis cache (requires REDIS_URL).
	//   "memory"  in-process TTL cache.
	//   "none"    caching disabled.
	// Default: "none".
	Mode string

	// TTL is the lifetime of cached responses. Default: 1h.
	TTL time.Duration

	// ExcludeExact lists exclusion rules: a model name (optionally prefixed
	// "model:"), "tool:NAME" for requests declaring that tool, or "thinking"
	// for requests with extended thinking enabled.
	ExcludeExact []string

	// ExcludePatterns lists Go regular expressions matched against model
	// names. Requests whose model matches any pattern are not cached.
	ExcludePatterns []string
}

// CircuitBreakerConfig controls the upstream circuit breaker.
type CircuitBreakerConfig struct {
	// ErrorThreshold is the number of errors within TimeWindow that trip
	// the breaker. Default: 5.
	ErrorThreshold int

	// TimeWindow is the window over which errors are counted. Default: 60s.
	TimeWindow time.Duration

	// HalfOpenTimeout is how long the breaker stays open before allowing a
	// single probe request. Default: 30s.
	HalfOpenTimeout time.Duration
}

// RateLimitConfig controls the client-side request budget.
type RateLimitConfig struct {
	// RPMLimit is the maximum requests per minute shared by every process
	// using the same API key. 0 disables rate limiting. Requires REDIS_URL.
	RPMLimit int
}

// Load reads configuration from the environment and, optionally, from
// config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("ANTHROPIC_API_VERSION", client.DefaultAPIVersion)
	v.SetDefault("ANTHROPIC_TIMEOUT_SECS", int(client.DefaultTimeout/time.Second))
	v.SetDefault("ANTHROPIC_MODEL", "claude-sonnet-4-5")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MAX_RETRIES", 2)
	v.SetDefault("CACHE_MODE", "none")
	v.SetDefault("CACHE_TTL", "1h")

	// Circuit breaker defaults.
	v.SetDefault("CB_ERROR_THRESHOLD", 5)
	v.SetDefault("CB_TIME_WINDOW", "60s")
	v.SetDefault("CB_HALF_OPEN_TIMEOUT", "30s")

	// Rate limit: 0 = disabled.
	v.SetDefault("RPM_LIMIT", 0)

	baseURL := v.GetString("ANTHROPIC_API_BASE")
	if baseURL == "" {
		baseURL = v.GetString("ANTHROPIC_BASE_URL")
	}

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		APIKey:     v.GetString("ANTHROPIC_API_KEY"),
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIVersion: v.GetString("ANTHROPIC_API_VERSION"),
		Beta:       splitList(v.GetString("ANTHROPIC_BETA")),
		Timeout:    time.Duration(v.GetInt("ANTHROPIC_TIMEOUT_SECS")) * time.Second,
		Model:      v.GetString("ANTHROPIC_MODEL"),
		LogLevel:   strings.ToLower(v.GetString("LOG_LEVEL")),
		MaxRetries: v.GetInt("MAX_RETRIES"),

		CircuitBreaker: CircuitBreakerConfig{
			ErrorThreshold:  v.GetInt("CB_ERROR_THRESHOLD"),
			TimeWindow:      v.GetDuration("CB_TIME_WINDOW"),
			HalfOpenTimeout: v.GetDuration("CB_HALF_OPEN_TIMEOUT"),
		},

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		Cache: CacheConfig{
			Mode:            strings.ToLower(v.GetString("CACHE_MODE")),
			TTL:             v.GetDuration("CACHE_TTL"),
			ExcludeExact:    splitList(v.GetString("CACHE_EXCLUDE_EXACT")),
			ExcludePatterns: splitList(v.GetString("CACHE_EXCLUDE_PATTERNS")),
		},

		RateLimit: RateLimitConfig{
			RPMLimit: v.GetInt("RPM_LIMIT"),
		},

		MetricsAddr:   v.GetString("METRICS_ADDR"),
		ClickHouseDSN: v.GetString("CLICKHOUSE_DSN"),
	}

	// ── Validation ────────────────────────────────────────────────────────────
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if c.APIKey == "" {
		return errors.New("config: ANTHROPIC_API_KEY is required")
	}

	switch c.Cache.Mode {
	case "redis", "memory", "none":
	default:
		return fmt.Errorf(
			"config: invalid CACHE_MODE %q; must be one of: redis, memory, none",
			c.Cache.Mode,
		)
	}

	if c.Cache.Mode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when CACHE_MODE=redis; " +
				"set CACHE_MODE=memory to use the built-in in-process cache",
		)
	}
	if c.RateLimit.RPMLimit < 0 {
		return fmt.Errorf("config: RPM_LIMIT must be ≥ 0, got %d", c.RateLimit.RPMLimit)
	}
	if c.RateLimit.RPMLimit > 0 && c.Redis.URL == "" {
		return fmt.Errorf("config: REDIS_URL is required when RPM_LIMIT is set")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("config: ANTHROPIC_TIMEOUT_SECS must be ≥ 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: MAX_RETRIES must be ≥ 0, got %d", c.MaxRetries)
	}

	// Circuit breaker sanity checks.
	if c.CircuitBreaker.ErrorThreshold < 1 {
		return fmt.Errorf("config: CB_ERROR_THRESHOLD must be ≥ 1, got %d", c.CircuitBreaker.ErrorThreshold)
	}
	if c.CircuitBreaker.TimeWindow <= 0 {
		return fmt.Errorf("config: CB_TIME_WINDOW must be a positive duration")
	}
	if c.CircuitBreaker.HalfOpenTimeout <= 0 {
		return fmt.Errorf("config: CB_HALF_OPEN_TIMEOUT must be a positive duration")
	}

	return nil
}

// ClientConfig maps the loaded settings onto client.Config.
func (c *Config) ClientConfig() client.Config {
	retries := c.MaxRetries
	if retries == 0 {
		retries = -1
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = -1
	}
	return client.Config{
		APIKey:     c.APIKey,
		BaseURL:    c.BaseURL,
		APIVersion: c.APIVersion,
		Beta:       append([]string(nil), c.Beta...),
		Timeout:    timeout,
		MaxRetries: retries,
		CircuitBreaker: client.CircuitBreakerConfig{
			ErrorThreshold:  c.CircuitBreaker.ErrorThreshold,
			TimeWindow:      c.CircuitBreaker.TimeWindow,
			HalfOpenTimeout: c.CircuitBreaker.HalfOpenTimeout,
		},
	}
}

// splitList splits a comma separated value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
