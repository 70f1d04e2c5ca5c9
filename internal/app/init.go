package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nulpointcorp/anthropic-go/internal/cache"
	"github.com/nulpointcorp/anthropic-go/internal/logger"
	"github.com/nulpointcorp/anthropic-go/internal/metrics"
	"github.com/nulpointcorp/anthropic-go/internal/ratelimit"
	"github.com/nulpointcorp/anthropic-go/internal/server"
	"github.com/nulpointcorp/anthropic-go/pkg/client"
)

// initInfra establishes optional external connections. Redis is required
// when CACHE_MODE=redis or RPM_LIMIT > 0; ClickHouse when CLICKHOUSE_DSN is
// set.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Cache.Mode == "redis" || a.cfg.RateLimit.RPMLimit > 0 {
		a.log.Debug("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
	}

	if a.cfg.ClickHouseDSN != "" {
		a.log.Debug("connecting to clickhouse", slog.String("dsn", redactURL(a.cfg.ClickHouseDSN)))

		sink, err := logger.NewClickHouseSink(ctx, a.cfg.ClickHouseDSN)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		a.chSink = sink
	}

	return nil
}

// initServices creates the metrics registry, response cache, rate limiter
// and call log.
func (a *App) initServices(ctx context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	// ── Response cache ───────────────────────────────────────────────────────
	var store cache.Store
	switch a.cfg.Cache.Mode {
	case "redis":
		store = cache.NewRedisStore(a.rdb, a.log)
	case "memory":
		a.memStore = cache.NewMemoryStore(a.baseCtx)
		store = a.memStore
	case "none":
	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	if store != nil {
		el, err := cache.NewExclusionList(a.cfg.Cache.ExcludeExact, a.cfg.Cache.ExcludePatterns)
		if err != nil {
			return fmt.Errorf("cache exclusions: %w", err)
		}
		a.respCache = cache.NewResponses(store, cache.Options{
			TTL:        a.cfg.Cache.TTL,
			APIVersion: a.cfg.APIVersion,
			Beta:       a.cfg.Beta,
			Exclusions: el,
			Metrics:    a.prom,
			Logger:     a.log,
		})
		a.log.Debug("response cache enabled",
			slog.String("mode", a.cfg.Cache.Mode),
			slog.Int("exclusions", el.Len()),
		)
	}

	// ── Rate limit ───────────────────────────────────────────────────────────
	if a.rdb != nil && a.cfg.RateLimit.RPMLimit > 0 {
		a.limiter = ratelimit.NewRPMLimiter(a.rdb, a.cfg.APIKey, a.cfg.RateLimit.RPMLimit)
		a.log.Debug("rate limiting enabled", slog.Int("rpm_limit", a.cfg.RateLimit.RPMLimit))
	}

	// ── Call log ─────────────────────────────────────────────────────────────
	var sink logger.Sink
	if a.chSink != nil {
		sink = a.chSink
	}
	callLog, err := logger.New(a.baseCtx, sink, a.log, logger.WithDropHook(a.prom.IncDroppedLogs))
	if err != nil {
		return fmt.Errorf("call log: %w", err)
	}
	a.callLog = callLog

	return nil
}

// initClient builds the Messages API client.
func (a *App) initClient(_ context.Context) error {
	opts := []client.Option{
		client.WithLogger(a.log),
		client.WithObserver(a.prom),
		client.WithCallHook(a.callLog.Hook()),
	}
	if a.respCache != nil {
		opts = append(opts, client.WithCache(a.respCache))
	}
	if a.limiter != nil {
		opts = append(opts, client.WithLimiter(a.limiter))
	}
	opts = append(opts, a.clientOpts...)

	c, err := client.New(a.cfg.ClientConfig(), opts...)
	if err != nil {
		return err
	}
	a.client = c
	return nil
}

// initServer prepares the metrics server when METRICS_ADDR is set. The
// listener is opened by Run.
func (a *App) initServer(_ context.Context) error {
	if a.cfg.MetricsAddr == "" {
		return nil
	}

	probes := map[string]server.Probe{}
	if a.rdb != nil {
		probes["redis"] = redisProbe(a.rdb)
	}
	if a.chSink != nil {
		probes["clickhouse"] = a.chSink.Ping
	}
	a.health = server.NewHealthChecker(a.baseCtx, a.client.CircuitState, probes)

	a.srv = server.New(server.Options{
		Metrics:  a.prom.Handler(),
		Health:   a.health,
		Observer: a.prom,
		Logger:   a.log,
		Version:  a.version,
	})
	return nil
}
