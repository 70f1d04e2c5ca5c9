// Package app wires up all subsystems behind the CLI and owns their
// lifecycle.
//
// Startup order:
//  1. initInfra     external connections (Redis, ClickHouse) when configured
//  2. initServices  metrics registry, response cache, rate limiter, call log
//  3. initClient    the Messages API client with every collaborator attached
//  4. initServer    /metrics and /healthz when METRICS_ADDR is set
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/anthropic-go/internal/cache"
	"github.com/nulpointcorp/anthropic-go/internal/config"
	"github.com/nulpointcorp/anthropic-go/internal/logger"
	"github.com/nulpointcorp/anthropic-go/internal/metrics"
	"github.com/nulpointcorp/anthropic-go/internal/server"
	"github.com/nulpointcorp/anthropic-go/pkg/client"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections, nil when not configured.
	rdb    *redis.Client
	chSink *logger.ClickHouseSink

	callLog   *logger.Logger
	memStore  *cache.MemoryStore
	respCache *cache.Responses
	limiter   client.Limiter

	prom   *metrics.Registry
	health *server.HealthChecker
	srv    *server.Server

	client *client.Client

	// clientOpts are appended last by initClient; tests use them to swap
	// the HTTP client.
	clientOpts []client.Option
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string, opts ...client.Option) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log, clientOpts: opts}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"services", a.initServices},
		{"client", a.initClient},
		{"server", a.initServer},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Client returns the configured Messages API client.
func (a *App) Client() *client.Client { return a.client }

// Metrics returns the Prometheus registry shared by every subsystem.
func (a *App) Metrics() *metrics.Registry { return a.prom }

// Run calls fn with the client while the metrics server (if any) runs
// alongside it. The server stops when fn returns; the first error wins.
func (a *App) Run(ctx context.Context, fn func(context.Context, *client.Client) error) error {
	a.log.Debug("starting",
		slog.String("version", a.version),
		slog.String("cache_mode", a.cfg.Cache.Mode),
		slog.Int("rpm_limit", a.cfg.RateLimit.RPMLimit),
		slog.Bool("metrics_server", a.srv != nil),
	)

	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stop := context.WithCancel(gctx)
	defer stop()

	if a.srv != nil {
		g.Go(func() error {
			return a.srv.ListenAndServe(srvCtx, a.cfg.MetricsAddr)
		})
	}

	g.Go(func() error {
		defer stop()
		return fn(gctx, a.client)
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times.
func (a *App) Close() {
	if a.health != nil {
		a.health.Close()
		a.health = nil
	}
	if a.callLog != nil {
		if err := a.callLog.Close(); err != nil {
			a.log.Error("call log close error", slog.String("error", err.Error()))
		}
		a.callLog = nil
	}
	if a.chSink != nil {
		if err := a.chSink.Close(); err != nil {
			a.log.Error("clickhouse close error", slog.String("error", err.Error()))
		}
		a.chSink = nil
	}
	if a.memStore != nil {
		_ = a.memStore.Close()
		a.memStore = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}

// ── Private helpers ──────────────────────────────────────────────────────────

// connectRedis parses the URL and verifies connectivity with a PING.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}

// redisProbe reuses the existing client for health probes.
func redisProbe(rdb *redis.Client) server.Probe {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
