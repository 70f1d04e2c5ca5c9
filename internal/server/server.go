// Package server exposes the operational endpoints of a running command:
// Prometheus metrics and a health report that includes the upstream circuit
// breaker state. It is not an API proxy; requests to the Messages API go
// through pkg/client.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/anthropic-go/pkg/apierr"
)

// Options configures a Server. Every field is optional.
type Options struct {
	Metrics  fasthttp.RequestHandler
	Health   *HealthChecker
	Observer HTTPObserver
	Logger   *slog.Logger
	Version  string
}

// Server serves /metrics, /healthz and /readiness.
type Server struct {
	opts    Options
	handler fasthttp.RequestHandler
	srv     *fasthttp.Server
}

// New builds the route table and middleware chain.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{opts: opts}

	r := router.New()
	r.NotFound = func(ctx *fasthttp.RequestCtx) {
		apierr.Write(ctx, apierr.New(apierr.KindNotFound, "unknown path %s", ctx.Path()))
	}
	r.GET("/healthz", s.handleHealth)
	r.GET("/readiness", s.handleReadiness)
	if opts.Metrics != nil {
		r.GET("/metrics", opts.Metrics)
	}

	mws := []func(fasthttp.RequestHandler) fasthttp.RequestHandler{
		recovery(opts.Logger),
		requestID,
		timing,
	}
	if opts.Observer != nil {
		routes := map[string]struct{}{"/healthz": {}, "/readiness": {}, "/metrics": {}}
		mws = append([]func(fasthttp.RequestHandler) fasthttp.RequestHandler{instrument(opts.Observer, routes)}, mws...)
	}
	s.handler = applyMiddleware(r.Handler, mws...)

	s.srv = &fasthttp.Server{
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() fasthttp.RequestHandler { return s.handler }

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. It returns nil after a shutdown triggered by ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	}
}

// ListenAndServe listens on addr (e.g. ":9090") and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	s.opts.Logger.Info("metrics server listening", slog.String("addr", ln.Addr().String()))
	return s.Serve(ctx, ln)
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	if s.opts.Health == nil {
		writeJSON(ctx, map[string]string{"status": "ok", "version": s.opts.Version})
		return
	}
	snap := s.opts.Health.Snapshot()
	writeJSON(ctx, snap)
}

// handleReadiness answers 503 while the upstream circuit breaker is open.
func (s *Server) handleReadiness(ctx *fasthttp.RequestCtx) {
	if s.opts.Health == nil || s.opts.Health.Snapshot().Circuit != "open" {
		writeJSON(ctx, map[string]string{"status": "ok"})
		return
	}
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	writeJSON(ctx, map[string]string{"status": "unavailable"})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
