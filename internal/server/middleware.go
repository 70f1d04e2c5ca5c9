package server

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/anthropic-go/pkg/apierr"
)

// HTTPObserver receives per-request metrics. *metrics.Registry implements it.
type HTTPObserver interface {
	ObserveHTTP(route string, statusCode int)
	IncInFlight()
	DecInFlight()
}

// recovery catches panics in any handler and returns a 500 without crashing
// the process. The panic value is logged at ERROR level.
func recovery(log *slog.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler_panic",
						slog.Any("panic", r),
						slog.String("path", string(ctx.Path())),
						slog.String("method", string(ctx.Method())),
					)
					ctx.ResetBody()
					apierr.Write(ctx, apierr.New(apierr.KindServerError, "internal server error"))
				}
			}()
			next(ctx)
		}
	}
}

// requestID ensures every response carries an X-Request-ID header, echoing
// the caller's when present.
func requestID(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := string(ctx.Request.Header.Peek("X-Request-ID"))
		if id == "" {
			id = uuid.New().String()
		}
		ctx.Response.Header.Set("X-Request-ID", id)
		ctx.SetUserValue("request_id", id)
		next(ctx)
	}
}

// instrument counts requests by route and status and tracks in-flight
// requests. Unknown paths are folded into one route label.
func instrument(obs HTTPObserver, routes map[string]struct{}) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			obs.IncInFlight()
			defer obs.DecInFlight()

			next(ctx)

			route := string(ctx.Path())
			if _, ok := routes[route]; !ok {
				route = "other"
			}
			obs.ObserveHTTP(route, ctx.Response.StatusCode())
		}
	}
}

// timing records the handler duration in the X-Response-Time header.
func timing(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		ctx.Response.Header.Set("X-Response-Time", time.Since(start).String())
	}
}

// applyMiddleware wraps h so that the first middleware is the outermost:
//
//	applyMiddleware(h, mw1, mw2) → mw1(mw2(h))
func applyMiddleware(h fasthttp.RequestHandler, mws ...func(fasthttp.RequestHandler) fasthttp.RequestHandler) fasthttp.RequestHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
