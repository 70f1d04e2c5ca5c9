// Package metrics provides a Prometheus metrics registry for the client.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when the client is embedded
// in other applications. The /metrics HTTP handler is exposed via Handler().
//
// *Registry satisfies both client.Observer and transport.Observer.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const namespace = "anthropic_client"

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300}

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// anthropic_client_calls_total{mode,status}
	callsTotal *prometheus.CounterVec

	// anthropic_client_call_duration_seconds{mode,status}
	callDuration *prometheus.HistogramVec

	// anthropic_client_upstream_attempts_total{outcome}
	upstreamAttempts *prometheus.CounterVec

	// anthropic_client_upstream_attempt_duration_seconds{outcome}
	upstreamDuration *prometheus.HistogramVec

	// anthropic_client_retries_total{reason}
	retries *prometheus.CounterVec

	// anthropic_client_stream_events_total{event}
	streamEvents *prometheus.CounterVec

	// anthropic_client_tokens_total{mode,direction,cache}
	tokensTotal *prometheus.CounterVec

	// anthropic_client_cache_operations_total{op,result}
	cacheOps *prometheus.CounterVec

	// anthropic_client_circuit_breaker_state: 0=closed, 1=open, 2=half-open
	circuitBreakerState prometheus.Gauge

	// anthropic_client_circuit_breaker_transitions_total{to_state}
	cbTransitions *prometheus.CounterVec

	// anthropic_client_circuit_breaker_rejections_total{state}
	cbRejections *prometheus.CounterVec

	// anthropic_client_ratelimit_total{result}
	rateLimitTotal *prometheus.CounterVec

	// anthropic_client_call_log_dropped_total
	droppedLogs prometheus.Counter

	// anthropic_client_http_requests_total{route,status} (metrics server)
	httpRequestsTotal *prometheus.CounterVec

	// anthropic_client_http_inflight_requests (metrics server)
	inFlight prometheus.Gauge

	// anthropic_client_build_info{version}
	buildInfo *prometheus.GaugeVec

	cbMu        sync.Mutex
	lastCBState int64
	cbSeen      bool

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Finished calls and streams by mode and outcome",
			},
			[]string{"mode", "status"},
		),

		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Call duration in seconds; for streams, until the stream finished",
				Buckets:   durationBuckets,
			},
			[]string{"mode", "status"},
		),

		upstreamAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_attempts_total",
				Help:      "Upstream HTTP attempts, including retries",
			},
			[]string{"outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_attempt_duration_seconds",
				Help:      "Upstream attempt duration until response headers, in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"outcome"},
		),

		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Retries scheduled by the transport, by the error that caused them",
			},
			[]string{"reason"},
		),

		streamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_total",
				Help:      "Stream events decoded, by event name",
			},
			[]string{"event"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Token usage totals derived from response usage fields",
			},
			[]string{"mode", "direction", "cache"},
		),

		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_operations_total",
				Help:      "Response cache operations by type and result",
			},
			[]string{"op", "result"},
		),

		circuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed,1=open,2=half-open)",
		}),

		cbTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Circuit breaker transitions to a new state",
			},
			[]string{"to_state"},
		),

		cbRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_rejections_total",
				Help:      "Attempts rejected due to circuit breaker state",
			},
			[]string{"state"},
		),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_total",
				Help:      "Client-side rate limit decisions",
			},
			[]string{"result"},
		),

		droppedLogs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_log_dropped_total",
			Help:      "Call log entries dropped because the buffer was full",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Requests served by the metrics server",
			},
			[]string{"route", "status"},
		),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_inflight_requests",
			Help:      "Current number of in-flight requests on the metrics server",
		}),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_info",
				Help:      "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.callsTotal,
		r.callDuration,
		r.upstreamAttempts,
		r.upstreamDuration,
		r.retries,
		r.streamEvents,
		r.tokensTotal,
		r.cacheOps,
		r.circuitBreakerState,
		r.cbTransitions,
		r.cbRejections,
		r.rateLimitTotal,
		r.droppedLogs,
		r.httpRequestsTotal,
		r.inFlight,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

// ── client.Observer ──────────────────────────────────────────────────────────

// ObserveCall records one finished call or stream.
func (r *Registry) ObserveCall(mode, status string, dur time.Duration) {
	r.callsTotal.WithLabelValues(mode, status).Inc()
	r.callDuration.WithLabelValues(mode, status).Observe(dur.Seconds())
}

func (r *Registry) AddTokens(mode string, inputTokens, outputTokens int, cached bool) {
	cache := "miss"
	if cached {
		cache = "hit"
	}
	if inputTokens > 0 {
		r.tokensTotal.WithLabelValues(mode, "input", cache).Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		r.tokensTotal.WithLabelValues(mode, "output", cache).Add(float64(outputTokens))
	}
	if inputTokens+outputTokens > 0 {
		r.tokensTotal.WithLabelValues(mode, "total", cache).Add(float64(inputTokens + outputTokens))
	}
}

func (r *Registry) RecordStreamEvent(name string) {
	r.streamEvents.WithLabelValues(name).Inc()
}

func (r *Registry) RecordRateLimit(result string) {
	r.rateLimitTotal.WithLabelValues(result).Inc()
}

func (r *Registry) CacheGetHit() {
	r.cacheOps.WithLabelValues("get", "hit").Inc()
}

func (r *Registry) CacheGetMiss() {
	r.cacheOps.WithLabelValues("get", "miss").Inc()
}

func (r *Registry) CacheGetBypass() {
	r.cacheOps.WithLabelValues("get", "bypass").Inc()
}

func (r *Registry) CacheSetOK() {
	r.cacheOps.WithLabelValues("set", "ok").Inc()
}

func (r *Registry) CacheSetError() {
	r.cacheOps.WithLabelValues("set", "error").Inc()
}

// ── transport.Observer ───────────────────────────────────────────────────────

// ObserveUpstreamAttempt records one upstream HTTP attempt.
func (r *Registry) ObserveUpstreamAttempt(outcome string, dur time.Duration) {
	r.upstreamAttempts.WithLabelValues(outcome).Inc()
	if dur > 0 {
		r.upstreamDuration.WithLabelValues(outcome).Observe(dur.Seconds())
	}
}

func (r *Registry) RecordRetry(reason string) {
	r.retries.WithLabelValues(reason).Inc()
}

// SetCircuitBreaker sets the circuit breaker state gauge and increments a
// transition counter when the state changes.
func (r *Registry) SetCircuitBreaker(state int64) {
	r.circuitBreakerState.Set(float64(state))

	r.cbMu.Lock()
	if !r.cbSeen || r.lastCBState != state {
		r.cbSeen = true
		r.lastCBState = state
		r.cbTransitions.WithLabelValues(strconv.FormatInt(state, 10)).Inc()
	}
	r.cbMu.Unlock()
}

func (r *Registry) RecordCircuitBreakerRejection(state string) {
	r.cbRejections.WithLabelValues(state).Inc()
}

// ── process ──────────────────────────────────────────────────────────────────

func (r *Registry) IncDroppedLogs() { r.droppedLogs.Inc() }

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records one request served by the metrics server.
func (r *Registry) ObserveHTTP(route string, statusCode int) {
	r.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
}

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
