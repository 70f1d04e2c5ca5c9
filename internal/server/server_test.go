package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

// --- helpers ----------------------------------------------------------------

type recordingObserver struct {
	mu       sync.Mutex
	routes   []string
	inflight int
	peak     int
}

func (o *recordingObserver) ObserveHTTP(route string, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, route)
}

func (o *recordingObserver) IncInFlight() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inflight++
	if o.inflight > o.peak {
		o.peak = o.inflight
	}
}

func (o *recordingObserver) DecInFlight() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inflight--
}

func startServer(t *testing.T, s *Server) *http.Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})

	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(context.Context, string, string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}
}

func get(t *testing.T, c *http.Client, path string) (int, string) {
	t.Helper()
	resp, err := c.Get("http://metrics.local" + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

// --- middleware -------------------------------------------------------------

func TestRecovery_CatchesPanic(t *testing.T) {
	handler := recovery(slog.New(slog.NewTextHandler(io.Discard, nil)))(func(*fasthttp.RequestCtx) {
		panic("boom")
	})

	ctx := &fasthttp.RequestCtx{}
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusInternalServerError {
		t.Errorf("expected 500, got %d", ctx.Response.StatusCode())
	}
	if !strings.Contains(string(ctx.Response.Body()), "internal server error") {
		t.Errorf("body = %s", ctx.Response.Body())
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	handler := requestID(func(ctx *fasthttp.RequestCtx) {
		if id, _ := ctx.UserValue("request_id").(string); id != "custom-id" {
			t.Errorf("request_id = %q", id)
		}
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("X-Request-ID", "custom-id")
	handler(ctx)

	if got := string(ctx.Response.Header.Peek("X-Request-ID")); got != "custom-id" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	requestID(func(*fasthttp.RequestCtx) {})(ctx)

	if len(ctx.Response.Header.Peek("X-Request-ID")) != 36 {
		t.Errorf("X-Request-ID = %q", ctx.Response.Header.Peek("X-Request-ID"))
	}
}

func TestApplyMiddleware_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
			return func(ctx *fasthttp.RequestCtx) {
				order = append(order, name)
				next(ctx)
			}
		}
	}
	applyMiddleware(func(*fasthttp.RequestCtx) { order = append(order, "h") }, mw("a"), mw("b"))(&fasthttp.RequestCtx{})

	if strings.Join(order, ",") != "a,b,h" {
		t.Fatalf("order = %v", order)
	}
}

// --- server -----------------------------------------------------------------

func TestServer_HealthReportsCircuitAndProbes(t *testing.T) {
	var state atomic.Value
	state.Store("closed")
	hc := NewHealthChecker(context.Background(), func() string { return state.Load().(string) }, map[string]Probe{
		"redis":      func(context.Context) error { return nil },
		"clickhouse": func(context.Context) error { return errors.New("refused") },
	})
	t.Cleanup(hc.Close)

	obs := &recordingObserver{}
	c := startServer(t, New(Options{Health: hc, Observer: obs}))

	code, body := get(t, c, "/healthz")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var snap HealthSnapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		t.Fatalf("decode: %v (%s)", err, body)
	}
	if snap.Status != "degraded" || snap.Circuit != "closed" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Components["redis"] != "ok" || snap.Components["clickhouse"] != "down" {
		t.Fatalf("components = %v", snap.Components)
	}

	if code, _ := get(t, c, "/readiness"); code != http.StatusOK {
		t.Fatalf("readiness with closed breaker = %d", code)
	}
	state.Store("open")
	if code, _ := get(t, c, "/readiness"); code != http.StatusServiceUnavailable {
		t.Fatalf("readiness with open breaker = %d", code)
	}

	if code, body := get(t, c, "/nope"); code != http.StatusNotFound || !strings.Contains(body, `"not_found_error"`) {
		t.Fatalf("unknown path = %d %s", code, body)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if strings.Join(obs.routes, ",") != "/healthz,/readiness,/readiness,other" {
		t.Fatalf("routes = %v", obs.routes)
	}
	if obs.inflight != 0 || obs.peak < 1 {
		t.Fatalf("inflight = %d, peak = %d", obs.inflight, obs.peak)
	}
}

func TestServer_ServesMetricsHandler(t *testing.T) {
	metrics := func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("anthropic_client_calls_total 1\n")
	}
	c := startServer(t, New(Options{Metrics: metrics}))

	code, body := get(t, c, "/metrics")
	if code != http.StatusOK || !strings.Contains(body, "anthropic_client_calls_total") {
		t.Fatalf("GET /metrics = %d %q", code, body)
	}

	code, body = get(t, c, "/healthz")
	if code != http.StatusOK || !strings.Contains(body, `"status":"ok"`) {
		t.Fatalf("GET /healthz without checker = %d %q", code, body)
	}
}
