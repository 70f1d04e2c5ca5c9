// Package transport sends Messages API requests over net/http.
//
// It owns everything that happens before the first response byte is handed
// to a caller: headers, the retry loop with exponential backoff, honouring
// retry-after, and the circuit breaker guarding the upstream. A response is
// returned only for 2xx statuses; every other outcome is an *apierr.Error.
package transport

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nulpointcorp/anthropic-go/pkg/apierr"
)

const (
	DefaultBaseURL    = "https://api.anthropic.com"
	DefaultAPIVersion = "2023-06-01"

	messagesPath = "/v1/messages"
	userAgent    = "anthropic-go/1.0"

	// maxErrorBody caps how much of a non-2xx body is read into the error.
	maxErrorBody = 1 << 20
)

// Sender posts an encoded request to the Messages endpoint.
type Sender interface {
	Send(ctx context.Context, body []byte, stream bool) (*http.Response, error)
}

// Observer receives transport metrics. *metrics.Registry implements it.
type Observer interface {
	ObserveUpstreamAttempt(outcome string, dur time.Duration)
	RecordRetry(reason string)
	SetCircuitBreaker(state int64)
	RecordCircuitBreakerRejection(state string)
}

type noopObserver struct{}

func (noopObserver) ObserveUpstreamAttempt(string, time.Duration) {}
func (noopObserver) RecordRetry(string)                           {}
func (noopObserver) SetCircuitBreaker(int64)                      {}
func (noopObserver) RecordCircuitBreakerRejection(string)         {}

// Config holds connection and resilience settings.
type Config struct {
	APIKey     string
	BaseURL    string
	APIVersion string

	// Beta lists anthropic-beta feature flags sent with every request.
	Beta []string

	// HTTPClient defaults to a client without an overall timeout; deadlines
	// come from the request context so long streams are not cut off.
	HTTPClient *http.Client

	// MaxRetries is the number of retries after the first attempt.
	// 0 uses DefaultMaxRetries; a negative value disables retries.
	MaxRetries int

	Backoff        Backoff
	CircuitBreaker CBConfig
}

// HTTP is the net/http Sender.
type HTTP struct {
	cfg      Config
	endpoint string
	client   *http.Client
	breaker  *CircuitBreaker
	obs      Observer
	log      *slog.Logger
}

// New creates an HTTP transport. log and obs may be nil.
func New(cfg Config, log *slog.Logger, obs Observer) *HTTP {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if obs == nil {
		obs = noopObserver{}
	}

	return &HTTP{
		cfg:      cfg,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + messagesPath,
		client:   client,
		breaker:  NewCircuitBreaker(cfg.CircuitBreaker),
		obs:      obs,
		log:      log,
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (t *HTTP) Breaker() *CircuitBreaker { return t.breaker }

// Endpoint returns the full Messages URL.
func (t *HTTP) Endpoint() string { return t.endpoint }

func (t *HTTP) maxRetries() int {
	switch {
	case t.cfg.MaxRetries < 0:
		return 0
	case t.cfg.MaxRetries == 0:
		return DefaultMaxRetries
	}
	return t.cfg.MaxRetries
}

// Send posts body and returns the 2xx response with its body unread. The
// caller must close the body. Retryable failures are retried up to
// MaxRetries times; a 429 or 529 carrying retry-after waits that long.
func (t *HTTP) Send(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	attempts := 1 + t.maxRetries()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			reason := classifyError(lastErr)
			wait := t.cfg.Backoff.delay(attempt-1, retryAfter(lastErr))
			t.obs.RecordRetry(reason)
			t.log.DebugContext(ctx, "call_retry_scheduled",
				slog.Int("attempt", attempt+1),
				slog.String("reason", reason),
				slog.Duration("wait", wait),
			)
			if err := sleep(ctx, wait); err != nil {
				return nil, apierr.Wrap(apierr.KindTransport, err, "retry aborted after %d attempt(s)", attempt)
			}
		}

		if !t.breaker.Allow() {
			state := t.breaker.StateLabel()
			t.log.WarnContext(ctx, "circuit_breaker_open", slog.String("state", state))
			t.obs.RecordCircuitBreakerRejection(state)
			t.obs.ObserveUpstreamAttempt("circuit_reject", 0)
			return nil, apierr.Wrap(apierr.KindTransport, lastErr, "circuit breaker %s", state)
		}

		start := time.Now()
		resp, err := t.do(ctx, body, stream)
		dur := time.Since(start)

		if err == nil {
			t.breaker.RecordSuccess()
			t.obs.SetCircuitBreaker(t.breaker.State())
			t.obs.ObserveUpstreamAttempt("success", dur)
			return resp, nil
		}

		// ── Failure ───────────────────────────────────────────────────────────
		if ctx.Err() == nil && tripsBreaker(err) {
			t.breaker.RecordFailure()
		} else {
			t.breaker.Release()
		}
		t.obs.SetCircuitBreaker(t.breaker.State())

		reason := classifyError(err)
		t.obs.ObserveUpstreamAttempt(reason, dur)
		t.log.WarnContext(ctx, "call_attempt_failed",
			slog.Int("attempt", attempt+1),
			slog.String("reason", reason),
			slog.Int64("latency_ms", dur.Milliseconds()),
			slog.String("error", err.Error()),
		)

		lastErr = err
		if !isRetryable(ctx, err) {
			break
		}
	}

	return nil, lastErr
}

func (t *HTTP) do(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindTransport, err, "build request")
	}
	t.setHeaders(req.Header, stream)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindTransport, err, "POST %s", messagesPath)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, apierr.FromResponse(resp.StatusCode, resp.Header, raw)
	}
	return resp, nil
}

func (t *HTTP) setHeaders(h http.Header, stream bool) {
	h.Set("x-api-key", t.cfg.APIKey)
	h.Set("anthropic-version", t.cfg.APIVersion)
	if len(t.cfg.Beta) > 0 {
		h.Set("anthropic-beta", strings.Join(t.cfg.Beta, ","))
	}
	h.Set("content-type", "application/json")
	h.Set("user-agent", userAgent)
	if stream {
		h.Set("accept", "text/event-stream")
	} else {
		h.Set("accept", "application/json")
	}
}

func retryAfter(err error) time.Duration {
	if e, ok := apierr.As(err); ok {
		return e.RetryAfter
	}
	return 0
}
