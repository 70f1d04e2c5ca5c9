// Package client is the entry point for talking to the Messages API.
//
// A Client sends requests produced by messages.Builder and returns either a
// complete messages.Response (Call) or a lazy, single-pass stream of typed
// events (Stream, StreamMessage). Configuration is an explicit Config value;
// nothing is read from the environment here.
//
//	c, err := client.New(client.Config{APIKey: key})
//	req, err := messages.NewBuilder(model, msgs, 1024).Build()
//	resp, err := c.Call(ctx, req)
package client

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nulpointcorp/anthropic-go/internal/transport"
	"github.com/nulpointcorp/anthropic-go/pkg/apierr"
	"github.com/nulpointcorp/anthropic-go/pkg/messages"
)

// Defaults applied by New.
const (
	DefaultBaseURL    = transport.DefaultBaseURL
	DefaultAPIVersion = transport.DefaultAPIVersion
	DefaultTimeout    = 60 * time.Second
)

// Config holds everything needed to address and authenticate requests.
type Config struct {
	// APIKey is sent as x-api-key. Required.
	APIKey string

	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// APIVersion is sent as anthropic-version. Defaults to DefaultAPIVersion.
	APIVersion string

	// Beta lists anthropic-beta feature flags.
	Beta []string

	// Timeout bounds a whole Call, and a Stream until response headers
	// arrive. 0 uses DefaultTimeout; a negative value disables it.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt for
	// retryable failures. 0 uses the transport default; negative disables.
	MaxRetries int

	Backoff        Backoff
	CircuitBreaker CircuitBreakerConfig

	// HTTPClient replaces the default http.Client.
	HTTPClient *http.Client
}

// Backoff bounds the exponential delay between retries.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// CircuitBreakerConfig tunes the breaker guarding the upstream. Zero values
// use the transport defaults (5 failures in 60s, 30s half-open timeout).
type CircuitBreakerConfig struct {
	ErrorThreshold  int
	TimeWindow      time.Duration
	HalfOpenTimeout time.Duration
}

func (c Config) timeout() time.Duration {
	switch {
	case c.Timeout < 0:
		return 0
	case c.Timeout == 0:
		return DefaultTimeout
	}
	return c.Timeout
}

// ── Collaborators ─────────────────────────────────────────────────────────────

// Observer receives client-level metrics. *metrics.Registry implements it,
// along with the transport observer methods, which New forwards when
// present.
type Observer interface {
	ObserveCall(mode, status string, dur time.Duration)
	AddTokens(mode string, inputTokens, outputTokens int, cached bool)
	RecordStreamEvent(name string)
	RecordRateLimit(result string)
	CacheGetHit()
	CacheGetMiss()
	CacheGetBypass()
}

type noopObserver struct{}

func (noopObserver) ObserveCall(string, string, time.Duration) {}
func (noopObserver) AddTokens(string, int, int, bool)          {}
func (noopObserver) RecordStreamEvent(string)                  {}
func (noopObserver) RecordRateLimit(string)                    {}
func (noopObserver) CacheGetHit()                              {}
func (noopObserver) CacheGetMiss()                             {}
func (noopObserver) CacheGetBypass()                           {}

// ResponseCache stores complete non-streaming responses.
type ResponseCache interface {
	// Cacheable reports whether req may be served from or stored in the
	// cache.
	Cacheable(req messages.Request) bool
	Get(ctx context.Context, body []byte) (messages.Response, bool)
	Set(ctx context.Context, body []byte, resp messages.Response)
}

// Limiter is a client-side request budget, checked before any I/O.
type Limiter interface {
	Allow(ctx context.Context) (bool, error)
}

// ── Options ──────────────────────────────────────────────────────────────────

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithObserver wires metrics.
func WithObserver(obs Observer) Option {
	return func(c *Client) { c.obs = obs }
}

// WithCache enables response caching for eligible Call requests.
func WithCache(rc ResponseCache) Option {
	return func(c *Client) { c.cache = rc }
}

// WithLimiter enables a client-side rate limit.
func WithLimiter(l Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithCallHook registers fn to receive one CallRecord per finished call or
// stream.
func WithCallHook(fn func(CallRecord)) Option {
	return func(c *Client) { c.hook = fn }
}

// WithAccumulatorOptions sets the options used for the Accumulator behind
// StreamMessage, e.g. messages.WithRecoverableFinalize().
func WithAccumulatorOptions(opts ...messages.AccumulatorOption) Option {
	return func(c *Client) { c.accOpts = append(c.accOpts, opts...) }
}

func withSender(s transport.Sender) Option {
	return func(c *Client) { c.sender = s }
}

// ── Client ───────────────────────────────────────────────────────────────────

// Client is safe for concurrent use. Each Stream owns its own state.
type Client struct {
	cfg     Config
	sender  transport.Sender
	http    *transport.HTTP
	log     *slog.Logger
	obs     Observer
	cache   ResponseCache
	limiter Limiter
	hook    func(CallRecord)
	accOpts []messages.AccumulatorOption
}

// New validates cfg and returns a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, apierr.New(apierr.KindAuthenticationFailed, "client: APIKey is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	c := &Client{cfg: cfg}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.obs == nil {
		c.obs = noopObserver{}
	}

	if c.sender == nil {
		tobs, _ := c.obs.(transport.Observer)
		c.http = transport.New(transport.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			APIVersion: cfg.APIVersion,
			Beta:       cfg.Beta,
			HTTPClient: cfg.HTTPClient,
			MaxRetries: cfg.MaxRetries,
			Backoff:    transport.Backoff{Initial: cfg.Backoff.Initial, Max: cfg.Backoff.Max},
			CircuitBreaker: transport.CBConfig{
				ErrorThreshold:  cfg.CircuitBreaker.ErrorThreshold,
				TimeWindow:      cfg.CircuitBreaker.TimeWindow,
				HalfOpenTimeout: cfg.CircuitBreaker.HalfOpenTimeout,
			},
		}, c.log, tobs)
		c.sender = c.http
	}

	return c, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

// CircuitState returns the upstream circuit breaker state label:
// "closed", "open" or "half_open".
func (c *Client) CircuitState() string {
	if c.http == nil {
		return "closed"
	}
	return c.http.Breaker().StateLabel()
}

// checkRequest rejects requests that must never reach the network.
func checkRequest(req messages.Request) error {
	if !req.Valid() {
		return apierr.New(apierr.KindInvalidRequest, "request was not produced by a successful Builder.Build")
	}
	return nil
}

// admit applies the client-side rate limit.
func (c *Client) admit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	ok, err := c.limiter.Allow(ctx)
	if err != nil {
		// Limiter backend trouble never blocks a call.
		c.log.WarnContext(ctx, "rate_limiter_error", slog.String("error", err.Error()))
		c.obs.RecordRateLimit("error")
		return nil
	}
	if !ok {
		c.obs.RecordRateLimit("rejected")
		return apierr.New(apierr.KindRateLimited, "client-side requests-per-minute limit reached")
	}
	c.obs.RecordRateLimit("allowed")
	return nil
}
