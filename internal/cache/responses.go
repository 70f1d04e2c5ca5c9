package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nulpointcorp/anthropic-go/pkg/messages"
)

// DefaultTTL is used when Options.TTL is zero.
const DefaultTTL = time.Hour

const keyPrefix = "anthropic:resp:"

// Metrics receives cache write outcomes. *metrics.Registry implements it.
type Metrics interface {
	CacheSetOK()
	CacheSetError()
}

type noopMetrics struct{}

func (noopMetrics) CacheSetOK()    {}
func (noopMetrics) CacheSetError() {}

// Options configures Responses.
type Options struct {
	TTL        time.Duration
	APIVersion string
	Beta       []string
	Exclusions *ExclusionList
	Metrics    Metrics
	Logger     *slog.Logger
}

// Responses caches complete responses keyed by the exact request body.
//
// Key format: SHA-256(api_version + beta flags + request JSON). Only
// deterministic requests qualify: non-streaming, temperature explicitly 0,
// and not matched by the exclusion list.
type Responses struct {
	store      Store
	ttl        time.Duration
	scope      string
	exclusions *ExclusionList
	metrics    Metrics
	log        *slog.Logger
}

// NewResponses wraps store.
func NewResponses(store Store, opts Options) *Responses {
	r := &Responses{
		store:      store,
		ttl:        opts.TTL,
		scope:      opts.APIVersion + "\n" + strings.Join(opts.Beta, ",") + "\n",
		exclusions: opts.Exclusions,
		metrics:    opts.Metrics,
		log:        opts.Logger,
	}
	if r.ttl <= 0 {
		r.ttl = DefaultTTL
	}
	if r.metrics == nil {
		r.metrics = noopMetrics{}
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Cacheable reports whether req may be served from or stored in the cache.
func (r *Responses) Cacheable(req messages.Request) bool {
	if req.Stream() {
		return false
	}
	t, ok := req.Temperature()
	if !ok || t != 0 {
		return false
	}
	if rule, ok := r.exclusions.Excludes(req); ok {
		r.log.Debug("cache_excluded",
			slog.String("model", req.Model()),
			slog.String("rule", rule),
		)
		return false
	}
	return true
}

// Key returns the store key for a request body.
func (r *Responses) Key(body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.scope))
	h.Write(body)
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get looks up the response for body. Entries that no longer decode are
// deleted and reported as a miss.
func (r *Responses) Get(ctx context.Context, body []byte) (messages.Response, bool) {
	key := r.Key(body)
	raw, ok := r.store.Get(ctx, key)
	if !ok {
		return messages.Response{}, false
	}

	var resp messages.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		r.log.WarnContext(ctx, "cache_decode_error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		_ = r.store.Delete(ctx, key)
		return messages.Response{}, false
	}
	return resp, true
}

// Set stores resp for body. Failures are logged and counted, never returned.
func (r *Responses) Set(ctx context.Context, body []byte, resp messages.Response) {
	key := r.Key(body)
	raw, err := json.Marshal(resp)
	if err == nil {
		err = r.store.Set(ctx, key, raw, r.ttl)
	}
	if err != nil {
		r.metrics.CacheSetError()
		r.log.WarnContext(ctx, "cache_set_error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}
	r.metrics.CacheSetOK()
}
