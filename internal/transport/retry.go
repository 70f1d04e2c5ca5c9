package transport

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/nulpointcorp/anthropic-go/pkg/apierr"
)

// Default retry settings.
const (
	DefaultMaxRetries     = 2
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 8 * time.Second
)

// Backoff configures the delay between attempts. Zero values fall back to
// the package defaults.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// delay returns the wait before retry number attempt (0-based). A positive
// retryAfter from the server wins over the computed delay, capped at Max.
func (b Backoff) delay(attempt int, retryAfter time.Duration) time.Duration {
	initial, ceiling := b.Initial, b.Max
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if ceiling <= 0 {
		ceiling = DefaultMaxBackoff
	}
	if retryAfter > 0 {
		return min(retryAfter, ceiling)
	}

	d := initial << attempt
	if d <= 0 || d > ceiling {
		d = ceiling
	}
	// Equal jitter: half fixed, half random.
	half := d / 2
	return half + rand.N(half+1)
}

// isRetryable reports whether another attempt may succeed.
//
//   - 429 rate_limit_error, 529 overloaded_error, 5xx → retryable
//   - network failures and per-attempt timeouts → retryable
//   - caller cancellation → NOT retryable
//   - other 4xx → NOT retryable (the identical request will fail again)
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if e, ok := apierr.As(err); ok {
		return e.Retryable()
	}
	return true
}

// tripsBreaker reports whether err reflects upstream ill-health. Rate limits
// are the caller's quota, not an outage, and do not count.
func tripsBreaker(err error) bool {
	switch apierr.KindOf(err) {
	case apierr.KindServerError, apierr.KindOverloaded, apierr.KindTransport:
		return true
	}
	return false
}

// classifyError converts an error into a short category string used in log
// fields and metrics labels.
func classifyError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	if e, ok := apierr.As(err); ok {
		return e.Kind.String()
	}
	return "unknown"
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
