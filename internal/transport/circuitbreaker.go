package transport

import (
	"sync"
	"time"
)

// Default circuit breaker thresholds.
const (
	CBErrorThreshold  = 5
	CBTimeWindow      = 60 * time.Second
	CBHalfOpenTimeout = 30 * time.Second
)

// cbState is the operational state of the upstream circuit breaker.
//
//	cbClosed    normal operation; all calls pass through.
//	cbOpen      the API is failing; calls are rejected immediately.
//	cbHalfOpen  recovery probe; one call is allowed through.
type cbState int

const (
	cbClosed   cbState = 0
	cbOpen     cbState = 1
	cbHalfOpen cbState = 2
)

// CBConfig holds circuit breaker tuning parameters. Zero values fall back to
// the package defaults.
type CBConfig struct {
	// ErrorThreshold is the number of failures within TimeWindow that trips
	// the breaker.
	ErrorThreshold int

	// TimeWindow is the rolling window for counting errors.
	TimeWindow time.Duration

	// HalfOpenTimeout is how long the breaker stays open before allowing a
	// single probe call.
	HalfOpenTimeout time.Duration
}

func (c *CBConfig) errorThreshold() int {
	if c.ErrorThreshold > 0 {
		return c.ErrorThreshold
	}
	return CBErrorThreshold
}

func (c *CBConfig) timeWindow() time.Duration {
	if c.TimeWindow > 0 {
		return c.TimeWindow
	}
	return CBTimeWindow
}

func (c *CBConfig) halfOpenTimeout() time.Duration {
	if c.HalfOpenTimeout > 0 {
		return c.HalfOpenTimeout
	}
	return CBHalfOpenTimeout
}

// CircuitBreaker guards the Messages API endpoint. One breaker is shared by
// every call made through a transport; it is safe for concurrent use.
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg CBConfig
	now func() time.Time

	state         cbState
	errorCount    int
	windowStart   time.Time // start of the current error-counting window
	openedAt      time.Time // when the breaker was tripped
	probeInflight bool      // true while a half-open probe is in flight
}

// NewCircuitBreaker creates a closed CircuitBreaker.
func NewCircuitBreaker(cfg CBConfig) *CircuitBreaker {
	cb := &CircuitBreaker{cfg: cfg, now: time.Now}
	cb.windowStart = cb.now()
	return cb
}

// Allow reports whether the next call may proceed.
//
//   - Closed   → always true.
//   - Open     → false, unless the half-open timeout has elapsed, in which
//     case the breaker moves to HalfOpen and admits one probe.
//   - HalfOpen → true only if no probe is in flight.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case cbOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cfg.halfOpenTimeout() {
			cb.state = cbHalfOpen
			cb.probeInflight = true
			return true
		}
		return false

	case cbHalfOpen:
		if cb.probeInflight {
			return false
		}
		cb.probeInflight = true
		return true
	}

	return true
}

// RecordSuccess resets the breaker to Closed regardless of its state.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = cbClosed
	cb.errorCount = 0
	cb.probeInflight = false
	cb.windowStart = cb.now()
}

// RecordFailure counts a failure. Reaching ErrorThreshold within TimeWindow,
// or failing the half-open probe, opens the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	if now.Sub(cb.windowStart) > cb.cfg.timeWindow() {
		cb.errorCount = 0
		cb.windowStart = now
	}

	cb.errorCount++
	wasProbe := cb.state == cbHalfOpen
	cb.probeInflight = false

	if wasProbe || cb.errorCount >= cb.cfg.errorThreshold() {
		cb.state = cbOpen
		cb.openedAt = now
	}
}

// Release gives back a half-open probe slot without recording an outcome,
// for calls that ended for reasons unrelated to upstream health.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == cbHalfOpen {
		cb.probeInflight = false
	}
}

// State returns the current state as a number suitable for a gauge:
// 0=closed, 1=open, 2=half-open.
func (cb *CircuitBreaker) State() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return int64(cb.state)
}

// StateLabel returns "closed", "open", or "half_open".
func (cb *CircuitBreaker) StateLabel() string {
	switch cbState(cb.State()) {
	case cbOpen:
		return "open"
	case cbHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
