package server

import (
	"context"
	"sync"
	"time"
)

const (
	healthProbeInterval = 30 * time.Second
	healthProbeTimeout  = 5 * time.Second
)

// Probe checks one dependency, e.g. a Redis PING.
type Probe func(ctx context.Context) error

// componentStatus holds the last known health result for one component.
type componentStatus struct {
	mu     sync.RWMutex
	status string // "ok" | "down"
}

func (s *componentStatus) set(v string) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

func (s *componentStatus) get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == "" {
		return "unknown"
	}
	return s.status
}

// HealthChecker probes dependencies in the background and reports them
// together with the upstream circuit breaker state.
type HealthChecker struct {
	probes   map[string]Probe
	statuses map[string]*componentStatus
	circuit  func() string
	baseCtx  context.Context

	startTime time.Time
	interval  time.Duration
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// HealthSnapshot is the body of GET /healthz.
type HealthSnapshot struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Circuit       string            `json:"circuit"`
	Components    map[string]string `json:"components,omitempty"`
}

// NewHealthChecker runs the first probe synchronously and then every 30s
// until Close. circuit may be nil.
func NewHealthChecker(ctx context.Context, circuit func() string, probes map[string]Probe) *HealthChecker {
	hc := &HealthChecker{
		probes:    probes,
		statuses:  make(map[string]*componentStatus, len(probes)),
		circuit:   circuit,
		baseCtx:   ctx,
		startTime: time.Now(),
		interval:  healthProbeInterval,
		done:      make(chan struct{}),
	}
	for name := range probes {
		hc.statuses[name] = &componentStatus{}
	}

	hc.probe()

	hc.wg.Add(1)
	go hc.run()

	return hc
}

// Snapshot builds a snapshot from the latest probe results. The overall
// status is "degraded" while the breaker is not closed or any component is
// down.
func (hc *HealthChecker) Snapshot() HealthSnapshot {
	snap := HealthSnapshot{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Circuit:       "closed",
	}
	if hc.circuit != nil {
		snap.Circuit = hc.circuit()
	}
	if snap.Circuit != "closed" {
		snap.Status = "degraded"
	}

	if len(hc.statuses) > 0 {
		snap.Components = make(map[string]string, len(hc.statuses))
	}
	for name, s := range hc.statuses {
		st := s.get()
		snap.Components[name] = st
		if st != "ok" {
			snap.Status = "degraded"
		}
	}
	return snap
}

// Close stops the background probe goroutine.
func (hc *HealthChecker) Close() {
	hc.closeOnce.Do(func() { close(hc.done) })
	hc.wg.Wait()
}

func (hc *HealthChecker) run() {
	defer hc.wg.Done()
	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.probe()
		case <-hc.done:
			return
		case <-hc.baseCtx.Done():
			return
		}
	}
}

func (hc *HealthChecker) probe() {
	ctx, cancel := context.WithTimeout(hc.baseCtx, healthProbeTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for name, p := range hc.probes {
		s := hc.statuses[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p(ctx); err != nil {
				s.set("down")
				return
			}
			s.set("ok")
		}()
	}
	wg.Wait()
}
