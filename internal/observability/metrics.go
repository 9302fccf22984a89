// Package observability keeps in-process counters for RPC methods and
// gateway operations and serves them as JSON.
package observability

import (
	"sync"
	"time"
)

// MethodSnapshot is the state of one method or gateway operation.
//
// Errors count defects; Declines count calls that completed with a failed
// outcome.
type MethodSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	Declines      int64   `json:"declines"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

// GatewaySnapshot is the transport health of one gateway.
type GatewaySnapshot struct {
	Retries      int64 `json:"retries"`
	BreakerOpens int64 `json:"breaker_opens"`
}

type Snapshot struct {
	UptimeSec       int64                      `json:"uptime_sec"`
	TotalRequests   int64                      `json:"total_requests"`
	TotalErrors     int64                      `json:"total_errors"`
	TotalDeclines   int64                      `json:"total_declines"`
	InFlight        int64                      `json:"in_flight"`
	RateLimitWaits  int64                      `json:"rate_limit_waits"`
	RateLimitWaitMs int64                      `json:"rate_limit_wait_ms"`
	Lifecycle       *LifecycleSnapshot         `json:"lifecycle,omitempty"`
	Methods         map[string]MethodSnapshot  `json:"methods"`
	Gateways        map[string]GatewaySnapshot `json:"gateways,omitempty"`
}

type methodStats struct {
	count        int64
	errors       int64
	declines     int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

type gatewayStats struct {
	retries      int64
	breakerOpens int64
}

type Metrics struct {
	mu             sync.Mutex
	start          time.Time
	now            func() time.Time
	methods        map[string]*methodStats
	gateways       map[string]*gatewayStats
	rateLimitWaits int64
	rateLimitWait  time.Duration
	lifecycle      lifecycleStats
}

// CallSpan measures one call started with Metrics.Start.
type CallSpan struct {
	metrics *Metrics
	method  string
	start   time.Time
}

type lifecycleStats struct {
	shutdownAt time.Time
	inflight   int64
}

type LifecycleSnapshot struct {
	ShutdownAt         time.Time `json:"shutdown_at"`
	InFlightAtShutdown int64     `json:"inflight_at_shutdown"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:    time.Now(),
		now:      time.Now,
		methods:  make(map[string]*methodStats),
		gateways: make(map[string]*gatewayStats),
	}
}

func (m *Metrics) Start(method string) *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.mu.Lock()
	stats := m.ensureMethod(method)
	stats.inFlight++
	m.mu.Unlock()
	return &CallSpan{
		metrics: m,
		method:  method,
		start:   m.now(),
	}
}

// End finishes the span; a non-nil err counts as an error.
func (s *CallSpan) End(err error) {
	s.finish(err != nil, false)
}

// EndOutcome finishes a gateway operation span. A defect counts as an error;
// an unsuccessful outcome without a defect counts as a decline.
func (s *CallSpan) EndOutcome(success bool, err error) {
	s.finish(err != nil, err == nil && !success)
}

func (s *CallSpan) finish(failed, declined bool) {
	if s == nil || s.metrics == nil {
		return
	}
	dur := s.metrics.now().Sub(s.start)
	s.metrics.finish(s.method, dur, failed, declined)
}

func (m *Metrics) AddRateLimitWait(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.mu.Lock()
	m.rateLimitWaits++
	m.rateLimitWait += d
	m.mu.Unlock()
}

// AddRetry counts a transport retry against gateway.
func (m *Metrics) AddRetry(gateway string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.ensureGateway(gateway).retries++
	m.mu.Unlock()
}

// AddBreakerOpen counts a request rejected by the gateway's open breaker.
func (m *Metrics) AddBreakerOpen(gateway string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.ensureGateway(gateway).breakerOpens++
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	snap := Snapshot{
		UptimeSec:       int64(now.Sub(m.start).Seconds()),
		Methods:         make(map[string]MethodSnapshot),
		RateLimitWaits:  m.rateLimitWaits,
		RateLimitWaitMs: int64(m.rateLimitWait / time.Millisecond),
	}

	for method, stats := range m.methods {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		snap.Methods[method] = MethodSnapshot{
			Count:         stats.count,
			Errors:        stats.errors,
			Declines:      stats.declines,
			InFlight:      stats.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalRequests += stats.count
		snap.TotalErrors += stats.errors
		snap.TotalDeclines += stats.declines
		snap.InFlight += stats.inFlight
	}

	if len(m.gateways) > 0 {
		snap.Gateways = make(map[string]GatewaySnapshot, len(m.gateways))
		for name, stats := range m.gateways {
			snap.Gateways[name] = GatewaySnapshot{Retries: stats.retries, BreakerOpens: stats.breakerOpens}
		}
	}

	if !m.lifecycle.shutdownAt.IsZero() {
		snap.Lifecycle = &LifecycleSnapshot{
			ShutdownAt:         m.lifecycle.shutdownAt,
			InFlightAtShutdown: m.lifecycle.inflight,
		}
	}

	return snap
}

func (m *Metrics) ensureMethod(method string) *methodStats {
	stats, ok := m.methods[method]
	if !ok {
		stats = &methodStats{}
		m.methods[method] = stats
	}
	return stats
}

func (m *Metrics) ensureGateway(name string) *gatewayStats {
	stats, ok := m.gateways[name]
	if !ok {
		stats = &gatewayStats{}
		m.gateways[name] = stats
	}
	return stats
}

func (m *Metrics) finish(method string, dur time.Duration, failed, declined bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureMethod(method)
	stats.inFlight--
	stats.count++
	if failed {
		stats.errors++
	}
	if declined {
		stats.declines++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
	m.mu.Unlock()
}

func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lifecycle.shutdownAt = m.now()
	m.lifecycle.inflight = inflight
	m.mu.Unlock()
}
