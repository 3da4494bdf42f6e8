package signaling

import (
	"sync"
	"time"
)

// ema is an exponential moving average tracker, grounded on
// original_source's Metrics.c formula: newAvg = oldAvg +
// (sample-oldAvg)/N. N is fixed per tracker rather than the running
// sample count, matching the original's fixed smoothing window.
type ema struct {
	n     float64
	value float64
	set   bool
}

func newEMA(window int) *ema {
	return &ema{n: float64(window)}
}

func (e *ema) observe(sample float64) {
	if !e.set {
		e.value = sample
		e.set = true
		return
	}
	e.value += (sample - e.value) / e.n
}

// Metrics is the diagnostics snapshot exposed by Client.Stats, per
// SPEC_FULL.md's supplemented diagnostics feature: message counters
// plus EMA'd control-plane and data-plane latency.
type Metrics struct {
	MessagesSent     uint64
	MessagesReceived uint64
	Errors           uint64
	Reconnects       uint64
	ControlPlaneLatencyAvg time.Duration
	DataPlaneLatencyAvg    time.Duration
}

// metricsTracker is the mutable, lock-guarded counterpart of Metrics.
type metricsTracker struct {
	mu sync.Mutex

	messagesSent     uint64
	messagesReceived uint64
	errors           uint64
	reconnects       uint64

	cpLatency *ema
	dpLatency *ema
}

const emaWindow = 10

func newMetricsTracker() *metricsTracker {
	return &metricsTracker{
		cpLatency: newEMA(emaWindow),
		dpLatency: newEMA(emaWindow),
	}
}

func (m *metricsTracker) recordSent()     { m.mu.Lock(); m.messagesSent++; m.mu.Unlock() }
func (m *metricsTracker) recordReceived() { m.mu.Lock(); m.messagesReceived++; m.mu.Unlock() }
func (m *metricsTracker) recordError()    { m.mu.Lock(); m.errors++; m.mu.Unlock() }
func (m *metricsTracker) recordReconnect() {
	m.mu.Lock()
	m.reconnects++
	m.mu.Unlock()
}

func (m *metricsTracker) observeControlPlaneLatency(d time.Duration) {
	m.mu.Lock()
	m.cpLatency.observe(float64(d))
	m.mu.Unlock()
}

func (m *metricsTracker) observeDataPlaneLatency(d time.Duration) {
	m.mu.Lock()
	m.dpLatency.observe(float64(d))
	m.mu.Unlock()
}

func (m *metricsTracker) snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		MessagesSent:           m.messagesSent,
		MessagesReceived:       m.messagesReceived,
		Errors:                 m.errors,
		Reconnects:             m.reconnects,
		ControlPlaneLatencyAvg: time.Duration(m.cpLatency.value),
		DataPlaneLatencyAvg:    time.Duration(m.dpLatency.value),
	}
}
