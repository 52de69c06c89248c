package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	evaluationsRun   atomic.Uint64
	batchesSubmitted atomic.Uint64
	trovesLiquidated atomic.Uint64
	errorsTotal      atomic.Uint64

	// Latency tracking (evaluation wall time)
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	feedConnections atomic.Int32
	activePolling   atomic.Int32 // 1 = active polling, 0 = event driven
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordEvaluation records one evaluation pass with its latency.
func (m *Metrics) RecordEvaluation(latencyNs int64) {
	m.evaluationsRun.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RecordBatchSubmitted records a confirmed liquidation batch of n troves.
func (m *Metrics) RecordBatchSubmitted(n int) {
	m.batchesSubmitted.Add(1)
	m.trovesLiquidated.Add(uint64(n))
}

// IncrementFeedConnections increments active feed connections by 1.
func (m *Metrics) IncrementFeedConnections() {
	m.feedConnections.Add(1)
}

// DecrementFeedConnections decrements active feed connections by 1.
func (m *Metrics) DecrementFeedConnections() {
	m.feedConnections.Add(-1)
}

// SetActivePolling sets the monitoring-mode gauge (true = active polling).
func (m *Metrics) SetActivePolling(active bool) {
	if active {
		m.activePolling.Store(1)
	} else {
		m.activePolling.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EvaluationsRun   uint64
	BatchesSubmitted uint64
	TrovesLiquidated uint64
	ErrorsTotal      uint64
	AvgLatencyNs     int64
	FeedConnections  int32
	ActivePolling    bool
	Timestamp        time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		EvaluationsRun:   m.evaluationsRun.Load(),
		BatchesSubmitted: m.batchesSubmitted.Load(),
		TrovesLiquidated: m.trovesLiquidated.Load(),
		ErrorsTotal:      m.errorsTotal.Load(),
		AvgLatencyNs:     avgLatency,
		FeedConnections:  m.feedConnections.Load(),
		ActivePolling:    m.activePolling.Load() == 1,
		Timestamp:        time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.evaluationsRun.Store(0)
	m.batchesSubmitted.Store(0)
	m.trovesLiquidated.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.feedConnections.Store(0)
	m.activePolling.Store(0)
}
