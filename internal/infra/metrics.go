package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight pipeline counters.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Ingestion counters
	framesReceived     atomic.Uint64
	framesDropped      atomic.Uint64
	framesMalformed    atomic.Uint64
	snapshotsPublished atomic.Uint64
	connectFailures    atomic.Uint64

	// Simulation counters
	ticksProcessed atomic.Uint64
	tickErrors     atomic.Uint64

	// Latency tracking
	tickLatencySumNs atomic.Int64
	tickLatencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	simulationRunning atomic.Int32 // 1 = running, 0 = idle
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordFrame records a raw frame read from the socket.
func (m *Metrics) RecordFrame() {
	m.framesReceived.Add(1)
}

// RecordDroppedFrame records a frame evicted from a full queue.
func (m *Metrics) RecordDroppedFrame() {
	m.framesDropped.Add(1)
}

// RecordMalformed records a frame that failed to parse.
func (m *Metrics) RecordMalformed() {
	m.framesMalformed.Add(1)
}

// RecordSnapshot records a published orderbook snapshot.
func (m *Metrics) RecordSnapshot() {
	m.snapshotsPublished.Add(1)
}

// RecordConnectFailure records a failed or lost connection.
func (m *Metrics) RecordConnectFailure() {
	m.connectFailures.Add(1)
}

// RecordTick records a completed simulation tick with its end-to-end latency.
func (m *Metrics) RecordTick(latencyNs int64) {
	m.ticksProcessed.Add(1)
	m.tickLatencySumNs.Add(latencyNs)
	m.tickLatencyCount.Add(1)
}

// RecordTickError records a failed tick.
func (m *Metrics) RecordTickError() {
	m.tickErrors.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// SetRunning sets the simulation state gauge.
func (m *Metrics) SetRunning(running bool) {
	if running {
		m.simulationRunning.Store(1)
	} else {
		m.simulationRunning.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	FramesReceived     uint64
	FramesDropped      uint64
	FramesMalformed    uint64
	SnapshotsPublished uint64
	ConnectFailures    uint64
	TicksProcessed     uint64
	TickErrors         uint64
	AvgTickLatencyNs   int64
	ActiveConnections  int32
	Running            bool
	Timestamp          time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.tickLatencyCount.Load()
	if count > 0 {
		avgLatency = m.tickLatencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		FramesReceived:     m.framesReceived.Load(),
		FramesDropped:      m.framesDropped.Load(),
		FramesMalformed:    m.framesMalformed.Load(),
		SnapshotsPublished: m.snapshotsPublished.Load(),
		ConnectFailures:    m.connectFailures.Load(),
		TicksProcessed:     m.ticksProcessed.Load(),
		TickErrors:         m.tickErrors.Load(),
		AvgTickLatencyNs:   avgLatency,
		ActiveConnections:  m.activeConnections.Load(),
		Running:            m.simulationRunning.Load() == 1,
		Timestamp:          time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.framesReceived.Store(0)
	m.framesDropped.Store(0)
	m.framesMalformed.Store(0)
	m.snapshotsPublished.Store(0)
	m.connectFailures.Store(0)
	m.ticksProcessed.Store(0)
	m.tickErrors.Store(0)
	m.tickLatencySumNs.Store(0)
	m.tickLatencyCount.Store(0)
	m.activeConnections.Store(0)
	m.simulationRunning.Store(0)
}
