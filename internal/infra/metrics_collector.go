package infra

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "trade_sim"

// MetricsCollector exports a Metrics instance to Prometheus.
// Values are read from Snapshot on every scrape, so the hot path stays on atomics.
type MetricsCollector struct {
	metrics *Metrics

	framesReceived     *prometheus.Desc
	framesDropped      *prometheus.Desc
	framesMalformed    *prometheus.Desc
	snapshotsPublished *prometheus.Desc
	connectFailures    *prometheus.Desc
	ticksProcessed     *prometheus.Desc
	tickErrors         *prometheus.Desc
	avgTickLatency     *prometheus.Desc
	activeConnections  *prometheus.Desc
	running            *prometheus.Desc
}

// NewMetricsCollector creates a collector over m.
func NewMetricsCollector(m *Metrics) *MetricsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, nil, nil)
	}
	return &MetricsCollector{
		metrics:            m,
		framesReceived:     desc("frames_received_total", "Raw websocket frames read."),
		framesDropped:      desc("frames_dropped_total", "Frames evicted from a full ingestion queue."),
		framesMalformed:    desc("frames_malformed_total", "Frames that failed to parse."),
		snapshotsPublished: desc("snapshots_published_total", "Orderbook snapshots published to the store."),
		connectFailures:    desc("connect_failures_total", "Failed or lost websocket connections."),
		ticksProcessed:     desc("ticks_processed_total", "Simulation ticks that emitted a metric record."),
		tickErrors:         desc("tick_errors_total", "Simulation ticks that failed."),
		avgTickLatency:     desc("tick_latency_avg_seconds", "Mean end-to-end tick latency."),
		activeConnections:  desc("active_connections", "Open websocket connections."),
		running:            desc("simulation_running", "1 while a simulation is running."),
	}
}

// Describe implements prometheus.Collector.
func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesReceived
	ch <- c.framesDropped
	ch <- c.framesMalformed
	ch <- c.snapshotsPublished
	ch <- c.connectFailures
	ch <- c.ticksProcessed
	ch <- c.tickErrors
	ch <- c.avgTickLatency
	ch <- c.activeConnections
	ch <- c.running
}

// Collect implements prometheus.Collector.
func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(c.framesReceived, s.FramesReceived)
	counter(c.framesDropped, s.FramesDropped)
	counter(c.framesMalformed, s.FramesMalformed)
	counter(c.snapshotsPublished, s.SnapshotsPublished)
	counter(c.connectFailures, s.ConnectFailures)
	counter(c.ticksProcessed, s.TicksProcessed)
	counter(c.tickErrors, s.TickErrors)
	gauge(c.avgTickLatency, float64(s.AvgTickLatencyNs)/1e9)
	gauge(c.activeConnections, float64(s.ActiveConnections))

	var running float64
	if s.Running {
		running = 1
	}
	gauge(c.running, running)
}
