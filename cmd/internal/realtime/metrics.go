package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks hub activity. All methods are safe on a nil receiver, so a
// nil *Metrics disables collection without branching at call sites.
type Metrics struct {
	activeSessions    prometheus.Gauge
	activeConnections prometheus.Gauge

	framesReceived  *prometheus.CounterVec
	broadcasts      *prometheus.CounterVec
	conflicts       prometheus.Counter
	updatesRejected prometheus.Counter
	storeFailures   *prometheus.CounterVec
	droppedSends    prometheus.Counter
}

// NewMetrics creates and registers the hub collectors.
// If registerer is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trivector_active_sessions",
			Help: "Current number of live sessions",
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trivector_active_connections",
			Help: "Current number of authenticated connections",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trivector_frames_received_total",
			Help: "Inbound frames by type",
		}, []string{"type"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trivector_broadcasts_total",
			Help: "Session broadcasts by type",
		}, []string{"type"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trivector_conflicts_total",
			Help: "Parameter conflicts reported to proposers",
		}),
		updatesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trivector_updates_rejected_total",
			Help: "Proposals rejected by bounds validation",
		}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trivector_store_failures_total",
			Help: "Persistence failures by operation",
		}, []string{"op"}),
		droppedSends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trivector_dropped_sends_total",
			Help: "Broadcast sends dropped because a peer was dead or backlogged",
		}),
	}

	registerer.MustRegister(
		m.activeSessions,
		m.activeConnections,
		m.framesReceived,
		m.broadcasts,
		m.conflicts,
		m.updatesRejected,
		m.storeFailures,
		m.droppedSends,
	)
	return m
}

// SessionOpened moves the live-session gauge up.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed moves the live-session gauge down.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// ConnectionOpened moves the connection gauge up.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

// ConnectionClosed moves the connection gauge down.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

// RecordFrame counts one inbound frame.
func (m *Metrics) RecordFrame(frameType string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(frameType).Inc()
}

// RecordBroadcast counts one session broadcast.
func (m *Metrics) RecordBroadcast(frameType string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(frameType).Inc()
}

// RecordConflicts counts conflict descriptors delivered to a proposer.
func (m *Metrics) RecordConflicts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.conflicts.Add(float64(n))
}

// RecordRejectedUpdate counts a proposal dropped by bounds validation.
func (m *Metrics) RecordRejectedUpdate() {
	if m == nil {
		return
	}
	m.updatesRejected.Inc()
}

// RecordStoreFailure counts a failed persistence operation.
func (m *Metrics) RecordStoreFailure(op string) {
	if m == nil {
		return
	}
	m.storeFailures.WithLabelValues(op).Inc()
}

// RecordDroppedSend counts a fan-out send that could not be delivered.
func (m *Metrics) RecordDroppedSend() {
	if m == nil {
		return
	}
	m.droppedSends.Inc()
}
