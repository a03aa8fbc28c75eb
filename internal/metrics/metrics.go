// Package metrics collects and exposes VibeMQ's broker observability data.
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (atomic counters/gauges) backing the
//     lightweight JSON /metrics endpoint served by internal/httpapi.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems.
//
// Keeping both lets an operator curl a human-readable snapshot without a
// Prometheus sidecar while still supporting a real monitoring stack.
//
// Counters recorded on the publish/delivery hot path are updated with atomic
// operations so recording a metric never contends with a publish or
// delivery. ConnectionsAdmitted/ConnectionsRejected are plain fields set by
// SetConnectionStats.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Metrics collects and exposes broker-wide runtime metrics.
type Metrics struct {
	MessagesPublished    atomic.Int64
	MessagesDelivered    atomic.Int64
	MessagesDropped      atomic.Int64
	MessagesDeadLettered atomic.Int64
	MessagesRetried      atomic.Int64

	ConnectionsAdmitted int64 // set via SetConnectionStats, not atomic-incremented directly
	ConnectionsRejected int64
	RateLimitedConnections atomic.Int64
	RateLimitedMessages    atomic.Int64

	ActiveConnections atomic.Int64
	ActiveQueues      atomic.Int64
	InFlightMessages  atomic.Int64

	TotalDeliveryLatencyMs atomic.Int64
	DeliveryCount          atomic.Int64
	MinDeliveryLatencyMs   atomic.Int64
	MaxDeliveryLatencyMs   atomic.Int64

	startTime time.Time
}

var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinDeliveryLatencyMs.Store(int64(^uint64(0) >> 1))
}

// Global returns the process-wide metrics instance.
func Global() *Metrics { return global }

// StartTime returns when the metrics subsystem was initialized, used for
// the uptime_seconds field in Snapshot.
func StartTime() time.Time { return global.startTime }

// RecordPublish records a successful enqueue.
func (m *Metrics) RecordPublish() {
	m.MessagesPublished.Add(1)
	RecordPrometheusPublish()
}

// RecordDelivery records a message handed to a subscriber and its latency
// from publish to delivery, in milliseconds.
func (m *Metrics) RecordDelivery(latencyMs int64) {
	m.MessagesDelivered.Add(1)
	m.TotalDeliveryLatencyMs.Add(latencyMs)
	m.DeliveryCount.Add(1)
	updateMin(&m.MinDeliveryLatencyMs, latencyMs)
	updateMax(&m.MaxDeliveryLatencyMs, latencyMs)
	RecordPrometheusDelivery(latencyMs)
}

// RecordDrop records a message discarded without being dead-lettered: one
// rejected by overflow, or one that expired or exhausted its retries, on a
// queue with no dead-letter buffer enabled.
func (m *Metrics) RecordDrop() {
	m.MessagesDropped.Add(1)
	RecordPrometheusDrop()
}

// RecordDeadLetter records a message written to a dead-letter buffer,
// whether from overflow, expiry, or exhausted retries.
func (m *Metrics) RecordDeadLetter() {
	m.MessagesDeadLettered.Add(1)
	RecordPrometheusDeadLetter()
}

// RecordRetry records an ack-required delivery being retried.
func (m *Metrics) RecordRetry() {
	m.MessagesRetried.Add(1)
	RecordPrometheusRetry()
}

// RecordConnectionRateLimited records a connection admission rejected by
// the sliding-window connection limiter.
func (m *Metrics) RecordConnectionRateLimited() {
	m.RateLimitedConnections.Add(1)
	RecordPrometheusConnectionRateLimited()
}

// RecordMessageRateLimited records a message rejected by the sliding-window
// per-session message limiter.
func (m *Metrics) RecordMessageRateLimited() {
	m.RateLimitedMessages.Add(1)
	RecordPrometheusMessageRateLimited()
}

// SetActiveConnections sets the current live-session gauge.
func (m *Metrics) SetActiveConnections(n int64) {
	m.ActiveConnections.Store(n)
	setPrometheusActiveConnections(n)
}

// SetActiveQueues sets the current queue-count gauge.
func (m *Metrics) SetActiveQueues(n int64) {
	m.ActiveQueues.Store(n)
	setPrometheusActiveQueues(n)
}

// SetInFlightMessages sets the current ack-tracker pending-count gauge.
func (m *Metrics) SetInFlightMessages(n int64) {
	m.InFlightMessages.Store(n)
	setPrometheusInFlightMessages(n)
}

// SetConnectionStats records the registry's cumulative admitted/rejected
// counters for the JSON snapshot; these are owned by the registry, not
// incremented here.
func (m *Metrics) SetConnectionStats(admitted, rejected int64) {
	m.ConnectionsAdmitted = admitted
	m.ConnectionsRejected = rejected
}

// Snapshot returns a point-in-time view of all metrics for the JSON
// /metrics endpoint.
func (m *Metrics) Snapshot() map[string]interface{} {
	deliveries := m.DeliveryCount.Load()
	avgLatency := float64(0)
	if deliveries > 0 {
		avgLatency = float64(m.TotalDeliveryLatencyMs.Load()) / float64(deliveries)
	}

	minLatency := m.MinDeliveryLatencyMs.Load()
	if minLatency == int64(^uint64(0)>>1) {
		minLatency = 0
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"messages": map[string]interface{}{
			"published":     m.MessagesPublished.Load(),
			"delivered":     m.MessagesDelivered.Load(),
			"dropped":       m.MessagesDropped.Load(),
			"dead_lettered": m.MessagesDeadLettered.Load(),
			"retried":       m.MessagesRetried.Load(),
		},
		"delivery_latency_ms": map[string]interface{}{
			"avg": avgLatency,
			"min": minLatency,
			"max": m.MaxDeliveryLatencyMs.Load(),
		},
		"connections": map[string]interface{}{
			"active":        m.ActiveConnections.Load(),
			"admitted":      m.ConnectionsAdmitted,
			"rejected":      m.ConnectionsRejected,
			"rate_limited":  m.RateLimitedConnections.Load(),
		},
		"queues": map[string]interface{}{
			"active": m.ActiveQueues.Load(),
		},
		"in_flight_messages":     m.InFlightMessages.Load(),
		"rate_limited_messages":  m.RateLimitedMessages.Load(),
	}
}

// JSONHandler returns an HTTP handler exposing Snapshot as JSON.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Snapshot())
	})
}

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
