package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps the prometheus collectors backing the broker's
// /metrics/prometheus scrape endpoint.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	messagesPublishedTotal    prometheus.Counter
	messagesDeliveredTotal    prometheus.Counter
	messagesDroppedTotal      prometheus.Counter
	messagesDeadLetteredTotal prometheus.Counter
	messagesRetriedTotal      prometheus.Counter

	connectionRateLimitedTotal prometheus.Counter
	messageRateLimitedTotal    prometheus.Counter

	deliveryDuration prometheus.Histogram

	uptime            prometheus.GaugeFunc
	activeConnections prometheus.Gauge
	activeQueues      prometheus.Gauge
	inFlightMessages  prometheus.Gauge
}

// defaultBuckets are the delivery-latency histogram buckets (milliseconds)
// used when a config does not set its own.
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem under the
// given namespace; it must be called once before the broker starts
// accepting connections.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		messagesPublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_published_total",
			Help: "Total messages accepted by Publish",
		}),
		messagesDeliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_delivered_total",
			Help: "Total messages handed to a subscriber",
		}),
		messagesDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_dropped_total",
			Help: "Total messages discarded without being dead-lettered",
		}),
		messagesDeadLetteredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_dead_lettered_total",
			Help: "Total messages written to a dead-letter buffer",
		}),
		messagesRetriedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_retried_total",
			Help: "Total ack-required deliveries retried after backoff",
		}),
		connectionRateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connection_rate_limited_total",
			Help: "Total connection attempts rejected by the sliding-window connection limiter",
		}),
		messageRateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "message_rate_limited_total",
			Help: "Total messages rejected by the sliding-window per-session limiter",
		}),
		deliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "delivery_latency_milliseconds",
			Help:    "Time from publish to delivery, in milliseconds",
			Buckets: buckets,
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_connections",
			Help: "Currently connected sessions",
		}),
		activeQueues: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_queues",
			Help: "Currently declared queues",
		}),
		inFlightMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "in_flight_messages",
			Help: "Deliveries currently awaiting acknowledgment",
		}),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace, Name: "uptime_seconds",
			Help: "Time since the broker started",
		},
		func() float64 { return time.Since(StartTime()).Seconds() },
	)

	registry.MustRegister(
		pm.messagesPublishedTotal,
		pm.messagesDeliveredTotal,
		pm.messagesDroppedTotal,
		pm.messagesDeadLetteredTotal,
		pm.messagesRetriedTotal,
		pm.connectionRateLimitedTotal,
		pm.messageRateLimitedTotal,
		pm.deliveryDuration,
		pm.uptime,
		pm.activeConnections,
		pm.activeQueues,
		pm.inFlightMessages,
	)

	promMetrics = pm
}

// RecordPrometheusPublish records a successful enqueue.
func RecordPrometheusPublish() {
	if promMetrics == nil {
		return
	}
	promMetrics.messagesPublishedTotal.Inc()
}

// RecordPrometheusDelivery records a delivery and its latency.
func RecordPrometheusDelivery(latencyMs int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.messagesDeliveredTotal.Inc()
	promMetrics.deliveryDuration.Observe(float64(latencyMs))
}

// RecordPrometheusDrop records a message discarded without being
// dead-lettered.
func RecordPrometheusDrop() {
	if promMetrics == nil {
		return
	}
	promMetrics.messagesDroppedTotal.Inc()
}

// RecordPrometheusDeadLetter records a dead-lettered message.
func RecordPrometheusDeadLetter() {
	if promMetrics == nil {
		return
	}
	promMetrics.messagesDeadLetteredTotal.Inc()
}

// RecordPrometheusRetry records a retried delivery.
func RecordPrometheusRetry() {
	if promMetrics == nil {
		return
	}
	promMetrics.messagesRetriedTotal.Inc()
}

// RecordPrometheusConnectionRateLimited records a rejected connection.
func RecordPrometheusConnectionRateLimited() {
	if promMetrics == nil {
		return
	}
	promMetrics.connectionRateLimitedTotal.Inc()
}

// RecordPrometheusMessageRateLimited records a rejected message.
func RecordPrometheusMessageRateLimited() {
	if promMetrics == nil {
		return
	}
	promMetrics.messageRateLimitedTotal.Inc()
}

func setPrometheusActiveConnections(n int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.activeConnections.Set(float64(n))
}

func setPrometheusActiveQueues(n int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.activeQueues.Set(float64(n))
}

func setPrometheusInFlightMessages(n int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.inFlightMessages.Set(float64(n))
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics
// scraping. Before InitPrometheus has run it reports 503.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the underlying registry, or nil before
// InitPrometheus has run.
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
