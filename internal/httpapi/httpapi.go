// Package httpapi serves the broker's HTTP sidecar: a health probe and a
// metrics endpoint, separate from the binary TCP protocol port so an
// operator never needs to speak the wire protocol just to scrape metrics.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/Bobsans/vibemq/internal/metrics"
)

// Deps are the components the HTTP sidecar reports on.
type Deps struct {
	Metrics       *metrics.Metrics
	QueueCount    func() int
	ActiveConns   func() int
	PendingAcks   func() int
}

// NewMux builds the sidecar's handler: /health, /metrics (JSON), and
// /metrics/prometheus (Prometheus exposition format).
func NewMux(deps Deps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(deps))
	mux.Handle("/metrics", deps.Metrics.JSONHandler())
	mux.Handle("/metrics/prometheus", metrics.PrometheusHandler())
	return mux
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Queues      int    `json:"queues"`
	PendingAcks int    `json:"pending_acks"`
}

// healthHandler always reports "ok": the broker has no external
// dependency whose unavailability should fail a liveness probe. It still
// reports live counts so an operator's dashboard has something to show
// without a second round trip to /metrics.
func healthHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		if deps.ActiveConns != nil {
			resp.Connections = deps.ActiveConns()
		}
		if deps.QueueCount != nil {
			resp.Queues = deps.QueueCount()
		}
		if deps.PendingAcks != nil {
			resp.PendingAcks = deps.PendingAcks()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
