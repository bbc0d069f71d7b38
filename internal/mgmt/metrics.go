package mgmt

import (
	"strconv"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters/histogram the control plane exposes
// at /metrics. Unlike the teacher's net/http middleware, there is no
// request/response round trip to wrap here — internal/httpproxy calls
// Observe directly from its own state machine once a response has been
// fully written (spec.md §4.7 "LOG" step; ambient metrics are carried
// regardless of spec.md's Non-goals around the control plane itself).
type Metrics struct {
	totalRequests  *prometheus.CounterVec
	responseStatus *prometheus.CounterVec
	duration       *prometheus.HistogramVec
}

// NewMetrics registers and returns the counters. Registration failures are
// logged, not fatal, matching the teacher's own tolerance for a second
// NewMetrics call in tests re-registering the same collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		totalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coreproxy_requests_total",
			Help: "Number of requests forwarded or answered internally.",
		}, []string{"listener"}),
		responseStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coreproxy_response_status_total",
			Help: "Count of responses by status code.",
		}, []string{"status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coreproxy_request_duration_seconds",
			Help:    "Duration of request handling, accept to last response byte.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"listener"}),
	}
	for _, c := range []prometheus.Collector{m.totalRequests, m.responseStatus, m.duration} {
		if err := prometheus.Register(c); err != nil {
			log.Printf("[WARN] mgmt: could not register metric: %v", err)
		}
	}
	return m
}

// Observe records one completed request.
func (m *Metrics) Observe(listener string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.totalRequests.WithLabelValues(listener).Inc()
	m.responseStatus.WithLabelValues(strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(listener).Observe(elapsed.Seconds())
}
