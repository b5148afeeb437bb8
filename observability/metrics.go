package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records settlement operation activity: request counts, error counts
// segmented by error label, and operation latency. The coordinator owns one
// instance; hosts register its collectors on their Prometheus registry.
type Metrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics builds the metric vectors and registers them when a registerer
// is supplied. Passing nil skips registration, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnisettle",
			Subsystem: "settlement",
			Name:      "requests_total",
			Help:      "Total settlement operations segmented by method and outcome.",
		}, []string{"method", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnisettle",
			Subsystem: "settlement",
			Name:      "errors_total",
			Help:      "Total settlement operation failures segmented by method.",
		}, []string{"method"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "omnisettle",
			Subsystem: "settlement",
			Name:      "latency_seconds",
			Help:      "Settlement operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.errors, m.latency)
	}
	return m
}

// Observe records one completed operation.
func (m *Metrics) Observe(method string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(method).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
