package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds the relay collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	relayRequests   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
}

// New registers the relay collectors plus the Go runtime and process
// collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		relayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "relay_requests_total",
			Help:      "Relay requests by mode and outcome code.",
		}, []string{"mode", "code"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relaychat",
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of upstream chat completion calls.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"model"}),
	}
	m.registry.MustRegister(
		m.relayRequests,
		m.upstreamLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRelay counts one finished relay request. code is "ok" or a public
// error code.
func (m *Metrics) ObserveRelay(mode, code string) {
	if m == nil {
		return
	}
	m.relayRequests.WithLabelValues(mode, code).Inc()
}

// ObserveUpstream records how long one upstream call took.
func (m *Metrics) ObserveUpstream(model string, d time.Duration) {
	if m == nil {
		return
	}
	m.upstreamLatency.WithLabelValues(model).Observe(d.Seconds())
}

// RelayCount returns the current counter value for mode and code.
func (m *Metrics) RelayCount(mode, code string) float64 {
	c, err := m.relayRequests.GetMetricWithLabelValues(mode, code)
	if err != nil {
		return 0
	}
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return pb.GetCounter().GetValue()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
