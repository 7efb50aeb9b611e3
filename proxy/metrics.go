package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK            = "ok"
	outcomeBadRequest    = "bad_request"
	outcomeUpstreamError = "upstream_error"
	outcomeFailed        = "failed"
)

type metrics struct {
	requests *prometheus.CounterVec
	upstream prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bgerase",
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Erase requests handled by the proxy, by outcome.",
		}, []string{"outcome"}),
		upstream: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bgerase",
			Subsystem: "proxy",
			Name:      "upstream_duration_seconds",
			Help:      "Latency of calls to the background removal API.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
	}
	reg.MustRegister(m.requests, m.upstream)
	return m
}
