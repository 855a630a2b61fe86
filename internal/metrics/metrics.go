// Package metrics implements the process-local Prometheus registry each
// worker and the primary maintain (§5, §6), and the aggregation the
// primary performs to serve a cluster-wide /metrics. Grounded on the
// teacher's metrics package's use of a custom prometheus.Registry plus
// promhttp.HandlerFor rather than the global DefaultRegisterer, simplified
// from the teacher's OTel-bridge machinery (dropped — see DESIGN.md) down
// to direct client_golang collectors.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Registry is one process's metrics collectors: a private
// prometheus.Registry (never the global DefaultRegisterer, so multiple
// Registry values can coexist in tests), the §6 responses_codes counter,
// and Go/process runtime collectors.
type Registry struct {
	reg *prometheus.Registry

	responseCodes   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	sinkDropped     prometheus.Counter
}

// New builds a Registry with the default collector set registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		responseCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "responses_codes",
			Help: "Count of proxied responses by HTTP status code.",
		}, []string{"code"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "request_duration_milliseconds",
			Help:    "Per-request total duration in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		}),
		sinkDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sink_dropped_transactions_total",
			Help: "Transactions dropped from the post-transaction sink's in-memory buffer.",
		}),
	}

	r.reg.MustRegister(
		r.responseCodes,
		r.requestDuration,
		r.sinkDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveResponse records one completed request's status code and total
// duration in milliseconds.
func (r *Registry) ObserveResponse(statusCode int, durationMS float64) {
	r.responseCodes.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	r.requestDuration.Observe(durationMS)
}

// ObserveDropped records one transaction dropped by the post-transaction
// sink's overflow buffer.
func (r *Registry) ObserveDropped() {
	r.sinkDropped.Inc()
}

// Handler exposes the registry in Prometheus text format (§6, §4.9).
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gather returns the registry's current metric families, used both by
// Handler and by a worker reporting its counters up to the primary for
// cluster aggregation (§5).
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	return r.reg.Gather()
}

