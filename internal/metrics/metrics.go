// Package metrics exposes Prometheus counters for the scan gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "messgate"

// Collector records scan outcomes, credential issuance and tally updates.
type Collector struct {
	scans       *prometheus.CounterVec
	scanLatency prometheus.Histogram
	issued      prometheus.Counter
	tallies     *prometheus.CounterVec
	httpStatus  *prometheus.CounterVec
}

// NewCollector registers the gateway metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scans processed, labelled by outcome kind.",
		}, []string{"outcome"}),
		scanLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "End-to-end scan handling latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credentials_issued_total",
			Help:      "Scan credentials issued to students.",
		}),
		tallies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tally_updates_total",
			Help:      "Live tally updates applied by the worker, labelled by result.",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_responses_total",
			Help:      "HTTP responses by status code.",
		}, []string{"code"}),
	}
	reg.MustRegister(c.scans, c.scanLatency, c.issued, c.tallies, c.httpStatus)
	return c
}

// RecordScan counts a scan and observes its latency.
func (c *Collector) RecordScan(outcome string, elapsed time.Duration) {
	c.scans.WithLabelValues(outcome).Inc()
	c.scanLatency.Observe(elapsed.Seconds())
}

// RecordCredentialIssued counts an issued credential.
func (c *Collector) RecordCredentialIssued() {
	c.issued.Inc()
}

// RecordTally counts a worker tally update; ok=false marks a failure.
func (c *Collector) RecordTally(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.tallies.WithLabelValues(result).Inc()
}

// RecordHTTPStatus counts a response code.
func (c *Collector) RecordHTTPStatus(code int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Handler serves the metrics in gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
