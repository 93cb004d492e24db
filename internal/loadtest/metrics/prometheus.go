package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "deliveryload"

// Collector exposes an Engine to Prometheus.
//
// Values are read from a fresh Snapshot on every scrape, so the hot path
// (RecordLatency, RecordCheck) stays free of Prometheus instrumentation.
type Collector struct {
	engine *Engine

	requests   *prometheus.Desc
	failed     *prometheus.Desc
	bytes      *prometheus.Desc
	duration   *prometheus.Desc
	checks     *prometheus.Desc
	rate       *prometheus.Desc
	vus        *prometheus.Desc
	iterations *prometheus.Desc
}

// NewCollector creates a collector reading from engine.
func NewCollector(engine *Engine) *Collector {
	return &Collector{
		engine: engine,
		requests: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "http_reqs_total"),
			"Total number of HTTP requests issued.", nil, nil),
		failed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "http_req_failed_total"),
			"HTTP requests that errored or returned status >= 400.", nil, nil),
		bytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "data_received_bytes_total"),
			"Response bytes received.", nil, nil),
		duration: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "http_req_duration_seconds"),
			"HTTP request duration.", nil, nil),
		checks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "checks_total"),
			"Check outcomes by check name.", []string{"check", "result"}, nil),
		rate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "rate"),
			"Current value of custom rate metrics.", []string{"metric"}, nil),
		vus: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "vus"),
			"Active virtual users.", nil, nil),
		iterations: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "iterations_total"),
			"Completed VU iterations.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.failed
	ch <- c.bytes
	ch <- c.duration
	ch <- c.checks
	ch <- c.rate
	ch <- c.vus
	ch <- c.iterations
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.engine.GetSnapshot()

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(s.TotalRequests))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(s.FailedRequests))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(s.TotalBytes))
	ch <- prometheus.MustNewConstMetric(c.vus, prometheus.GaugeValue, float64(s.ActiveVUs))
	ch <- prometheus.MustNewConstMetric(c.iterations, prometheus.CounterValue, float64(s.Iterations))

	ch <- prometheus.MustNewConstSummary(
		c.duration,
		uint64(s.Latency.Count),
		s.Latency.Mean.Seconds()*float64(s.Latency.Count),
		map[float64]float64{
			0.5:  s.Latency.P50.Seconds(),
			0.9:  s.Latency.P90.Seconds(),
			0.95: s.Latency.P95.Seconds(),
			0.99: s.Latency.P99.Seconds(),
		},
	)

	for _, check := range s.Checks {
		ch <- prometheus.MustNewConstMetric(c.checks, prometheus.CounterValue, float64(check.Passes), check.Name, "pass")
		ch <- prometheus.MustNewConstMetric(c.checks, prometheus.CounterValue, float64(check.Fails), check.Name, "fail")
	}

	for name, r := range s.Rates {
		ch <- prometheus.MustNewConstMetric(c.rate, prometheus.GaugeValue, r.Rate, name)
	}
}

var _ prometheus.Collector = (*Collector)(nil)
