// Package promexport exposes a running Aggregator on a Prometheus /metrics
// endpoint. Every scrape takes a fresh snapshot, so no state is duplicated.
package promexport

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/torosent/crankmeter/internal/metrics"
)

const namespace = "crankmeter"

// Snapshotter is the part of *metrics.Aggregator the collector reads.
type Snapshotter interface {
	ID() string
	Snapshot(quantiles ...float64) metrics.Report
}

// Collector is a prometheus.Collector backed by aggregator snapshots.
type Collector struct {
	source    Snapshotter
	quantiles []float64

	requests        *prometheus.Desc
	bytes           *prometheus.Desc
	bytesSent       *prometheus.Desc
	duration        *prometheus.Desc
	throughput      *prometheus.Desc
	statusCodes     *prometheus.Desc
	transportErrs   *prometheus.Desc
	endpointReqs    *prometheus.Desc
	endpointLatency *prometheus.Desc
}

// NewCollector describes the aggregator's metrics. quantiles defaults to
// metrics.DefaultQuantiles.
func NewCollector(source Snapshotter, quantiles ...float64) *Collector {
	if len(quantiles) == 0 {
		quantiles = metrics.DefaultQuantiles
	}
	constLabels := prometheus.Labels{"run_id": source.ID()}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, constLabels)
	}
	return &Collector{
		source:          source,
		quantiles:       quantiles,
		requests:        desc("requests_total", "Completed request attempts by outcome.", "outcome"),
		bytes:           desc("response_bytes_total", "Response payload bytes received."),
		bytesSent:       desc("request_bytes_total", "Request payload bytes sent."),
		duration:        desc("request_duration_seconds", "Request latency estimated from the latency sketch."),
		throughput:      desc("throughput_requests_per_second", "Request throughput over the whole run or the recent window.", "window"),
		statusCodes:     desc("responses_total", "Responses by HTTP status code.", "code"),
		transportErrs:   desc("transport_errors_total", "Transport failures by reason.", "reason"),
		endpointReqs:    desc("endpoint_requests_total", "Completed request attempts by endpoint and outcome.", "endpoint", "outcome"),
		endpointLatency: desc("endpoint_request_duration_seconds", "Request latency per endpoint.", "endpoint"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.bytes
	ch <- c.bytesSent
	ch <- c.duration
	ch <- c.throughput
	ch <- c.statusCodes
	ch <- c.transportErrs
	ch <- c.endpointReqs
	ch <- c.endpointLatency
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	r := c.source.Snapshot(c.quantiles...)

	c.outcomes(ch, c.requests, r)
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(r.BytesTotal))
	ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(r.BytesSentTotal))
	ch <- summary(c.duration, r)
	ch <- prometheus.MustNewConstMetric(c.throughput, prometheus.GaugeValue, r.ThroughputRPS, "overall")
	ch <- prometheus.MustNewConstMetric(c.throughput, prometheus.GaugeValue, r.WindowRPS, "recent")

	for code, n := range r.StatusCodes {
		ch <- prometheus.MustNewConstMetric(c.statusCodes, prometheus.CounterValue, float64(n), strconv.Itoa(code))
	}
	for reason, n := range r.TransportErrors {
		ch <- prometheus.MustNewConstMetric(c.transportErrs, prometheus.CounterValue, float64(n), reason)
	}
	for name, ep := range r.Endpoints {
		c.outcomes(ch, c.endpointReqs, ep, name)
		ch <- summary(c.endpointLatency, ep, name)
	}
}

func (c *Collector) outcomes(ch chan<- prometheus.Metric, desc *prometheus.Desc, r metrics.Report, labels ...string) {
	counts := []struct {
		outcome metrics.Outcome
		n       int64
	}{
		{metrics.Success, r.Successes},
		{metrics.TransportFailure, r.FailuresByClass.Transport},
		{metrics.StatusFailure, r.FailuresByClass.Status},
	}
	for _, oc := range counts {
		values := append(append([]string(nil), labels...), oc.outcome.String())
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(oc.n), values...)
	}
}

func summary(desc *prometheus.Desc, r metrics.Report, labels ...string) prometheus.Metric {
	quantiles := make(map[float64]float64, len(r.Quantiles))
	for _, q := range r.Quantiles {
		quantiles[q.Quantile] = q.Latency.Seconds()
	}
	sum := r.MeanLatency.Seconds() * float64(r.Total)
	return prometheus.MustNewConstSummary(desc, uint64(r.Total), sum, quantiles, labels...)
}
