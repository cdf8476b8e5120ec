// Package metricsexport exposes an EventBus's per-topic counters and
// latency histogram to Prometheus and to DogStatsD, adapted from the
// reference bus module's per-engine exporters to this bus's per-topic,
// latency-oriented statistics.
package metricsexport

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quantbus/mdbus/bus"
)

// PrometheusCollector implements prometheus.Collector for an EventBus: a
// per-topic event counter plus the bus's latency percentiles as gauges.
// Like the reference exporter, it is pull-based and allocates nothing on
// the bus's hot path — every number is read from the bus's own
// already-maintained counters and histogram at scrape time.
type PrometheusCollector struct {
	b *bus.EventBus

	eventsDesc  *prometheus.Desc
	latencyDesc *prometheus.Desc
}

// NewPrometheusCollector creates a collector for b. namespace is used as
// the metric name prefix, defaulting to "mdbus" if empty.
func NewPrometheusCollector(b *bus.EventBus, namespace string) *PrometheusCollector {
	if namespace == "" {
		namespace = "mdbus"
	}
	return &PrometheusCollector{
		b: b,
		eventsDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_events_total", namespace),
			"Total events dispatched, by topic.",
			[]string{"topic"}, nil,
		),
		latencyDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_latency_nanoseconds", namespace),
			"Publish-to-dispatch latency distribution, by quantile.",
			[]string{"quantile"}, nil,
		),
	}
}

// Describe sends metric descriptors.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.eventsDesc
	ch <- c.latencyDesc
}

// Collect gathers current stats and emits ConstMetrics.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	for t := bus.Topic(0); t.Valid(); t++ {
		count := c.b.TopicCount(t)
		ch <- prometheus.MustNewConstMetric(c.eventsDesc, prometheus.CounterValue, float64(count), t.String())
	}

	snap := c.b.PerfSnapshot()
	ch <- prometheus.MustNewConstMetric(c.latencyDesc, prometheus.GaugeValue, float64(snap.LatMin), "min")
	ch <- prometheus.MustNewConstMetric(c.latencyDesc, prometheus.GaugeValue, float64(snap.LatAvg), "avg")
	ch <- prometheus.MustNewConstMetric(c.latencyDesc, prometheus.GaugeValue, float64(snap.LatP50), "p50")
	ch <- prometheus.MustNewConstMetric(c.latencyDesc, prometheus.GaugeValue, float64(snap.LatP95), "p95")
	ch <- prometheus.MustNewConstMetric(c.latencyDesc, prometheus.GaugeValue, float64(snap.LatP99), "p99")
	ch <- prometheus.MustNewConstMetric(c.latencyDesc, prometheus.GaugeValue, float64(snap.LatMax), "max")
}
