package metricsexport

import (
	"context"
	"errors"
	"fmt"
	"time"

	statsd "github.com/DataDog/datadog-go/v5/statsd"

	"github.com/quantbus/mdbus/bus"
)

var (
	errNilEventBus     = errors.New("metricsexport: nil EventBus supplied")
	errInvalidInterval = errors.New("metricsexport: interval must be > 0")
)

// DatadogStatsdExporter periodically flushes per-topic event counts and
// the bus's latency percentiles to DogStatsD. It is pull-based: each
// interval it reads the bus's already-maintained counters and submits
// them as gauges.
type DatadogStatsdExporter struct {
	b        *bus.EventBus
	client   *statsd.Client
	prefix   string
	interval time.Duration
	baseTags []string
}

// NewDatadogStatsdExporter creates a new exporter. addr is e.g.
// "127.0.0.1:8125"; prefix defaults to "mdbus" if empty.
func NewDatadogStatsdExporter(b *bus.EventBus, prefix, addr string, interval time.Duration, baseTags []string) (*DatadogStatsdExporter, error) {
	if b == nil {
		return nil, errNilEventBus
	}
	if interval <= 0 {
		return nil, errInvalidInterval
	}
	if prefix == "" {
		prefix = "mdbus"
	}
	client, err := statsd.New(addr, statsd.WithNamespace(prefix+"."))
	if err != nil {
		return nil, fmt.Errorf("metricsexport: creating statsd client: %w", err)
	}
	return &DatadogStatsdExporter{
		b:        b,
		client:   client,
		prefix:   prefix,
		interval: interval,
		baseTags: baseTags,
	}, nil
}

// Run starts the export loop until ctx is canceled.
func (e *DatadogStatsdExporter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.flush()
		}
	}
}

func (e *DatadogStatsdExporter) flush() {
	for t := bus.Topic(0); t.Valid(); t++ {
		tags := append(append([]string(nil), e.baseTags...), "topic:"+t.String())
		_ = e.client.Gauge("events_total", float64(e.b.TopicCount(t)), tags, 1)
	}

	snap := e.b.PerfSnapshot()
	_ = e.client.Gauge("latency.p50_ns", float64(snap.LatP50), e.baseTags, 1)
	_ = e.client.Gauge("latency.p95_ns", float64(snap.LatP95), e.baseTags, 1)
	_ = e.client.Gauge("latency.p99_ns", float64(snap.LatP99), e.baseTags, 1)
	_ = e.client.Gauge("events_per_s", float64(snap.EventsPerS), e.baseTags, 1)
}

// Close closes the underlying statsd client.
func (e *DatadogStatsdExporter) Close() error {
	if e == nil || e.client == nil {
		return nil
	}
	if err := e.client.Close(); err != nil {
		return fmt.Errorf("metricsexport: closing statsd client: %w", err)
	}
	return nil
}
