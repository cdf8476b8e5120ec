package metricsexport

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/quantbus/mdbus/bus"
)

func TestPrometheusCollectorEmitsPerTopicCounters(t *testing.T) {
	b := bus.NewEventBus(bus.Config{IngressCapacity: 64, SubscriberCapacity: 64, PerfEnabled: true})
	defer b.Stop()

	_, err := b.Subscribe(bus.MDTick, func(e *bus.Event) {})
	require.NoError(t, err)

	require.True(t, b.Publish(bus.MakeEvent(bus.MDTick, bus.Tick{})))
	require.Eventually(t, func() bool { return b.TopicCount(bus.MDTick) == 1 }, time.Second, time.Millisecond)

	c := NewPrometheusCollector(b, "")
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	metrics, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range metrics {
		if mf.GetName() != "mdbus_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue(m, "topic") == "MD_TICK" && m.GetCounter().GetValue() == 1 {
				found = true
			}
		}
	}
	require.True(t, found, "expected mdbus_events_total{topic=\"MD_TICK\"} == 1")
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
