package bus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T, ingress, perSub int) *EventBus {
	t.Helper()
	b := NewEventBus(Config{IngressCapacity: ingress, SubscriberCapacity: perSub})
	t.Cleanup(b.Stop)
	return b
}

func TestSubscribeReceivesOnlyMatchingTopic(t *testing.T) {
	b := newTestBus(t, 16, 16)

	var ticks, trades int32
	_, err := b.Subscribe(MDTick, func(e *Event) { atomic.AddInt32(&ticks, 1) })
	require.NoError(t, err)
	_, err = b.Subscribe(Trade, func(e *Event) { atomic.AddInt32(&trades, 1) })
	require.NoError(t, err)

	require.True(t, b.Publish(MakeEvent(MDTick, Tick{Symbol: "AAPL", Price: 100, Qty: 1})))
	require.True(t, b.Publish(MakeEvent(MDTick, Tick{Symbol: "AAPL", Price: 101, Qty: 1})))
	require.True(t, b.Publish(MakeEvent(Trade, TradeMsg{Symbol: "AAPL", Qty: 1, Price: 101})))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ticks) == 2 && atomic.LoadInt32(&trades) == 1
	}, time.Second, time.Millisecond)
}

func TestSubscribeAllReceivesEveryTopic(t *testing.T) {
	b := newTestBus(t, 16, 16)

	var count int32
	_, err := b.SubscribeAll(func(e *Event) { atomic.AddInt32(&count, 1) })
	require.NoError(t, err)

	require.True(t, b.Publish(MakeEvent(MDTick, Tick{})))
	require.True(t, b.Publish(MakeEvent(Order, OrderMsg{})))
	require.True(t, b.Publish(MakeEvent(RiskAlert, RiskAlertMsg{})))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&count) == 3
	}, time.Second, time.Millisecond)
}

func TestSequenceNumbersAreDenseAndMonotonic(t *testing.T) {
	b := newTestBus(t, 1024, 1024)

	var mu sync.Mutex
	var seqs []uint64
	_, err := b.Subscribe(MDTick, func(e *Event) {
		mu.Lock()
		seqs = append(seqs, e.Header.Seq)
		mu.Unlock()
	})
	require.NoError(t, err)

	const n = 200
	for i := 0; i < n; i++ {
		require.True(t, b.Publish(MakeEvent(MDTick, Tick{Price: float64(i)})))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seqs) == n
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seqs); i++ {
		assert.Equal(t, seqs[i-1]+1, seqs[i], "sequence must be dense and increasing")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t, 16, 16)

	var count int32
	id, err := b.Subscribe(MDTick, func(e *Event) { atomic.AddInt32(&count, 1) })
	require.NoError(t, err)

	require.True(t, b.Publish(MakeEvent(MDTick, Tick{})))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&count) == 1 }, time.Second, time.Millisecond)

	b.Unsubscribe(id)
	require.True(t, b.Publish(MakeEvent(MDTick, Tick{})))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestUnsubscribeUnknownIDIsNoop(t *testing.T) {
	b := newTestBus(t, 16, 16)
	assert.NotPanics(t, func() { b.Unsubscribe(SubID(9999)) })
}

func TestSubscribeInvalidTopicErrors(t *testing.T) {
	b := newTestBus(t, 16, 16)
	_, err := b.Subscribe(Topic(250), func(e *Event) {})
	assert.ErrorIs(t, err, ErrInvalidTopic)
}

func TestSubscribeNilCallbackErrors(t *testing.T) {
	b := newTestBus(t, 16, 16)
	_, err := b.Subscribe(MDTick, nil)
	assert.ErrorIs(t, err, ErrHandlerNil)

	_, err = b.SubscribeAll(nil)
	assert.ErrorIs(t, err, ErrHandlerNil)
}

func TestSlowSubscriberDropsWithoutBlockingOthers(t *testing.T) {
	b := newTestBus(t, 1024, 1)

	block := make(chan struct{})
	var slowSeen int32
	_, err := b.Subscribe(MDTick, func(e *Event) {
		atomic.AddInt32(&slowSeen, 1)
		<-block
	})
	require.NoError(t, err)

	var fastSeen int32
	_, err = b.Subscribe(MDTick, func(e *Event) { atomic.AddInt32(&fastSeen, 1) })
	require.NoError(t, err)

	const n = 50
	for i := 0; i < n; i++ {
		require.True(t, b.Publish(MakeEvent(MDTick, Tick{})))
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fastSeen) == n
	}, time.Second, time.Millisecond)

	assert.Less(t, int(atomic.LoadInt32(&slowSeen)), n, "slow subscriber's capacity-1 queue should drop events")
	close(block)
}

func TestPublishAfterStopIsRejected(t *testing.T) {
	b := NewEventBus(Config{IngressCapacity: 16, SubscriberCapacity: 16})
	b.Stop()
	assert.False(t, b.Publish(MakeEvent(MDTick, Tick{})))
}

func TestStopIsIdempotent(t *testing.T) {
	b := NewEventBus(Config{IngressCapacity: 16, SubscriberCapacity: 16})
	assert.NotPanics(t, func() {
		b.Stop()
		b.Stop()
	})
}

func TestReentrantPublishFromCallback(t *testing.T) {
	b := newTestBus(t, 64, 64)

	var heartbeats int32
	_, err := b.SubscribeAll(func(e *Event) {
		if e.Header.Topic == MDTick {
			b.Publish(MakeEvent(Heartbeat, HeartbeatMsg{}))
		}
		if e.Header.Topic == Heartbeat {
			atomic.AddInt32(&heartbeats, 1)
		}
	})
	require.NoError(t, err)

	require.True(t, b.Publish(MakeEvent(MDTick, Tick{})))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&heartbeats) == 1
	}, time.Second, time.Millisecond)
}

func TestPanickingCallbackDoesNotStopWorker(t *testing.T) {
	b := newTestBus(t, 16, 16)

	var calls int32
	_, err := b.Subscribe(MDTick, func(e *Event) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			panic("boom")
		}
	})
	require.NoError(t, err)

	require.True(t, b.Publish(MakeEvent(MDTick, Tick{})))
	require.True(t, b.Publish(MakeEvent(MDTick, Tick{})))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 2
	}, time.Second, time.Millisecond)
}

func TestTopicCountAndSubscriberCount(t *testing.T) {
	b := newTestBus(t, 16, 16)

	_, err := b.Subscribe(MDTick, func(e *Event) {})
	require.NoError(t, err)
	_, err = b.Subscribe(MDTick, func(e *Event) {})
	require.NoError(t, err)

	assert.Equal(t, 2, b.SubscriberCount(MDTick))
	assert.Equal(t, 0, b.SubscriberCount(Trade))

	require.True(t, b.Publish(MakeEvent(MDTick, Tick{})))
	require.Eventually(t, func() bool {
		return b.TopicCount(MDTick) == 1
	}, time.Second, time.Millisecond)
}

func TestPerfSnapshotLatencyOrdering(t *testing.T) {
	b := NewEventBus(Config{IngressCapacity: 1024, SubscriberCapacity: 1024, PerfEnabled: true})
	defer b.Stop()

	_, err := b.Subscribe(MDTick, func(e *Event) {})
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.True(t, b.Publish(MakeEvent(MDTick, Tick{})))
	}

	require.Eventually(t, func() bool {
		return b.PerfSnapshot().Events >= 100
	}, time.Second, time.Millisecond)

	snap := b.PerfSnapshot()
	assert.LessOrEqual(t, snap.LatMin, snap.LatP50)
	assert.LessOrEqual(t, snap.LatP50, snap.LatP95)
	assert.LessOrEqual(t, snap.LatP95, snap.LatP99)
	assert.LessOrEqual(t, snap.LatP99, snap.LatMax)
}

func TestPublishStampsTimestampBeforeEnqueue(t *testing.T) {
	b := newTestBus(t, 16, 16)

	gotCh := make(chan Event, 1)
	_, err := b.Subscribe(MDTick, func(e *Event) { gotCh <- *e })
	require.NoError(t, err)

	before := uint64(time.Now().UnixNano())
	require.True(t, b.Publish(MakeEvent(MDTick, Tick{})))

	select {
	case e := <-gotCh:
		assert.GreaterOrEqual(t, e.Header.TsNsec, before, "ts_ns must be stamped by the Publish call, not earlier than it started")
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestDispatchMeasuresQueueingLatencyFromPublishTimestamp(t *testing.T) {
	b := NewEventBus(Config{IngressCapacity: 16, SubscriberCapacity: 16, PerfEnabled: true})
	defer b.Stop()

	const backlog = 50 * time.Millisecond
	e := MakeEvent(MDTick, Tick{})
	e.Header.TsNsec = uint64(time.Now().Add(-backlog).UnixNano())
	wantTs := e.Header.TsNsec

	b.dispatch(&e)

	assert.Equal(t, wantTs, e.Header.TsNsec,
		"dispatch must not overwrite the publish-time timestamp stamped by Publish")

	snap := b.PerfSnapshot()
	require.Equal(t, uint64(1), snap.Events)
	assert.GreaterOrEqual(t, snap.LatMin, uint64(backlog/2),
		"recorded latency should reflect the simulated queueing delay between Publish and dispatch, not ~0ns")
}

func TestHealthReportsOKAndIngressCapacityWhenIdle(t *testing.T) {
	b := newTestBus(t, 4, 1)

	h := b.Health()
	assert.Equal(t, HealthOK, h.Status)
	assert.Equal(t, 4, h.IngressCapacity)
}

func TestHealthAfterStop(t *testing.T) {
	b := NewEventBus(Config{IngressCapacity: 16, SubscriberCapacity: 16})
	b.Stop()
	assert.Equal(t, HealthStopped, b.Health().Status)
}
