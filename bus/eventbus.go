// Package bus implements an in-process, topic-routed event dispatch
// engine for a market-data and order pipeline: a single reactor goroutine
// drains an ingress queue and fans each event out to every matching
// subscriber's own bounded queue and worker goroutine.
//
// Publish never blocks on a slow subscriber: a full per-subscriber queue
// drops that event for that subscriber only. Sequence numbers are dense
// and monotonic because they are assigned after an event is accepted onto
// the ingress queue, never before, so an event rejected at the front door
// never consumes a sequence number.
//
// Publishing from inside a subscriber callback is permitted: the
// reentrant publish lands on the ingress queue like any other and is
// picked up on the reactor's next iteration, it is never dispatched
// synchronously from within the callback's own stack.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventBus is the dispatch engine described in the package doc.
type EventBus struct {
	cfg Config
	id  uuid.UUID

	ingress *boundedQueue

	mu        sync.Mutex
	subs      map[Topic]map[SubID]*subSlot
	allSubs   map[SubID]*subSlot
	slotsByID map[SubID]*subSlot

	seq    uint64
	nextID uint64

	topicCounts [topicCount]uint64

	perfEnabled  int32
	reactorTrace int32
	hist         *log2Histogram
	startNs      uint64

	reactorDone chan struct{}
	stopped     int32
}

// NewEventBus constructs and starts a bus: its reactor goroutine is
// already running when this returns. Callers must call Stop to release
// it and every live subscriber's worker goroutine.
func NewEventBus(cfg Config) *EventBus {
	if err := cfg.validate(); err != nil {
		panic(err) // only reachable with a negative capacity, a programmer error
	}
	b := &EventBus{
		cfg:         cfg,
		id:          uuid.New(),
		ingress:     newBoundedQueue(cfg.IngressCapacity),
		subs:        make(map[Topic]map[SubID]*subSlot),
		allSubs:     make(map[SubID]*subSlot),
		slotsByID:   make(map[SubID]*subSlot),
		hist:        newLog2Histogram(cfg.HistogramBuckets),
		reactorDone: make(chan struct{}),
		startNs:     uint64(time.Now().UnixNano()),
	}
	if cfg.PerfEnabled {
		atomic.StoreInt32(&b.perfEnabled, 1)
	}
	go b.reactorLoop()
	return b
}

// ID returns the bus instance's correlation id, useful for tying log lines
// and metrics from a single process together when several buses run side
// by side (e.g. one per venue feed). It plays no role in routing.
func (b *EventBus) ID() uuid.UUID { return b.id }

// Subscribe registers cb for events on topic, returning a SubID usable
// with Unsubscribe. The callback runs on a dedicated goroutine owned by
// the returned subscription, never on the reactor goroutine.
func (b *EventBus) Subscribe(topic Topic, cb func(*Event)) (SubID, error) {
	if !topic.valid() {
		return 0, ErrInvalidTopic
	}
	if cb == nil {
		return 0, ErrHandlerNil
	}
	return b.addSlot(topic, false, cb), nil
}

// SubscribeAll registers cb for every topic.
func (b *EventBus) SubscribeAll(cb func(*Event)) (SubID, error) {
	if cb == nil {
		return 0, ErrHandlerNil
	}
	return b.addSlot(wildcardTopic, true, cb), nil
}

func (b *EventBus) addSlot(topic Topic, all bool, cb func(*Event)) SubID {
	id := SubID(atomic.AddUint64(&b.nextID, 1))
	slot := newSubSlot(id, topic, all, b.cfg.SubscriberCapacity, cb, b.handleCallbackPanic)

	b.mu.Lock()
	if all {
		b.allSubs[id] = slot
	} else {
		m, ok := b.subs[topic]
		if !ok {
			m = make(map[SubID]*subSlot)
			b.subs[topic] = m
		}
		m[id] = slot
	}
	b.slotsByID[id] = slot
	b.mu.Unlock()

	go slot.worker()
	b.cfg.Logger.Debug("mdbus: subscribed", "sub_id", id, "topic", topic, "all", all)
	return id
}

// Unsubscribe removes a subscription, stops its worker goroutine and waits
// for it to exit before returning. By the time Unsubscribe returns, the
// subscriber's callback has been invoked for everything queued before
// removal and will never be invoked again. It is a no-op if id is unknown,
// e.g. because it was already unsubscribed.
func (b *EventBus) Unsubscribe(id SubID) {
	b.mu.Lock()
	slot, ok := b.slotsByID[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.slotsByID, id)
	if slot.all {
		delete(b.allSubs, id)
	} else if m, ok := b.subs[slot.topic]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(b.subs, slot.topic)
		}
	}
	b.mu.Unlock()

	slot.stop()
	<-slot.done
	b.cfg.Logger.Debug("mdbus: unsubscribed", "sub_id", id)
}

// Publish stamps e with the current publish timestamp and enqueues it
// onto the ingress queue for reactor dispatch. It returns false, without
// assigning a sequence number, if the ingress queue is full: a rejected
// event never consumes a sequence number, so the sequence stream has no
// gaps from events that were never actually accepted. Seq is assigned
// later, in dispatch, once the reactor has actually dequeued the event.
func (b *EventBus) Publish(e Event) bool {
	if atomic.LoadInt32(&b.stopped) != 0 {
		return false
	}
	if !e.Header.Topic.valid() {
		return false
	}
	e.Header.TsNsec = uint64(time.Now().UnixNano())
	return b.ingress.push(e)
}

func (b *EventBus) reactorLoop() {
	defer close(b.reactorDone)
	for {
		e, ok := b.ingress.pop()
		if !ok {
			break
		}
		b.dispatch(&e)
	}
	for {
		e, ok := b.ingress.tryPop()
		if !ok {
			return
		}
		b.dispatch(&e)
	}
}

func (b *EventBus) dispatch(e *Event) {
	e.Header.Seq = atomic.AddUint64(&b.seq, 1)

	if atomic.LoadInt32(&b.reactorTrace) != 0 {
		b.cfg.Logger.Debug("mdbus: dispatch", "seq", e.Header.Seq, "topic", e.Header.Topic)
	}

	atomic.AddUint64(&b.topicCounts[e.Header.Topic], 1)

	b.mu.Lock()
	direct := b.subs[e.Header.Topic]
	slots := make([]*subSlot, 0, len(direct)+len(b.allSubs))
	for _, s := range direct {
		slots = append(slots, s)
	}
	for _, s := range b.allSubs {
		slots = append(slots, s)
	}
	b.mu.Unlock()

	for _, s := range slots {
		if !s.matches(e) {
			continue
		}
		s.offer(*e)
	}

	if atomic.LoadInt32(&b.perfEnabled) != 0 {
		latency := uint64(time.Now().UnixNano()) - e.Header.TsNsec
		b.hist.record(latency)
	}
}

func (b *EventBus) handleCallbackPanic(id SubID, r interface{}) {
	b.cfg.Logger.Error("mdbus: subscriber callback panicked", "sub_id", id, "recovered", r)
}

// Stop drains the ingress queue, stops the reactor, then unsubscribes and
// stops every live subscriber. It is safe to call more than once; only
// the first call has any effect.
func (b *EventBus) Stop() {
	if !atomic.CompareAndSwapInt32(&b.stopped, 0, 1) {
		return
	}
	b.ingress.close()
	<-b.reactorDone

	b.mu.Lock()
	slots := make([]*subSlot, 0, len(b.slotsByID))
	for _, s := range b.slotsByID {
		slots = append(slots, s)
	}
	b.subs = make(map[Topic]map[SubID]*subSlot)
	b.allSubs = make(map[SubID]*subSlot)
	b.slotsByID = make(map[SubID]*subSlot)
	b.mu.Unlock()

	for _, s := range slots {
		s.stop()
	}
	for _, s := range slots {
		<-s.done
	}
}

// SetPerfEnabled toggles latency sampling at runtime.
func (b *EventBus) SetPerfEnabled(on bool) {
	if on {
		atomic.StoreInt32(&b.perfEnabled, 1)
	} else {
		atomic.StoreInt32(&b.perfEnabled, 0)
	}
}

// SetReactorTrace toggles per-event debug logging from the reactor. This
// is expensive and intended for diagnosing routing issues, not for
// steady-state operation.
func (b *EventBus) SetReactorTrace(on bool) {
	if on {
		atomic.StoreInt32(&b.reactorTrace, 1)
	} else {
		atomic.StoreInt32(&b.reactorTrace, 0)
	}
}

// PerfSnapshot returns the current latency profile. Safe to call
// concurrently with Publish and with itself.
func (b *EventBus) PerfSnapshot() PerfSnapshot {
	durationNs := uint64(time.Now().UnixNano()) - b.startNs
	return b.hist.snapshot(durationNs)
}

// TopicCount returns the number of events dispatched for topic since
// construction.
func (b *EventBus) TopicCount(topic Topic) uint64 {
	if !topic.valid() {
		return 0
	}
	return atomic.LoadUint64(&b.topicCounts[topic])
}

// SubscriberCount returns the number of live subscriptions on topic, not
// counting wildcard subscribers.
func (b *EventBus) SubscriberCount(topic Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// PrintStats writes a snapshot of per-topic counts and the latency
// profile to the bus's logger at info level. It is a diagnostic
// convenience, not something callers should parse.
func (b *EventBus) PrintStats() {
	snap := b.PerfSnapshot()
	b.cfg.Logger.Info("mdbus: stats",
		"events", snap.Events,
		"events_per_s", snap.EventsPerS,
		"lat_min_ns", snap.LatMin,
		"lat_avg_ns", snap.LatAvg,
		"lat_p50_ns", snap.LatP50,
		"lat_p95_ns", snap.LatP95,
		"lat_p99_ns", snap.LatP99,
		"lat_max_ns", snap.LatMax,
	)
	for t := Topic(0); t < topicCount; t++ {
		if c := b.TopicCount(t); c > 0 {
			b.cfg.Logger.Info("mdbus: topic count", "topic", t, "count", c)
		}
	}
}
