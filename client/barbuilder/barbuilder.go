// Package barbuilder aggregates MD_TICK events into fixed-width OHLCV
// bars and publishes them back onto the bus on BAR_1S. It is a
// subscriber like any other client package: it never reaches into the
// bus's internals, only Subscribe/Publish.
package barbuilder

import (
	"sync"

	"github.com/quantbus/mdbus/bus"
)

type bucket struct {
	open, high, low, close float64
	volume                 int
	startNs, endNs         uint64
	started                bool
}

// BarBuilder accumulates ticks per symbol into bucketNs-wide time buckets
// and emits a completed Bar on BAR_1S whenever a tick crosses into a new
// bucket for that symbol.
type BarBuilder struct {
	b        *bus.EventBus
	bucketNs uint64
	subTick  bus.SubID

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New creates a BarBuilder with the given bucket width in nanoseconds and
// subscribes it to MD_TICK immediately.
func New(b *bus.EventBus, bucketNs uint64) *BarBuilder {
	bb := &BarBuilder{
		b:        b,
		bucketNs: bucketNs,
		buckets:  make(map[string]*bucket),
	}
	bb.subTick, _ = b.Subscribe(bus.MDTick, bb.onTick)
	return bb
}

// Stop unsubscribes the builder from the bus without flushing any
// in-progress bucket.
func (bb *BarBuilder) Stop() {
	bb.b.Unsubscribe(bb.subTick)
}

func (bb *BarBuilder) onTick(e *bus.Event) {
	t, ok := e.Payload.(bus.Tick)
	if !ok {
		return
	}
	ts := e.Header.TsNsec
	bucketStart := (ts / bb.bucketNs) * bb.bucketNs

	bb.mu.Lock()
	defer bb.mu.Unlock()

	bk, ok := bb.buckets[t.Symbol]
	if !ok {
		bk = &bucket{}
		bb.buckets[t.Symbol] = bk
	}

	if !bk.started {
		bb.start(bk, t, bucketStart)
		return
	}

	if bucketStart != bk.startNs {
		bb.publishLocked(t.Symbol, bk)
		bb.start(bk, t, bucketStart)
		return
	}

	bb.accumulate(bk, t, bucketStart)
}

func (bb *BarBuilder) start(bk *bucket, t bus.Tick, bucketStart uint64) {
	bk.started = true
	bk.open, bk.high, bk.low, bk.close = t.Price, t.Price, t.Price, t.Price
	bk.volume = int(t.Qty)
	bk.startNs = bucketStart
	bk.endNs = bucketStart + bb.bucketNs
}

func (bb *BarBuilder) accumulate(bk *bucket, t bus.Tick, bucketStart uint64) {
	bk.close = t.Price
	if t.Price > bk.high {
		bk.high = t.Price
	}
	if t.Price < bk.low {
		bk.low = t.Price
	}
	bk.volume += int(t.Qty)
	bk.endNs = bucketStart + bb.bucketNs
}

func (bb *BarBuilder) publishLocked(symbol string, bk *bucket) {
	bar := bus.Bar{
		Symbol: symbol, Open: bk.open, High: bk.high, Low: bk.low, Close: bk.close,
		Volume: bk.volume, StartNsec: bk.startNs, EndNsec: bk.endNs,
	}
	bb.b.Publish(bus.MakeEvent(bus.Bar1s, bar))
}

// FlushAll force-closes every in-progress bucket, publishing a final bar
// for whatever has accumulated so far. Intended for shutdown, so that a
// bucket that never received a tick past its boundary is not silently
// dropped.
func (bb *BarBuilder) FlushAll() {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	for symbol, bk := range bb.buckets {
		if bk.started {
			bb.publishLocked(symbol, bk)
			bk.started = false
		}
	}
}
