// Package orderrouter implements a minimal order-matching subscriber: it
// tracks the last traded price per symbol from MD_TICK events and turns
// ORDER events into TRADE or REJECT events against that price.
package orderrouter

import (
	"sync"
	"sync/atomic"

	"github.com/quantbus/mdbus/bus"
)

// Reject codes, matching the reference router's numbering so downstream
// consumers can keep a single code table across languages.
const (
	CodeZeroOrderID    = 1001
	CodeEmptySymbol    = 1002
	CodeNonPositiveQty = 1003
	CodeNonPositivePx  = 1004
	CodeNoLastPrice    = 2001
	CodeNotMarketable  = 2002
)

// Router subscribes to MD_TICK and ORDER and publishes TRADE/REJECT in
// response. It owns no goroutines of its own: both subscriptions run on
// the bus's per-subscriber worker goroutines.
type Router struct {
	b     *bus.EventBus
	trace bool

	subTick bus.SubID
	subOrd  bus.SubID

	pxMu   sync.RWMutex
	lastPx map[string]float64

	nextTradeID uint64 // pre-increment: first trade id is 1

	logger bus.Logger
}

// New creates a Router and subscribes it to the bus immediately.
func New(b *bus.EventBus, trace bool, logger bus.Logger) *Router {
	if logger == nil {
		logger = nopLogger{}
	}
	r := &Router{
		b:      b,
		trace:  trace,
		lastPx: make(map[string]float64),
		logger: logger,
	}
	r.subTick, _ = b.Subscribe(bus.MDTick, r.onTick)
	r.subOrd, _ = b.Subscribe(bus.Order, r.onOrder)
	logger.Info("orderrouter: started", "trace", trace)
	return r
}

// Stop unsubscribes the router from the bus.
func (r *Router) Stop() {
	r.b.Unsubscribe(r.subTick)
	r.b.Unsubscribe(r.subOrd)
}

func (r *Router) onTick(e *bus.Event) {
	t, ok := e.Payload.(bus.Tick)
	if !ok {
		return
	}
	r.pxMu.Lock()
	r.lastPx[t.Symbol] = t.Price
	r.pxMu.Unlock()
	if r.trace {
		r.logger.Debug("orderrouter: tick", "symbol", t.Symbol, "price", t.Price)
	}
}

func (r *Router) lastPrice(symbol string) (float64, bool) {
	r.pxMu.RLock()
	defer r.pxMu.RUnlock()
	px, ok := r.lastPx[symbol]
	return px, ok
}

func (r *Router) onOrder(e *bus.Event) {
	o, ok := e.Payload.(bus.OrderMsg)
	if !ok {
		return
	}

	if r.trace {
		r.logger.Debug("orderrouter: order", "order_id", o.OrderID, "symbol", o.Symbol,
			"side", o.Side, "type", o.Type, "qty", o.Qty, "price", o.Price)
	}

	if o.OrderID == 0 {
		r.reject(o, CodeZeroOrderID, "order_id=0")
		return
	}
	if o.Symbol == "" {
		r.reject(o, CodeEmptySymbol, "empty symbol")
		return
	}
	if o.Qty <= 0 {
		r.reject(o, CodeNonPositiveQty, "qty<=0")
		return
	}
	if o.Type == bus.Limit && o.Price <= 0 {
		r.reject(o, CodeNonPositivePx, "limit price<=0")
		return
	}

	mktPx, ok := r.lastPrice(o.Symbol)
	if !ok {
		r.reject(o, CodeNoLastPrice, "no last price (need MD_TICK first)")
		return
	}

	var fillPx float64
	if o.Type == bus.Market {
		fillPx = mktPx
	} else {
		marketable := mktPx <= o.Price
		if o.Side == bus.Sell {
			marketable = mktPx >= o.Price
		}
		if !marketable {
			r.reject(o, CodeNotMarketable, "limit not marketable vs last price")
			return
		}
		fillPx = mktPx
	}
	r.trade(o, fillPx)
}

func (r *Router) trade(o bus.OrderMsg, fillPx float64) {
	tr := bus.TradeMsg{
		OrderID: o.OrderID,
		TradeID: atomic.AddUint64(&r.nextTradeID, 1),
		Symbol:  o.Symbol,
		Side:    o.Side,
		Qty:     o.Qty,
		Price:   fillPx,
	}
	r.b.Publish(bus.MakeEvent(bus.Trade, tr))
	if r.trace {
		r.logger.Debug("orderrouter: trade", "trade_id", tr.TradeID, "order_id", tr.OrderID,
			"symbol", tr.Symbol, "qty", tr.Qty, "price", tr.Price)
	}
}

func (r *Router) reject(o bus.OrderMsg, code int, reason string) {
	rj := bus.RejectMsg{OrderID: o.OrderID, Symbol: o.Symbol, Code: code, Reason: reason}
	r.b.Publish(bus.MakeEvent(bus.Reject, rj))
	if r.trace {
		r.logger.Debug("orderrouter: reject", "order_id", rj.OrderID, "symbol", rj.Symbol,
			"code", rj.Code, "reason", rj.Reason)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
