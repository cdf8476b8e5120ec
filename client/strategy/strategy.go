// Package strategy provides a minimal interface for reacting to bus
// events plus a Manager that subscribes once and fans out to many
// strategies, so a strategy never needs to know how to talk to the bus.
package strategy

import "github.com/quantbus/mdbus/bus"

// Strategy reacts to events coming from an EventBus. OnBar has a default
// no-op behavior via BaseStrategy so simple strategies don't need to
// implement every hook.
type Strategy interface {
	OnTick(t bus.Tick, e *bus.Event)
	OnLog(msg string, e *bus.Event)
	OnHeartbeat(e *bus.Event)
	OnBar(b bus.Bar, e *bus.Event)
	Name() string
	Finalize()
}

// BaseStrategy gives every hook a no-op default; embed it and override
// only the hooks a concrete strategy cares about.
type BaseStrategy struct {
	StrategyName string
}

func (BaseStrategy) OnTick(bus.Tick, *bus.Event) {}
func (BaseStrategy) OnLog(string, *bus.Event)    {}
func (BaseStrategy) OnHeartbeat(*bus.Event)      {}
func (BaseStrategy) OnBar(bus.Bar, *bus.Event)   {}
func (b BaseStrategy) Name() string {
	if b.StrategyName == "" {
		return "Strategy"
	}
	return b.StrategyName
}
func (BaseStrategy) Finalize() {}

// Multi fans every hook out to a list of child strategies in order. It
// implements Strategy itself, so a Multi can be nested inside another
// Multi.
type Multi struct {
	children []Strategy
}

func NewMulti(children ...Strategy) *Multi {
	return &Multi{children: append([]Strategy(nil), children...)}
}

// Add appends a child strategy. Nil strategies are ignored.
func (m *Multi) Add(s Strategy) {
	if s != nil {
		m.children = append(m.children, s)
	}
}

func (m *Multi) OnTick(t bus.Tick, e *bus.Event) {
	for _, s := range m.children {
		s.OnTick(t, e)
	}
}

func (m *Multi) OnLog(msg string, e *bus.Event) {
	for _, s := range m.children {
		s.OnLog(msg, e)
	}
}

func (m *Multi) OnHeartbeat(e *bus.Event) {
	for _, s := range m.children {
		s.OnHeartbeat(e)
	}
}

func (m *Multi) OnBar(b bus.Bar, e *bus.Event) {
	for _, s := range m.children {
		s.OnBar(b, e)
	}
}

func (m *Multi) Name() string { return "MultiStrategy" }

func (m *Multi) Finalize() {
	for _, s := range m.children {
		s.Finalize()
	}
}
