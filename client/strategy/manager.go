package strategy

import (
	"sync"

	"github.com/quantbus/mdbus/bus"
)

// Manager is the single subscriber that fans bus events out to many
// registered strategies. Subscribing once and dispatching in-process
// avoids a goroutine and a queue per strategy.
type Manager struct {
	b      *bus.EventBus
	logger bus.Logger

	mu         sync.Mutex
	started    bool
	subAll     bus.SubID
	strategies []Strategy
}

// NewManager creates a Manager bound to b. Call Start to begin dispatch.
func NewManager(b *bus.EventBus, logger bus.Logger) *Manager {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Manager{b: b, logger: logger}
}

// Add registers a strategy. Safe to call before or after Start.
func (m *Manager) Add(s Strategy) {
	if s == nil {
		return
	}
	m.mu.Lock()
	m.strategies = append(m.strategies, s)
	m.mu.Unlock()
	m.logger.Info("strategy manager: added strategy", "name", s.Name())
}

// Start subscribes to every topic on the bus. Idempotent.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.subAll, _ = m.b.SubscribeAll(m.onEvent)
	m.logger.Info("strategy manager: started", "strategies", len(m.strategies))
}

// Stop unsubscribes from the bus. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	m.b.Unsubscribe(m.subAll)
	m.logger.Info("strategy manager: stopped")
}

// FinalizeAll calls Finalize on every registered strategy, in
// registration order.
func (m *Manager) FinalizeAll() {
	m.mu.Lock()
	strategies := append([]Strategy(nil), m.strategies...)
	m.mu.Unlock()
	for _, s := range strategies {
		m.logger.Info("strategy manager: finalizing strategy", "name", s.Name())
		s.Finalize()
	}
}

func (m *Manager) onEvent(e *bus.Event) {
	m.mu.Lock()
	strategies := m.strategies
	m.mu.Unlock()

	switch e.Header.Topic {
	case bus.MDTick:
		t, ok := e.Payload.(bus.Tick)
		if !ok {
			m.logger.Warn("strategy manager: MD_TICK without Tick payload", "seq", e.Header.Seq)
			return
		}
		for _, s := range strategies {
			s.OnTick(t, e)
		}
	case bus.LOG:
		msg, ok := e.Payload.(bus.LogMessage)
		if !ok {
			return
		}
		for _, s := range strategies {
			s.OnLog(string(msg), e)
		}
	case bus.Heartbeat:
		for _, s := range strategies {
			s.OnHeartbeat(e)
		}
	case bus.Bar1s, bus.Bar1m:
		b, ok := e.Payload.(bus.Bar)
		if !ok {
			m.logger.Warn("strategy manager: bar event without Bar payload", "seq", e.Header.Seq)
			return
		}
		for _, s := range strategies {
			s.OnBar(b, e)
		}
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
