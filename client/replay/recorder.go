package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/quantbus/mdbus/bus"
)

// Recorder subscribes to a bus and appends every matching event to a
// newline-delimited JSON file, in the format EventReplay expects.
type Recorder struct {
	b      *bus.EventBus
	subAll bus.SubID

	mu  sync.Mutex
	w   *bufio.Writer
	f   *os.File
	enc *json.Encoder
}

// NewRecorder creates path (truncating any existing file) and subscribes
// to every topic on b.
func NewRecorder(b *bus.EventBus, path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("replay: create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	r := &Recorder{b: b, w: w, f: f, enc: json.NewEncoder(w)}
	r.subAll, _ = b.SubscribeAll(r.onEvent)
	return r, nil
}

func (r *Recorder) onEvent(e *bus.Event) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return
	}
	re := recordedEvent{
		Seq:      e.Header.Seq,
		Topic:    e.Header.Topic,
		TsNsec:   e.Header.TsNsec,
		TPubNsec: e.Header.TPubNsec,
		Payload:  payload,
		Symbol:   symbolOf(e.Payload),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.enc.Encode(re)
}

// Close stops recording, flushes buffered output and closes the file.
func (r *Recorder) Close() error {
	r.b.Unsubscribe(r.subAll)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}

// symbolOf extracts a symbol field from payload types that carry one, so
// Filter.FilterBySymbol can work without decoding the full payload.
func symbolOf(p bus.Payload) string {
	switch v := p.(type) {
	case bus.Tick:
		return v.Symbol
	case bus.Bar:
		return v.Symbol
	case bus.OrderMsg:
		return v.Symbol
	case bus.TradeMsg:
		return v.Symbol
	case bus.RejectMsg:
		return v.Symbol
	case bus.BookUpdateMsg:
		return v.Symbol
	case bus.RiskAlertMsg:
		return v.Symbol
	default:
		return ""
	}
}
