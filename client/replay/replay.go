// Package replay reads a previously recorded stream of events back onto a
// live bus, either as fast as the file can be read or paced to the
// original inter-event timing. Recordings are newline-delimited JSON: one
// recordedEvent object per line, so the format is trivial to inspect or
// hand-edit without a decoder.
package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/quantbus/mdbus/bus"
)

// recordedEvent is the on-disk representation of a single Event. Payload
// is stored as raw JSON and re-decoded against Topic once the filter has
// already decided the line is wanted, so filtering never pays a decode
// cost for events it is going to discard.
type recordedEvent struct {
	Seq      uint64          `json:"seq"`
	Topic    bus.Topic       `json:"topic"`
	TsNsec   uint64          `json:"ts_ns"`
	TPubNsec uint64          `json:"t_pub_ns"`
	Payload  json.RawMessage `json:"payload"`
	Symbol   string          `json:"symbol,omitempty"`
}

// Filter narrows a replay to a topic and/or a symbol. The zero Filter
// matches everything.
type Filter struct {
	FilterByTopic  bool
	Topic          bus.Topic
	FilterBySymbol bool
	Symbol         string
}

func (f Filter) matches(re recordedEvent) bool {
	if f.FilterByTopic && re.Topic != f.Topic {
		return false
	}
	if f.FilterBySymbol && re.Symbol != f.Symbol {
		return false
	}
	return true
}

// EventReplay reads recorded events from a file.
type EventReplay struct {
	path   string
	filter Filter
}

// Open prepares a replay of the recording at path. The file is opened
// lazily by ReplayFast/ReplayRealtime so constructing an EventReplay
// cannot itself fail.
func Open(path string) *EventReplay {
	return &EventReplay{path: path}
}

// SetFilter installs a filter applied to every record before it is
// decoded and published.
func (r *EventReplay) SetFilter(f Filter) { r.filter = f }

// ReplayFast publishes every matching record onto b as quickly as the
// file can be read and decoded, ignoring the recorded timestamps.
func (r *EventReplay) ReplayFast(b *bus.EventBus) (int, error) {
	return r.replay(b, nil)
}

// ReplayRealtime publishes matching records onto b, sleeping between
// records to reproduce the gaps between their recorded TsNsec values.
// The first matching record is always published immediately.
func (r *EventReplay) ReplayRealtime(b *bus.EventBus) (int, error) {
	var prevTs uint64
	first := true
	return r.replay(b, func(re recordedEvent) {
		if !first {
			if re.TsNsec > prevTs {
				time.Sleep(time.Duration(re.TsNsec - prevTs))
			}
		}
		first = false
		prevTs = re.TsNsec
	})
}

func (r *EventReplay) replay(b *bus.EventBus, pace func(recordedEvent)) (int, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return 0, fmt.Errorf("replay: open %s: %w", r.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var re recordedEvent
		if err := json.Unmarshal(line, &re); err != nil {
			return count, fmt.Errorf("replay: decode record %d: %w", count+1, err)
		}
		if !r.filter.matches(re) {
			continue
		}
		if pace != nil {
			pace(re)
		}
		e, err := decodeEvent(re)
		if err != nil {
			return count, err
		}
		b.Publish(e)
		count++
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return count, fmt.Errorf("replay: read %s: %w", r.path, err)
	}
	return count, nil
}

func decodeEvent(re recordedEvent) (bus.Event, error) {
	payload, err := decodePayload(re.Topic, re.Payload)
	if err != nil {
		return bus.Event{}, fmt.Errorf("replay: decode payload for topic %s: %w", re.Topic, err)
	}
	e := bus.MakeEvent(re.Topic, payload)
	e.Header.TPubNsec = re.TPubNsec
	return e, nil
}

func decodePayload(topic bus.Topic, raw json.RawMessage) (bus.Payload, error) {
	var p bus.Payload
	switch topic {
	case bus.LOG:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return bus.LogMessage(s), nil
	case bus.MDTick:
		var v bus.Tick
		p = &v
	case bus.Heartbeat:
		var v bus.HeartbeatMsg
		p = &v
	case bus.Bar1s, bus.Bar1m:
		var v bus.Bar
		p = &v
	case bus.Order:
		var v bus.OrderMsg
		p = &v
	case bus.Trade:
		var v bus.TradeMsg
		p = &v
	case bus.Reject:
		var v bus.RejectMsg
		p = &v
	case bus.BookUpdate:
		var v bus.BookUpdateMsg
		p = &v
	case bus.RiskAlert:
		var v bus.RiskAlertMsg
		p = &v
	default:
		return nil, fmt.Errorf("unknown topic %d", topic)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, err
	}
	return dereference(p), nil
}

// dereference turns the pointer we decoded into back into the value type
// every concrete Payload implementation actually uses.
func dereference(p bus.Payload) bus.Payload {
	switch v := p.(type) {
	case *bus.Tick:
		return *v
	case *bus.HeartbeatMsg:
		return *v
	case *bus.Bar:
		return *v
	case *bus.OrderMsg:
		return *v
	case *bus.TradeMsg:
		return *v
	case *bus.RejectMsg:
		return *v
	case *bus.BookUpdateMsg:
		return *v
	case *bus.RiskAlertMsg:
		return *v
	default:
		return p
	}
}
