package bus

// SubID is a subscription identifier, monotonically increasing from 1 and
// unique for the bus's lifetime. 0 is reserved as "no subscription".
type SubID uint64

// Header carries routing and timing metadata for an Event.
type Header struct {
	Seq      uint64
	Topic    Topic
	TsNsec   uint64 // wall-clock publish time in Unix nanoseconds (not monotonic), stamped by the bus
	TPubNsec uint64 // optional producer-supplied origin time, untouched by the bus
}

// Event is a header plus a payload. Events are value objects: they are
// copied into each matching subscriber's queue, so there is no
// shared-ownership aliasing between subscribers.
type Event struct {
	Header  Header
	Payload Payload
}

// MakeEvent builds an Event with the topic field set and the payload
// attached, leaving Header.Seq and Header.TsNsec for the bus to stamp on
// publish.
func MakeEvent(topic Topic, payload Payload) Event {
	return Event{Header: Header{Topic: topic}, Payload: payload}
}
