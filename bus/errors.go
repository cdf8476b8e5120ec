package bus

import "errors"

// Static sentinel errors. Apart from NewEventBus, which panics on a
// negative capacity, the bus's public operations have no
// exception-equivalent path out: each either succeeds or reports failure
// through a boolean or one of the errors below.
var (
	// ErrInvalidTopic is returned by Subscribe when the requested topic
	// is outside the closed Topic enumeration.
	ErrInvalidTopic = errors.New("mdbus: invalid topic")

	// ErrHandlerNil is returned by Subscribe/SubscribeAll when cb is nil.
	ErrHandlerNil = errors.New("mdbus: callback cannot be nil")
)
