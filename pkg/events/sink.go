package events

// EventSink is a destination for streaming events. Implementations can
// publish to the watermill bus, apply deltas to a conversation tree, or
// write to logging systems.
type EventSink interface {
	PublishEvent(event Event) error
}

// SinkFunc adapts a plain function to the EventSink interface.
type SinkFunc func(event Event) error

func (f SinkFunc) PublishEvent(event Event) error {
	return f(event)
}

var _ EventSink = SinkFunc(nil)
