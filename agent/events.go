package agent

import (
	"encoding/json"
	"fmt"
)

// Event is one unit of a run's output stream. A typed event (Type != "")
// renders as an SSE frame with an explicit event name; a raw event renders
// as a bare data frame, used to pass upstream chunks through unchanged.
type Event struct {
	Type string
	Data any
	Raw  []byte
}

// Typed builds a named event carrying a JSON payload.
func Typed(eventType string, data any) Event {
	return Event{Type: eventType, Data: data}
}

// RawFrame wraps an upstream payload for verbatim re-emission.
func RawFrame(payload []byte) Event {
	return Event{Raw: payload}
}

// RawJSON marshals v into a bare data frame.
func RawJSON(v any) Event {
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte("{}")
	}
	return Event{Raw: b}
}

// Done is the stream terminator frame.
func Done() Event {
	return Event{Raw: []byte("[DONE]")}
}

// IsDone reports whether this is the terminator frame.
func (e Event) IsDone() bool {
	return e.Type == "" && string(e.Raw) == "[DONE]"
}

// Encode renders the event in SSE wire format.
func (e Event) Encode() []byte {
	if e.Type == "" {
		return fmt.Appendf(nil, "data: %s\n\n", e.Raw)
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		data = []byte("{}")
	}
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", e.Type, data)
}
