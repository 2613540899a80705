package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire protocol shared by the server transports and the client manager.
// Every frame is a JSON envelope {"event": <name>, "data": <payload>}.

type EventName string

const (
	EventHandshake EventName = "handshake" // client -> server, first frame on stream transports
	EventClientID  EventName = "clientId"  // server -> client, assigned identifier
	EventMessage   EventName = "message"   // both directions, text payload
	EventError     EventName = "error"     // transport -> endpoint, advisory only
)

// EchoPrefix is prepended to every message the server sends back.
const EchoPrefix = "Echo: "

var (
	// ErrMalformedEvent is returned when a frame is not a valid envelope.
	// It never terminates a connection on its own.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEvent is returned for a well-formed envelope with an unexpected name.
	ErrUnknownEvent = errors.New("unknown event")
)

// Event is a single frame on the wire.
type Event struct {
	Name EventName       `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Params are the handshake parameters supplied by a client. They are passed
// through without validation.
type Params map[string]string

// NewTextEvent builds an event whose payload is a JSON string.
func NewTextEvent(name EventName, text string) Event {
	data, _ := json.Marshal(text) // marshalling a string cannot fail
	return Event{Name: name, Data: data}
}

// NewHandshakeEvent builds the handshake frame for stream transports.
func NewHandshakeEvent(params Params) (Event, error) {
	if params == nil {
		params = Params{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return Event{}, fmt.Errorf("marshal handshake params: %w", err)
	}
	return Event{Name: EventHandshake, Data: data}, nil
}

// Echo returns the server reply for an inbound message payload.
func Echo(payload string) Event {
	return NewTextEvent(EventMessage, EchoPrefix+payload)
}

// Text decodes the payload as a string.
func (e Event) Text() (string, error) {
	if len(e.Data) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return "", fmt.Errorf("%w: %s payload is not a string", ErrMalformedEvent, e.Name)
	}
	return s, nil
}

// Params decodes a handshake payload. Anything that is not a string map is
// treated as absent: values that are not strings are dropped, and a payload
// that is not an object yields empty params.
func (e Event) Params() Params {
	params := Params{}
	if len(e.Data) == 0 {
		return params
	}
	var raw map[string]any
	if err := json.Unmarshal(e.Data, &raw); err != nil {
		return params
	}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			params[k] = s
		}
	}
	return params
}

// ToJSON marshals the envelope.
func (e Event) ToJSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", e.Name, err)
	}
	return data, nil
}

// EventFromJSON unmarshals one frame. The error wraps ErrMalformedEvent when
// the frame cannot be decoded.
func EventFromJSON(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if e.Name == "" {
		return Event{}, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
	}
	return e, nil
}

// IsAdvisory reports whether err describes a bad frame rather than a broken
// transport. Advisory errors are logged and the connection stays open.
func IsAdvisory(err error) bool {
	return errors.Is(err, ErrMalformedEvent) || errors.Is(err, ErrUnknownEvent)
}
