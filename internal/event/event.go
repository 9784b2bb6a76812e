package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Standard event types.
const (
	TypeToolBefore   = "tool:before"
	TypeToolAfter    = "tool:after"
	TypeNoteCreated  = "note:created"
	TypeNoteModified = "note:modified"
	TypeNoteDeleted  = "note:deleted"
	TypeNoteParsed   = "note:parsed"
	TypeSessionStart = "session:start"
	TypeSessionEnd   = "session:end"
)

// Well-known metadata keys.
const (
	MetaID        = "id"
	MetaTimestamp = "timestamp"
	MetaSource    = "source"
)

const emptyObjectString = "{}"

// Event is an immutable notification flowing through the reactor.
//
// The zero value is not a valid event; use New or FromJSON. All With*
// methods return a modified copy and leave the receiver untouched, so an
// Event can be shared freely between goroutines.
type Event struct {
	typ        string
	identifier string
	payload    json.RawMessage
	metadata   map[string]string
}

// New creates an event with the given type and identifier. The payload is
// marshalled to JSON; a nil payload becomes an empty object. The event is
// stamped with a fresh id and timestamp.
func New(eventType, identifier string, payload any) (Event, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Event{}, err
	}
	return newEvent(eventType, identifier, raw), nil
}

// MustNew is like New but panics if the payload cannot be marshalled.
func MustNew(eventType, identifier string, payload any) Event {
	e, err := New(eventType, identifier, payload)
	if err != nil {
		panic(err)
	}
	return e
}

// FromJSON creates an event whose payload is the given JSON document.
func FromJSON(eventType, identifier string, raw []byte) (Event, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte(emptyObjectString)
	}
	if !json.Valid(raw) {
		return Event{}, fmt.Errorf("event payload: invalid JSON")
	}
	return newEvent(eventType, identifier, bytes.Clone(raw)), nil
}

func newEvent(eventType, identifier string, raw json.RawMessage) Event {
	return Event{
		typ:        eventType,
		identifier: identifier,
		payload:    raw,
		metadata: map[string]string{
			MetaID:        uuid.NewString(),
			MetaTimestamp: time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(emptyObjectString), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("event payload: invalid JSON")
		}
		return bytes.Clone(p), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("event payload: %w", err)
	}
	return raw, nil
}

// Type returns the event type, e.g. "note:created".
func (e Event) Type() string { return e.typ }

// Identifier returns the subject of the event, e.g. a tool name or note path.
func (e Event) Identifier() string { return e.identifier }

// IsZero reports whether e is the zero Event.
func (e Event) IsZero() bool {
	return e.typ == "" && e.identifier == "" && e.payload == nil && e.metadata == nil
}

// Payload returns a copy of the JSON payload.
func (e Event) Payload() json.RawMessage {
	if e.payload == nil {
		return json.RawMessage(emptyObjectString)
	}
	return bytes.Clone(e.payload)
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload(), v)
}

// Field returns the payload value at a gjson path such as "args.query".
func (e Event) Field(path string) gjson.Result {
	return gjson.GetBytes(e.payload, path)
}

// Meta returns the metadata value for key.
func (e Event) Meta(key string) (string, bool) {
	v, ok := e.metadata[key]
	return v, ok
}

// Metadata returns a copy of the metadata map.
func (e Event) Metadata() map[string]string {
	return maps.Clone(e.metadata)
}

// ID returns the event id stamped at creation.
func (e Event) ID() string { return e.metadata[MetaID] }

// WithType returns a copy of e with a different type.
func (e Event) WithType(eventType string) Event {
	e.typ = eventType
	return e
}

// WithIdentifier returns a copy of e with a different identifier.
func (e Event) WithIdentifier(identifier string) Event {
	e.identifier = identifier
	return e
}

// WithPayload returns a copy of e with the payload replaced.
func (e Event) WithPayload(payload any) (Event, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return e, err
	}
	e.payload = raw
	return e, nil
}

// WithField returns a copy of e with the value at an sjson path replaced.
func (e Event) WithField(path string, value any) (Event, error) {
	raw, err := sjson.SetBytes(e.Payload(), path, value)
	if err != nil {
		return e, fmt.Errorf("set %q: %w", path, err)
	}
	e.payload = raw
	return e, nil
}

// WithoutField returns a copy of e with the value at path removed.
func (e Event) WithoutField(path string) (Event, error) {
	raw, err := sjson.DeleteBytes(e.Payload(), path)
	if err != nil {
		return e, fmt.Errorf("delete %q: %w", path, err)
	}
	e.payload = raw
	return e, nil
}

// WithMeta returns a copy of e with one metadata entry set.
func (e Event) WithMeta(key, value string) Event {
	md := make(map[string]string, len(e.metadata)+1)
	maps.Copy(md, e.metadata)
	md[key] = value
	e.metadata = md
	return e
}

// Map returns the event as plain Go values: the shape handed to scripts.
func (e Event) Map() map[string]any {
	var payload any
	if err := json.Unmarshal(e.Payload(), &payload); err != nil {
		payload = map[string]any{}
	}
	md := make(map[string]any, len(e.metadata))
	for k, v := range e.metadata {
		md[k] = v
	}
	return map[string]any{
		"type":       e.typ,
		"identifier": e.identifier,
		"payload":    payload,
		"metadata":   md,
	}
}

type wireEvent struct {
	Type       string            `json:"type"`
	Identifier string            `json:"identifier"`
	Payload    json.RawMessage   `json:"payload"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		Type:       e.typ,
		Identifier: e.identifier,
		Payload:    e.Payload(),
		Metadata:   e.metadata,
	})
}

// UnmarshalJSON implements json.Unmarshaler. Missing id and timestamp
// metadata are filled in.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Type == "" {
		return fmt.Errorf("event: missing type")
	}
	ev, err := FromJSON(w.Type, w.Identifier, w.Payload)
	if err != nil {
		return err
	}
	maps.Copy(ev.metadata, w.Metadata)
	*e = ev
	return nil
}

// String returns a short description for logs.
func (e Event) String() string {
	if e.identifier == "" {
		return e.typ
	}
	return e.typ + "(" + e.identifier + ")"
}
