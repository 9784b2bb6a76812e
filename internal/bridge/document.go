package bridge

import (
	"encoding/json"

	"github.com/dshills/quill/internal/event"
)

// Document is the projection of one dispatch sent to plugins.
type Document struct {
	Type        string            `json:"type"`
	Identifier  string            `json:"identifier"`
	Payload     json.RawMessage   `json:"payload"`
	Metadata    map[string]string `json:"metadata"`
	Cancelled   bool              `json:"cancelled"`
	CancelledBy string            `json:"cancelled_by,omitempty"`
	Handlers    []string          `json:"handlers"`
	Failures    []Failure         `json:"failures"`
	DurationUS  int64             `json:"duration_us"`
}

// Failure is a handler failure as seen by plugins.
type Failure struct {
	Handler string `json:"handler"`
	Message string `json:"message"`
}

// Project builds the document for o.
func Project(o event.Outcome) Document {
	doc := Document{
		Type:        o.Event.Type(),
		Identifier:  o.Event.Identifier(),
		Payload:     o.Event.Payload(),
		Metadata:    o.Event.Metadata(),
		Cancelled:   o.Cancelled,
		CancelledBy: o.CancelledBy,
		Handlers:    make([]string, 0, len(o.Executed)),
		Failures:    make([]Failure, 0, len(o.Failures)),
		DurationUS:  o.Duration.Microseconds(),
	}
	doc.Handlers = append(doc.Handlers, o.Executed...)
	for _, f := range o.Failures {
		doc.Failures = append(doc.Failures, Failure{Handler: f.Handler, Message: f.Message})
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]string{}
	}
	return doc
}
