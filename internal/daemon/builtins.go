package daemon

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dshills/quill/internal/event"
)

// Built-in handler names. Hook scripts may depend on them.
const (
	AuditHandler     = "builtin.audit"
	NoteStampHandler = "builtin.note-stamp"
)

// IndexedBy is the value builtin.note-stamp writes to metadata.indexed_by.
const IndexedBy = "quill"

// BuiltinNames lists the handlers registered by every daemon.
func BuiltinNames() []string {
	return []string{AuditHandler, NoteStampHandler}
}

func registerBuiltins(reg *event.Registry, logger zerolog.Logger) error {
	audit := logger.With().Str("component", "audit").Logger()
	if _, err := reg.Subscribe(AuditHandler, event.AnyEvent(), event.PriorityLate, auditHandler(audit)); err != nil {
		return err
	}
	_, err := reg.Subscribe(NoteStampHandler, event.ForType("note:*"), event.PriorityDefault, event.HandlerFunc(stampNote))
	return err
}

// auditHandler logs every event that reaches it and passes it on. Note
// bodies are left out of the log.
func auditHandler(logger zerolog.Logger) event.Handler {
	return event.HandlerFunc(func(ctx context.Context, e event.Event) (event.Result, error) {
		logged := e
		if trimmed, err := e.WithoutField(auditOmit); err == nil {
			logged = trimmed
		}
		logger.Info().
			Str("event", e.Type()).
			Str("identifier", e.Identifier()).
			Str("id", e.ID()).
			RawJSON("payload", logged.Payload()).
			Msg("event")
		return event.Continue(e), nil
	})
}

// auditOmit is the payload field the audit log drops.
const auditOmit = "content"

func stampNote(ctx context.Context, e event.Event) (event.Result, error) {
	return event.Continue(e.WithMeta("indexed_by", IndexedBy)), nil
}
