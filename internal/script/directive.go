package script

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/dshills/quill/internal/event"
)

// Decode interprets a handler's return value against the event it was given.
//
// Malformed directives never fail the dispatch: they are logged and the
// original event passes through.
func Decode(orig event.Event, ret any, logger zerolog.Logger) event.Result {
	if ret == nil {
		return event.Continue(orig)
	}

	m, ok := ret.(map[string]any)
	if !ok {
		logger.Warn().
			Str("event", orig.String()).
			Str("returned", fmt.Sprintf("%T", ret)).
			Msg("handler returned a non-table value; ignoring")
		return event.Continue(orig)
	}
	if len(m) == 0 {
		return event.Continue(orig)
	}

	if v, ok := m["cancel"]; ok && cast.ToBool(v) {
		return event.Cancel()
	}
	if v, ok := m["error"]; ok {
		msg, err := cast.ToStringE(v)
		if err != nil || msg == "" {
			msg = fmt.Sprint(v)
		}
		return event.SoftError(orig, msg)
	}

	evt, err := overlay(orig, m)
	if err != nil {
		logger.Warn().Err(err).
			Str("event", orig.String()).
			Msg("invalid event returned by handler; keeping original")
		return event.Continue(orig)
	}
	return event.Continue(evt)
}

// overlay applies the known fields of m onto orig. At least one of them must
// be present.
func overlay(orig event.Event, m map[string]any) (event.Event, error) {
	evt := orig
	known := false

	if v, ok := m["type"]; ok {
		s, err := cast.ToStringE(v)
		if err != nil || s == "" {
			return orig, fmt.Errorf("type: want non-empty string, got %T", v)
		}
		evt = evt.WithType(s)
		known = true
	}
	if v, ok := m["identifier"]; ok {
		s, err := cast.ToStringE(v)
		if err != nil {
			return orig, fmt.Errorf("identifier: %w", err)
		}
		evt = evt.WithIdentifier(s)
		known = true
	}
	if v, ok := m["payload"]; ok {
		next, err := evt.WithPayload(v)
		if err != nil {
			return orig, fmt.Errorf("payload: %w", err)
		}
		evt = next
		known = true
	}
	if v, ok := m["metadata"]; ok {
		md, err := cast.ToStringMapStringE(v)
		if err != nil {
			return orig, fmt.Errorf("metadata: %w", err)
		}
		for k, val := range md {
			evt = evt.WithMeta(k, val)
		}
		known = true
	}

	if !known {
		return orig, fmt.Errorf("no event fields in returned table")
	}
	return evt, nil
}
