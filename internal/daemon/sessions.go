package daemon

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dshills/quill/internal/event"
)

type sessionPayload struct {
	Session string `json:"session"`
}

// StartSession opens a session and emits session:start. Handlers cannot
// veto a session; a cancelled outcome is only logged.
func (d *Daemon) StartSession(ctx context.Context) (string, error) {
	id := uuid.NewString()

	evt, err := event.New(event.TypeSessionStart, id, sessionPayload{Session: id})
	if err != nil {
		return "", err
	}
	out, err := d.reactor.Dispatch(ctx, evt)
	if err != nil {
		return "", fmt.Errorf("%s: %w", event.TypeSessionStart, err)
	}
	if out.Cancelled {
		d.logger.Warn().Str("session", id).Str("by", out.CancelledBy).Msg("session:start cancelled; ignoring")
	}

	d.sessionsMu.Lock()
	d.sessions[id] = struct{}{}
	d.sessionsMu.Unlock()
	return id, nil
}

// EndSession closes session id and emits session:end.
func (d *Daemon) EndSession(ctx context.Context, id string) error {
	d.sessionsMu.Lock()
	_, ok := d.sessions[id]
	delete(d.sessions, id)
	d.sessionsMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}

	evt, err := event.New(event.TypeSessionEnd, id, sessionPayload{Session: id})
	if err != nil {
		return err
	}
	if _, err := d.reactor.Dispatch(ctx, evt); err != nil {
		return fmt.Errorf("%s: %w", event.TypeSessionEnd, err)
	}
	return nil
}

// Sessions returns the number of open sessions.
func (d *Daemon) Sessions() int {
	d.sessionsMu.Lock()
	defer d.sessionsMu.Unlock()
	return len(d.sessions)
}
