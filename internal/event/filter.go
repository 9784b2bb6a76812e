package event

import (
	"fmt"

	"github.com/dshills/quill/internal/event/glob"
)

// EventFilter selects events by type and identifier patterns. Either pattern
// may be absent; an absent pattern matches everything. The zero value matches
// every event.
type EventFilter struct {
	typePattern  string
	hasType      bool
	identPattern string
	hasIdent     bool
}

// AnyEvent returns a filter that matches every event.
func AnyEvent() EventFilter {
	return EventFilter{}
}

// ForType returns a filter on the event type only.
func ForType(pattern string) EventFilter {
	return EventFilter{}.WithType(pattern)
}

// NewFilter returns a filter with both patterns present.
func NewFilter(typePattern, identifierPattern string) EventFilter {
	return EventFilter{}.WithType(typePattern).WithIdentifier(identifierPattern)
}

// WithType returns a copy of f with the type pattern set.
func (f EventFilter) WithType(pattern string) EventFilter {
	f.typePattern = pattern
	f.hasType = true
	return f
}

// WithIdentifier returns a copy of f with the identifier pattern set.
func (f EventFilter) WithIdentifier(pattern string) EventFilter {
	f.identPattern = pattern
	f.hasIdent = true
	return f
}

// TypePattern returns the type pattern and whether it is present.
func (f EventFilter) TypePattern() (string, bool) {
	return f.typePattern, f.hasType
}

// IdentifierPattern returns the identifier pattern and whether it is present.
func (f EventFilter) IdentifierPattern() (string, bool) {
	return f.identPattern, f.hasIdent
}

// Matches reports whether an event with the given type and identifier passes
// the filter.
func (f EventFilter) Matches(eventType, identifier string) bool {
	if f.hasType && !glob.Match(f.typePattern, eventType) {
		return false
	}
	if f.hasIdent && !glob.Match(f.identPattern, identifier) {
		return false
	}
	return true
}

// MatchesEvent is Matches for an Event.
func (f EventFilter) MatchesEvent(e Event) bool {
	return f.Matches(e.Type(), e.Identifier())
}

// Overlaps reports whether some event could pass both f and other.
func (f EventFilter) Overlaps(other EventFilter) bool {
	if f.hasType && other.hasType && !glob.Overlaps(f.typePattern, other.typePattern) {
		return false
	}
	if f.hasIdent && other.hasIdent && !glob.Overlaps(f.identPattern, other.identPattern) {
		return false
	}
	return true
}

// Validate checks both patterns.
func (f EventFilter) Validate() error {
	if f.hasType {
		if err := glob.Validate(f.typePattern); err != nil {
			return fmt.Errorf("type pattern: %w", err)
		}
	}
	if f.hasIdent {
		if err := glob.Validate(f.identPattern); err != nil {
			return fmt.Errorf("identifier pattern: %w", err)
		}
	}
	return nil
}

// String renders the filter as "type|identifier", using "*" for absent
// patterns.
func (f EventFilter) String() string {
	t, i := glob.All, glob.All
	if f.hasType {
		t = f.typePattern
	}
	if f.hasIdent {
		i = f.identPattern
	}
	return t + "|" + i
}
