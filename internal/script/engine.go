package script

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/spf13/cast"

	"github.com/dshills/quill/internal/event"
)

// APIVersion is the version of the handler contract exposed to scripts. Hook
// manifests constrain it with their api field.
const APIVersion = "1.0.0"

// Engine compiles source files for one embedded language.
type Engine interface {
	// Runtime identifies the language.
	Runtime() event.Runtime

	// Extensions lists the file extensions the engine compiles, with the
	// leading dot.
	Extensions() []string

	// Compile parses and checks src. Errors should be *CompileError.
	Compile(path string, src []byte) (Unit, error)
}

// Unit is one compiled script file. Implementations must be safe for
// concurrent Calls.
type Unit interface {
	// Handlers returns the handler declarations found in the file.
	Handlers() []Decl

	// Call invokes entry point fn with the event in its plain form (see
	// event.Event.Map) and returns the handler's plain return value.
	Call(ctx context.Context, fn string, evt map[string]any) (any, error)
}

// Decl is a handler declared by a script.
type Decl struct {
	// Function is the entry point inside the unit.
	Function string

	// Name is the handler name. Empty means "<file stem>.<function>".
	Name string

	// Filter selects the events the handler sees.
	Filter event.EventFilter

	Priority     event.Priority
	Dependencies []string
	Enabled      bool

	// Line is the 1-based line of the declaration, when known.
	Line int
}

// NewDecl returns an enabled, default-priority declaration matching every
// event.
func NewDecl(function string) Decl {
	return Decl{
		Function: function,
		Filter:   event.AnyEvent(),
		Priority: event.PriorityDefault,
		Enabled:  true,
	}
}

// Set applies one declaration attribute. Values are converted loosely, so
// "10" and 10 are both valid priorities. Recognised keys are name, event,
// identifier, priority, depends and enabled.
func (d *Decl) Set(key string, value any) error {
	switch key {
	case "name":
		s, err := cast.ToStringE(value)
		if err != nil {
			return fmt.Errorf("name: %w", err)
		}
		d.Name = s
	case "event", "type":
		s, err := cast.ToStringE(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		d.Filter = d.Filter.WithType(s)
	case "identifier":
		s, err := cast.ToStringE(value)
		if err != nil {
			return fmt.Errorf("identifier: %w", err)
		}
		d.Filter = d.Filter.WithIdentifier(s)
	case "priority":
		p, err := cast.ToIntE(value)
		if err != nil {
			return fmt.Errorf("priority: %w", err)
		}
		d.Priority = event.Priority(p)
	case "depends":
		deps, err := toStrings(value)
		if err != nil {
			return fmt.Errorf("depends: %w", err)
		}
		d.Dependencies = deps
	case "enabled":
		b, err := cast.ToBoolE(value)
		if err != nil {
			return fmt.Errorf("enabled: %w", err)
		}
		d.Enabled = b
	default:
		return fmt.Errorf("unknown attribute %q", key)
	}
	return nil
}

// toStrings accepts a comma separated string or a list.
func toStrings(value any) ([]string, error) {
	if s, ok := value.(string); ok {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	}
	return cast.ToStringSliceE(value)
}

// HandlerName returns d.Name, or "<stem>.<function>" for the script at path.
func (d Decl) HandlerName(path string) string {
	if d.Name != "" {
		return d.Name
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return stem + "." + d.Function
}

// Info builds the registry descriptor for d loaded from path.
func (d Decl) Info(path string, runtime event.Runtime) event.SubscriptionInfo {
	return event.NewSubscriptionInfo(d.HandlerName(path)).
		WithFilter(d.Filter).
		WithPriority(d.Priority).
		WithDependencies(d.Dependencies...).
		WithEnabled(d.Enabled).
		WithRuntime(runtime).
		WithSource(path)
}

// ParseAttributes parses space separated key=value pairs. Values may be
// double-quoted Go string literals.
//
//	name=deny event="tool:*" priority=10 depends="audit, index"
func ParseAttributes(s string) (map[string]string, error) {
	attrs := make(map[string]string)
	rest := strings.TrimSpace(s)
	for rest != "" {
		eq := strings.IndexByte(rest, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("expected key=value at %q", rest)
		}
		key := rest[:eq]
		if strings.IndexFunc(key, unicode.IsSpace) >= 0 {
			return nil, fmt.Errorf("expected key=value at %q", rest)
		}
		rest = rest[eq+1:]

		var value string
		if strings.HasPrefix(rest, `"`) {
			end := closingQuote(rest)
			if end < 0 {
				return nil, fmt.Errorf("unterminated quote in %s", key)
			}
			v, err := strconv.Unquote(rest[:end+1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			value = v
			rest = rest[end+1:]
		} else {
			end := strings.IndexFunc(rest, unicode.IsSpace)
			if end < 0 {
				end = len(rest)
			}
			value = rest[:end]
			rest = rest[end:]
		}

		if _, dup := attrs[key]; dup {
			return nil, fmt.Errorf("duplicate attribute %q", key)
		}
		attrs[key] = value
		rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
	}
	return attrs, nil
}

// closingQuote returns the index of the quote closing the literal that
// starts s, honouring backslash escapes.
func closingQuote(s string) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}
