package event

import (
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
)

// SubscriptionID identifies a registered handler. IDs are never reused
// within a process.
type SubscriptionID uint64

// String returns the id as "sub-N".
func (id SubscriptionID) String() string {
	return "sub-" + strconv.FormatUint(uint64(id), 10)
}

// IDGenerator hands out strictly increasing subscription ids starting at 0.
// It is safe for concurrent use.
type IDGenerator struct {
	next atomic.Uint64
}

// Next returns the next id.
func (g *IDGenerator) Next() SubscriptionID {
	return SubscriptionID(g.next.Add(1) - 1)
}

// SubscriptionInfo describes a registered handler. Values returned by the
// registry are snapshots; changing them has no effect on the registry.
type SubscriptionInfo struct {
	// ID is assigned by the registry.
	ID SubscriptionID

	// Name is unique among registered handlers.
	Name string

	// Filter selects the events the handler sees.
	Filter EventFilter

	// Priority orders handlers that are ready at the same time.
	Priority Priority

	// Dependencies names handlers that must run first when they match the
	// same event. Names that are not registered are ignored.
	Dependencies []string

	// Enabled handlers run; disabled ones stay registered but are skipped.
	Enabled bool

	// Runtime says how the handler executes.
	Runtime Runtime

	// Source is the script path for script handlers.
	Source string
}

// NewSubscriptionInfo returns an enabled, default-priority descriptor that
// matches every event.
func NewSubscriptionInfo(name string) SubscriptionInfo {
	return SubscriptionInfo{
		Name:     name,
		Filter:   AnyEvent(),
		Priority: PriorityDefault,
		Enabled:  true,
	}
}

// WithFilter returns a copy of i with the filter replaced.
func (i SubscriptionInfo) WithFilter(f EventFilter) SubscriptionInfo {
	i.Filter = f
	return i
}

// WithPriority returns a copy of i with the priority replaced.
func (i SubscriptionInfo) WithPriority(p Priority) SubscriptionInfo {
	i.Priority = p
	return i
}

// WithEnabled returns a copy of i with the enabled flag replaced.
func (i SubscriptionInfo) WithEnabled(enabled bool) SubscriptionInfo {
	i.Enabled = enabled
	return i
}

// WithDependencies returns a copy of i depending on the named handlers.
func (i SubscriptionInfo) WithDependencies(names ...string) SubscriptionInfo {
	i.Dependencies = normalizeDependencies(names)
	return i
}

// WithRuntime returns a copy of i with the runtime replaced.
func (i SubscriptionInfo) WithRuntime(r Runtime) SubscriptionInfo {
	i.Runtime = r
	return i
}

// WithSource returns a copy of i with the source path replaced.
func (i SubscriptionInfo) WithSource(path string) SubscriptionInfo {
	i.Source = path
	return i
}

// DependsOn reports whether i names the handler as a dependency.
func (i SubscriptionInfo) DependsOn(name string) bool {
	return slices.Contains(i.Dependencies, name)
}

func (i SubscriptionInfo) clone() SubscriptionInfo {
	i.Dependencies = slices.Clone(i.Dependencies)
	return i
}

// normalizeDependencies trims names and drops blanks and duplicates,
// keeping first occurrences in order.
func normalizeDependencies(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || slices.Contains(out, n) {
			continue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SubscribeOption configures a handler registered with Subscribe.
type SubscribeOption func(*SubscriptionInfo)

// DependsOn makes the handler run after the named handlers.
func DependsOn(names ...string) SubscribeOption {
	return func(i *SubscriptionInfo) {
		i.Dependencies = normalizeDependencies(append(slices.Clone(i.Dependencies), names...))
	}
}

// Disabled registers the handler without enabling it.
func Disabled() SubscribeOption {
	return func(i *SubscriptionInfo) {
		i.Enabled = false
	}
}

// WithRuntime records the handler runtime.
func WithRuntime(r Runtime) SubscribeOption {
	return func(i *SubscriptionInfo) {
		i.Runtime = r
	}
}

// FromSource records the script the handler was loaded from.
func FromSource(path string) SubscribeOption {
	return func(i *SubscriptionInfo) {
		i.Source = path
	}
}
