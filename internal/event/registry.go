package event

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// entry pairs a descriptor with its handler. Entries are never modified once
// published in a snapshot; updates replace them.
type entry struct {
	info    SubscriptionInfo
	handler Handler
}

// Snapshot is an immutable view of the registry. A dispatch works from the
// snapshot it started with, so concurrent registration changes never affect
// it.
type Snapshot struct {
	entries []*entry // registration order
	byID    map[SubscriptionID]*entry
	byName  map[string]*entry
}

var emptySnapshot = &Snapshot{
	byID:   map[SubscriptionID]*entry{},
	byName: map[string]*entry{},
}

func newSnapshot(entries []*entry) *Snapshot {
	s := &Snapshot{
		entries: entries,
		byID:    make(map[SubscriptionID]*entry, len(entries)),
		byName:  make(map[string]*entry, len(entries)),
	}
	for _, e := range entries {
		s.byID[e.info.ID] = e
		s.byName[e.info.Name] = e
	}
	return s
}

// Len returns the number of registered handlers.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// List returns descriptors in registration order.
func (s *Snapshot) List() []SubscriptionInfo {
	out := make([]SubscriptionInfo, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.info.clone()
	}
	return out
}

// Get returns the descriptor for id.
func (s *Snapshot) Get(id SubscriptionID) (SubscriptionInfo, bool) {
	e, ok := s.byID[id]
	if !ok {
		return SubscriptionInfo{}, false
	}
	return e.info.clone(), true
}

// GetByName returns the descriptor for name.
func (s *Snapshot) GetByName(name string) (SubscriptionInfo, bool) {
	e, ok := s.byName[name]
	if !ok {
		return SubscriptionInfo{}, false
	}
	return e.info.clone(), true
}

// Registry owns the registered handlers and their descriptors.
//
// Writers are serialized by a mutex and publish a fresh Snapshot through an
// atomic pointer; readers load the pointer and never block. The zero value is
// an empty, usable registry.
type Registry struct {
	mu     sync.Mutex
	ids    IDGenerator
	snap   atomic.Pointer[Snapshot]
	closed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Snapshot returns the current immutable view.
func (r *Registry) Snapshot() *Snapshot {
	if s := r.snap.Load(); s != nil {
		return s
	}
	return emptySnapshot
}

// Subscribe registers handler under name for events passing filter.
func (r *Registry) Subscribe(name string, filter EventFilter, priority Priority, handler Handler, opts ...SubscribeOption) (SubscriptionID, error) {
	info := NewSubscriptionInfo(name).WithFilter(filter).WithPriority(priority)
	for _, opt := range opts {
		opt(&info)
	}
	return r.register("subscribe", info, handler)
}

// Register registers handler with a prebuilt descriptor. The descriptor's ID
// is ignored and a fresh one assigned.
func (r *Registry) Register(info SubscriptionInfo, handler Handler) (SubscriptionID, error) {
	return r.register("register", info, handler)
}

func (r *Registry) register(op string, info SubscriptionInfo, handler Handler) (SubscriptionID, error) {
	info = info.clone()
	info.Dependencies = normalizeDependencies(info.Dependencies)

	if err := validate(info, handler); err != nil {
		return 0, &SubscriptionError{Op: op, Name: info.Name, Err: err}
	}
	if rp, ok := handler.(RuntimeProvider); ok {
		info.Runtime = rp.Runtime()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, &SubscriptionError{Op: op, Name: info.Name, Err: ErrUnavailable}
	}

	cur := r.Snapshot()
	if _, dup := cur.byName[info.Name]; dup {
		return 0, &SubscriptionError{Op: op, Name: info.Name, Err: ErrDuplicateName}
	}

	info.ID = r.ids.Next()
	entries := make([]*entry, len(cur.entries), len(cur.entries)+1)
	copy(entries, cur.entries)
	entries = append(entries, &entry{info: info, handler: handler})
	r.snap.Store(newSnapshot(entries))

	return info.ID, nil
}

func validate(info SubscriptionInfo, handler Handler) error {
	if info.Name == "" {
		return fmt.Errorf("%w: empty handler name", ErrInvalidFilter)
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler", ErrInvalidFilter)
	}
	if info.DependsOn(info.Name) {
		return fmt.Errorf("%w: handler depends on itself", ErrInvalidFilter)
	}
	if err := info.Filter.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	return nil
}

// Unsubscribe removes the handler with the given id.
func (r *Registry) Unsubscribe(id SubscriptionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return &SubscriptionError{Op: "unsubscribe", ID: id, Err: ErrUnavailable}
	}
	cur := r.Snapshot()
	if _, ok := cur.byID[id]; !ok {
		return &SubscriptionError{Op: "unsubscribe", ID: id, Err: ErrNotFound}
	}
	r.remove(cur, id)
	return nil
}

// UnsubscribeByName removes the handler with the given name.
func (r *Registry) UnsubscribeByName(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return &SubscriptionError{Op: "unsubscribe", Name: name, Err: ErrUnavailable}
	}
	cur := r.Snapshot()
	e, ok := cur.byName[name]
	if !ok {
		return &SubscriptionError{Op: "unsubscribe", Name: name, Err: ErrNotFound}
	}
	r.remove(cur, e.info.ID)
	return nil
}

// remove publishes cur without id. Caller holds mu.
func (r *Registry) remove(cur *Snapshot, id SubscriptionID) {
	entries := make([]*entry, 0, len(cur.entries))
	for _, e := range cur.entries {
		if e.info.ID != id {
			entries = append(entries, e)
		}
	}
	r.snap.Store(newSnapshot(entries))
}

// SetPriority changes the priority of a registered handler.
func (r *Registry) SetPriority(id SubscriptionID, p Priority) error {
	return r.update("set priority", id, func(info *SubscriptionInfo) error {
		info.Priority = p
		return nil
	})
}

// SetEnabled enables or disables a registered handler.
func (r *Registry) SetEnabled(id SubscriptionID, enabled bool) error {
	return r.update("set enabled", id, func(info *SubscriptionInfo) error {
		info.Enabled = enabled
		return nil
	})
}

// SetDependencies replaces the dependencies of a registered handler.
func (r *Registry) SetDependencies(id SubscriptionID, names ...string) error {
	deps := normalizeDependencies(names)
	return r.update("set dependencies", id, func(info *SubscriptionInfo) error {
		if slices.Contains(deps, info.Name) {
			return fmt.Errorf("%w: handler depends on itself", ErrInvalidFilter)
		}
		info.Dependencies = deps
		return nil
	})
}

func (r *Registry) update(op string, id SubscriptionID, fn func(*SubscriptionInfo) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return &SubscriptionError{Op: op, ID: id, Err: ErrUnavailable}
	}
	cur := r.Snapshot()
	idx := slices.IndexFunc(cur.entries, func(e *entry) bool { return e.info.ID == id })
	if idx < 0 {
		return &SubscriptionError{Op: op, ID: id, Err: ErrNotFound}
	}

	old := cur.entries[idx]
	info := old.info.clone()
	if err := fn(&info); err != nil {
		return &SubscriptionError{Op: op, Name: info.Name, ID: id, Err: err}
	}

	entries := slices.Clone(cur.entries)
	entries[idx] = &entry{info: info, handler: old.handler}
	r.snap.Store(newSnapshot(entries))
	return nil
}

// Get returns a snapshot of the descriptor for id.
func (r *Registry) Get(id SubscriptionID) (SubscriptionInfo, bool) {
	return r.Snapshot().Get(id)
}

// GetByName returns a snapshot of the descriptor for name.
func (r *Registry) GetByName(name string) (SubscriptionInfo, bool) {
	return r.Snapshot().GetByName(name)
}

// List returns all descriptors in registration order.
func (r *Registry) List() []SubscriptionInfo {
	return r.Snapshot().List()
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	return r.Snapshot().Len()
}

// Count returns how many registered handlers, enabled or not, could receive
// an event that passes filter: those whose own filter overlaps it.
func (r *Registry) Count(filter EventFilter) int {
	n := 0
	for _, e := range r.Snapshot().entries {
		if e.info.Filter.Overlaps(filter) {
			n++
		}
	}
	return n
}

// Clear removes every handler.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Store(emptySnapshot)
}

// Close removes every handler and rejects further mutations with
// ErrUnavailable. Dispatches already holding a snapshot are unaffected.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.snap.Store(emptySnapshot)
}

// IsClosed reports whether Close has been called.
func (r *Registry) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
