// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"fmt"
)

// releasable is satisfied by values owning device memory.
type releasable interface {
	Release()
}

// Record is the single registry entry for a name. The registry owns it
// exclusively until it is removed.
type Record[T any] struct {
	name   string
	handle Handle
	ready  bool
	dirty  bool

	// Value is the resource itself.
	Value T
}

// Name returns the unique name of the record.
func (r *Record[T]) Name() string {
	return r.name
}

// Handle returns the arena handle of the record.
func (r *Record[T]) Handle() Handle {
	return r.handle
}

// Ready reports whether the resource can be used right now.
func (r *Record[T]) Ready() bool {
	return r.ready
}

// SetReady sets the ready flag.
func (r *Record[T]) SetReady(ready bool) {
	r.ready = ready
}

// Dirty reports whether the resource waits for a rebuild.
func (r *Record[T]) Dirty() bool {
	return r.dirty
}

// SetDirty sets the dirty flag.
func (r *Record[T]) SetDirty(dirty bool) {
	r.dirty = dirty
}

type slot[T any] struct {
	generation uint32
	record     *Record[T]
}

// NewRegistry creates an empty registry of the given kind publishing on bus.
func NewRegistry[T any](kind Kind, bus *Bus) *Registry[T] {
	return &Registry[T]{
		kind:  kind,
		bus:   bus,
		names: make(map[string]uint32),
	}
}

// Registry maps names to records of one kind. Records live in dense slot
// storage, freed slots are reused with a bumped generation.
type Registry[T any] struct {
	kind  Kind
	bus   *Bus
	slots []slot[T]
	free  []uint32
	names map[string]uint32
}

// Kind returns the kind of resources held.
func (r *Registry[T]) Kind() Kind {
	return r.kind
}

// Len returns the number of live records.
func (r *Registry[T]) Len() int {
	return len(r.names)
}

// Build returns the record registered under name, constructing it first
// when it does not exist. The constructor is not invoked for existing names.
// A constructor error leaves the registry untouched and is wrapped with
// ErrBuildFailure. New records start out ready.
func (r *Registry[T]) Build(name string, construct func() (T, error)) (*Record[T], error) {
	if rec, ok := r.Get(name); ok {
		return rec, nil
	}

	value, err := construct()
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w: %s", r.kind, name, ErrBuildFailure, err.Error())
	}

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		r.slots = append(r.slots, slot[T]{})
		idx = uint32(len(r.slots) - 1)
	}

	s := &r.slots[idx]
	s.generation++
	s.record = &Record[T]{
		name:  name,
		ready: true,
		handle: Handle{
			Kind:       r.kind,
			Index:      idx,
			Generation: s.generation,
		},
		Value: value,
	}
	r.names[name] = idx

	r.publish(Added, s.record)
	return s.record, nil
}

// Get looks a record up by name.
func (r *Registry[T]) Get(name string) (*Record[T], bool) {
	idx, ok := r.names[name]
	if !ok {
		return nil, false
	}
	return r.slots[idx].record, true
}

// Resolve returns the record the handle points at, unless the record
// was removed since the handle was taken.
func (r *Registry[T]) Resolve(h Handle) (*Record[T], bool) {
	if !h.Valid() || h.Kind != r.kind || int(h.Index) >= len(r.slots) {
		return nil, false
	}
	s := r.slots[h.Index]
	if s.record == nil || s.generation != h.Generation {
		return nil, false
	}
	return s.record, true
}

// Remove destroys the value under name and unregisters it.
func (r *Registry[T]) Remove(name string) bool {
	idx, ok := r.names[name]
	if !ok {
		return false
	}
	s := &r.slots[idx]
	rec := s.record

	release(rec.Value)
	rec.ready = false
	s.record = nil
	s.generation++
	delete(r.names, name)
	r.free = append(r.free, idx)

	r.publish(Removed, rec)
	return true
}

// Replace swaps the value under name for a newly constructed one, keeping
// the record and its handle. The old value is released after the new one
// was built. Dependents see a Changed event.
func (r *Registry[T]) Replace(name string, construct func(old T) (T, error)) error {
	rec, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%s %q: %w", r.kind, name, ErrNotFound)
	}

	value, err := construct(rec.Value)
	if err != nil {
		return fmt.Errorf("%s %q: %w: %s", r.kind, name, ErrBuildFailure, err.Error())
	}
	release(rec.Value)
	rec.Value = value

	r.publish(Changed, rec)
	return nil
}

// Touch publishes a Changed event for name without modifying it.
func (r *Registry[T]) Touch(name string) bool {
	rec, ok := r.Get(name)
	if !ok {
		return false
	}
	r.publish(Changed, rec)
	return true
}

// Each calls fn for every live record in slot order until fn returns false.
func (r *Registry[T]) Each(fn func(*Record[T]) bool) {
	for idx := range r.slots {
		if rec := r.slots[idx].record; rec != nil {
			if !fn(rec) {
				return
			}
		}
	}
}

// Clear removes every record, publishing Removed for each.
func (r *Registry[T]) Clear() {
	var names []string
	r.Each(func(rec *Record[T]) bool {
		names = append(names, rec.name)
		return true
	})
	for _, name := range names {
		r.Remove(name)
	}
}

func (r *Registry[T]) publish(t EventType, rec *Record[T]) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(Event{
		Kind:   r.kind,
		Name:   rec.name,
		Type:   t,
		Handle: rec.handle,
	})
}

func release(value any) {
	if rel, ok := value.(releasable); ok && rel != nil {
		rel.Release()
	}
}
