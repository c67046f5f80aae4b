// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package resource implements keyed resource registries and the synchronous
// change notification bus tying them together.
//
// Every registry stores one kind of resource under unique names. Building
// a name twice hands back the same record, removing it destroys the value and
// resizing it in place keeps its identity. Each of those operations publishes
// an Event, and subscribers of the upstream kind see it before the call returns.
package resource

import (
	"errors"
	"fmt"
)

// package errors
var (
	ErrBuildFailure       = errors.New("resource build failed")
	ErrNotFound           = errors.New("resource not found")
	ErrCyclicSubscription = errors.New("subscription would create a dependency cycle")
)

// Kind identifies which registry a resource lives in.
type Kind int

// Resource kinds, in dependency order.
const (
	KindBuffer Kind = iota
	KindImage
	KindRenderPass
	KindShader
	KindFramebuffer
	KindMaterial
	KindPass

	kindCount
)

func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindImage:
		return "image"
	case KindRenderPass:
		return "render-pass"
	case KindShader:
		return "shader"
	case KindFramebuffer:
		return "framebuffer"
	case KindMaterial:
		return "material"
	case KindPass:
		return "pass"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Handle is a weak reference to a record: the slot it occupies and the
// generation of that slot when the handle was taken. Removing a record
// bumps the slot generation, so stale handles stop resolving.
type Handle struct {
	Kind       Kind
	Index      uint32
	Generation uint32
}

// NullHandle is the unresolved handle.
var NullHandle Handle

// Valid reports whether the handle was ever resolved.
func (h Handle) Valid() bool {
	return h.Generation != 0
}

func (h Handle) String() string {
	if !h.Valid() {
		return "null"
	}
	return fmt.Sprintf("%s#%d.%d", h.Kind, h.Index, h.Generation)
}

// EventType tells what happened to a resource.
type EventType int

// Event types
const (
	Added EventType = iota
	Removed
	Changed
)

func (t EventType) String() string {
	switch t {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Changed:
		return "changed"
	default:
		return "unknown"
	}
}

// Event is published on the bus for every registry change.
type Event struct {
	Kind   Kind
	Name   string
	Type   EventType
	Handle Handle
}

func (e Event) String() string {
	return fmt.Sprintf("%s %q %s", e.Kind, e.Name, e.Type)
}
