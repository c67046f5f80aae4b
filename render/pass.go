// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package render

import (
	"github.com/devblok/radiance/gfx"
)

// PassState is the registry side of a scheduled pass: its queue, the
// materials it owns and the command buffers recorded for it.
type PassState struct {
	Queue     gfx.QueueKind
	Materials []Ref

	// NeedsRecord forces a re-record on the next frame.
	NeedsRecord bool

	// Active passes are executed by the scheduler.
	Active bool

	// CommandBuffers is the cache of recorded command buffers.
	CommandBuffers []gfx.CommandBuffer

	device gfx.Device
}

// Owns reports whether the pass owns the named material.
func (p *PassState) Owns(material string) bool {
	for i := range p.Materials {
		if p.Materials[i].Name == material {
			return true
		}
	}
	return false
}

// ResetCommandBuffers frees the cache.
func (p *PassState) ResetCommandBuffers() {
	if len(p.CommandBuffers) > 0 && p.device != nil {
		p.device.FreeCommandBuffers(p.Queue, p.CommandBuffers)
	}
	p.CommandBuffers = nil
}

// Release implements interface
func (p *PassState) Release() {
	p.ResetCommandBuffers()
}

func (p *PassState) resolved() bool {
	for i := range p.Materials {
		if !p.Materials[i].Resolved() {
			return false
		}
	}
	return true
}
