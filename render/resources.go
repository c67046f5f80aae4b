// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package render

import (
	"github.com/devblok/radiance/gfx"
	"github.com/devblok/radiance/resource"
)

// Ref is a by-name reference to a resource in another registry together
// with the handle it currently resolves to.
type Ref struct {
	Name   string
	Handle resource.Handle
}

// Resolved reports whether the reference points at a live record.
func (r *Ref) Resolved() bool {
	return r.Handle.Valid()
}

// apply updates the reference for an upstream event and reports whether
// the event concerned it.
func (r *Ref) apply(ev resource.Event) bool {
	if r.Name != ev.Name {
		return false
	}
	switch ev.Type {
	case resource.Added:
		r.Handle = ev.Handle
	case resource.Removed:
		r.Handle = resource.NullHandle
	}
	return true
}

// Buffer is a named device buffer.
type Buffer struct {
	gfx.Buffer
	Usage gfx.BufferUsage
}

// Image is a named device image.
type Image struct {
	gfx.Image
}

// RenderPass is a named device render pass.
type RenderPass struct {
	gfx.RenderPass
	Desc gfx.RenderPassDesc
}

// Framebuffer groups image attachments for a render pass. The device object
// is rebuilt lazily whenever an attachment or the render pass changed.
type Framebuffer struct {
	RenderPass  Ref
	Attachments []Ref

	fb gfx.Framebuffer
}

// Release implements interface
func (f *Framebuffer) Release() {
	if f.fb != nil {
		f.fb.Release()
		f.fb = nil
	}
}

func (f *Framebuffer) resolved() bool {
	if !f.RenderPass.Resolved() {
		return false
	}
	for i := range f.Attachments {
		if !f.Attachments[i].Resolved() {
			return false
		}
	}
	return true
}
