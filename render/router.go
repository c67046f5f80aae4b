// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package render

import (
	"github.com/devblok/radiance/resource"
)

// edge is one fixed propagation rule between two registries.
type edge struct {
	source resource.Kind
	target resource.Kind
	handle func(ev resource.Event) []resource.Event
}

// router turns raw registry events into relinks of the dependents that
// reference the upstream resource by name.
type router struct {
	ctx *Context
}

func (r *router) edges() []edge {
	return []edge{
		{resource.KindImage, resource.KindShader, r.imageToShader},
		{resource.KindBuffer, resource.KindShader, r.bufferToShader},
		{resource.KindShader, resource.KindMaterial, r.shaderToMaterial},
		{resource.KindMaterial, resource.KindPass, r.materialToPass},
		{resource.KindImage, resource.KindFramebuffer, r.imageToFramebuffer},
		{resource.KindRenderPass, resource.KindFramebuffer, r.renderPassToFramebuffer},
	}
}

func (r *router) subscribe(bus *resource.Bus) error {
	for _, e := range r.edges() {
		if err := bus.Subscribe(e.source, e.target, resource.SubscriberFunc(e.handle)); err != nil {
			return err
		}
	}
	return nil
}

// settle updates the readiness of a dependent hit by ev and returns the
// Changed event to re-broadcast for it.
func settle[T any](rec *resource.Record[T], kind resource.Kind, t resource.EventType, resolved bool) resource.Event {
	switch t {
	case resource.Added:
		if resolved {
			rec.SetReady(true)
		}
	default:
		rec.SetReady(false)
	}
	rec.SetDirty(true)
	return resource.Event{
		Kind:   kind,
		Name:   rec.Name(),
		Type:   resource.Changed,
		Handle: rec.Handle(),
	}
}

func (r *router) shaderBindings(ev resource.Event, image bool) []resource.Event {
	var out []resource.Event
	r.ctx.Shaders.Each(func(rec *resource.Record[*Shader]) bool {
		hit := false
		for _, b := range rec.Value.bindings {
			if b.Kind.IsImage() == image && b.apply(ev) {
				hit = true
			}
		}
		if hit {
			out = append(out, settle(rec, resource.KindShader, ev.Type, rec.Value.resolved()))
		}
		return true
	})
	return out
}

func (r *router) imageToShader(ev resource.Event) []resource.Event {
	return r.shaderBindings(ev, true)
}

func (r *router) bufferToShader(ev resource.Event) []resource.Event {
	return r.shaderBindings(ev, false)
}

func (r *router) shaderToMaterial(ev resource.Event) []resource.Event {
	var out []resource.Event
	r.ctx.Materials.Each(func(rec *resource.Record[*BindingSet]) bool {
		set := rec.Value
		if !set.Shader.apply(ev) {
			return true
		}
		if ev.Type != resource.Added {
			if set.state == Matched {
				set.state = Exposed
			}
			set.stale()
		}
		out = append(out, settle(rec, resource.KindMaterial, ev.Type, set.state == Ready && set.Shader.Resolved()))
		return true
	})
	return out
}

func (r *router) materialToPass(ev resource.Event) []resource.Event {
	var out []resource.Event
	r.ctx.Passes.Each(func(rec *resource.Record[*PassState]) bool {
		hit := false
		for i := range rec.Value.Materials {
			if rec.Value.Materials[i].apply(ev) {
				hit = true
			}
		}
		if hit {
			out = append(out, settle(rec, resource.KindPass, ev.Type, rec.Value.resolved()))
		}
		return true
	})
	return out
}

func (r *router) imageToFramebuffer(ev resource.Event) []resource.Event {
	var out []resource.Event
	r.ctx.Framebuffers.Each(func(rec *resource.Record[*Framebuffer]) bool {
		hit := false
		for i := range rec.Value.Attachments {
			if rec.Value.Attachments[i].apply(ev) {
				hit = true
			}
		}
		if hit {
			out = append(out, settle(rec, resource.KindFramebuffer, ev.Type, rec.Value.resolved()))
		}
		return true
	})
	return out
}

func (r *router) renderPassToFramebuffer(ev resource.Event) []resource.Event {
	var out []resource.Event
	r.ctx.Framebuffers.Each(func(rec *resource.Record[*Framebuffer]) bool {
		if rec.Value.RenderPass.apply(ev) {
			out = append(out, settle(rec, resource.KindFramebuffer, ev.Type, rec.Value.resolved()))
		}
		return true
	})
	return out
}
