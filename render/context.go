// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package render holds every GPU resource of a renderer in named registries
// and keeps the dependents of a resource consistent when it is built,
// resized or removed.
//
// A Context owns the registries and the bus connecting them. Materials
// bind exposed CPU fields and named buffers and images to a shader. The
// router on the bus marks them stale when anything they reference changes,
// and UpdateMaterial rebuilds them on their next use.
package render

import (
	"fmt"

	"github.com/devblok/radiance/gfx"
	"github.com/devblok/radiance/resource"
	log "github.com/sirupsen/logrus"
)

// BufferInfo is a diagnostic entry for one live buffer.
type BufferInfo struct {
	Name string `json:"name"`
	Size uint64 `json:"size"`
}

// NewContext creates the registries for device and wires the dependency
// router onto a fresh, inactive bus.
func NewContext(device gfx.Device, compiler ShaderCompiler, logger log.FieldLogger) (*Context, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	bus := resource.NewBus(logger)
	c := &Context{
		Device:       device,
		Compiler:     compiler,
		Bus:          bus,
		Buffers:      resource.NewRegistry[*Buffer](resource.KindBuffer, bus),
		Images:       resource.NewRegistry[*Image](resource.KindImage, bus),
		RenderPasses: resource.NewRegistry[*RenderPass](resource.KindRenderPass, bus),
		Shaders:      resource.NewRegistry[*Shader](resource.KindShader, bus),
		Framebuffers: resource.NewRegistry[*Framebuffer](resource.KindFramebuffer, bus),
		Materials:    resource.NewRegistry[*BindingSet](resource.KindMaterial, bus),
		Passes:       resource.NewRegistry[*PassState](resource.KindPass, bus),
		log:          logger.WithField("component", "render"),
	}
	r := &router{ctx: c}
	if err := r.subscribe(bus); err != nil {
		return nil, err
	}
	return c, nil
}

// Context owns the device, the bus and a registry per resource kind.
type Context struct {
	Device   gfx.Device
	Compiler ShaderCompiler
	Bus      *resource.Bus

	Buffers      *resource.Registry[*Buffer]
	Images       *resource.Registry[*Image]
	RenderPasses *resource.Registry[*RenderPass]
	Shaders      *resource.Registry[*Shader]
	Framebuffers *resource.Registry[*Framebuffer]
	Materials    *resource.Registry[*BindingSet]
	Passes       *resource.Registry[*PassState]

	log log.FieldLogger
}

// Log returns the context logger.
func (c *Context) Log() log.FieldLogger {
	return c.log
}

// BuildBuffer returns the buffer called name, allocating it when missing.
func (c *Context) BuildBuffer(name string, size uint64, usage gfx.BufferUsage) (*Buffer, error) {
	rec, err := c.Buffers.Build(name, func() (*Buffer, error) {
		buf, err := c.Device.CreateBuffer(size, usage)
		if err != nil {
			return nil, err
		}
		return &Buffer{Buffer: buf, Usage: usage}, nil
	})
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

// ResizeBuffer reallocates the buffer in place. Contents are not preserved.
func (c *Context) ResizeBuffer(name string, size uint64) error {
	return c.Buffers.Replace(name, func(old *Buffer) (*Buffer, error) {
		buf, err := c.Device.CreateBuffer(size, old.Usage)
		if err != nil {
			return nil, err
		}
		return &Buffer{Buffer: buf, Usage: old.Usage}, nil
	})
}

// RemoveBuffer destroys the buffer.
func (c *Context) RemoveBuffer(name string) bool {
	return c.Buffers.Remove(name)
}

// Buffer returns the named buffer if it exists.
func (c *Context) Buffer(name string) (*Buffer, bool) {
	rec, ok := c.Buffers.Get(name)
	if !ok {
		return nil, false
	}
	return rec.Value, true
}

// BuildImage returns the image called name, creating it when missing.
func (c *Context) BuildImage(name string, desc gfx.ImageDesc) (*Image, error) {
	rec, err := c.Images.Build(name, func() (*Image, error) {
		img, err := c.Device.CreateImage(desc)
		if err != nil {
			return nil, err
		}
		return &Image{Image: img}, nil
	})
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

// ResizeImage recreates the image with a new extent, keeping its identity.
func (c *Context) ResizeImage(name string, extent gfx.Extent3D) error {
	return c.Images.Replace(name, func(old *Image) (*Image, error) {
		desc := old.Desc()
		desc.Extent = extent
		img, err := c.Device.CreateImage(desc)
		if err != nil {
			return nil, err
		}
		return &Image{Image: img}, nil
	})
}

// RemoveImage destroys the image.
func (c *Context) RemoveImage(name string) bool {
	return c.Images.Remove(name)
}

// Image returns the named image if it exists.
func (c *Context) Image(name string) (*Image, bool) {
	rec, ok := c.Images.Get(name)
	if !ok {
		return nil, false
	}
	return rec.Value, true
}

// BuildRenderPass returns the render pass called name, creating it when missing.
func (c *Context) BuildRenderPass(name string, desc gfx.RenderPassDesc) (*RenderPass, error) {
	rec, err := c.RenderPasses.Build(name, func() (*RenderPass, error) {
		rp, err := c.Device.CreateRenderPass(desc)
		if err != nil {
			return nil, err
		}
		return &RenderPass{RenderPass: rp, Desc: desc}, nil
	})
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

// RemoveRenderPass destroys the render pass.
func (c *Context) RemoveRenderPass(name string) bool {
	return c.RenderPasses.Remove(name)
}

func (c *Context) compileShader(name string) (*Shader, error) {
	if c.Compiler == nil {
		return nil, fmt.Errorf("no shader compiler")
	}
	program, err := c.Compiler.Compile(name)
	if err != nil {
		return nil, err
	}
	shader := &Shader{Program: program}
	for _, stage := range program.Stages {
		module, err := c.Device.CreateShaderModule(stage.Stage, stage.Code)
		if err != nil {
			shader.Release()
			return nil, err
		}
		shader.Modules = append(shader.Modules, module)
	}
	return shader, nil
}

// BuildShader compiles and loads the shader called name unless it is loaded.
func (c *Context) BuildShader(name string) (*Shader, error) {
	rec, err := c.Shaders.Build(name, func() (*Shader, error) {
		return c.compileShader(name)
	})
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

// ReloadShader recompiles a loaded shader in place. Every material using it
// goes stale and is matched again against the new reflection.
func (c *Context) ReloadShader(name string) error {
	err := c.Shaders.Replace(name, func(old *Shader) (*Shader, error) {
		next, err := c.compileShader(name)
		if err != nil {
			return nil, err
		}
		next.bindings = old.bindings
		return next, nil
	})
	if err != nil {
		return err
	}
	c.log.WithField("shader", name).Info("shader reloaded")
	return nil
}

// RemoveShader unloads the shader.
func (c *Context) RemoveShader(name string) bool {
	return c.Shaders.Remove(name)
}

// BuildFramebuffer creates a framebuffer over the named attachments. All of
// them and the render pass have to exist already.
func (c *Context) BuildFramebuffer(name, renderPass string, attachments ...string) error {
	rec, err := c.Framebuffers.Build(name, func() (*Framebuffer, error) {
		fb := &Framebuffer{
			RenderPass:  Ref{Name: renderPass, Handle: c.lookup(resource.KindRenderPass, renderPass)},
			Attachments: make([]Ref, len(attachments)),
		}
		for i, a := range attachments {
			fb.Attachments[i] = Ref{Name: a, Handle: c.lookup(resource.KindImage, a)}
		}
		if !fb.resolved() {
			return nil, fmt.Errorf("missing render pass or attachment")
		}
		if err := c.createFramebuffer(fb); err != nil {
			return nil, err
		}
		return fb, nil
	})
	if err != nil {
		return err
	}
	rec.SetDirty(false)
	return nil
}

func (c *Context) createFramebuffer(fb *Framebuffer) error {
	rp, ok := c.RenderPasses.Resolve(fb.RenderPass.Handle)
	if !ok {
		return fmt.Errorf("render pass %q: %w", fb.RenderPass.Name, resource.ErrNotFound)
	}
	images := make([]gfx.Image, len(fb.Attachments))
	for i, a := range fb.Attachments {
		img, ok := c.Images.Resolve(a.Handle)
		if !ok {
			return fmt.Errorf("attachment %q: %w", a.Name, resource.ErrNotFound)
		}
		images[i] = img.Value.Image
	}
	var extent gfx.Extent3D
	if len(images) > 0 {
		extent = images[0].Desc().Extent
	}
	handle, err := c.Device.CreateFramebuffer(rp.Value.RenderPass, images, extent)
	if err != nil {
		return err
	}
	fb.Release()
	fb.fb = handle
	return nil
}

// Framebuffer returns the device framebuffer called name, rebuilding it
// first when one of its attachments changed since the last call.
func (c *Context) Framebuffer(name string) (gfx.Framebuffer, bool) {
	rec, ok := c.Framebuffers.Get(name)
	if !ok {
		return nil, false
	}
	fb := rec.Value
	if !rec.Dirty() && fb.fb != nil {
		return fb.fb, true
	}
	if !fb.resolved() {
		return nil, false
	}
	if err := c.createFramebuffer(fb); err != nil {
		c.log.WithError(err).WithField("framebuffer", name).Warn("framebuffer rebuild failed")
		return nil, false
	}
	rec.SetDirty(false)
	rec.SetReady(true)
	return fb.fb, true
}

// RemoveFramebuffer destroys the framebuffer.
func (c *Context) RemoveFramebuffer(name string) bool {
	return c.Framebuffers.Remove(name)
}

// BuildMaterial returns the binding set called name, creating it in the
// Unbound state when missing. Fields and bindings are declared with Expose.
func (c *Context) BuildMaterial(name string, desc MaterialDesc) (*BindingSet, error) {
	rec, err := c.Materials.Build(name, func() (*BindingSet, error) {
		set := newBindingSet(name, desc)
		set.Shader.Handle = c.lookup(resource.KindShader, desc.Shader)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	if rec.Value.state != Ready {
		rec.SetReady(false)
	}
	return rec.Value, nil
}

// Material returns the named binding set.
func (c *Context) Material(name string) (*BindingSet, bool) {
	rec, ok := c.Materials.Get(name)
	if !ok {
		return nil, false
	}
	return rec.Value, true
}

// RemoveMaterial detaches and destroys the binding set together with its
// uniform cells.
func (c *Context) RemoveMaterial(name string) bool {
	rec, ok := c.Materials.Get(name)
	if !ok {
		return false
	}
	set := rec.Value
	c.unlinkMaterial(set)
	for _, cell := range append(set.Cells(), set.retired...) {
		c.Buffers.Remove(cell)
	}
	set.retired = nil
	return c.Materials.Remove(name)
}

// Pipeline returns the pipeline of a ready material.
func (c *Context) Pipeline(material string) (gfx.Pipeline, bool) {
	rec, ok := c.Materials.Get(material)
	if !ok || rec.Value.state != Ready {
		return nil, false
	}
	return rec.Value.pipeline, true
}

// RegisterPass adds the registry state of a pass owning the given materials.
func (c *Context) RegisterPass(name string, queue gfx.QueueKind, materials ...string) (*PassState, error) {
	rec, err := c.Passes.Build(name, func() (*PassState, error) {
		state := &PassState{
			Queue:       queue,
			Materials:   make([]Ref, len(materials)),
			NeedsRecord: true,
			Active:      true,
			device:      c.Device,
		}
		for i, m := range materials {
			state.Materials[i] = Ref{Name: m, Handle: c.lookup(resource.KindMaterial, m)}
		}
		return state, nil
	})
	if err != nil {
		return nil, err
	}
	rec.SetReady(rec.Value.resolved())
	return rec.Value, nil
}

// Pass returns the registry state of the named pass.
func (c *Context) Pass(name string) (*PassState, bool) {
	rec, ok := c.Passes.Get(name)
	if !ok {
		return nil, false
	}
	return rec.Value, true
}

// UpdateMaterial drives the binding set towards Ready and uploads changed
// uniform fields. It reports whether the material can be bound this frame.
func (c *Context) UpdateMaterial(name string) bool {
	rec, ok := c.Materials.Get(name)
	if !ok {
		return false
	}
	set := rec.Value
	if set.unbindable || set.state == Unbound {
		return false
	}

	if set.state == Stale {
		c.unlinkMaterial(set)
		set.state = Exposed
	}

	shader, ok := c.Shaders.Resolve(set.Shader.Handle)
	if !ok {
		return false
	}

	if set.state == Exposed {
		if err := set.Match(shader.Value); err != nil {
			c.log.WithFields(log.Fields{
				"material": name,
				"shader":   set.Shader.Name,
			}).Error(err.Error())
			return false
		}
		c.resolveBindings(set)
		c.linkShader(shader)
	}

	if set.state == Matched {
		if err := c.buildPipeline(set, shader.Value); err != nil {
			if set.report(err) {
				c.log.WithError(err).WithField("material", name).Warn("pipeline build failed")
			}
			return false
		}
		set.state = PipelineBuilt
		c.invalidatePasses(name)
	}

	if set.state == PipelineBuilt {
		if !c.bindingsLive(set) {
			return false
		}
		if err := c.writeDescriptors(set); err != nil {
			if set.report(err) {
				c.log.WithError(err).WithField("material", name).Warn("descriptor update failed")
			}
			return false
		}
		set.state = Ready
		rec.SetReady(true)
		rec.SetDirty(false)
	}

	set.diff()
	for _, b := range set.blocks {
		cell, ok := c.Buffer(b.cell)
		if !ok {
			return false
		}
		if _, err := b.upload(cell); err != nil {
			if set.report(err) {
				c.log.WithError(err).WithFields(log.Fields{
					"material": name,
					"cell":     b.cell,
				}).Warn("uniform upload failed")
			}
			return false
		}
	}
	if set.failure != "" {
		c.log.WithField("material", name).Info("material recovered")
		set.failure = ""
	}
	return true
}

func (c *Context) unlinkMaterial(set *BindingSet) {
	set.Release()
	if shader, ok := c.Shaders.Resolve(set.Shader.Handle); ok {
		shader.Value.detach(set)
	}
}

func (c *Context) resolveBindings(set *BindingSet) {
	for _, b := range set.bindings {
		kind := resource.KindBuffer
		if b.Kind.IsImage() {
			kind = resource.KindImage
		}
		b.Handle = c.lookup(kind, b.Name)
	}
}

// linkShader marks the shader ready again once everything in its binding
// table resolves to a live record.
func (c *Context) linkShader(rec *resource.Record[*Shader]) {
	for _, b := range rec.Value.bindings {
		if !c.live(b) {
			rec.SetReady(false)
			return
		}
	}
	rec.SetReady(true)
}

func (c *Context) bindingsLive(set *BindingSet) bool {
	for _, b := range set.bindings {
		if !c.live(b) {
			return false
		}
	}
	return true
}

func (c *Context) live(b *Binding) bool {
	if b.Kind.IsImage() {
		rec, ok := c.Images.Resolve(b.Handle)
		return ok && rec.Ready()
	}
	rec, ok := c.Buffers.Resolve(b.Handle)
	return ok && rec.Ready()
}

func (c *Context) buildPipeline(set *BindingSet, shader *Shader) error {
	for _, name := range set.retired {
		c.Buffers.Remove(name)
	}
	set.retired = nil
	for _, b := range set.blocks {
		cell, err := c.BuildBuffer(b.cell, uint64(b.size), gfx.BufferUsageUniform|gfx.BufferUsageTransferDst)
		if err != nil {
			return err
		}
		if cell.Size() != uint64(b.size) {
			if err := c.ResizeBuffer(b.cell, uint64(b.size)); err != nil {
				return err
			}
		}
	}

	var rp gfx.RenderPass
	if set.renderPass != "" {
		rec, ok := c.RenderPasses.Get(set.renderPass)
		if !ok {
			return fmt.Errorf("render pass %q: %w", set.renderPass, resource.ErrNotFound)
		}
		rp = rec.Value.RenderPass
	}

	pipeline, err := c.Device.CreatePipeline(gfx.PipelineDesc{
		Name:       set.name,
		Program:    shader.Program.Kind,
		Modules:    shader.Modules,
		Layout:     set.layout(),
		RenderPass: rp,
	})
	if err != nil {
		return err
	}
	set.pipeline = pipeline
	return nil
}

func (c *Context) writeDescriptors(set *BindingSet) error {
	writes := make([]gfx.DescriptorWrite, 0, len(set.bindings)+len(set.blocks))
	for _, b := range set.bindings {
		w := gfx.DescriptorWrite{Slot: b.Slot, Kind: b.Kind}
		if b.Kind.IsImage() {
			rec, _ := c.Images.Resolve(b.Handle)
			w.Image = rec.Value.Image
		} else {
			rec, _ := c.Buffers.Resolve(b.Handle)
			w.Buffer = rec.Value.Buffer
		}
		writes = append(writes, w)
	}
	for _, b := range set.blocks {
		cell, ok := c.Buffer(b.cell)
		if !ok {
			return fmt.Errorf("uniform cell %q: %w", b.cell, resource.ErrNotFound)
		}
		writes = append(writes, gfx.DescriptorWrite{
			Slot:   b.Slot,
			Kind:   gfx.UniformBufferDescriptor,
			Buffer: cell.Buffer,
		})
	}
	return set.pipeline.WriteDescriptors(writes)
}

func (c *Context) invalidatePasses(material string) {
	c.Passes.Each(func(rec *resource.Record[*PassState]) bool {
		if rec.Value.Owns(material) {
			rec.Value.NeedsRecord = true
		}
		return true
	})
}

// MaterialStale reports whether the named material waits for a rebuild.
func (c *Context) MaterialStale(name string) bool {
	set, ok := c.Material(name)
	return ok && set.state == Stale
}

func (c *Context) lookup(kind resource.Kind, name string) resource.Handle {
	var (
		h  resource.Handle
		ok bool
	)
	switch kind {
	case resource.KindBuffer:
		h, ok = handleOf(c.Buffers, name)
	case resource.KindImage:
		h, ok = handleOf(c.Images, name)
	case resource.KindRenderPass:
		h, ok = handleOf(c.RenderPasses, name)
	case resource.KindShader:
		h, ok = handleOf(c.Shaders, name)
	case resource.KindFramebuffer:
		h, ok = handleOf(c.Framebuffers, name)
	case resource.KindMaterial:
		h, ok = handleOf(c.Materials, name)
	case resource.KindPass:
		h, ok = handleOf(c.Passes, name)
	}
	if !ok {
		return resource.NullHandle
	}
	return h
}

func handleOf[T any](reg *resource.Registry[T], name string) (resource.Handle, bool) {
	rec, ok := reg.Get(name)
	if !ok {
		return resource.NullHandle, false
	}
	return rec.Handle(), true
}

// Activate resolves every dependent against the registries in dependency
// order and then turns the bus on. Resources built before activation send
// no events, so this is where startup construction gets linked.
func (c *Context) Activate() {
	c.Shaders.Each(func(rec *resource.Record[*Shader]) bool {
		for _, b := range rec.Value.bindings {
			kind := resource.KindBuffer
			if b.Kind.IsImage() {
				kind = resource.KindImage
			}
			b.Handle = c.lookup(kind, b.Name)
		}
		rec.SetReady(rec.Value.resolved())
		return true
	})
	c.Materials.Each(func(rec *resource.Record[*BindingSet]) bool {
		rec.Value.Shader.Handle = c.lookup(resource.KindShader, rec.Value.Shader.Name)
		return true
	})
	c.Framebuffers.Each(func(rec *resource.Record[*Framebuffer]) bool {
		fb := rec.Value
		fb.RenderPass.Handle = c.lookup(resource.KindRenderPass, fb.RenderPass.Name)
		for i := range fb.Attachments {
			fb.Attachments[i].Handle = c.lookup(resource.KindImage, fb.Attachments[i].Name)
		}
		rec.SetReady(fb.resolved())
		return true
	})
	c.Passes.Each(func(rec *resource.Record[*PassState]) bool {
		for i := range rec.Value.Materials {
			m := &rec.Value.Materials[i]
			m.Handle = c.lookup(resource.KindMaterial, m.Name)
		}
		rec.SetReady(rec.Value.resolved())
		return true
	})
	c.Bus.Activate()
	c.log.WithFields(log.Fields{
		"buffers":   c.Buffers.Len(),
		"images":    c.Images.Len(),
		"shaders":   c.Shaders.Len(),
		"materials": c.Materials.Len(),
		"passes":    c.Passes.Len(),
	}).Info("resources linked")
}

// BufferInfo lists every live buffer.
func (c *Context) BufferInfo() []BufferInfo {
	infos := make([]BufferInfo, 0, c.Buffers.Len())
	c.Buffers.Each(func(rec *resource.Record[*Buffer]) bool {
		infos = append(infos, BufferInfo{Name: rec.Name(), Size: rec.Value.Size()})
		return true
	})
	return infos
}

// Destroy waits for the device to go idle and releases every resource,
// dependents first.
func (c *Context) Destroy() {
	c.Device.WaitIdle()
	c.Bus.Deactivate()
	c.Passes.Clear()
	c.Materials.Clear()
	c.Framebuffers.Clear()
	c.Shaders.Clear()
	c.RenderPasses.Clear()
	c.Images.Clear()
	c.Buffers.Clear()
}
