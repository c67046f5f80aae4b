// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless

import (
	"fmt"

	"github.com/devblok/radiance/gfx"
)

// Write is one recorded buffer write.
type Write struct {
	Offset uint64
	Length int
}

// Buffer is host memory standing in for a device buffer.
type Buffer struct {
	device *Device
	usage  gfx.BufferUsage
	data   []byte

	// Writes lists every write in order.
	Writes []Write
}

// Size implements interface
func (b *Buffer) Size() uint64 {
	return uint64(len(b.data))
}

// Write implements interface
func (b *Buffer) Write(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("write of %d bytes at %d overflows buffer of %d", len(data), offset, len(b.data))
	}
	copy(b.data[offset:], data)
	b.Writes = append(b.Writes, Write{Offset: offset, Length: len(data)})
	return nil
}

// Read implements interface
func (b *Buffer) Read(offset, length uint64) ([]byte, error) {
	if offset+length > uint64(len(b.data)) {
		return nil, fmt.Errorf("read of %d bytes at %d overflows buffer of %d", length, offset, len(b.data))
	}
	return append([]byte(nil), b.data[offset:offset+length]...), nil
}

// Release implements interface
func (b *Buffer) Release() {
	if b.data != nil {
		b.device.live.Buffers--
		b.data = nil
	}
}

// Image is a described but storage-less image.
type Image struct {
	device   *Device
	desc     gfx.ImageDesc
	released bool
}

// Desc implements interface
func (i *Image) Desc() gfx.ImageDesc {
	return i.desc
}

// Release implements interface
func (i *Image) Release() {
	if i.device != nil && !i.released {
		i.device.live.Images--
		i.released = true
	}
}

// ShaderModule keeps the code it was created from.
type ShaderModule struct {
	stage gfx.ShaderStage
	Code  []byte
}

// Stage implements interface
func (m *ShaderModule) Stage() gfx.ShaderStage {
	return m.stage
}

// Release implements interface
func (m *ShaderModule) Release() {}

// RenderPass is an in-memory render pass.
type RenderPass struct {
	Desc gfx.RenderPassDesc
}

// Release implements interface
func (r *RenderPass) Release() {}

// Framebuffer is an in-memory framebuffer.
type Framebuffer struct {
	Attachments []gfx.Image
	extent      gfx.Extent3D
}

// Extent implements interface
func (f *Framebuffer) Extent() gfx.Extent3D {
	return f.extent
}

// Release implements interface
func (f *Framebuffer) Release() {}

// Pipeline keeps its description and the last descriptor write per slot.
type Pipeline struct {
	device   *Device
	released bool

	Desc   gfx.PipelineDesc
	Writes map[uint32]gfx.DescriptorWrite
}

// WriteDescriptors implements interface
func (p *Pipeline) WriteDescriptors(writes []gfx.DescriptorWrite) error {
	for _, w := range writes {
		found := false
		for _, l := range p.Desc.Layout {
			if l.Slot == w.Slot {
				if l.Kind != w.Kind {
					return fmt.Errorf("pipeline %q: slot %d is %s, not %s", p.Desc.Name, w.Slot, l.Kind, w.Kind)
				}
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("pipeline %q: no slot %d in layout", p.Desc.Name, w.Slot)
		}
		if w.Kind.IsImage() && w.Image == nil || !w.Kind.IsImage() && w.Buffer == nil {
			return fmt.Errorf("pipeline %q: slot %d written without a resource", p.Desc.Name, w.Slot)
		}
		p.Writes[w.Slot] = w
	}
	return nil
}

// Release implements interface
func (p *Pipeline) Release() {
	if !p.released {
		p.device.live.Pipelines--
		p.released = true
	}
}

// CommandBuffer records commands as text.
type CommandBuffer struct {
	ID        int
	Queue     gfx.QueueKind
	Commands  []string
	Submitted int

	recording bool
}

// Begin implements interface
func (c *CommandBuffer) Begin() error {
	if c.recording {
		return fmt.Errorf("command buffer %d already recording", c.ID)
	}
	c.recording = true
	c.Commands = c.Commands[:0]
	return nil
}

// End implements interface
func (c *CommandBuffer) End() error {
	if !c.recording {
		return fmt.Errorf("command buffer %d not recording", c.ID)
	}
	c.recording = false
	return nil
}

// BindPipeline implements interface
func (c *CommandBuffer) BindPipeline(p gfx.Pipeline) {
	c.Commands = append(c.Commands, "bind "+p.(*Pipeline).Desc.Name)
}

// Dispatch implements interface
func (c *CommandBuffer) Dispatch(x, y, z uint32) {
	c.Commands = append(c.Commands, fmt.Sprintf("dispatch %d %d %d", x, y, z))
}

// BeginRenderPass implements interface
func (c *CommandBuffer) BeginRenderPass(rp gfx.RenderPass, fb gfx.Framebuffer, clear [4]float32) {
	e := fb.Extent()
	c.Commands = append(c.Commands, fmt.Sprintf("begin-render-pass %dx%d", e.Width, e.Height))
}

// Draw implements interface
func (c *CommandBuffer) Draw(vertices, instances uint32) {
	c.Commands = append(c.Commands, fmt.Sprintf("draw %d %d", vertices, instances))
}

// EndRenderPass implements interface
func (c *CommandBuffer) EndRenderPass() {
	c.Commands = append(c.Commands, "end-render-pass")
}

// Barrier implements interface
func (c *CommandBuffer) Barrier() {
	c.Commands = append(c.Commands, "barrier")
}

// BlitToPresent implements interface
func (c *CommandBuffer) BlitToPresent(src, dst gfx.Image) {
	d := dst.Desc().Extent
	if src == nil {
		c.Commands = append(c.Commands, fmt.Sprintf("present-transition %dx%d", d.Width, d.Height))
		return
	}
	e := src.Desc().Extent
	c.Commands = append(c.Commands, fmt.Sprintf("blit %dx%d -> %dx%d", e.Width, e.Height, d.Width, d.Height))
}

// Fence is signalled by the submission it is attached to.
type Fence struct {
	ID        int
	signalled bool
}

// Signalled reports the fence state.
func (f *Fence) Signalled() bool {
	return f.signalled
}

// Release implements interface
func (f *Fence) Release() {}

// Semaphore is an id only.
type Semaphore struct {
	ID int
}

// Release implements interface
func (s *Semaphore) Release() {}

// Swapchain cycles through its images.
type Swapchain struct {
	device *Device
	count  int
	extent gfx.Extent3D
	images []*Image
	next   uint32

	outOfDate bool
	surface   *gfx.Extent3D
}

func (s *Swapchain) build(extent gfx.Extent3D) {
	s.extent = extent
	s.images = s.images[:0]
	s.next = 0
	for i := 0; i < s.count; i++ {
		s.images = append(s.images, &Image{desc: gfx.ImageDesc{
			Extent: extent,
			Format: gfx.FormatBGRA8,
			Usage:  gfx.ImageUsageColorAttachment | gfx.ImageUsageTransferDst,
			Mips:   1,
		}})
	}
}

// Resize simulates a surface resize: the next Acquire fails with
// gfx.ErrOutOfDate until the swapchain is recreated at extent.
func (s *Swapchain) Resize(extent gfx.Extent3D) {
	s.outOfDate = true
	s.surface = &extent
}

// Acquire implements interface
func (s *Swapchain) Acquire(signal gfx.Semaphore) (uint32, error) {
	if s.outOfDate {
		return 0, gfx.ErrOutOfDate
	}
	index := s.next
	s.next = (s.next + 1) % uint32(len(s.images))
	s.device.ops = append(s.device.ops, Op{
		Type:   OpAcquire,
		Signal: semaphoreIDs([]gfx.Semaphore{signal}),
		Index:  index,
	})
	return index, nil
}

// Present implements interface
func (s *Swapchain) Present(wait gfx.Semaphore, index uint32) error {
	s.device.ops = append(s.device.ops, Op{
		Type:  OpPresent,
		Wait:  semaphoreIDs([]gfx.Semaphore{wait}),
		Index: index,
	})
	return nil
}

// Images implements interface
func (s *Swapchain) Images() []gfx.Image {
	imgs := make([]gfx.Image, len(s.images))
	for i, img := range s.images {
		imgs[i] = img
	}
	return imgs
}

// Extent implements interface
func (s *Swapchain) Extent() gfx.Extent3D {
	return s.extent
}

// Recreate implements interface. A pending Resize wins over extent.
func (s *Swapchain) Recreate(extent gfx.Extent3D) error {
	if s.surface != nil {
		extent = *s.surface
		s.surface = nil
	}
	s.outOfDate = false
	s.build(extent)
	s.device.ops = append(s.device.ops, Op{Type: OpRecreate})
	return nil
}
