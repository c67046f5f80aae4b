// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package headless implements gfx.Device in memory. Nothing is executed;
// every queue operation is appended to an operation log instead, which
// makes submission order observable.
package headless

import (
	"errors"
	"fmt"
	"time"

	"github.com/devblok/radiance/gfx"
)

// OpType names a logged queue operation.
type OpType string

// Logged operations
const (
	OpAcquire OpType = "acquire"
	OpSubmit  OpType = "submit"
	OpWait    OpType = "wait"
	OpReset   OpType = "reset"
	OpPresent  OpType = "present"
	OpRecreate OpType = "recreate"
)

// Op is one entry of the operation log.
type Op struct {
	Type    OpType
	Queue   gfx.QueueKind
	Buffers []*CommandBuffer
	Wait    []int
	Signal  []int
	Fence   int
	Index   uint32
}

func (o Op) String() string {
	switch o.Type {
	case OpSubmit:
		return fmt.Sprintf("submit %s buffers=%d wait=%v signal=%v", o.Queue, len(o.Buffers), o.Wait, o.Signal)
	case OpAcquire, OpPresent:
		return fmt.Sprintf("%s %d", o.Type, o.Index)
	case OpRecreate:
		return string(o.Type)
	default:
		return fmt.Sprintf("%s fence %d", o.Type, o.Fence)
	}
}

// Stats counts device objects.
type Stats struct {
	Buffers        int
	Images         int
	Pipelines      int
	CommandBuffers int
}

// Option configures a Device.
type Option func(*Device)

// WithSwapchain gives the device a swapchain of count images.
func WithSwapchain(count int, extent gfx.Extent3D) Option {
	return func(d *Device) {
		sc := &Swapchain{device: d, count: count}
		sc.build(extent)
		d.swapchain = sc
	}
}

// New creates an in-memory device.
func New(opts ...Option) *Device {
	d := &Device{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Device is an in-memory gfx.Device.
type Device struct {
	ops       []Op
	swapchain *Swapchain
	submitErr error
	ids       int

	created Stats
	live    Stats
}

func (d *Device) nextID() int {
	d.ids++
	return d.ids
}

// Ops returns the operation log.
func (d *Device) Ops() []Op {
	return d.ops
}

// Submissions returns only the submit operations of the log.
func (d *Device) Submissions() []Op {
	var subs []Op
	for _, op := range d.ops {
		if op.Type == OpSubmit {
			subs = append(subs, op)
		}
	}
	return subs
}

// ClearOps truncates the operation log.
func (d *Device) ClearOps() {
	d.ops = d.ops[:0]
}

// FailSubmit makes every following Submit return err. A nil err heals the device.
func (d *Device) FailSubmit(err error) {
	d.submitErr = err
}

// Created returns how many objects were ever created.
func (d *Device) Created() Stats {
	return d.created
}

// Live returns how many objects are currently alive.
func (d *Device) Live() Stats {
	return d.live
}

// Release implements interface
func (d *Device) Release() {}

// CreateBuffer implements interface
func (d *Device) CreateBuffer(size uint64, usage gfx.BufferUsage) (gfx.Buffer, error) {
	if size == 0 {
		return nil, errors.New("zero sized buffer")
	}
	d.created.Buffers++
	d.live.Buffers++
	return &Buffer{device: d, usage: usage, data: make([]byte, size)}, nil
}

// CreateImage implements interface
func (d *Device) CreateImage(desc gfx.ImageDesc) (gfx.Image, error) {
	if desc.Extent.Width <= 0 || desc.Extent.Height <= 0 {
		return nil, fmt.Errorf("invalid image extent %dx%d", desc.Extent.Width, desc.Extent.Height)
	}
	d.created.Images++
	d.live.Images++
	return &Image{device: d, desc: desc}, nil
}

// CreateShaderModule implements interface
func (d *Device) CreateShaderModule(stage gfx.ShaderStage, code []byte) (gfx.ShaderModule, error) {
	if len(code) == 0 {
		return nil, errors.New("empty shader code")
	}
	return &ShaderModule{stage: stage, Code: append([]byte(nil), code...)}, nil
}

// CreateRenderPass implements interface
func (d *Device) CreateRenderPass(desc gfx.RenderPassDesc) (gfx.RenderPass, error) {
	return &RenderPass{Desc: desc}, nil
}

// CreateFramebuffer implements interface
func (d *Device) CreateFramebuffer(rp gfx.RenderPass, attachments []gfx.Image, extent gfx.Extent3D) (gfx.Framebuffer, error) {
	if _, ok := rp.(*RenderPass); !ok {
		return nil, errors.New("foreign render pass")
	}
	return &Framebuffer{Attachments: attachments, extent: extent}, nil
}

// CreatePipeline implements interface
func (d *Device) CreatePipeline(desc gfx.PipelineDesc) (gfx.Pipeline, error) {
	if len(desc.Modules) == 0 {
		return nil, fmt.Errorf("pipeline %q: no shader modules", desc.Name)
	}
	if desc.Program == gfx.GraphicsProgram && desc.RenderPass == nil {
		return nil, fmt.Errorf("pipeline %q: graphics pipeline without render pass", desc.Name)
	}
	d.created.Pipelines++
	d.live.Pipelines++
	return &Pipeline{device: d, Desc: desc, Writes: make(map[uint32]gfx.DescriptorWrite)}, nil
}

// AllocateCommandBuffers implements interface
func (d *Device) AllocateCommandBuffers(queue gfx.QueueKind, count int) ([]gfx.CommandBuffer, error) {
	bufs := make([]gfx.CommandBuffer, count)
	for i := range bufs {
		bufs[i] = &CommandBuffer{ID: d.nextID(), Queue: queue}
	}
	d.created.CommandBuffers += count
	d.live.CommandBuffers += count
	return bufs, nil
}

// FreeCommandBuffers implements interface
func (d *Device) FreeCommandBuffers(queue gfx.QueueKind, buffers []gfx.CommandBuffer) {
	d.live.CommandBuffers -= len(buffers)
}

// CreateFence implements interface
func (d *Device) CreateFence() (gfx.Fence, error) {
	return &Fence{ID: d.nextID()}, nil
}

// CreateSemaphore implements interface
func (d *Device) CreateSemaphore() (gfx.Semaphore, error) {
	return &Semaphore{ID: d.nextID()}, nil
}

func semaphoreIDs(sems []gfx.Semaphore) []int {
	ids := make([]int, 0, len(sems))
	for _, s := range sems {
		ids = append(ids, s.(*Semaphore).ID)
	}
	return ids
}

// Submit implements interface. The fence is signalled immediately.
func (d *Device) Submit(queue gfx.QueueKind, info gfx.SubmitInfo) error {
	if d.submitErr != nil {
		return d.submitErr
	}
	op := Op{
		Type:   OpSubmit,
		Queue:  queue,
		Wait:   semaphoreIDs(info.Wait),
		Signal: semaphoreIDs(info.Signal),
	}
	for _, b := range info.Buffers {
		cb := b.(*CommandBuffer)
		if cb.recording {
			return fmt.Errorf("command buffer %d submitted while recording", cb.ID)
		}
		if cb.Queue != queue {
			return fmt.Errorf("command buffer %d belongs to the %s queue", cb.ID, cb.Queue)
		}
		cb.Submitted++
		op.Buffers = append(op.Buffers, cb)
	}
	if info.Fence != nil {
		f := info.Fence.(*Fence)
		if f.signalled {
			return fmt.Errorf("fence %d submitted while signalled", f.ID)
		}
		f.signalled = true
		op.Fence = f.ID
	}
	d.ops = append(d.ops, op)
	return nil
}

// WaitForFence implements interface
func (d *Device) WaitForFence(fence gfx.Fence, timeout time.Duration) error {
	f := fence.(*Fence)
	d.ops = append(d.ops, Op{Type: OpWait, Fence: f.ID})
	if !f.signalled {
		return gfx.ErrFenceTimeout
	}
	return nil
}

// ResetFence implements interface
func (d *Device) ResetFence(fence gfx.Fence) error {
	f := fence.(*Fence)
	f.signalled = false
	d.ops = append(d.ops, Op{Type: OpReset, Fence: f.ID})
	return nil
}

// Swapchain implements interface
func (d *Device) Swapchain() gfx.Swapchain {
	if d.swapchain == nil {
		return nil
	}
	return d.swapchain
}

// WaitIdle implements interface
func (d *Device) WaitIdle() {}
