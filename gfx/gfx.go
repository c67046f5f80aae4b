// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package gfx defines the device features that rendering backends must implement.
// The resource core only ever talks to these interfaces, the Vulkan backend
// lives in vkr and an in-memory one in headless.
package gfx

import (
	"errors"
	"time"
)

// package errors
var (
	ErrDeviceLost   = errors.New("device lost")
	ErrOutOfDate    = errors.New("swapchain out of date")
	ErrFenceTimeout = errors.New("fence wait timed out")
)

// Releasable defines any memory-occupying item that can be freed.
type Releasable interface {

	// Release releases memory occupied by the implementing structure.
	Release()
}

// QueueKind identifies one of the two hardware queues work is submitted to.
type QueueKind int

// Queues available to passes
const (
	GraphicsQueue QueueKind = iota
	ComputeQueue
)

func (q QueueKind) String() string {
	switch q {
	case GraphicsQueue:
		return "graphics"
	case ComputeQueue:
		return "compute"
	default:
		return "unknown"
	}
}

// BufferUsage is a bit set of the ways a buffer is going to be used.
type BufferUsage uint32

// Buffer usage bits
const (
	BufferUsageStorage BufferUsage = 1 << iota
	BufferUsageUniform
	BufferUsageVertex
	BufferUsageIndex
	BufferUsageIndirect
	BufferUsageTransferSrc
	BufferUsageTransferDst
)

// ImageUsage is a bit set of the ways an image is going to be used.
type ImageUsage uint32

// Image usage bits
const (
	ImageUsageSampled ImageUsage = 1 << iota
	ImageUsageStorage
	ImageUsageColorAttachment
	ImageUsageDepthAttachment
	ImageUsageTransferDst
	ImageUsageTransferSrc
)

// Format is the texel format of an image.
type Format int

// Supported image formats
const (
	FormatRGBA8 Format = iota
	FormatBGRA8
	FormatRGBA16F
	FormatRG16F
	FormatR32F
	FormatR32Uint
	FormatD32F
)

// Extent3D is the size of an image in texels.
type Extent3D struct {
	Width  int
	Height int
	Depth  int
}

// ImageDesc describes an image to be created.
type ImageDesc struct {
	Extent Extent3D
	Format Format
	Usage  ImageUsage
	Mips   int
}

// DescriptorKind is the kind of resource bound at a descriptor slot.
type DescriptorKind int

// Descriptor kinds
const (
	SampledImageDescriptor DescriptorKind = iota
	StorageImageDescriptor
	StorageBufferDescriptor
	UniformBufferDescriptor
)

// IsImage reports whether the descriptor refers to an image.
func (d DescriptorKind) IsImage() bool {
	return d == SampledImageDescriptor || d == StorageImageDescriptor
}

func (d DescriptorKind) String() string {
	switch d {
	case SampledImageDescriptor:
		return "sampled-image"
	case StorageImageDescriptor:
		return "storage-image"
	case StorageBufferDescriptor:
		return "storage-buffer"
	case UniformBufferDescriptor:
		return "uniform-buffer"
	default:
		return "unknown"
	}
}

// ShaderStage identifies a programmable pipeline stage.
type ShaderStage int

// Shader stages
const (
	VertexStage ShaderStage = iota
	FragmentStage
	ComputeStage
)

// ProgramKind distinguishes compute programs from graphics programs.
type ProgramKind int

// Program kinds
const (
	ComputeProgram ProgramKind = iota
	GraphicsProgram
)

// Buffer is a device buffer.
type Buffer interface {
	Releasable

	// Size returns the allocated size in bytes.
	Size() uint64

	// Write copies data into the buffer at offset.
	Write(offset uint64, data []byte) error

	// Read copies length bytes starting at offset out of the buffer.
	Read(offset, length uint64) ([]byte, error)
}

// Image is a device image.
type Image interface {
	Releasable

	// Desc returns the description the image was created with.
	Desc() ImageDesc
}

// ShaderModule is a loaded shader stage.
type ShaderModule interface {
	Releasable

	Stage() ShaderStage
}

// RenderPassDesc describes the attachments of a render pass.
type RenderPassDesc struct {
	ColorFormats []Format
	DepthFormat  *Format
	Present      bool
}

// RenderPass is a device render pass object.
type RenderPass interface {
	Releasable
}

// Framebuffer is a set of image attachments usable with a render pass.
type Framebuffer interface {
	Releasable

	Extent() Extent3D
}

// LayoutBinding declares one descriptor slot in a pipeline layout.
type LayoutBinding struct {
	Slot uint32
	Kind DescriptorKind
}

// PipelineDesc describes a pipeline to be created.
type PipelineDesc struct {
	Name       string
	Program    ProgramKind
	Modules    []ShaderModule
	Layout     []LayoutBinding
	RenderPass RenderPass
}

// DescriptorWrite points a descriptor slot at a resource. Exactly one
// of Buffer or Image is set.
type DescriptorWrite struct {
	Slot   uint32
	Kind   DescriptorKind
	Buffer Buffer
	Image  Image
}

// Pipeline is a built pipeline together with its layout and descriptor set.
type Pipeline interface {
	Releasable

	// WriteDescriptors updates the pipeline's descriptor set.
	WriteDescriptors(writes []DescriptorWrite) error
}

// CommandBuffer records device commands.
type CommandBuffer interface {
	Begin() error
	End() error

	BindPipeline(Pipeline)
	Dispatch(x, y, z uint32)
	BeginRenderPass(rp RenderPass, fb Framebuffer, clear [4]float32)
	Draw(vertices, instances uint32)
	EndRenderPass()

	// Barrier makes all prior writes visible to later commands.
	Barrier()

	// BlitToPresent scales src into the swapchain image dst and leaves dst
	// ready for presentation. A nil src only transitions dst.
	BlitToPresent(src, dst Image)
}

// Fence is a host-waitable completion signal.
type Fence interface {
	Releasable
}

// Semaphore is a device-side queue ordering signal.
type Semaphore interface {
	Releasable
}

// SubmitInfo describes one queue submission.
type SubmitInfo struct {
	Buffers []CommandBuffer
	Wait    []Semaphore
	Signal  []Semaphore
	Fence   Fence
}

// Swapchain is the list of presentable images.
type Swapchain interface {
	// Acquire returns the index of the next image, signal is signalled once
	// the image can be written.
	Acquire(signal Semaphore) (uint32, error)

	// Present queues the image for display once wait is signalled.
	Present(wait Semaphore, index uint32) error

	Images() []Image
	Extent() Extent3D

	// Recreate rebuilds the images after the surface changed. extent is
	// used when the surface does not dictate one.
	Recreate(extent Extent3D) error
}

// Device describes a non-concrete rendering device.
type Device interface {
	Releasable

	CreateBuffer(size uint64, usage BufferUsage) (Buffer, error)
	CreateImage(desc ImageDesc) (Image, error)
	CreateShaderModule(stage ShaderStage, code []byte) (ShaderModule, error)
	CreateRenderPass(desc RenderPassDesc) (RenderPass, error)
	CreateFramebuffer(rp RenderPass, attachments []Image, extent Extent3D) (Framebuffer, error)
	CreatePipeline(desc PipelineDesc) (Pipeline, error)

	AllocateCommandBuffers(queue QueueKind, count int) ([]CommandBuffer, error)
	FreeCommandBuffers(queue QueueKind, buffers []CommandBuffer)

	CreateFence() (Fence, error)
	CreateSemaphore() (Semaphore, error)

	Submit(queue QueueKind, info SubmitInfo) error
	WaitForFence(fence Fence, timeout time.Duration) error
	ResetFence(fence Fence) error

	// Swapchain returns the presentation surface images, nil when
	// the device renders offscreen.
	Swapchain() Swapchain

	WaitIdle()
}
