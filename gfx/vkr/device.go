// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/devblok/radiance/gfx"
	vk "github.com/devblok/vulkan"
)

// DeviceConfiguration configures the logical device.
type DeviceConfiguration struct {
	SwapchainSize uint32
	Extent        gfx.Extent3D
	Extensions    []string
}

type queue struct {
	family uint32
	queue  vk.Queue
	pool   vk.CommandPool
}

// NewDevice creates a logical device on the first physical device of the
// instance with a graphics and a compute queue. When the instance has a
// surface a swapchain is created on it as well.
func NewDevice(instance *Instance, cfg DeviceConfiguration) (*Device, error) {
	d := &Device{
		physical: instance.AvailableDevices()[0],
		surface:  instance.Surface(),
	}
	if err := d.selectQueues(); err != nil {
		return nil, err
	}
	if err := d.createLogicalDevice(cfg.Extensions); err != nil {
		return nil, err
	}
	d.allocator = NewMemoryAllocator(d.device, d.physical)

	for _, q := range []*queue{&d.graphics, &d.compute} {
		if err := d.createCommandPool(q); err != nil {
			d.Release()
			return nil, err
		}
	}
	if err := d.createSampler(); err != nil {
		d.Release()
		return nil, err
	}
	if d.surface != nil && d.surface != vk.NullSurface {
		sc, err := newSwapchain(d, cfg.SwapchainSize, cfg.Extent)
		if err != nil {
			d.Release()
			return nil, err
		}
		d.swapchain = sc
	}
	return d, nil
}

// Device implements gfx.Device.
type Device struct {
	physical  vk.PhysicalDevice
	device    vk.Device
	surface   vk.Surface
	allocator *MemoryAllocator
	sampler   vk.Sampler

	graphics queue
	compute  queue

	swapchain *Swapchain
}

func (d *Device) selectQueues() error {
	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(d.physical, &queueFamilyCount, nil)
	if queueFamilyCount == 0 {
		return errors.New("vk.GetPhysicalDeviceQueueFamilyProperties(): no queuefamilies on GPU")
	}
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(d.physical, &queueFamilyCount, queueFamilies)

	var graphicsFound, computeFound bool
	for i := uint32(0); i < queueFamilyCount; i++ {
		queueFamilies[i].Deref()
		flags := queueFamilies[i].QueueFlags
		if !graphicsFound && flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			if d.surface != nil && d.surface != vk.NullSurface {
				var supportsPresent vk.Bool32
				vk.GetPhysicalDeviceSurfaceSupport(d.physical, i, d.surface, &supportsPresent)
				if !supportsPresent.B() {
					continue
				}
			}
			d.graphics.family = i
			graphicsFound = true
		}
		// a dedicated compute family runs alongside graphics
		if flags&vk.QueueFlags(vk.QueueComputeBit) != 0 && flags&vk.QueueFlags(vk.QueueGraphicsBit) == 0 && !computeFound {
			d.compute.family = i
			computeFound = true
		}
	}
	if !graphicsFound {
		return errors.New("vulkan error: could not find a graphics queue family that can present")
	}
	if !computeFound {
		d.compute.family = d.graphics.family
	}
	return nil
}

func (d *Device) createLogicalDevice(extensions []string) error {
	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: d.graphics.family,
		QueueCount:       1,
		PQueuePriorities: []float32{1},
	}}
	if d.compute.family != d.graphics.family {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: d.compute.family,
			QueueCount:       1,
			PQueuePriorities: []float32{1},
		})
	}

	dci := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
		PEnabledFeatures: []vk.PhysicalDeviceFeatures{{
			SamplerAnisotropy: vk.True,
		}},
	}
	var device vk.Device
	if err := vk.Error(vk.CreateDevice(d.physical, &dci, nil, &device)); err != nil {
		return errors.New("vk.CreateDevice(): " + err.Error())
	}
	d.device = device

	vk.GetDeviceQueue(device, d.graphics.family, 0, &d.graphics.queue)
	vk.GetDeviceQueue(device, d.compute.family, 0, &d.compute.queue)
	return nil
}

func (d *Device) createCommandPool(q *queue) error {
	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: q.family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var commandPool vk.CommandPool
	if err := vk.Error(vk.CreateCommandPool(d.device, &cpci, nil, &commandPool)); err != nil {
		return errors.New("vk.CreateCommandPool(): " + err.Error())
	}
	q.pool = commandPool
	return nil
}

func (d *Device) createSampler() error {
	sci := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		AddressModeU:            vk.SamplerAddressModeClampToEdge,
		AddressModeV:            vk.SamplerAddressModeClampToEdge,
		AddressModeW:            vk.SamplerAddressModeClampToEdge,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1,
		BorderColor:             vk.BorderColorFloatOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
	}
	var sampler vk.Sampler
	if err := vk.Error(vk.CreateSampler(d.device, &sci, nil, &sampler)); err != nil {
		return fmt.Errorf("vk.CreateSampler(): %s", err.Error())
	}
	d.sampler = sampler
	return nil
}

func (d *Device) queueOf(kind gfx.QueueKind) *queue {
	if kind == gfx.ComputeQueue {
		return &d.compute
	}
	return &d.graphics
}

// CreateBuffer implements interface
func (d *Device) CreateBuffer(size uint64, usage gfx.BufferUsage) (gfx.Buffer, error) {
	if size == 0 {
		return nil, errors.New("vkr.CreateBuffer(): zero sized buffer")
	}
	return newBuffer(d.device, size, usage, d.allocator)
}

// CreateImage implements interface. The image is moved to the general
// layout right away, which every descriptor kind accepts.
func (d *Device) CreateImage(desc gfx.ImageDesc) (gfx.Image, error) {
	img, err := newImage(d.device, desc, d.allocator)
	if err != nil {
		return nil, err
	}
	if err := d.toGeneralLayout(img); err != nil {
		img.Release()
		return nil, err
	}
	return img, nil
}

// CreateShaderModule implements interface
func (d *Device) CreateShaderModule(stage gfx.ShaderStage, code []byte) (gfx.ShaderModule, error) {
	return newShaderModule(d.device, stage, code)
}

// CreateRenderPass implements interface
func (d *Device) CreateRenderPass(desc gfx.RenderPassDesc) (gfx.RenderPass, error) {
	return newRenderPass(d.device, desc)
}

// CreateFramebuffer implements interface
func (d *Device) CreateFramebuffer(rp gfx.RenderPass, attachments []gfx.Image, extent gfx.Extent3D) (gfx.Framebuffer, error) {
	return newFramebuffer(d.device, rp, attachments, extent)
}

// CreatePipeline implements interface
func (d *Device) CreatePipeline(desc gfx.PipelineDesc) (gfx.Pipeline, error) {
	return newPipeline(d, desc)
}

// AllocateCommandBuffers implements interface
func (d *Device) AllocateCommandBuffers(kind gfx.QueueKind, count int) ([]gfx.CommandBuffer, error) {
	q := d.queueOf(kind)
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        q.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}
	commandBuffers := make([]vk.CommandBuffer, count)
	if err := vk.Error(vk.AllocateCommandBuffers(d.device, &cbai, commandBuffers)); err != nil {
		return nil, errors.New("vk.AllocateCommandBuffers(): " + err.Error())
	}

	cbs := make([]gfx.CommandBuffer, count)
	for i, cb := range commandBuffers {
		cbs[i] = &CommandBuffer{device: d, cb: cb, queue: kind}
	}
	return cbs, nil
}

// FreeCommandBuffers implements interface
func (d *Device) FreeCommandBuffers(kind gfx.QueueKind, buffers []gfx.CommandBuffer) {
	if len(buffers) == 0 {
		return
	}
	handles := make([]vk.CommandBuffer, len(buffers))
	for i, b := range buffers {
		handles[i] = b.(*CommandBuffer).cb
	}
	vk.FreeCommandBuffers(d.device, d.queueOf(kind).pool, uint32(len(handles)), handles)
}

// Fence wraps a vk.Fence.
type Fence struct {
	device vk.Device
	fence  vk.Fence
}

// Release implements interface
func (f *Fence) Release() {
	vk.DestroyFence(f.device, f.fence, nil)
}

// CreateFence implements interface. Fences start unsignalled.
func (d *Device) CreateFence() (gfx.Fence, error) {
	fci := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	var fence vk.Fence
	if err := vk.Error(vk.CreateFence(d.device, &fci, nil, &fence)); err != nil {
		return nil, errors.New("vk.CreateFence(): " + err.Error())
	}
	return &Fence{device: d.device, fence: fence}, nil
}

// Semaphore wraps a vk.Semaphore.
type Semaphore struct {
	device    vk.Device
	semaphore vk.Semaphore
}

// Release implements interface
func (s *Semaphore) Release() {
	vk.DestroySemaphore(s.device, s.semaphore, nil)
}

// CreateSemaphore implements interface
func (d *Device) CreateSemaphore() (gfx.Semaphore, error) {
	sci := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	if err := vk.Error(vk.CreateSemaphore(d.device, &sci, nil, &semaphore)); err != nil {
		return nil, errors.New("vk.CreateSemaphore(): " + err.Error())
	}
	return &Semaphore{device: d.device, semaphore: semaphore}, nil
}

// Submit implements interface
func (d *Device) Submit(kind gfx.QueueKind, info gfx.SubmitInfo) error {
	si := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(info.Wait)),
		CommandBufferCount:   uint32(len(info.Buffers)),
		SignalSemaphoreCount: uint32(len(info.Signal)),
	}
	for _, s := range info.Wait {
		si.PWaitSemaphores = append(si.PWaitSemaphores, s.(*Semaphore).semaphore)
		si.PWaitDstStageMask = append(si.PWaitDstStageMask, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit))
	}
	for _, b := range info.Buffers {
		si.PCommandBuffers = append(si.PCommandBuffers, b.(*CommandBuffer).cb)
	}
	for _, s := range info.Signal {
		si.PSignalSemaphores = append(si.PSignalSemaphores, s.(*Semaphore).semaphore)
	}

	var fence vk.Fence
	if info.Fence != nil {
		fence = info.Fence.(*Fence).fence
	}
	if err := translate(vk.QueueSubmit(d.queueOf(kind).queue, 1, []vk.SubmitInfo{si}, fence)); err != nil {
		return fmt.Errorf("vk.QueueSubmit(): %w", err)
	}
	return nil
}

// WaitForFence implements interface
func (d *Device) WaitForFence(fence gfx.Fence, timeout time.Duration) error {
	f := fence.(*Fence)
	result := vk.WaitForFences(d.device, 1, []vk.Fence{f.fence}, vk.True, uint(timeout.Nanoseconds()))
	if result == vk.Timeout {
		return gfx.ErrFenceTimeout
	}
	if err := translate(result); err != nil {
		return fmt.Errorf("vk.WaitForFences(): %w", err)
	}
	return nil
}

// ResetFence implements interface
func (d *Device) ResetFence(fence gfx.Fence) error {
	f := fence.(*Fence)
	if err := vk.Error(vk.ResetFences(d.device, 1, []vk.Fence{f.fence})); err != nil {
		return errors.New("vk.ResetFences(): " + err.Error())
	}
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
func (d *Device) WaitIdle() {
	vk.DeviceWaitIdle(d.device)
}

// Release implements interface
func (d *Device) Release() {
	if d.device == nil {
		return
	}
	vk.DeviceWaitIdle(d.device)
	if d.swapchain != nil {
		d.swapchain.Release()
	}
	if d.sampler != nil {
		vk.DestroySampler(d.device, d.sampler, nil)
	}
	for _, q := range []*queue{&d.graphics, &d.compute} {
		if q.pool != nil {
			vk.DestroyCommandPool(d.device, q.pool, nil)
		}
	}
	vk.DestroyDevice(d.device, nil)
	d.device = nil
}

// oneShot records and runs fn on the graphics queue and waits for it.
func (d *Device) oneShot(fn func(cb vk.CommandBuffer)) error {
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		Level:              vk.CommandBufferLevelPrimary,
		CommandPool:        d.graphics.pool,
		CommandBufferCount: 1,
	}
	commandBuffers := make([]vk.CommandBuffer, 1)
	if err := vk.Error(vk.AllocateCommandBuffers(d.device, &cbai, commandBuffers)); err != nil {
		return fmt.Errorf("vk.AllocateCommandBuffers(): %s", err.Error())
	}
	defer vk.FreeCommandBuffers(d.device, d.graphics.pool, 1, commandBuffers)
	cb := commandBuffers[0]

	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := vk.Error(vk.BeginCommandBuffer(cb, &cbbi)); err != nil {
		return fmt.Errorf("vk.BeginCommandBuffer(): %s", err.Error())
	}
	fn(cb)
	if err := vk.Error(vk.EndCommandBuffer(cb)); err != nil {
		return fmt.Errorf("vk.EndCommandBuffer(): %s", err.Error())
	}

	si := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    commandBuffers,
	}
	if err := vk.Error(vk.QueueSubmit(d.graphics.queue, 1, []vk.SubmitInfo{si}, nil)); err != nil {
		return fmt.Errorf("vk.QueueSubmit(): %s", err.Error())
	}
	vk.QueueWaitIdle(d.graphics.queue)
	return nil
}

func (d *Device) toGeneralLayout(img *Image) error {
	return d.oneShot(func(cb vk.CommandBuffer) {
		barrier := vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			OldLayout:           vk.ImageLayoutUndefined,
			NewLayout:           vk.ImageLayoutGeneral,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.image,
			DstAccessMask:       vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit),
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: aspect(img.desc.Format),
				LevelCount: uint32(max(img.desc.Mips, 1)),
				LayerCount: 1,
			},
		}
		vk.CmdPipelineBarrier(cb,
			vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
			vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
			0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	})
}

func translate(result vk.Result) error {
	switch result {
	case vk.ErrorDeviceLost:
		return gfx.ErrDeviceLost
	case vk.ErrorOutOfDate:
		return gfx.ErrOutOfDate
	}
	return vk.Error(result)
}

const noTimeout = math.MaxUint64
