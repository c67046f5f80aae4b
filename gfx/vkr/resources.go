// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"fmt"

	"github.com/devblok/radiance/gfx"
	vk "github.com/devblok/vulkan"
)

// newBuffer creates, allocates, binds and maps a host visible buffer.
func newBuffer(dev vk.Device, size uint64, usage gfx.BufferUsage, ma *MemoryAllocator) (*Buffer, error) {
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       bufferUsage(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if err := vk.Error(vk.CreateBuffer(dev, &createInfo, nil, &buffer)); err != nil {
		return nil, fmt.Errorf("vk.CreateBuffer(): %s", err.Error())
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dev, buffer, &req)
	req.Deref()

	memory, err := ma.Malloc(req, vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	if err != nil {
		vk.DestroyBuffer(dev, buffer, nil)
		return nil, err
	}
	if err := vk.Error(vk.BindBufferMemory(dev, buffer, memory.Get(), 0)); err != nil {
		vk.DestroyBuffer(dev, buffer, nil)
		memory.Release()
		return nil, fmt.Errorf("vk.BindBufferMemory(): %s", err.Error())
	}
	if _, err := memory.Map(); err != nil {
		vk.DestroyBuffer(dev, buffer, nil)
		memory.Release()
		return nil, err
	}

	return &Buffer{
		device: dev,
		buffer: buffer,
		size:   size,
		memory: memory,
	}, nil
}

// Buffer implements a host visible vulkan buffer that stays mapped
// for its whole life.
type Buffer struct {
	device vk.Device
	buffer vk.Buffer
	size   uint64

	memory Memory
}

// Get returns the vulkan Buffer handle.
func (b *Buffer) Get() vk.Buffer {
	return b.buffer
}

// Size implements interface
func (b *Buffer) Size() uint64 {
	return b.size
}

// Write implements interface
func (b *Buffer) Write(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("write of %d bytes at %d overflows buffer of %d", len(data), offset, b.size)
	}
	copy(byteView(b.memory.mapped, int(b.size))[offset:], data)
	return nil
}

// Read implements interface
func (b *Buffer) Read(offset, length uint64) ([]byte, error) {
	if offset+length > b.size {
		return nil, fmt.Errorf("read of %d bytes at %d overflows buffer of %d", length, offset, b.size)
	}
	out := make([]byte, length)
	copy(out, byteView(b.memory.mapped, int(b.size))[offset:offset+length])
	return out, nil
}

// Release destroys the buffer and memory asociated with it.
func (b *Buffer) Release() {
	vk.DestroyBuffer(b.device, b.buffer, nil)
	b.memory.Release()
}

// newImage creates a device local image with a view over all of it.
func newImage(dev vk.Device, desc gfx.ImageDesc, ma *MemoryAllocator) (*Image, error) {
	imageType, viewType := vk.ImageType2d, vk.ImageViewType2d
	if desc.Extent.Depth > 1 {
		imageType, viewType = vk.ImageType3d, vk.ImageViewType3d
	}
	mips := desc.Mips
	if mips < 1 {
		mips = 1
	}

	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: imageType,
		Extent: vk.Extent3D{
			Width:  uint32(desc.Extent.Width),
			Height: uint32(desc.Extent.Height),
			Depth:  uint32(max(desc.Extent.Depth, 1)),
		},
		MipLevels:     uint32(mips),
		ArrayLayers:   1,
		Format:        vkFormat(desc.Format),
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         imageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		Samples:       vk.SampleCount1Bit,
	}

	var image vk.Image
	if err := vk.Error(vk.CreateImage(dev, &createInfo, nil, &image)); err != nil {
		return nil, fmt.Errorf("vk.CreateImage(): %s", err.Error())
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dev, image, &req)
	req.Deref()

	memory, err := ma.Malloc(req, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		vk.DestroyImage(dev, image, nil)
		return nil, err
	}
	if err := vk.Error(vk.BindImageMemory(dev, image, memory.Get(), 0)); err != nil {
		vk.DestroyImage(dev, image, nil)
		memory.Release()
		return nil, fmt.Errorf("vk.BindImageMemory(): %s", err.Error())
	}

	view, err := newImageView(dev, image, viewType, desc.Format, uint32(mips))
	if err != nil {
		vk.DestroyImage(dev, image, nil)
		memory.Release()
		return nil, err
	}

	return &Image{
		device: dev,
		image:  image,
		view:   view,
		desc:   desc,
		memory: &memory,
	}, nil
}

func newImageView(dev vk.Device, image vk.Image, viewType vk.ImageViewType, format gfx.Format, mips uint32) (vk.ImageView, error) {
	ivci := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: viewType,
		Format:   vkFormat(format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect(format),
			LevelCount: mips,
			LayerCount: 1,
		},
	}

	var view vk.ImageView
	if err := vk.Error(vk.CreateImageView(dev, &ivci, nil, &view)); err != nil {
		return nil, fmt.Errorf("vk.CreateImageView(): %s", err.Error())
	}
	return view, nil
}

// Image implements and abstracts vulkan image primitive. Swapchain images
// carry no memory of their own.
type Image struct {
	device vk.Device
	image  vk.Image
	view   vk.ImageView
	desc   gfx.ImageDesc

	memory *Memory
}

// Get returns the vulkan Image handle.
func (i *Image) Get() vk.Image {
	return i.image
}

// View returns the image view covering the whole image.
func (i *Image) View() vk.ImageView {
	return i.view
}

// Desc implements interface
func (i *Image) Desc() gfx.ImageDesc {
	return i.desc
}

// Release implements interface
func (i *Image) Release() {
	vk.DestroyImageView(i.device, i.view, nil)
	if i.memory != nil {
		vk.DestroyImage(i.device, i.image, nil)
		i.memory.Release()
	}
}

// ShaderModule wraps a vk.ShaderModule.
type ShaderModule struct {
	device vk.Device
	module vk.ShaderModule
	stage  gfx.ShaderStage
}

func newShaderModule(dev vk.Device, stage gfx.ShaderStage, code []byte) (*ShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("vkr.newShaderModule(): code of %d bytes", len(code))
	}
	smci := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    SliceUint32(code),
	}

	var module vk.ShaderModule
	if err := vk.Error(vk.CreateShaderModule(dev, &smci, nil, &module)); err != nil {
		return nil, fmt.Errorf("vk.CreateShaderModule(stage %d): %s", stage, err.Error())
	}
	return &ShaderModule{device: dev, module: module, stage: stage}, nil
}

// Stage implements interface
func (s *ShaderModule) Stage() gfx.ShaderStage {
	return s.stage
}

// Release implements interface
func (s *ShaderModule) Release() {
	vk.DestroyShaderModule(s.device, s.module, nil)
}
