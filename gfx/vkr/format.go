// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"github.com/devblok/radiance/gfx"
	vk "github.com/devblok/vulkan"
)

var formats = map[gfx.Format]vk.Format{
	gfx.FormatRGBA8:   vk.FormatR8g8b8a8Unorm,
	gfx.FormatBGRA8:   vk.FormatB8g8r8a8Unorm,
	gfx.FormatRGBA16F: vk.FormatR16g16b16a16Sfloat,
	gfx.FormatRG16F:   vk.FormatR16g16Sfloat,
	gfx.FormatR32F:    vk.FormatR32Sfloat,
	gfx.FormatR32Uint: vk.FormatR32Uint,
	gfx.FormatD32F:    vk.FormatD32Sfloat,
}

func vkFormat(f gfx.Format) vk.Format {
	if vf, ok := formats[f]; ok {
		return vf
	}
	return vk.FormatUndefined
}

func gfxFormat(f vk.Format) gfx.Format {
	for gf, vf := range formats {
		if vf == f {
			return gf
		}
	}
	return gfx.FormatBGRA8
}

func aspect(f gfx.Format) vk.ImageAspectFlags {
	if f == gfx.FormatD32F {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func bufferUsage(u gfx.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	bits := []struct {
		gfx gfx.BufferUsage
		vk  vk.BufferUsageFlagBits
	}{
		{gfx.BufferUsageStorage, vk.BufferUsageStorageBufferBit},
		{gfx.BufferUsageUniform, vk.BufferUsageUniformBufferBit},
		{gfx.BufferUsageVertex, vk.BufferUsageVertexBufferBit},
		{gfx.BufferUsageIndex, vk.BufferUsageIndexBufferBit},
		{gfx.BufferUsageIndirect, vk.BufferUsageIndirectBufferBit},
		{gfx.BufferUsageTransferSrc, vk.BufferUsageTransferSrcBit},
		{gfx.BufferUsageTransferDst, vk.BufferUsageTransferDstBit},
	}
	for _, b := range bits {
		if u&b.gfx != 0 {
			flags |= b.vk
		}
	}
	return vk.BufferUsageFlags(flags)
}

func imageUsage(u gfx.ImageUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	bits := []struct {
		gfx gfx.ImageUsage
		vk  vk.ImageUsageFlagBits
	}{
		{gfx.ImageUsageSampled, vk.ImageUsageSampledBit},
		{gfx.ImageUsageStorage, vk.ImageUsageStorageBit},
		{gfx.ImageUsageColorAttachment, vk.ImageUsageColorAttachmentBit},
		{gfx.ImageUsageDepthAttachment, vk.ImageUsageDepthStencilAttachmentBit},
		{gfx.ImageUsageTransferDst, vk.ImageUsageTransferDstBit},
		{gfx.ImageUsageTransferSrc, vk.ImageUsageTransferSrcBit},
	}
	for _, b := range bits {
		if u&b.gfx != 0 {
			flags |= b.vk
		}
	}
	return vk.ImageUsageFlags(flags)
}

func descriptorType(k gfx.DescriptorKind) vk.DescriptorType {
	switch k {
	case gfx.SampledImageDescriptor:
		return vk.DescriptorTypeCombinedImageSampler
	case gfx.StorageImageDescriptor:
		return vk.DescriptorTypeStorageImage
	case gfx.UniformBufferDescriptor:
		return vk.DescriptorTypeUniformBuffer
	default:
		return vk.DescriptorTypeStorageBuffer
	}
}

func shaderStage(s gfx.ShaderStage) vk.ShaderStageFlagBits {
	switch s {
	case gfx.VertexStage:
		return vk.ShaderStageVertexBit
	case gfx.FragmentStage:
		return vk.ShaderStageFragmentBit
	default:
		return vk.ShaderStageComputeBit
	}
}
