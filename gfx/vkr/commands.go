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

// CommandBuffer records into a primary vk.CommandBuffer.
type CommandBuffer struct {
	device *Device
	cb     vk.CommandBuffer
	queue  gfx.QueueKind

	bound *Pipeline
}

// Begin implements interface
func (c *CommandBuffer) Begin() error {
	if err := vk.Error(vk.ResetCommandBuffer(c.cb, vk.CommandBufferResetFlags(vk.CommandBufferResetReleaseResourcesBit))); err != nil {
		return fmt.Errorf("vk.ResetCommandBuffer(): %s", err.Error())
	}
	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit),
	}
	if err := vk.Error(vk.BeginCommandBuffer(c.cb, &cbbi)); err != nil {
		return fmt.Errorf("vk.BeginCommandBuffer(): %s", err.Error())
	}
	c.bound = nil
	return nil
}

// End implements interface
func (c *CommandBuffer) End() error {
	if err := vk.Error(vk.EndCommandBuffer(c.cb)); err != nil {
		return fmt.Errorf("vk.EndCommandBuffer(): %s", err.Error())
	}
	return nil
}

// BindPipeline binds the pipeline together with its descriptor set.
func (c *CommandBuffer) BindPipeline(p gfx.Pipeline) {
	pipeline := p.(*Pipeline)
	vk.CmdBindPipeline(c.cb, pipeline.bindPoint, pipeline.pipeline)
	if pipeline.set != nil {
		vk.CmdBindDescriptorSets(c.cb, pipeline.bindPoint, pipeline.pipelineLayout, 0, 1, []vk.DescriptorSet{pipeline.set}, 0, nil)
	}
	c.bound = pipeline
}

// Dispatch implements interface
func (c *CommandBuffer) Dispatch(x, y, z uint32) {
	vk.CmdDispatch(c.cb, x, y, z)
}

// BeginRenderPass also sets the viewport and scissor to the framebuffer.
func (c *CommandBuffer) BeginRenderPass(rp gfx.RenderPass, fb gfx.Framebuffer, clear [4]float32) {
	pass := rp.(*RenderPass)
	framebuffer := fb.(*Framebuffer)
	extent := vk.Extent2D{
		Width:  uint32(framebuffer.extent.Width),
		Height: uint32(framebuffer.extent.Height),
	}

	clearValues := make([]vk.ClearValue, len(pass.desc.ColorFormats), len(pass.desc.ColorFormats)+1)
	for i := range clearValues {
		clearValues[i].SetColor(clear[:])
	}
	if pass.desc.DepthFormat != nil {
		var depth vk.ClearValue
		depth.SetDepthStencil(1, 0)
		clearValues = append(clearValues, depth)
	}

	rpbi := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  pass.renderPass,
		Framebuffer: framebuffer.framebuffer,
		RenderArea: vk.Rect2D{
			Extent: extent,
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(c.cb, &rpbi, vk.SubpassContentsInline)
	vk.CmdSetViewport(c.cb, 0, 1, []vk.Viewport{{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MaxDepth: 1,
	}})
	vk.CmdSetScissor(c.cb, 0, 1, []vk.Rect2D{{Extent: extent}})
}

// Draw implements interface
func (c *CommandBuffer) Draw(vertices, instances uint32) {
	vk.CmdDraw(c.cb, vertices, instances, 0, 0)
}

// EndRenderPass implements interface
func (c *CommandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(c.cb)
}

// Barrier implements interface with a global memory barrier.
func (c *CommandBuffer) Barrier() {
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit | vk.AccessColorAttachmentWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit),
	}
	vk.CmdPipelineBarrier(c.cb,
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		0, 1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
}

// BlitToPresent implements interface. Non-swapchain images live in the
// General layout, so only dst changes layout.
func (c *CommandBuffer) BlitToPresent(src, dst gfx.Image) {
	target := dst.(*Image)
	subresource := vk.ImageSubresourceRange{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LevelCount: 1,
		LayerCount: 1,
	}

	toTransfer := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		DstAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
		OldLayout:           vk.ImageLayoutUndefined,
		NewLayout:           vk.ImageLayoutTransferDstOptimal,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               target.image,
		SubresourceRange:    subresource,
	}
	toPresent := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
		OldLayout:           vk.ImageLayoutTransferDstOptimal,
		NewLayout:           vk.ImageLayoutPresentSrc,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               target.image,
		SubresourceRange:    subresource,
	}

	if src == nil {
		toPresent.SrcAccessMask = 0
		toPresent.OldLayout = vk.ImageLayoutUndefined
		vk.CmdPipelineBarrier(c.cb,
			vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
			vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
			0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{toPresent})
		return
	}

	source := src.(*Image)
	// earlier passes wrote the source as an attachment or storage image
	c.Barrier()
	vk.CmdPipelineBarrier(c.cb,
		vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{toTransfer})

	se, de := source.desc.Extent, target.desc.Extent
	layers := vk.ImageSubresourceLayers{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LayerCount: 1,
	}
	region := vk.ImageBlit{
		SrcSubresource: layers,
		SrcOffsets:     [2]vk.Offset3D{{}, {X: int32(se.Width), Y: int32(se.Height), Z: 1}},
		DstSubresource: layers,
		DstOffsets:     [2]vk.Offset3D{{}, {X: int32(de.Width), Y: int32(de.Height), Z: 1}},
	}
	vk.CmdBlitImage(c.cb,
		source.image, vk.ImageLayoutGeneral,
		target.image, vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{region}, vk.FilterLinear)

	vk.CmdPipelineBarrier(c.cb,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{toPresent})
}
