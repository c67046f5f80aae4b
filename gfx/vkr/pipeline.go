// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"errors"
	"fmt"

	"github.com/devblok/radiance/gfx"
	vk "github.com/devblok/vulkan"
)

// RenderPass wraps a vk.RenderPass together with its description.
type RenderPass struct {
	device     vk.Device
	renderPass vk.RenderPass
	desc       gfx.RenderPassDesc
}

func newRenderPass(dev vk.Device, desc gfx.RenderPassDesc) (*RenderPass, error) {
	finalLayout := vk.ImageLayoutGeneral
	if desc.Present {
		finalLayout = vk.ImageLayoutPresentSrc
	}

	var (
		attachments []vk.AttachmentDescription
		colorRefs   []vk.AttachmentReference
	)
	for i, f := range desc.ColorFormats {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         vkFormat(f),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    finalLayout,
		})
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}
	if desc.DepthFormat != nil {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         vkFormat(*desc.DepthFormat),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(attachments) - 1),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
	}

	rpci := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var renderPass vk.RenderPass
	if err := vk.Error(vk.CreateRenderPass(dev, &rpci, nil, &renderPass)); err != nil {
		return nil, errors.New("vk.CreateRenderPass(): " + err.Error())
	}
	return &RenderPass{device: dev, renderPass: renderPass, desc: desc}, nil
}

// Release implements interface
func (r *RenderPass) Release() {
	vk.DestroyRenderPass(r.device, r.renderPass, nil)
}

// Framebuffer wraps a vk.Framebuffer.
type Framebuffer struct {
	device      vk.Device
	framebuffer vk.Framebuffer
	extent      gfx.Extent3D
}

func newFramebuffer(dev vk.Device, rp gfx.RenderPass, attachments []gfx.Image, extent gfx.Extent3D) (*Framebuffer, error) {
	pass, ok := rp.(*RenderPass)
	if !ok {
		return nil, errors.New("vkr.newFramebuffer(): foreign render pass")
	}
	views := make([]vk.ImageView, len(attachments))
	for i, a := range attachments {
		img, ok := a.(*Image)
		if !ok {
			return nil, errors.New("vkr.newFramebuffer(): foreign image")
		}
		views[i] = img.view
	}

	fci := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass.renderPass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           uint32(extent.Width),
		Height:          uint32(extent.Height),
		Layers:          1,
	}
	var framebuffer vk.Framebuffer
	if err := vk.Error(vk.CreateFramebuffer(dev, &fci, nil, &framebuffer)); err != nil {
		return nil, errors.New("vk.CreateFramebuffer(): " + err.Error())
	}
	return &Framebuffer{device: dev, framebuffer: framebuffer, extent: extent}, nil
}

// Extent implements interface
func (f *Framebuffer) Extent() gfx.Extent3D {
	return f.extent
}

// Release implements interface
func (f *Framebuffer) Release() {
	vk.DestroyFramebuffer(f.device, f.framebuffer, nil)
}

// Pipeline owns a pipeline, its layout and a single descriptor set
// allocated from a pool of its own.
type Pipeline struct {
	device    *Device
	bindPoint vk.PipelineBindPoint
	layout    []gfx.LayoutBinding

	setLayout      vk.DescriptorSetLayout
	pipelineLayout vk.PipelineLayout
	pool           vk.DescriptorPool
	set            vk.DescriptorSet
	pipeline       vk.Pipeline
}

func newPipeline(d *Device, desc gfx.PipelineDesc) (*Pipeline, error) {
	p := &Pipeline{
		device:    d,
		bindPoint: vk.PipelineBindPointCompute,
		layout:    desc.Layout,
	}
	if desc.Program == gfx.GraphicsProgram {
		p.bindPoint = vk.PipelineBindPointGraphics
	}

	if err := p.createLayout(); err != nil {
		p.Release()
		return nil, fmt.Errorf("pipeline %s: %w", desc.Name, err)
	}

	stages := make([]vk.PipelineShaderStageCreateInfo, len(desc.Modules))
	for i, m := range desc.Modules {
		module, ok := m.(*ShaderModule)
		if !ok {
			p.Release()
			return nil, errors.New("failed to assert shader module to it's original type")
		}
		stages[i] = vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  shaderStage(module.stage),
			Module: module.module,
			PName:  safeString("main"),
		}
	}

	var err error
	if desc.Program == gfx.ComputeProgram {
		err = p.createCompute(stages)
	} else {
		err = p.createGraphics(stages, desc.RenderPass)
	}
	if err != nil {
		p.Release()
		return nil, fmt.Errorf("pipeline %s: %w", desc.Name, err)
	}
	return p, nil
}

func (p *Pipeline) createLayout() error {
	dev := p.device.device
	bindings := make([]vk.DescriptorSetLayoutBinding, len(p.layout))
	counts := make(map[vk.DescriptorType]uint32)
	for i, b := range p.layout {
		t := descriptorType(b.Kind)
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Slot,
			DescriptorType:  t,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageAll),
		}
		counts[t]++
	}

	dslci := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var setLayout vk.DescriptorSetLayout
	if err := vk.Error(vk.CreateDescriptorSetLayout(dev, &dslci, nil, &setLayout)); err != nil {
		return errors.New("vk.CreateDescriptorSetLayout(): " + err.Error())
	}
	p.setLayout = setLayout

	plci := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{setLayout},
	}
	var pipelineLayout vk.PipelineLayout
	if err := vk.Error(vk.CreatePipelineLayout(dev, &plci, nil, &pipelineLayout)); err != nil {
		return errors.New("vk.CreatePipelineLayout(): " + err.Error())
	}
	p.pipelineLayout = pipelineLayout

	if len(bindings) == 0 {
		return nil
	}

	var poolSizes []vk.DescriptorPoolSize
	for t, n := range counts {
		poolSizes = append(poolSizes, vk.DescriptorPoolSize{Type: t, DescriptorCount: n})
	}
	dpci := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	var pool vk.DescriptorPool
	if err := vk.Error(vk.CreateDescriptorPool(dev, &dpci, nil, &pool)); err != nil {
		return errors.New("vk.CreateDescriptorPool(): " + err.Error())
	}
	p.pool = pool

	dsai := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{setLayout},
	}
	var set vk.DescriptorSet
	if err := vk.Error(vk.AllocateDescriptorSets(dev, &dsai, &set)); err != nil {
		return errors.New("vk.AllocateDescriptorSets(): " + err.Error())
	}
	p.set = set
	return nil
}

func (p *Pipeline) createCompute(stages []vk.PipelineShaderStageCreateInfo) error {
	if len(stages) != 1 {
		return fmt.Errorf("compute pipeline with %d stages", len(stages))
	}
	cpci := []vk.ComputePipelineCreateInfo{{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Stage:  stages[0],
		Layout: p.pipelineLayout,
	}}
	pipelines := make([]vk.Pipeline, 1)
	if err := vk.Error(vk.CreateComputePipelines(p.device.device, nil, 1, cpci, nil, pipelines)); err != nil {
		return errors.New("vk.CreateComputePipelines(): " + err.Error())
	}
	p.pipeline = pipelines[0]
	return nil
}

// createGraphics builds a pipeline without vertex input, the stock
// passes generate their geometry in the vertex stage.
func (p *Pipeline) createGraphics(stages []vk.PipelineShaderStageCreateInfo, rp gfx.RenderPass) error {
	pass, ok := rp.(*RenderPass)
	if !ok {
		return errors.New("graphics pipeline without a render pass")
	}

	blend := make([]vk.PipelineColorBlendAttachmentState, len(pass.desc.ColorFormats))
	for i := range blend {
		blend[i] = vk.PipelineColorBlendAttachmentState{
			ColorWriteMask: 0xF,
			BlendEnable:    vk.False,
		}
	}

	gpci := []vk.GraphicsPipelineCreateInfo{{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: vk.PrimitiveTopologyTriangleList,
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonModeFill,
			CullMode:    vk.CullModeFlags(vk.CullModeNone),
			FrontFace:   vk.FrontFaceCounterClockwise,
			LineWidth:   1.0,
		},
		PDepthStencilState: &vk.PipelineDepthStencilStateCreateInfo{
			SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:  boolean(pass.desc.DepthFormat != nil),
			DepthWriteEnable: boolean(pass.desc.DepthFormat != nil),
			DepthCompareOp:   vk.CompareOpLess,
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vk.SampleCount1Bit,
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			AttachmentCount: uint32(len(blend)),
			PAttachments:    blend,
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: 2,
			PDynamicStates: []vk.DynamicState{
				vk.DynamicStateScissor,
				vk.DynamicStateViewport,
			},
		},
		Layout:     p.pipelineLayout,
		RenderPass: pass.renderPass,
	}}

	pipelines := make([]vk.Pipeline, 1)
	if err := vk.Error(vk.CreateGraphicsPipelines(p.device.device, nil, 1, gpci, nil, pipelines)); err != nil {
		return errors.New("vk.CreateGraphicsPipelines(): " + err.Error())
	}
	p.pipeline = pipelines[0]
	return nil
}

// WriteDescriptors implements interface
func (p *Pipeline) WriteDescriptors(writes []gfx.DescriptorWrite) error {
	if len(writes) == 0 {
		return nil
	}
	if p.set == nil {
		return errors.New("vkr.WriteDescriptors(): pipeline has no descriptors")
	}

	wds := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		if !p.declares(w.Slot, w.Kind) {
			return fmt.Errorf("vkr.WriteDescriptors(): slot %d is not a %s", w.Slot, w.Kind)
		}
		wd := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          p.set,
			DstBinding:      w.Slot,
			DescriptorType:  descriptorType(w.Kind),
			DescriptorCount: 1,
		}
		if w.Kind.IsImage() {
			img, ok := w.Image.(*Image)
			if !ok {
				return fmt.Errorf("vkr.WriteDescriptors(): slot %d needs an image", w.Slot)
			}
			info := vk.DescriptorImageInfo{
				ImageView:   img.view,
				ImageLayout: vk.ImageLayoutGeneral,
			}
			if w.Kind == gfx.SampledImageDescriptor {
				info.Sampler = p.device.sampler
			}
			wd.PImageInfo = []vk.DescriptorImageInfo{info}
		} else {
			buf, ok := w.Buffer.(*Buffer)
			if !ok {
				return fmt.Errorf("vkr.WriteDescriptors(): slot %d needs a buffer", w.Slot)
			}
			wd.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buf.buffer,
				Range:  vk.DeviceSize(buf.size),
			}}
		}
		wds = append(wds, wd)
	}
	vk.UpdateDescriptorSets(p.device.device, uint32(len(wds)), wds, 0, nil)
	return nil
}

func (p *Pipeline) declares(slot uint32, kind gfx.DescriptorKind) bool {
	for _, b := range p.layout {
		if b.Slot == slot && b.Kind == kind {
			return true
		}
	}
	return false
}

// Release implements interface
func (p *Pipeline) Release() {
	dev := p.device.device
	if p.pipeline != nil {
		vk.DestroyPipeline(dev, p.pipeline, nil)
	}
	if p.pool != nil {
		vk.DestroyDescriptorPool(dev, p.pool, nil)
	}
	if p.pipelineLayout != nil {
		vk.DestroyPipelineLayout(dev, p.pipelineLayout, nil)
	}
	if p.setLayout != nil {
		vk.DestroyDescriptorSetLayout(dev, p.setLayout, nil)
	}
}

func boolean(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}
