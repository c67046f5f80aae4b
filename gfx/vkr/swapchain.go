// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"errors"

	"github.com/devblok/radiance/gfx"
	vk "github.com/devblok/vulkan"
)

// Swapchain implements gfx.Swapchain over a window surface.
type Swapchain struct {
	device    *Device
	size      uint32
	swapchain vk.Swapchain
	images    []gfx.Image
	extent    gfx.Extent3D
	format    gfx.Format
}

func newSwapchain(d *Device, size uint32, extent gfx.Extent3D) (*Swapchain, error) {
	s := &Swapchain{device: d, size: size}
	if err := s.create(extent); err != nil {
		s.Release()
		return nil, err
	}
	return s, nil
}

// Recreate implements interface. The old swapchain is retired once the new
// one exists.
func (s *Swapchain) Recreate(extent gfx.Extent3D) error {
	vk.DeviceWaitIdle(s.device.device)
	s.releaseImages()
	return s.create(extent)
}

// create builds the swapchain, replacing s.swapchain when it is set.
func (s *Swapchain) create(extent gfx.Extent3D) error {
	d := s.device
	var surfaceCapabilities vk.SurfaceCapabilities
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceCapabilities(d.physical, d.surface, &surfaceCapabilities)); err != nil {
		return errors.New("vk.GetPhysicalDeviceSurfaceCapabilities(): " + err.Error())
	}
	surfaceCapabilities.Deref()
	surfaceCapabilities.CurrentExtent.Deref()
	if w := surfaceCapabilities.CurrentExtent.Width; w != 0 && w != ^uint32(0) {
		extent.Width = int(w)
		extent.Height = int(surfaceCapabilities.CurrentExtent.Height)
	}
	extent.Depth = 1

	var surfaceFormatCount uint32
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &surfaceFormatCount, nil)); err != nil {
		return errors.New("vk.GetPhysicalDeviceSurfaceFormats(): " + err.Error())
	}
	if surfaceFormatCount == 0 {
		return errors.New("vk.GetPhysicalDeviceSurfaceFormats(): no formats")
	}
	surfaceFormats := make([]vk.SurfaceFormat, surfaceFormatCount)
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &surfaceFormatCount, surfaceFormats)); err != nil {
		return errors.New("vk.GetPhysicalDeviceSurfaceFormats(): " + err.Error())
	}
	surfaceFormats[0].Deref()

	compositeAlpha := vk.CompositeAlphaOpaqueBit
	for _, flag := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if surfaceCapabilities.SupportedCompositeAlpha&vk.CompositeAlphaFlags(flag) != 0 {
			compositeAlpha = flag
			break
		}
	}

	scci := vk.SwapchainCreateInfo{
		SType:           vk.StructureTypeSwapchainCreateInfo,
		Surface:         d.surface,
		MinImageCount:   s.size,
		ImageFormat:     surfaceFormats[0].Format,
		ImageColorSpace: surfaceFormats[0].ColorSpace,
		ImageExtent: vk.Extent2D{
			Width:  uint32(extent.Width),
			Height: uint32(extent.Height),
		},
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:     vk.SurfaceTransformIdentityBit,
		CompositeAlpha:   compositeAlpha,
		PresentMode:      vk.PresentModeFifo,
		Clipped:          vk.True,
		ImageArrayLayers: 1,
		ImageSharingMode: vk.SharingModeExclusive,
		OldSwapchain:     s.swapchain,
	}
	var swapchain vk.Swapchain
	if err := vk.Error(vk.CreateSwapchain(d.device, &scci, nil, &swapchain)); err != nil {
		return errors.New("vk.CreateSwapchain(): " + err.Error())
	}
	if s.swapchain != vk.NullSwapchain {
		vk.DestroySwapchain(d.device, s.swapchain, nil)
	}
	s.swapchain = swapchain
	s.extent = extent
	s.format = gfxFormat(surfaceFormats[0].Format)

	var numImages uint32
	if err := vk.Error(vk.GetSwapchainImages(d.device, swapchain, &numImages, nil)); err != nil {
		return errors.New("vk.GetSwapchainImages(num): " + err.Error())
	}
	images := make([]vk.Image, numImages)
	if err := vk.Error(vk.GetSwapchainImages(d.device, swapchain, &numImages, images)); err != nil {
		return errors.New("vk.GetSwapchainImages(images): " + err.Error())
	}
	for _, img := range images {
		view, err := newImageView(d.device, img, vk.ImageViewType2d, s.format, 1)
		if err != nil {
			return err
		}
		s.images = append(s.images, &Image{
			device: d.device,
			image:  img,
			view:   view,
			desc: gfx.ImageDesc{
				Extent: extent,
				Format: s.format,
				Usage:  gfx.ImageUsageColorAttachment | gfx.ImageUsageTransferDst,
				Mips:   1,
			},
		})
	}
	return nil
}

// Acquire implements interface
func (s *Swapchain) Acquire(signal gfx.Semaphore) (uint32, error) {
	var index uint32
	result := vk.AcquireNextImage(s.device.device, s.swapchain, noTimeout, signal.(*Semaphore).semaphore, nil, &index)
	if result == vk.Suboptimal {
		return index, nil
	}
	if err := translate(result); err != nil {
		return 0, err
	}
	return index, nil
}

// Present implements interface
func (s *Swapchain) Present(wait gfx.Semaphore, index uint32) error {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{wait.(*Semaphore).semaphore},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.swapchain},
		PImageIndices:      []uint32{index},
	}
	result := vk.QueuePresent(s.device.graphics.queue, &presentInfo)
	if result == vk.Suboptimal {
		return nil
	}
	return translate(result)
}

// Images implements interface
func (s *Swapchain) Images() []gfx.Image {
	return s.images
}

// Extent implements interface
func (s *Swapchain) Extent() gfx.Extent3D {
	return s.extent
}

func (s *Swapchain) releaseImages() {
	for _, img := range s.images {
		img.Release()
	}
	s.images = nil
}

// Release destroys the image views and the swapchain.
func (s *Swapchain) Release() {
	s.releaseImages()
	if s.swapchain != vk.NullSwapchain {
		vk.DestroySwapchain(s.device.device, s.swapchain, nil)
		s.swapchain = vk.NullSwapchain
	}
}
