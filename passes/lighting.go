// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package passes

import (
	"fmt"
	"time"

	"github.com/devblok/radiance/frame"
	"github.com/devblok/radiance/gfx"
	"github.com/devblok/radiance/render"
	"github.com/go-gl/mathgl/mgl32"
)

const orbitSpeed = 0.25 // radians per second

// NewLighting creates the graphics pass shading a full screen triangle into
// the lighting target.
func NewLighting(extent gfx.Extent3D) *Lighting {
	return &Lighting{
		Base:     frame.NewBase("lighting", gfx.GraphicsQueue, 1, "lighting"),
		extent:   extent,
		position: mgl32.Vec3{0, 2, 6},
	}
}

// Lighting resolves the voxel volume with a camera orbiting the origin.
type Lighting struct {
	frame.Base

	extent gfx.Extent3D
	angle  float32
	fb     gfx.Framebuffer

	viewProjection mgl32.Mat4
	position       mgl32.Vec3
	lightCount     uint32
}

// SetLightCount is connected to the prefix sum result.
func (l *Lighting) SetLightCount(n uint32) {
	l.lightCount = n
}

// LightCount returns the last received light count.
func (l *Lighting) LightCount() uint32 {
	return l.lightCount
}

// Camera returns the current view projection matrix and eye position.
func (l *Lighting) Camera() (mgl32.Mat4, mgl32.Vec3) {
	return l.viewProjection, l.position
}

// Setup implements interface
func (l *Lighting) Setup(ctx *render.Context) error {
	if _, err := ctx.BuildRenderPass("lighting", gfx.RenderPassDesc{
		ColorFormats: []gfx.Format{gfx.FormatRGBA16F},
	}); err != nil {
		return err
	}
	if _, err := ctx.BuildImage(LightingTarget, gfx.ImageDesc{
		Extent: l.extent,
		Format: gfx.FormatRGBA16F,
		Usage:  gfx.ImageUsageColorAttachment | gfx.ImageUsageSampled | gfx.ImageUsageTransferSrc,
		Mips:   1,
	}); err != nil {
		return err
	}
	if err := ctx.BuildFramebuffer("lighting", "lighting", LightingTarget); err != nil {
		return err
	}
	if _, err := ctx.BuildShader(LightingShader); err != nil {
		return err
	}
	set, err := ctx.BuildMaterial("lighting", render.MaterialDesc{
		Shader:     LightingShader,
		RenderPass: "lighting",
	})
	if err != nil {
		return err
	}
	return set.Expose(
		[]render.Field{
			render.Mat4("Camera", "viewProjection", &l.viewProjection),
			render.Vec3("Camera", "position", &l.position),
			render.Uint("Camera", "lightCount", &l.lightCount),
		},
		render.StorageBuffer(0, PrefixBuffer),
		render.SampledImage(1, VoxelImage),
	)
}

// Prepare implements interface
func (l *Lighting) Prepare(ctx *render.Context, dt time.Duration) error {
	l.angle += orbitSpeed * float32(dt.Seconds())
	rot := mgl32.HomogRotate3DY(l.angle)
	l.position = rot.Mul4x1(mgl32.Vec4{0, 2, 6, 1}).Vec3()

	aspect := float32(l.extent.Width) / float32(l.extent.Height)
	proj := mgl32.Perspective(mgl32.DegToRad(60), aspect, 0.1, 100)
	view := mgl32.LookAtV(l.position, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0})
	l.viewProjection = proj.Mul4(view)

	// a resized target rebuilds the framebuffer, which needs a new recording
	fb, ok := ctx.Framebuffer("lighting")
	if !ok {
		return fmt.Errorf("lighting framebuffer unavailable")
	}
	if fb != l.fb {
		l.extent = fb.Extent()
		if state, ok := ctx.Pass(l.Name()); ok {
			state.NeedsRecord = true
		}
	}
	return nil
}

// Record implements interface
func (l *Lighting) Record(ctx *render.Context, cbs []gfx.CommandBuffer) error {
	pipeline, ok := ctx.Pipeline("lighting")
	if !ok {
		return errNotReady("lighting")
	}
	fb, ok := ctx.Framebuffer("lighting")
	if !ok {
		return fmt.Errorf("lighting framebuffer unavailable")
	}
	rp, ok := ctx.RenderPasses.Get("lighting")
	if !ok {
		return fmt.Errorf("lighting render pass unavailable")
	}
	l.fb = fb

	cb := cbs[0]
	cb.BeginRenderPass(rp.Value.RenderPass, fb, [4]float32{0, 0, 0, 1})
	cb.BindPipeline(pipeline)
	cb.Draw(3, 1)
	cb.EndRenderPass()
	return nil
}
