// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package passes

import (
	"github.com/devblok/radiance/frame"
	"github.com/devblok/radiance/gfx"
	"github.com/devblok/radiance/render"
)

// NewVoxelClear creates the pass clearing the voxel volume. It runs once
// and deactivates itself; enable it again to clear anew.
func NewVoxelClear(resolution int) *VoxelClear {
	return &VoxelClear{
		Base:       frame.NewBase("voxel-clear", gfx.ComputeQueue, 1, "voxel-clear"),
		resolution: uint32(resolution),
	}
}

// VoxelClear zeroes the voxel image.
type VoxelClear struct {
	frame.Base

	resolution uint32
}

// Setup implements interface
func (v *VoxelClear) Setup(ctx *render.Context) error {
	n := int(v.resolution)
	if _, err := ctx.BuildImage(VoxelImage, gfx.ImageDesc{
		Extent: gfx.Extent3D{Width: n, Height: n, Depth: n},
		Format: gfx.FormatR32Uint,
		Usage:  gfx.ImageUsageStorage | gfx.ImageUsageSampled,
		Mips:   1,
	}); err != nil {
		return err
	}
	if _, err := ctx.BuildShader(VoxelClearShader); err != nil {
		return err
	}
	set, err := ctx.BuildMaterial("voxel-clear", render.MaterialDesc{Shader: VoxelClearShader})
	if err != nil {
		return err
	}
	return set.Expose(
		[]render.Field{render.Uint("Params", "resolution", &v.resolution)},
		render.StorageImage(0, VoxelImage),
	)
}

// Record implements interface
func (v *VoxelClear) Record(ctx *render.Context, cbs []gfx.CommandBuffer) error {
	pipeline, ok := ctx.Pipeline("voxel-clear")
	if !ok {
		return errNotReady("voxel-clear")
	}
	n := groups(int(v.resolution), 4)
	cbs[0].BindPipeline(pipeline)
	cbs[0].Dispatch(n, n, n)
	cbs[0].Barrier()
	return nil
}

// PostCommandSubmit implements interface
func (v *VoxelClear) PostCommandSubmit(state *render.PassState) {
	v.Base.PostCommandSubmit(state)
	state.Active = false
}
