// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package passes contains the stock passes of the renderer.
package passes

import (
	"github.com/devblok/radiance/frame"
	"github.com/devblok/radiance/gfx"
)

// Shader names
const (
	VoxelClearShader = "voxel_clear"
	PrefixSumShader  = "prefix_sum"
	LightingShader   = "lighting"
)

// Shared resource names
const (
	VoxelImage      = "voxels"
	OccupancyBuffer = "occupancy"
	PrefixBuffer    = "prefix-sums"
	LightingTarget  = "lighting.color"
)

// Config sizes the stock passes.
type Config struct {
	VoxelResolution int          `toml:"voxel_resolution"`
	MaxElements     uint32       `toml:"max_elements"`
	Extent          gfx.Extent3D `toml:"-"`
}

// DefaultConfig returns a small working configuration.
func DefaultConfig() Config {
	return Config{
		VoxelResolution: 64,
		MaxElements:     64 * 64 * 64,
		Extent:          gfx.Extent3D{Width: 1280, Height: 720, Depth: 1},
	}
}

// Stock returns the stock passes in execution order with their signals
// connected.
func Stock(cfg Config) []frame.Pass {
	clear := NewVoxelClear(cfg.VoxelResolution)
	prefix := NewPrefixSum(cfg.MaxElements)
	lighting := NewLighting(cfg.Extent)
	prefix.OccupiedCount.Connect(lighting.SetLightCount)
	return []frame.Pass{clear, prefix, lighting}
}

func groups(n, local int) uint32 {
	return uint32((n + local - 1) / local)
}
