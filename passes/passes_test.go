// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package passes_test

import (
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/devblok/radiance/frame"
	"github.com/devblok/radiance/gfx"
	"github.com/devblok/radiance/gfx/headless"
	"github.com/devblok/radiance/passes"
	"github.com/devblok/radiance/render"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type programs map[string]*render.ShaderProgram

func (p programs) Compile(name string) (*render.ShaderProgram, error) {
	prog, ok := p[name]
	if !ok {
		return nil, fmt.Errorf("shader %q not found", name)
	}
	return prog, nil
}

func compute(fields ...render.ReflectedField) *render.ShaderProgram {
	return &render.ShaderProgram{
		Kind:   gfx.ComputeProgram,
		Stages: []render.StageCode{{Stage: gfx.ComputeStage, Code: []byte{1}}},
		Fields: fields,
	}
}

var stock = programs{
	passes.VoxelClearShader: compute(
		render.ReflectedField{Type: render.UintField, Struct: "Params", Field: "resolution", Offset: 0, Slot: 1},
	),
	passes.PrefixSumShader: compute(
		render.ReflectedField{Type: render.UintField, Struct: "Scan", Field: "count", Offset: 0, Slot: 2},
		render.ReflectedField{Type: render.UintField, Struct: "Scan", Field: "phase", Offset: 4, Slot: 2},
	),
	passes.LightingShader: {
		Kind: gfx.GraphicsProgram,
		Stages: []render.StageCode{
			{Stage: gfx.VertexStage, Code: []byte{1}},
			{Stage: gfx.FragmentStage, Code: []byte{2}},
		},
		Fields: []render.ReflectedField{
			{Type: render.Mat4Field, Struct: "Camera", Field: "viewProjection", Offset: 0, Slot: 2},
			{Type: render.Vec3Field, Struct: "Camera", Field: "position", Offset: 64, Slot: 2},
			{Type: render.UintField, Struct: "Camera", Field: "lightCount", Offset: 76, Slot: 2},
		},
	},
}

type fixture struct {
	device   *headless.Device
	ctx      *render.Context
	sched    *frame.Scheduler
	lighting *passes.Lighting
}

func newFixture(t *testing.T) *fixture {
	logger, _ := test.NewNullLogger()
	device := headless.New(headless.WithSwapchain(3, gfx.Extent3D{Width: 320, Height: 240, Depth: 1}))
	ctx, err := render.NewContext(device, stock, logger)
	require.NoError(t, err)
	sched, err := frame.NewScheduler(ctx, frame.DefaultOptions())
	require.NoError(t, err)

	cfg := passes.Config{
		VoxelResolution: 8,
		MaxElements:     1024,
		Extent:          gfx.Extent3D{Width: 320, Height: 240, Depth: 1},
	}
	f := &fixture{device: device, ctx: ctx, sched: sched}
	for _, p := range passes.Stock(cfg) {
		require.NoError(t, sched.Add(p))
		if l, ok := p.(*passes.Lighting); ok {
			f.lighting = l
		}
	}
	require.NotNil(t, f.lighting)
	ctx.Activate()
	return f
}

func (f *fixture) commands(t *testing.T, pass string) []string {
	state, ok := f.ctx.Pass(pass)
	require.True(t, ok)
	var cmds []string
	for _, cb := range state.CommandBuffers {
		cmds = append(cmds, cb.(*headless.CommandBuffer).Commands...)
	}
	return cmds
}

func TestStockFrames(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.sched.Frame(16*time.Millisecond))
	assert.EqualValues(t, 4, f.sched.Submitted(), "clear, two scan steps and lighting")

	require.NoError(t, f.sched.Frame(16*time.Millisecond))
	assert.EqualValues(t, 7, f.sched.Submitted(), "clear only runs once")

	clear, _ := f.ctx.Pass("voxel-clear")
	assert.False(t, clear.Active)
	assert.Equal(t, []string{"bind voxel-clear", "dispatch 2 2 2", "barrier"}, f.commands(t, "voxel-clear"))
	assert.Equal(t, []string{
		"bind prefix-sum", "dispatch 4 1 1", "barrier",
		"bind prefix-sum", "dispatch 4 1 1", "barrier",
	}, f.commands(t, "prefix-sum"))
	assert.Equal(t, []string{
		"begin-render-pass 320x240", "bind lighting", "draw 3 1", "end-render-pass",
	}, f.commands(t, "lighting"))

	// re-enabling the clear runs it once more
	f.sched.Control() <- frame.Control{Command: frame.Enable, Pass: "voxel-clear"}
	require.NoError(t, f.sched.Frame(16*time.Millisecond))
	assert.EqualValues(t, 11, f.sched.Submitted())
}

func TestOccupiedCountReachesLighting(t *testing.T) {
	f := newFixture(t)

	prefix, ok := f.ctx.Buffer(passes.PrefixBuffer)
	require.True(t, ok)
	total := make([]byte, 4)
	binary.LittleEndian.PutUint32(total, 42)
	require.NoError(t, prefix.Write(1023*4, total))

	require.NoError(t, f.sched.Frame(16*time.Millisecond))
	assert.EqualValues(t, 42, f.lighting.LightCount())

	// uploaded within the same frame, after the scan finished
	cell, ok := f.ctx.Buffer("lighting.uniforms")
	require.True(t, ok)
	data, err := cell.Read(76, 4)
	require.NoError(t, err)
	assert.EqualValues(t, 42, binary.LittleEndian.Uint32(data))

	scan, ok := f.ctx.Buffer("prefix-sum.uniforms")
	require.True(t, ok)
	data, err = scan.Read(4, 4)
	require.NoError(t, err)
	assert.EqualValues(t, 1, binary.LittleEndian.Uint32(data), "second step runs with phase 1")
}

func TestLightingFollowsResize(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sched.Frame(16*time.Millisecond))

	require.NoError(t, f.ctx.ResizeImage(passes.LightingTarget, gfx.Extent3D{Width: 640, Height: 480, Depth: 1}))
	require.NoError(t, f.sched.Frame(16*time.Millisecond))

	assert.Equal(t, "begin-render-pass 640x480", f.commands(t, "lighting")[0])
}

func TestCameraOrbits(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sched.Frame(time.Second))
	_, first := f.lighting.Camera()
	require.NoError(t, f.sched.Frame(time.Second))
	vp, second := f.lighting.Camera()

	assert.NotEqual(t, first, second)
	assert.InDelta(t, first.Len(), second.Len(), 1e-4, "orbit keeps the distance")
	assert.NotEqual(t, float32(0), vp.Det())
}
