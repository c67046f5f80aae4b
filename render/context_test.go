// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package render_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/devblok/radiance/gfx"
	"github.com/devblok/radiance/gfx/headless"
	"github.com/devblok/radiance/render"
	"github.com/devblok/radiance/resource"
	"github.com/go-gl/mathgl/mgl32"
	log "github.com/sirupsen/logrus"
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

func computeProgram(fields ...render.ReflectedField) *render.ShaderProgram {
	return &render.ShaderProgram{
		Kind:   gfx.ComputeProgram,
		Stages: []render.StageCode{{Stage: gfx.ComputeStage, Code: []byte{0x03, 0x02, 0x23, 0x07}}},
		Fields: fields,
	}
}

var texDesc = gfx.ImageDesc{
	Extent: gfx.Extent3D{Width: 64, Height: 64, Depth: 1},
	Format: gfx.FormatRGBA8,
	Usage:  gfx.ImageUsageSampled,
	Mips:   1,
}

type fixture struct {
	device *headless.Device
	ctx    *render.Context
	hook   *test.Hook
	progs  programs
}

func newFixture(t *testing.T) *fixture {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	progs := programs{
		"blur": computeProgram(
			render.ReflectedField{Type: render.FloatField, Struct: "Data", Field: "size", Offset: 0, Slot: 2},
			render.ReflectedField{Type: render.Vec3Field, Struct: "Data", Field: "color", Offset: 16, Slot: 2},
		),
	}
	device := headless.New()
	ctx, err := render.NewContext(device, progs, logger)
	require.NoError(t, err)
	return &fixture{device: device, ctx: ctx, hook: hook, progs: progs}
}

type blurParams struct {
	size  float32
	color mgl32.Vec3
}

func (p *blurParams) fields() []render.Field {
	return []render.Field{
		render.Float("Data", "size", &p.size),
		render.Vec3("Data", "color", &p.color),
	}
}

// setupBlur builds Tex0, a storage buffer B, the blur shader and a material
// M owned by pass P, then activates the context.
func (f *fixture) setupBlur(t *testing.T, params *blurParams) *render.BindingSet {
	_, err := f.ctx.BuildImage("Tex0", texDesc)
	require.NoError(t, err)
	_, err = f.ctx.BuildBuffer("B", 256, gfx.BufferUsageStorage)
	require.NoError(t, err)
	_, err = f.ctx.BuildShader("blur")
	require.NoError(t, err)

	set, err := f.ctx.BuildMaterial("M", render.MaterialDesc{Shader: "blur"})
	require.NoError(t, err)
	require.NoError(t, set.Expose(params.fields(),
		render.SampledImage(0, "Tex0"),
		render.StorageBuffer(1, "B"),
	))
	_, err = f.ctx.RegisterPass("P", gfx.ComputeQueue, "M")
	require.NoError(t, err)

	f.ctx.Activate()
	return set
}

func TestBuildBufferTwiceAllocatesOnce(t *testing.T) {
	f := newFixture(t)

	first, err := f.ctx.BuildBuffer("A", 100, gfx.BufferUsageStorage)
	require.NoError(t, err)
	second, err := f.ctx.BuildBuffer("A", 100, gfx.BufferUsageStorage)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, f.device.Created().Buffers)
	assert.Equal(t, []render.BufferInfo{{Name: "A", Size: 100}}, f.ctx.BufferInfo())
}

func TestBuildShaderFailure(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctx.BuildShader("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, resource.ErrBuildFailure))
	assert.Equal(t, 0, f.ctx.Shaders.Len())
}

func TestMaterialBecomesReady(t *testing.T) {
	f := newFixture(t)
	params := &blurParams{size: 2, color: mgl32.Vec3{1, 0, 0}}
	set := f.setupBlur(t, params)

	assert.Equal(t, render.Exposed, set.State())
	require.True(t, f.ctx.UpdateMaterial("M"))
	assert.Equal(t, render.Ready, set.State())

	rec, _ := f.ctx.Materials.Get("M")
	assert.True(t, rec.Ready())

	// ready implies every field matched and every binding resolved
	assert.Len(t, set.Fields(), 2)
	for _, b := range set.Bindings() {
		assert.True(t, b.Resolved(), b.Name)
	}
	assert.EqualValues(t, 32, set.Size())

	pipeline, ok := f.ctx.Pipeline("M")
	require.True(t, ok)
	hp := pipeline.(*headless.Pipeline)
	assert.Len(t, hp.Writes, 3)
	assert.Equal(t, gfx.UniformBufferDescriptor, hp.Writes[2].Kind)

	pass, _ := f.ctx.Pass("P")
	assert.True(t, pass.NeedsRecord)
}

func TestMatchFailureIsPermanent(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctx.BuildShader("blur")
	require.NoError(t, err)

	var sizeX float32
	set, err := f.ctx.BuildMaterial("M", render.MaterialDesc{Shader: "blur"})
	require.NoError(t, err)
	require.NoError(t, set.Expose([]render.Field{render.Float("Data", "sizeX", &sizeX)}))
	f.ctx.Activate()

	for i := 0; i < 3; i++ {
		assert.False(t, f.ctx.UpdateMaterial("M"))
	}
	assert.Equal(t, render.Exposed, set.State())
	assert.True(t, set.Unbindable())

	errorsLogged := 0
	for _, e := range f.hook.AllEntries() {
		if e.Level == log.ErrorLevel {
			errorsLogged++
			assert.Contains(t, e.Message, "Data.sizeX")
		}
	}
	assert.Equal(t, 1, errorsLogged, "match failure must be logged once")
}

func TestMatchErrorListsFields(t *testing.T) {
	var a, b float32
	shader := &render.Shader{Program: computeProgram(
		render.ReflectedField{Type: render.FloatField, Struct: "Data", Field: "size"},
	)}
	f := newFixture(t)
	set, err := f.ctx.BuildMaterial("M", render.MaterialDesc{Shader: "blur"})
	require.NoError(t, err)
	require.NoError(t, set.Expose([]render.Field{
		render.Float("Data", "size", &a),
		render.Float("Data", "sizeX", &b),
	}))

	err = set.Match(shader)
	var merr *render.MatchError
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Unmatched, 1)
	assert.Equal(t, "sizeX", merr.Unmatched[0].Name)
	assert.Equal(t, render.Exposed, set.State())

	// a type mismatch fails just like a name mismatch
	var v mgl32.Vec2
	other, err := f.ctx.BuildMaterial("N", render.MaterialDesc{Shader: "blur"})
	require.NoError(t, err)
	require.NoError(t, other.Expose([]render.Field{render.Vec2("Data", "size", &v)}))
	assert.Error(t, other.Match(shader))
}

func TestExposeTwice(t *testing.T) {
	f := newFixture(t)
	set, err := f.ctx.BuildMaterial("M", render.MaterialDesc{Shader: "blur"})
	require.NoError(t, err)
	require.NoError(t, set.Expose(nil))
	err = set.Expose(nil)
	assert.True(t, errors.Is(err, render.ErrAlreadyExposed))
}

func TestRemoveTextureMarksMaterialNotReady(t *testing.T) {
	f := newFixture(t)
	set := f.setupBlur(t, &blurParams{})
	require.True(t, f.ctx.UpdateMaterial("M"))

	require.True(t, f.ctx.RemoveImage("Tex0"))

	rec, _ := f.ctx.Materials.Get("M")
	assert.False(t, rec.Ready(), "readiness must drop within the remove call")
	assert.Equal(t, render.Stale, set.State())
	assert.True(t, f.ctx.MaterialStale("M"))
	assert.False(t, set.Bindings()[0].Resolved())

	shader, _ := f.ctx.Shaders.Get("blur")
	assert.False(t, shader.Ready())

	pass, _ := f.ctx.Passes.Get("P")
	assert.False(t, pass.Ready())

	// the material cannot be bound until the texture comes back
	assert.False(t, f.ctx.UpdateMaterial("M"))
	assert.False(t, f.ctx.UpdateMaterial("M"))
	assert.Equal(t, render.PipelineBuilt, set.State())

	_, err := f.ctx.BuildImage("Tex0", texDesc)
	require.NoError(t, err)
	assert.True(t, set.Bindings()[0].Resolved())
	assert.True(t, f.ctx.UpdateMaterial("M"))
	assert.Equal(t, render.Ready, set.State())
}

func TestResizeBufferRelinks(t *testing.T) {
	f := newFixture(t)
	set := f.setupBlur(t, &blurParams{})
	require.True(t, f.ctx.UpdateMaterial("M"))

	var seen []resource.EventType
	require.NoError(t, f.ctx.Bus.Subscribe(resource.KindBuffer, resource.KindPass,
		resource.SubscriberFunc(func(ev resource.Event) []resource.Event {
			if ev.Name == "B" {
				seen = append(seen, ev.Type)
			}
			return nil
		})))

	before := set.Bindings()[1].Handle
	require.NoError(t, f.ctx.ResizeBuffer("B", 1024))

	assert.Equal(t, []resource.EventType{resource.Changed}, seen)
	shader, _ := f.ctx.Shaders.Get("blur")
	assert.False(t, shader.Ready())
	assert.Equal(t, before, set.Bindings()[1].Handle, "changed keeps the handle")
	assert.Equal(t, render.Stale, set.State())

	buf, _ := f.ctx.Buffer("B")
	assert.EqualValues(t, 1024, buf.Size())

	require.True(t, f.ctx.UpdateMaterial("M"))
	assert.True(t, shader.Ready())
	pipeline, _ := f.ctx.Pipeline("M")
	assert.Same(t, buf.Buffer, pipeline.(*headless.Pipeline).Writes[1].Buffer)
}

func TestAddedResolvesDependents(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctx.BuildShader("blur")
	require.NoError(t, err)
	set, err := f.ctx.BuildMaterial("M", render.MaterialDesc{Shader: "blur"})
	require.NoError(t, err)
	require.NoError(t, set.Expose(nil, render.SampledImage(0, "Tex1"), render.StorageBuffer(1, "Other")))
	f.ctx.Activate()

	assert.False(t, f.ctx.UpdateMaterial("M"))
	for _, b := range set.Bindings() {
		assert.False(t, b.Resolved())
	}

	_, err = f.ctx.BuildImage("Tex1", texDesc)
	require.NoError(t, err)
	img, _ := f.ctx.Images.Get("Tex1")
	assert.Equal(t, img.Handle(), set.Bindings()[0].Handle)
	assert.False(t, set.Bindings()[1].Resolved(), "names must match")

	_, err = f.ctx.BuildBuffer("Other", 16, gfx.BufferUsageStorage)
	require.NoError(t, err)
	shader, _ := f.ctx.Shaders.Get("blur")
	assert.True(t, shader.Ready())
	assert.True(t, f.ctx.UpdateMaterial("M"))
}

func TestRebuildResolvesIdentically(t *testing.T) {
	f := newFixture(t)
	set := f.setupBlur(t, &blurParams{})
	require.True(t, f.ctx.UpdateMaterial("M"))

	handles := func() []resource.Handle {
		var hs []resource.Handle
		for _, b := range set.Bindings() {
			hs = append(hs, b.Handle)
		}
		return hs
	}
	writes := func() map[uint32]gfx.DescriptorWrite {
		p, ok := f.ctx.Pipeline("M")
		require.True(t, ok)
		return p.(*headless.Pipeline).Writes
	}
	firstHandles, firstWrites := handles(), writes()

	// an unrelated change on the shader makes the material stale
	require.True(t, f.ctx.Shaders.Touch("blur"))
	assert.Equal(t, render.Stale, set.State())
	require.True(t, f.ctx.UpdateMaterial("M"))

	assert.Equal(t, firstHandles, handles())
	assert.Equal(t, firstWrites, writes())
	assert.Equal(t, 1, f.device.Live().Pipelines)
	assert.Equal(t, 2, f.device.Created().Pipelines)
}

func TestUniformDiffUpload(t *testing.T) {
	f := newFixture(t)
	params := &blurParams{size: 1, color: mgl32.Vec3{0, 0, 0}}
	f.setupBlur(t, params)

	require.True(t, f.ctx.UpdateMaterial("M"))
	cell, ok := f.ctx.Buffer("M.uniforms")
	require.True(t, ok)
	hb := cell.Buffer.(*headless.Buffer)
	assert.Len(t, hb.Writes, 2)

	hb.Writes = nil
	require.True(t, f.ctx.UpdateMaterial("M"))
	assert.Empty(t, hb.Writes, "unchanged fields are not uploaded")

	params.color = mgl32.Vec3{0.5, 0.25, 1}
	require.True(t, f.ctx.UpdateMaterial("M"))
	require.Len(t, hb.Writes, 1)
	assert.Equal(t, headless.Write{Offset: 16, Length: 12}, hb.Writes[0])

	data, err := hb.Read(16, 12)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0x3f, 0, 0, 0x80, 0x3e, 0, 0, 0x80, 0x3f}, data)
}

func TestUniformBlocksGetOwnCells(t *testing.T) {
	f := newFixture(t)
	f.progs["light"] = computeProgram(
		render.ReflectedField{Type: render.Vec3Field, Struct: "Light", Field: "position", Offset: 0, Slot: 1},
		render.ReflectedField{Type: render.FloatField, Struct: "Camera", Field: "fov", Offset: 0, Slot: 3},
	)
	_, err := f.ctx.BuildShader("light")
	require.NoError(t, err)

	position := mgl32.Vec3{1, 2, 3}
	fov := float32(1)
	set, err := f.ctx.BuildMaterial("L", render.MaterialDesc{Shader: "light"})
	require.NoError(t, err)
	require.NoError(t, set.Expose([]render.Field{
		render.Vec3("Light", "position", &position),
		render.Float("Camera", "fov", &fov),
	}))
	f.ctx.Activate()

	require.True(t, f.ctx.UpdateMaterial("L"))
	assert.Equal(t, []string{"L.uniforms.Light", "L.uniforms.Camera"}, set.Cells())
	assert.EqualValues(t, 32, set.Size())

	pipeline, ok := f.ctx.Pipeline("L")
	require.True(t, ok)
	hp := pipeline.(*headless.Pipeline)
	assert.ElementsMatch(t, []gfx.LayoutBinding{
		{Slot: 1, Kind: gfx.UniformBufferDescriptor},
		{Slot: 3, Kind: gfx.UniformBufferDescriptor},
	}, hp.Desc.Layout)

	light, ok := f.ctx.Buffer("L.uniforms.Light")
	require.True(t, ok)
	camera, ok := f.ctx.Buffer("L.uniforms.Camera")
	require.True(t, ok)
	assert.Same(t, light.Buffer, hp.Writes[1].Buffer)
	assert.Same(t, camera.Buffer, hp.Writes[3].Buffer)

	data, err := light.Buffer.(*headless.Buffer).Read(0, 12)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0x80, 0x3f, 0, 0, 0, 0x40, 0, 0, 0x40, 0x40}, data)
	data, err = camera.Buffer.(*headless.Buffer).Read(0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0x80, 0x3f}, data, "blocks at the same offset do not overwrite each other")

	require.True(t, f.ctx.RemoveMaterial("L"))
	_, ok = f.ctx.Buffer("L.uniforms.Light")
	assert.False(t, ok)
	_, ok = f.ctx.Buffer("L.uniforms.Camera")
	assert.False(t, ok)
}

func TestPipelineFailureLoggedOnce(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctx.BuildShader("blur")
	require.NoError(t, err)
	set, err := f.ctx.BuildMaterial("M", render.MaterialDesc{Shader: "blur", RenderPass: "main"})
	require.NoError(t, err)
	require.NoError(t, set.Expose(nil))
	f.ctx.Activate()

	for i := 0; i < 5; i++ {
		assert.False(t, f.ctx.UpdateMaterial("M"))
	}
	assert.Equal(t, render.Matched, set.State())

	count := func(level log.Level, msg string) int {
		n := 0
		for _, e := range f.hook.AllEntries() {
			if e.Level == level && e.Message == msg {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, count(log.WarnLevel, "pipeline build failed"), "a persisting failure is logged once")

	_, err = f.ctx.BuildRenderPass("main", gfx.RenderPassDesc{ColorFormats: []gfx.Format{gfx.FormatRGBA16F}})
	require.NoError(t, err)
	require.True(t, f.ctx.UpdateMaterial("M"))
	require.True(t, f.ctx.UpdateMaterial("M"))
	assert.Equal(t, 1, count(log.InfoLevel, "material recovered"))
	assert.Equal(t, 1, count(log.WarnLevel, "pipeline build failed"))
}

func TestReloadShaderRematches(t *testing.T) {
	f := newFixture(t)
	set := f.setupBlur(t, &blurParams{})
	require.True(t, f.ctx.UpdateMaterial("M"))

	// the new program moves color and grows the block
	f.progs["blur"] = computeProgram(
		render.ReflectedField{Type: render.FloatField, Struct: "Data", Field: "size", Offset: 0, Slot: 2},
		render.ReflectedField{Type: render.Vec3Field, Struct: "Data", Field: "color", Offset: 32, Slot: 2},
	)
	require.NoError(t, f.ctx.ReloadShader("blur"))
	assert.Equal(t, render.Stale, set.State())

	require.True(t, f.ctx.UpdateMaterial("M"))
	assert.EqualValues(t, 48, set.Size())
	cell, _ := f.ctx.Buffer("M.uniforms")
	assert.EqualValues(t, 48, cell.Size())

	shader, _ := f.ctx.Shaders.Get("blur")
	assert.Len(t, shader.Value.Bindings(), 2, "bindings are attached once")

	// a reload dropping a field makes the material unbindable
	f.progs["blur"] = computeProgram(
		render.ReflectedField{Type: render.FloatField, Struct: "Data", Field: "size", Offset: 0, Slot: 2},
	)
	require.NoError(t, f.ctx.ReloadShader("blur"))
	assert.False(t, f.ctx.UpdateMaterial("M"))
	assert.True(t, set.Unbindable())
}

func TestFramebufferFollowsResize(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctx.BuildRenderPass("main", gfx.RenderPassDesc{ColorFormats: []gfx.Format{gfx.FormatRGBA16F}})
	require.NoError(t, err)
	_, err = f.ctx.BuildImage("color", gfx.ImageDesc{
		Extent: gfx.Extent3D{Width: 800, Height: 600, Depth: 1},
		Format: gfx.FormatRGBA16F,
		Usage:  gfx.ImageUsageColorAttachment,
		Mips:   1,
	})
	require.NoError(t, err)

	err = f.ctx.BuildFramebuffer("broken", "main", "color", "depth")
	assert.True(t, errors.Is(err, resource.ErrBuildFailure))

	require.NoError(t, f.ctx.BuildFramebuffer("fb", "main", "color"))
	f.ctx.Activate()

	fb, ok := f.ctx.Framebuffer("fb")
	require.True(t, ok)
	assert.Equal(t, 800, fb.Extent().Width)

	require.NoError(t, f.ctx.ResizeImage("color", gfx.Extent3D{Width: 1024, Height: 768, Depth: 1}))
	rec, _ := f.ctx.Framebuffers.Get("fb")
	assert.False(t, rec.Ready())
	assert.True(t, rec.Dirty())

	fb, ok = f.ctx.Framebuffer("fb")
	require.True(t, ok)
	assert.Equal(t, 1024, fb.Extent().Width)
	assert.True(t, rec.Ready())

	require.True(t, f.ctx.RemoveImage("color"))
	_, ok = f.ctx.Framebuffer("fb")
	assert.False(t, ok)
}

func TestDestroyReleasesEverything(t *testing.T) {
	f := newFixture(t)
	f.setupBlur(t, &blurParams{})
	require.True(t, f.ctx.UpdateMaterial("M"))

	f.ctx.Destroy()
	assert.Equal(t, headless.Stats{}, f.device.Live())
	assert.Equal(t, 0, f.ctx.Materials.Len())
	assert.False(t, f.ctx.Bus.Active())
}
