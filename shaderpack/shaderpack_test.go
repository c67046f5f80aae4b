// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package shaderpack_test

import (
	"bytes"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devblok/radiance/gfx"
	"github.com/devblok/radiance/render"
	"github.com/devblok/radiance/shaderpack"
	"github.com/devblok/radiance/utility/kar"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blurReflection = `
[[field]]
type = "float"
struct = "Data"
name = "size"
offset = 0
slot = 2

[[field]]
type = "vec3"
struct = "Data"
name = "color"
offset = 16
slot = 2
`

var files = map[string][]byte{
	"blur.comp.spv":     {3, 2, 35, 7, 0, 0, 1, 0},
	"blur.refl.toml":    []byte(blurReflection),
	"quad.vert.spv":     {3, 2, 35, 7},
	"quad.frag.spv":     {3, 2, 35, 7, 1, 1, 1, 1},
	"broken.comp.spv":   {3, 2, 35},
	"notes.txt":         []byte("not a shader"),
	"badtype.comp.spv":  {0, 0, 0, 0},
	"badtype.refl.toml": []byte("[[field]]\ntype = \"quat\"\n"),
}

func writeDir(t *testing.T) string {
	dir := t.TempDir()
	for name, data := range files {
		require.NoError(t, ioutil.WriteFile(filepath.Join(dir, name), data, 0644))
	}
	return dir
}

func writeArchive(t *testing.T) string {
	builder, err := kar.NewBuilder(kar.Header{Author: "test", Version: 1})
	require.NoError(t, err)
	defer builder.Close()
	for name, data := range files {
		require.NoError(t, builder.Add(name, bytes.NewReader(data)))
	}
	file := filepath.Join(t.TempDir(), "shaders.kar")
	f, err := os.Create(file)
	require.NoError(t, err)
	_, err = builder.WriteTo(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return file
}

func checkPack(t *testing.T, pack *shaderpack.Pack) {
	blur, err := pack.Compile("blur")
	require.NoError(t, err)
	assert.Equal(t, gfx.ComputeProgram, blur.Kind)
	require.Len(t, blur.Stages, 1)
	assert.Equal(t, files["blur.comp.spv"], blur.Stages[0].Code)
	assert.Equal(t, []render.ReflectedField{
		{Type: render.FloatField, Struct: "Data", Field: "size", Offset: 0, Slot: 2},
		{Type: render.Vec3Field, Struct: "Data", Field: "color", Offset: 16, Slot: 2},
	}, blur.Fields)

	quad, err := pack.Compile("quad")
	require.NoError(t, err)
	assert.Equal(t, gfx.GraphicsProgram, quad.Kind)
	require.Len(t, quad.Stages, 2)
	assert.Equal(t, gfx.VertexStage, quad.Stages[0].Stage)
	assert.Equal(t, gfx.FragmentStage, quad.Stages[1].Stage)
	assert.Empty(t, quad.Fields)

	_, err = pack.Compile("missing")
	assert.True(t, errors.Is(err, shaderpack.ErrNoStages))

	_, err = pack.Compile("broken")
	assert.True(t, errors.Is(err, shaderpack.ErrBadAlignment))

	_, err = pack.Compile("badtype")
	assert.Error(t, err)

	names, err := pack.Shaders()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"blur", "quad", "broken", "badtype"}, names)
}

func TestDirectoryPack(t *testing.T) {
	pack, err := shaderpack.Open(writeDir(t))
	require.NoError(t, err)
	defer pack.Close()
	checkPack(t, pack)
}

func TestArchivePack(t *testing.T) {
	pack, err := shaderpack.Open(writeArchive(t))
	require.NoError(t, err)
	defer pack.Close()
	checkPack(t, pack)
}

func TestOpenNotAnArchive(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain.kar")
	require.NoError(t, ioutil.WriteFile(file, []byte("definitely not kar data"), 0644))
	_, err := shaderpack.Open(file)
	assert.True(t, errors.Is(err, kar.ErrFileFormat))
}

type failingSource map[string][]byte

var errDenied = errors.New("permission denied")

func (s failingSource) ReadFile(name string) ([]byte, error) {
	if name == "locked.refl.toml" {
		return nil, errDenied
	}
	data, ok := s[name]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}
	return data, nil
}

func (s failingSource) Names() ([]string, error) {
	var names []string
	for name := range s {
		names = append(names, name)
	}
	return names, nil
}

func (s failingSource) Close() error {
	return nil
}

func TestReflectionReadFailure(t *testing.T) {
	pack := shaderpack.New(failingSource{
		"locked.comp.spv": {3, 2, 35, 7},
		"plain.comp.spv":  {3, 2, 35, 7},
	})

	_, err := pack.Compile("locked")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errDenied), "unreadable reflection is not treated as absent")

	plain, err := pack.Compile("plain")
	require.NoError(t, err)
	assert.Empty(t, plain.Fields)
}

func TestReflectionDirectoryIsAnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "blur.comp.spv"), files["blur.comp.spv"], 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "blur.refl.toml"), 0755))

	pack, err := shaderpack.OpenDir(dir)
	require.NoError(t, err)
	defer pack.Close()
	_, err = pack.Compile("blur")
	assert.Error(t, err)
}

func TestShaderName(t *testing.T) {
	cases := []struct {
		file  string
		name  string
		stage gfx.ShaderStage
		ok    bool
	}{
		{"blur.comp.spv", "blur", gfx.ComputeStage, true},
		{"dir/quad.vert.spv", "quad", gfx.VertexStage, true},
		{"quad.frag.spv", "quad", gfx.FragmentStage, true},
		{"blur.refl.toml", "blur", 0, true},
		{"blur.geom.spv", "", 0, false},
		{"blur.spv", "", 0, false},
		{"readme.md", "", 0, false},
	}
	for _, c := range cases {
		name, stage, ok := shaderpack.ShaderName(c.file)
		assert.Equal(t, c.ok, ok, c.file)
		assert.Equal(t, c.name, name, c.file)
		assert.Equal(t, c.stage, stage, c.file)
	}
}

func TestWatcherReportsChanges(t *testing.T) {
	dir := writeDir(t)
	logger, _ := test.NewNullLogger()
	w, err := shaderpack.Watch(dir, logger)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "blur.comp.spv"), []byte{1, 2, 3, 4}, 0644))

	select {
	case name := <-w.Names():
		assert.Equal(t, "blur", name)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
}

func TestPendingDeduplicates(t *testing.T) {
	dir := writeDir(t)
	logger, _ := test.NewNullLogger()
	w, err := shaderpack.Watch(dir, logger)
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "quad.frag.spv"), []byte{1, 2, 3, 4}, 0644))
	}

	var got []string
	deadline := time.Now().Add(5 * time.Second)
	for len(got) == 0 && time.Now().Before(deadline) {
		got = w.Pending()
		time.Sleep(10 * time.Millisecond)
	}
	require.NotEmpty(t, got)
	time.Sleep(100 * time.Millisecond)
	got = append(got, w.Pending()...)
	for _, name := range got {
		assert.Equal(t, "quad", name)
	}
}
