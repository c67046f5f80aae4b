// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package shaderpack loads precompiled shaders together with their
// reflection from a directory or a kar archive.
//
// A shader named "blur" is made of either "blur.comp.spv" or the pair
// "blur.vert.spv" and "blur.frag.spv", plus "blur.refl.toml" listing the
// uniform fields the compiler reflected:
//
//	[[field]]
//	type = "vec3"
//	struct = "Data"
//	name = "color"
//	offset = 16
//	slot = 2
package shaderpack

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/devblok/radiance/gfx"
	"github.com/devblok/radiance/render"
	"github.com/devblok/radiance/utility/kar"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/exp/mmap"
)

// package errors
var (
	ErrNoStages     = errors.New("no compiled stages")
	ErrBadAlignment = errors.New("stage code is not a multiple of 4 bytes")
)

const (
	shaderSuffix     = ".spv"
	reflectionSuffix = ".refl.toml"
)

var stageSuffixes = map[string]gfx.ShaderStage{
	"vert": gfx.VertexStage,
	"frag": gfx.FragmentStage,
	"comp": gfx.ComputeStage,
}

// Source is where a Pack reads its files from.
type Source interface {
	ReadFile(name string) ([]byte, error)
	Names() ([]string, error)
	Close() error
}

// Pack compiles shaders by reading them from a Source.
type Pack struct {
	src Source
}

// New creates a Pack over src.
func New(src Source) *Pack {
	return &Pack{src: src}
}

// OpenDir creates a Pack reading from a directory.
func OpenDir(dir string) (*Pack, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", dir)
	}
	return New(dirSource(dir)), nil
}

// OpenArchive creates a Pack reading from a memory mapped kar archive.
func OpenArchive(file string) (*Pack, error) {
	r, err := mmap.Open(file)
	if err != nil {
		return nil, err
	}
	ar, err := kar.Open(r)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return New(&archiveSource{ar: ar, mapped: r}), nil
}

// Open picks OpenDir or OpenArchive depending on what location is.
func Open(location string) (*Pack, error) {
	info, err := os.Stat(location)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return OpenDir(location)
	}
	return OpenArchive(location)
}

// Compile implements render.ShaderCompiler
func (p *Pack) Compile(name string) (*render.ShaderProgram, error) {
	prog := &render.ShaderProgram{}
	if code, err := p.stage(name, "comp"); err == nil {
		prog.Kind = gfx.ComputeProgram
		prog.Stages = []render.StageCode{{Stage: gfx.ComputeStage, Code: code}}
	} else {
		vert, err := p.stage(name, "vert")
		if err != nil {
			return nil, fmt.Errorf("shader %s: %w", name, ErrNoStages)
		}
		frag, err := p.stage(name, "frag")
		if err != nil {
			return nil, fmt.Errorf("shader %s: %w", name, ErrNoStages)
		}
		prog.Kind = gfx.GraphicsProgram
		prog.Stages = []render.StageCode{
			{Stage: gfx.VertexStage, Code: vert},
			{Stage: gfx.FragmentStage, Code: frag},
		}
	}
	for _, s := range prog.Stages {
		if len(s.Code)%4 != 0 {
			return nil, fmt.Errorf("shader %s: %w", name, ErrBadAlignment)
		}
	}

	fields, err := p.reflection(name)
	if err != nil {
		return nil, fmt.Errorf("shader %s: %w", name, err)
	}
	prog.Fields = fields
	return prog, nil
}

// Shaders lists the names of every shader in the pack.
func (p *Pack) Shaders() ([]string, error) {
	files, err := p.src.Names()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var names []string
	for _, f := range files {
		name, _, ok := ShaderName(f)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

// Close releases the underlying source.
func (p *Pack) Close() error {
	return p.src.Close()
}

func (p *Pack) stage(name, suffix string) ([]byte, error) {
	return p.src.ReadFile(name + "." + suffix + shaderSuffix)
}

type reflectionFile struct {
	Field []struct {
		Type   string `toml:"type"`
		Struct string `toml:"struct"`
		Name   string `toml:"name"`
		Offset uint32 `toml:"offset"`
		Slot   uint32 `toml:"slot"`
	} `toml:"field"`
}

// reflection is optional, a shader without uniforms has no file. Any other
// read failure is reported.
func (p *Pack) reflection(name string) ([]render.ReflectedField, error) {
	data, err := p.src.ReadFile(name + reflectionSuffix)
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, kar.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reflection: %w", err)
	}
	var file reflectionFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	fields := make([]render.ReflectedField, 0, len(file.Field))
	for _, f := range file.Field {
		t, err := render.ParseFieldType(f.Type)
		if err != nil {
			return nil, err
		}
		fields = append(fields, render.ReflectedField{
			Type:   t,
			Struct: f.Struct,
			Field:  f.Name,
			Offset: f.Offset,
			Slot:   f.Slot,
		})
	}
	return fields, nil
}

// ShaderName maps a pack file to the shader it belongs to. Files that are
// not part of a shader return false.
func ShaderName(file string) (string, gfx.ShaderStage, bool) {
	base := path.Base(filepath.ToSlash(file))
	if strings.HasSuffix(base, reflectionSuffix) {
		return strings.TrimSuffix(base, reflectionSuffix), 0, true
	}
	if !strings.HasSuffix(base, shaderSuffix) {
		return "", 0, false
	}
	nodes := strings.Split(strings.TrimSuffix(base, shaderSuffix), ".")
	if len(nodes) != 2 {
		return "", 0, false
	}
	stage, ok := stageSuffixes[nodes[1]]
	if !ok {
		return "", 0, false
	}
	return nodes[0], stage, true
}

type dirSource string

func (d dirSource) ReadFile(name string) ([]byte, error) {
	return ioutil.ReadFile(filepath.Join(string(d), name))
}

func (d dirSource) Names() ([]string, error) {
	infos, err := ioutil.ReadDir(string(d))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir() {
			names = append(names, info.Name())
		}
	}
	return names, nil
}

func (d dirSource) Close() error {
	return nil
}

type archiveSource struct {
	ar     *kar.Archive
	mapped *mmap.ReaderAt
}

func (a *archiveSource) ReadFile(name string) ([]byte, error) {
	return a.ar.ReadAll(name)
}

func (a *archiveSource) Names() ([]string, error) {
	return a.ar.Names(), nil
}

func (a *archiveSource) Close() error {
	return a.mapped.Close()
}
