// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package render

import (
	"github.com/devblok/radiance/gfx"
)

// StageCode is the compiled code of one shader stage.
type StageCode struct {
	Stage gfx.ShaderStage
	Code  []byte
}

// ShaderProgram is what the compiler hands back for a shader name.
type ShaderProgram struct {
	Kind   gfx.ProgramKind
	Stages []StageCode
	Fields []ReflectedField
}

// ShaderCompiler turns a shader name into compiled stages and the
// reflected uniform field list.
type ShaderCompiler interface {
	Compile(name string) (*ShaderProgram, error)
}

// Shader is a loaded program plus the binding table of every material
// currently matched against it. Buffer and image events reach materials
// through this table.
type Shader struct {
	Program *ShaderProgram
	Modules []gfx.ShaderModule

	bindings []*Binding
}

// Release implements interface
func (s *Shader) Release() {
	for _, m := range s.Modules {
		m.Release()
	}
	s.Modules = nil
}

// Bindings returns the attached binding table.
func (s *Shader) Bindings() []*Binding {
	return s.bindings
}

func (s *Shader) attach(set *BindingSet) {
	s.detach(set)
	s.bindings = append(s.bindings, set.bindings...)
}

func (s *Shader) detach(set *BindingSet) {
	kept := s.bindings[:0]
	for _, b := range s.bindings {
		if b.owner != set {
			kept = append(kept, b)
		}
	}
	for i := len(kept); i < len(s.bindings); i++ {
		s.bindings[i] = nil
	}
	s.bindings = kept
}

func (s *Shader) resolved() bool {
	for _, b := range s.bindings {
		if !b.Resolved() {
			return false
		}
	}
	return true
}

// field looks up the reflected counterpart of f.
func (s *Shader) field(f Field) (ReflectedField, bool) {
	for _, r := range s.Program.Fields {
		if r.matches(f) {
			return r, true
		}
	}
	return ReflectedField{}, false
}
