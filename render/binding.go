// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package render

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/devblok/radiance/gfx"
)

// package errors
var (
	ErrAlreadyExposed = errors.New("binding set already exposed")
	ErrNotExposed     = errors.New("binding set has nothing exposed")
)

// State is the lifecycle state of a BindingSet.
type State int

// Binding set states
const (
	Unbound State = iota
	Exposed
	Matched
	PipelineBuilt
	Ready
	Stale
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Exposed:
		return "exposed"
	case Matched:
		return "matched"
	case PipelineBuilt:
		return "pipeline-built"
	case Ready:
		return "ready"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Binding is a descriptor slot pointing at a buffer or image by name.
type Binding struct {
	Ref
	Slot uint32
	Kind gfx.DescriptorKind

	owner *BindingSet
}

// SampledImage binds the named image for sampling.
func SampledImage(slot uint32, name string) Binding {
	return Binding{Ref: Ref{Name: name}, Slot: slot, Kind: gfx.SampledImageDescriptor}
}

// StorageImage binds the named image for load/store access.
func StorageImage(slot uint32, name string) Binding {
	return Binding{Ref: Ref{Name: name}, Slot: slot, Kind: gfx.StorageImageDescriptor}
}

// StorageBuffer binds the named buffer as a storage buffer.
func StorageBuffer(slot uint32, name string) Binding {
	return Binding{Ref: Ref{Name: name}, Slot: slot, Kind: gfx.StorageBufferDescriptor}
}

// UniformBuffer binds the named buffer as a uniform buffer.
func UniformBuffer(slot uint32, name string) Binding {
	return Binding{Ref: Ref{Name: name}, Slot: slot, Kind: gfx.UniformBufferDescriptor}
}

// MatchError lists the exposed fields the shader has no counterpart for.
// A set that failed to match never becomes bindable.
type MatchError struct {
	Material  string
	Shader    string
	Unmatched []Field
}

func (e *MatchError) Error() string {
	names := make([]string, len(e.Unmatched))
	for i, f := range e.Unmatched {
		names[i] = f.String()
	}
	return fmt.Sprintf("material %q: shader %q has no fields %s", e.Material, e.Shader, strings.Join(names, ", "))
}

type uniformWrite struct {
	offset uint64
	data   []byte
}

// uniformBlock is one reflected uniform struct and the cell backing it.
type uniformBlock struct {
	Struct string
	Slot   uint32

	size     uint32
	cell     string
	snapshot []byte
	writes   []uniformWrite
}

// upload flushes pending writes into cell and returns the number of bytes
// written.
func (b *uniformBlock) upload(cell gfx.Buffer) (int, error) {
	written := 0
	for _, w := range b.writes {
		if err := cell.Write(w.offset, w.data); err != nil {
			return written, err
		}
		written += len(w.data)
	}
	b.writes = b.writes[:0]
	return written, nil
}

// placement locates a field inside its block.
type placement struct {
	block  int
	offset uint32
}

// MaterialDesc names what a material is built from. RenderPass is only
// needed by graphics programs.
type MaterialDesc struct {
	Shader     string
	RenderPass string
}

// BindingSet binds CPU fields and GPU resources of a material to a shader
// and owns the resulting pipeline.
type BindingSet struct {
	name       string
	renderPass string

	// Shader references the program the set is matched against.
	Shader Ref

	state      State
	unbindable bool

	fields   []Field
	bindings []*Binding

	placements []placement
	blocks     []*uniformBlock
	retired    []string

	pipeline gfx.Pipeline
	failure  string
}

func newBindingSet(name string, desc MaterialDesc) *BindingSet {
	return &BindingSet{
		name:       name,
		renderPass: desc.RenderPass,
		Shader:     Ref{Name: desc.Shader},
	}
}

// Name returns the material name.
func (s *BindingSet) Name() string {
	return s.name
}

// State returns the lifecycle state.
func (s *BindingSet) State() State {
	return s.state
}

// Unbindable reports whether matching failed for good.
func (s *BindingSet) Unbindable() bool {
	return s.unbindable
}

// Fields returns the exposed fields in declaration order.
func (s *BindingSet) Fields() []Field {
	return s.fields
}

// Bindings returns the resource bindings in declaration order.
func (s *BindingSet) Bindings() []*Binding {
	return s.bindings
}

// Size is the byte size of all uniform cells derived from the matched fields.
func (s *BindingSet) Size() uint32 {
	var size uint32
	for _, b := range s.blocks {
		size += b.size
	}
	return size
}

// Cells returns the names of the uniform buffers backing the set, one per
// uniform block in slot order of first use.
func (s *BindingSet) Cells() []string {
	names := make([]string, len(s.blocks))
	for i, b := range s.blocks {
		names[i] = b.cell
	}
	return names
}

// Pipeline returns the built pipeline, nil before PipelineBuilt.
func (s *BindingSet) Pipeline() gfx.Pipeline {
	return s.pipeline
}

// Expose declares the fields and bindings of the set. It can be called once.
func (s *BindingSet) Expose(fields []Field, bindings ...Binding) error {
	if s.state != Unbound {
		return fmt.Errorf("material %q: %w", s.name, ErrAlreadyExposed)
	}
	s.fields = append([]Field(nil), fields...)
	s.bindings = make([]*Binding, len(bindings))
	for i := range bindings {
		b := bindings[i]
		b.owner = s
		s.bindings[i] = &b
	}
	s.state = Exposed
	return nil
}

// Match checks every exposed field against the reflected fields of shader
// and attaches the bindings to the shader's binding table on success.
func (s *BindingSet) Match(shader *Shader) error {
	if s.state != Exposed {
		return fmt.Errorf("material %q: match in state %s: %w", s.name, s.state, ErrNotExposed)
	}

	var (
		unmatched []Field
		blocks    []*uniformBlock
	)
	placements := make([]placement, len(s.fields))
	bySlot := make(map[uint32]int)
	for i, f := range s.fields {
		r, ok := shader.field(f)
		if !ok {
			unmatched = append(unmatched, f)
			continue
		}
		bi, ok := bySlot[r.Slot]
		if !ok {
			bi = len(blocks)
			bySlot[r.Slot] = bi
			blocks = append(blocks, &uniformBlock{Struct: r.Struct, Slot: r.Slot})
		}
		placements[i] = placement{block: bi, offset: r.Offset}
		if end := r.Offset + uint32(f.Type.Size()); end > blocks[bi].size {
			blocks[bi].size = end
		}
	}
	if len(unmatched) > 0 {
		s.unbindable = true
		return &MatchError{
			Material:  s.name,
			Shader:    s.Shader.Name,
			Unmatched: unmatched,
		}
	}

	for _, b := range blocks {
		// uniform blocks are laid out in 16 byte rows
		if rem := b.size % 16; rem != 0 {
			b.size += 16 - rem
		}
		b.cell = s.name + ".uniforms"
		if len(blocks) > 1 {
			b.cell += "." + b.Struct
		}
	}

	previous := s.Cells()
	s.placements = placements
	s.blocks = blocks
	for _, name := range previous {
		if !containsString(s.Cells(), name) {
			s.retired = append(s.retired, name)
		}
	}
	s.state = Matched
	shader.attach(s)
	return nil
}

// stale moves a built set to Stale and reports whether it did.
func (s *BindingSet) stale() bool {
	if s.state == PipelineBuilt || s.state == Ready {
		s.state = Stale
		return true
	}
	return false
}

// Release implements interface
func (s *BindingSet) Release() {
	if s.pipeline != nil {
		s.pipeline.Release()
		s.pipeline = nil
	}
	for _, b := range s.blocks {
		b.snapshot = nil
		b.writes = b.writes[:0]
	}
}

// report records a failure and reports whether it differs from the last
// one, so a failure persisting across frames is logged once.
func (s *BindingSet) report(err error) bool {
	msg := err.Error()
	if msg == s.failure {
		return false
	}
	s.failure = msg
	return true
}

func (s *BindingSet) layout() []gfx.LayoutBinding {
	layout := make([]gfx.LayoutBinding, 0, len(s.bindings)+len(s.blocks))
	for _, b := range s.bindings {
		layout = append(layout, gfx.LayoutBinding{Slot: b.Slot, Kind: b.Kind})
	}
	for _, b := range s.blocks {
		layout = append(layout, gfx.LayoutBinding{Slot: b.Slot, Kind: gfx.UniformBufferDescriptor})
	}
	return layout
}

// diff appends a write for every field whose value differs from the last
// uploaded snapshot of its block.
func (s *BindingSet) diff() {
	first := make([]bool, len(s.blocks))
	for i, b := range s.blocks {
		if b.snapshot == nil {
			b.snapshot = make([]byte, b.size)
			first[i] = true
		}
	}
	for i, f := range s.fields {
		p := s.placements[i]
		b := s.blocks[p.block]
		cur := f.bytes()
		prev := b.snapshot[p.offset : p.offset+uint32(len(cur))]
		if !first[p.block] && bytes.Equal(prev, cur) {
			continue
		}
		copy(prev, cur)
		b.writes = append(b.writes, uniformWrite{
			offset: uint64(p.offset),
			data:   append([]byte(nil), cur...),
		})
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
