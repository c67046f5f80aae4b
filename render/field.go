// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package render

import (
	"fmt"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// FieldType is the semantic type tag of an exposed uniform field.
type FieldType int

// Field types understood by the shader reflection
const (
	FloatField FieldType = iota
	IntField
	UintField
	Vec2Field
	Vec3Field
	Vec4Field
	Mat4Field
)

var fieldTypeNames = [...]string{
	FloatField: "float",
	IntField:   "int",
	UintField:  "uint",
	Vec2Field:  "vec2",
	Vec3Field:  "vec3",
	Vec4Field:  "vec4",
	Mat4Field:  "mat4",
}

func (t FieldType) String() string {
	if t < 0 || int(t) >= len(fieldTypeNames) {
		return fmt.Sprintf("field(%d)", int(t))
	}
	return fieldTypeNames[t]
}

// Size returns the number of bytes the type occupies in a uniform block.
func (t FieldType) Size() int {
	switch t {
	case FloatField, IntField, UintField:
		return 4
	case Vec2Field:
		return 8
	case Vec3Field:
		return 12
	case Vec4Field:
		return 16
	case Mat4Field:
		return 64
	default:
		return 0
	}
}

// ParseFieldType maps a reflected type name to its FieldType.
func ParseFieldType(name string) (FieldType, error) {
	for t, n := range fieldTypeNames {
		if n == name {
			return FieldType(t), nil
		}
	}
	return 0, fmt.Errorf("unknown field type %q", name)
}

// Field is a CPU value exposed to a shader uniform block. It points into
// the memory of its owner, which must outlive the binding set.
type Field struct {
	Type   FieldType
	Struct string
	Name   string

	ptr unsafe.Pointer
}

func (f Field) String() string {
	return fmt.Sprintf("%s %s.%s", f.Type, f.Struct, f.Name)
}

// bytes returns a view of the current value.
func (f Field) bytes() []byte {
	return unsafe.Slice((*byte)(f.ptr), f.Type.Size())
}

// Float exposes a float32.
func Float(structName, name string, v *float32) Field {
	return Field{Type: FloatField, Struct: structName, Name: name, ptr: unsafe.Pointer(v)}
}

// Int exposes an int32.
func Int(structName, name string, v *int32) Field {
	return Field{Type: IntField, Struct: structName, Name: name, ptr: unsafe.Pointer(v)}
}

// Uint exposes a uint32.
func Uint(structName, name string, v *uint32) Field {
	return Field{Type: UintField, Struct: structName, Name: name, ptr: unsafe.Pointer(v)}
}

// Vec2 exposes a two component vector.
func Vec2(structName, name string, v *mgl32.Vec2) Field {
	return Field{Type: Vec2Field, Struct: structName, Name: name, ptr: unsafe.Pointer(v)}
}

// Vec3 exposes a three component vector.
func Vec3(structName, name string, v *mgl32.Vec3) Field {
	return Field{Type: Vec3Field, Struct: structName, Name: name, ptr: unsafe.Pointer(v)}
}

// Vec4 exposes a four component vector.
func Vec4(structName, name string, v *mgl32.Vec4) Field {
	return Field{Type: Vec4Field, Struct: structName, Name: name, ptr: unsafe.Pointer(v)}
}

// Mat4 exposes a column major 4x4 matrix.
func Mat4(structName, name string, v *mgl32.Mat4) Field {
	return Field{Type: Mat4Field, Struct: structName, Name: name, ptr: unsafe.Pointer(v)}
}

// ReflectedField is a uniform block member as reported by the shader compiler.
type ReflectedField struct {
	Type   FieldType
	Struct string
	Field  string
	Offset uint32
	Slot   uint32
}

func (r ReflectedField) matches(f Field) bool {
	return r.Type == f.Type && r.Struct == f.Struct && r.Field == f.Name
}
