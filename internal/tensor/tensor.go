// Package tensor provides the dense, host-resident tensor representation.
//
// A *Tensor always lives on the CPU device. It is the "portable" form that the
// reference engine computes on and that the lazy backend exports to and imports
// from. Device identifiers for other representations are declared here so that
// every package agrees on them.
package tensor

import (
	"fmt"
	"strings"
)

// DType identifies the element type of a tensor.
type DType int

const (
	Float32 DType = iota
	Int32
	Bool
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// Size returns the element size in bytes.
func (d DType) Size() int {
	switch d {
	case Float32, Int32:
		return 4
	case Bool:
		return 1
	default:
		return 4
	}
}

// ParseDType converts a dtype name ("float32", "int32", "bool") to a DType.
// An empty string means float32.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "float32", "float", "f32":
		return Float32, nil
	case "int32", "int", "i32":
		return Int32, nil
	case "bool":
		return Bool, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q", s)
	}
}

// Device identifies where a tensor's storage lives.
type Device int

const (
	CPU Device = iota
	Lazy
)

func (d Device) String() string {
	switch d {
	case CPU:
		return "cpu"
	case Lazy:
		return "lazy"
	default:
		return "unknown"
	}
}

// ParseDevice converts a device name to a Device. An empty string means cpu.
func ParseDevice(s string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cpu":
		return CPU, nil
	case "lazy", "ltc":
		return Lazy, nil
	default:
		return 0, fmt.Errorf("unknown device %q", s)
	}
}

// Tensor is a dense row-major CPU tensor.
//
// Exactly one of the typed slices is populated, matching dtype. A rank-0
// tensor (empty shape) holds a single element.
type Tensor struct {
	shape []int
	dtype DType
	f32   []float32
	i32   []int32
	b     []bool
}

// Shape returns a copy of the tensor shape.
func (t *Tensor) Shape() []int {
	out := make([]int, len(t.shape))
	copy(out, t.shape)
	return out
}

// DType returns the element type.
func (t *Tensor) DType() DType {
	return t.dtype
}

// Device always reports CPU.
func (t *Tensor) Device() Device {
	return CPU
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// NumElems returns the number of elements.
func (t *Tensor) NumElems() int {
	return numElements(t.shape)
}

// SizeBytes returns the storage size in bytes.
func (t *Tensor) SizeBytes() int {
	return t.NumElems() * t.dtype.Size()
}

// Float32s returns the backing slice of a float32 tensor, or nil.
func (t *Tensor) Float32s() []float32 {
	return t.f32
}

// Int32s returns the backing slice of an int32 tensor, or nil.
func (t *Tensor) Int32s() []int32 {
	return t.i32
}

// Bools returns the backing slice of a bool tensor, or nil.
func (t *Tensor) Bools() []bool {
	return t.b
}

// At reads element i as a float64 regardless of dtype. Bool reads as 0 or 1.
func (t *Tensor) At(i int) float64 {
	switch t.dtype {
	case Float32:
		return float64(t.f32[i])
	case Int32:
		return float64(t.i32[i])
	case Bool:
		if t.b[i] {
			return 1
		}
		return 0
	}
	return 0
}

// Values returns every element converted to float64.
func (t *Tensor) Values() []float64 {
	n := t.NumElems()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = t.At(i)
	}
	return out
}

// set writes element i from a float64, converting to the tensor's dtype.
func (t *Tensor) set(i int, v float64) {
	switch t.dtype {
	case Float32:
		t.f32[i] = float32(v)
	case Int32:
		t.i32[i] = int32(v)
	case Bool:
		t.b[i] = v != 0
	}
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{shape: t.Shape(), dtype: t.dtype}
	switch t.dtype {
	case Float32:
		out.f32 = append([]float32(nil), t.f32...)
	case Int32:
		out.i32 = append([]int32(nil), t.i32...)
	case Bool:
		out.b = append([]bool(nil), t.b...)
	}
	return out
}

// Reshape returns a copy of t with a new shape holding the same number of
// elements.
func (t *Tensor) Reshape(shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if numElements(shape) != t.NumElems() {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v", t.shape, t.NumElems(), shape)
	}
	out := t.Clone()
	out.shape = append([]int(nil), shape...)
	return out, nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, device=%s)", t.shape, t.dtype, CPU)
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func validateShape(shape []int) error {
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

// SameShape reports whether two shapes are identical.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
