package ir

import (
	"fmt"

	"github.com/roach88/ltc/internal/tensor"
)

// Kind classifies stack values and schema argument slots.
type Kind int

const (
	KindNone Kind = iota
	KindTensor
	KindInt
	KindFloat
	KindBool
	KindString
	KindIntList
	KindTensorList

	// KindScalar only appears in schemas. It accepts Int, Float and Bool.
	KindScalar
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindTensor:
		return "Tensor"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "str"
	case KindIntList:
		return "int[]"
	case KindTensorList:
		return "Tensor[]"
	case KindScalar:
		return "Scalar"
	default:
		return "unknown"
	}
}

// Accepts reports whether a value may fill a slot of kind k.
func (k Kind) Accepts(v Value) bool {
	if v == nil {
		return false
	}
	switch k {
	case KindScalar:
		switch v.Kind() {
		case KindInt, KindFloat, KindBool:
			return true
		}
		return false
	case KindFloat:
		return v.Kind() == KindFloat || v.Kind() == KindInt
	default:
		return v.Kind() == k
	}
}

// Tensor is the view of a tensor that the dispatch layer needs. Both host
// tensors (*tensor.Tensor) and backend-resident tensors satisfy it.
type Tensor interface {
	Shape() []int
	DType() tensor.DType
	Device() tensor.Device
}

// Value is a sealed interface for entries of an invocation record.
// Only the types in this file implement it.
type Value interface {
	Kind() Kind
	value()
}

// None is the absent value.
type None struct{}

func (None) Kind() Kind { return KindNone }
func (None) value()     {}

// Int is an integer argument.
type Int int64

func (Int) Kind() Kind { return KindInt }
func (Int) value()     {}

// Float is a floating-point argument.
type Float float64

func (Float) Kind() Kind { return KindFloat }
func (Float) value()     {}

// Bool is a boolean argument.
type Bool bool

func (Bool) Kind() Kind { return KindBool }
func (Bool) value()     {}

// String is a string argument.
type String string

func (String) Kind() Kind { return KindString }
func (String) value()     {}

// IntList is a list of integers, typically a shape.
type IntList []int64

func (IntList) Kind() Kind { return KindIntList }
func (IntList) value()     {}

// Ints converts the list to []int.
func (l IntList) Ints() []int {
	out := make([]int, len(l))
	for i, v := range l {
		out[i] = int(v)
	}
	return out
}

// TensorValue holds one tensor.
type TensorValue struct {
	Tensor Tensor
}

func (TensorValue) Kind() Kind { return KindTensor }
func (TensorValue) value()     {}

// TensorList holds an ordered list of tensors.
type TensorList []Tensor

func (TensorList) Kind() Kind { return KindTensorList }
func (TensorList) value()     {}

// NewTensor wraps t as a stack value.
func NewTensor(t Tensor) TensorValue {
	return TensorValue{Tensor: t}
}

// ScalarOf extracts a numeric value from Int, Float or Bool.
func ScalarOf(v Value) (float64, bool) {
	switch x := v.(type) {
	case Int:
		return float64(x), true
	case Float:
		return float64(x), true
	case Bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// TensorOf extracts the tensor from a TensorValue.
func TensorOf(v Value) (Tensor, bool) {
	tv, ok := v.(TensorValue)
	if !ok || tv.Tensor == nil {
		return nil, false
	}
	return tv.Tensor, true
}

// Describe returns a short human-readable form of v for logs and errors.
func Describe(v Value) string {
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case None:
		return "None"
	case TensorValue:
		if x.Tensor == nil {
			return "Tensor(<nil>)"
		}
		return fmt.Sprintf("Tensor(%v, %s, %s)", x.Tensor.Shape(), x.Tensor.DType(), x.Tensor.Device())
	case TensorList:
		return fmt.Sprintf("Tensor[%d]", len(x))
	case String:
		return fmt.Sprintf("%q", string(x))
	default:
		return fmt.Sprintf("%v", x)
	}
}
