package tensor

import (
	"fmt"
	"math"
)

// ResultType returns the dtype produced by combining a and b in arithmetic.
// float32 wins over int32; bool promotes to int32.
func ResultType(a, b DType) DType {
	if a == Float32 || b == Float32 {
		return Float32
	}
	return Int32
}

// BroadcastShape returns the output shape of a binary op on a and b.
//
// Only two forms are accepted: identical shapes, or one side holding a single
// element (which is repeated).
func BroadcastShape(a, b []int) ([]int, error) {
	if SameShape(a, b) {
		return append([]int(nil), a...), nil
	}
	if numElements(b) == 1 {
		return append([]int(nil), a...), nil
	}
	if numElements(a) == 1 {
		return append([]int(nil), b...), nil
	}
	return nil, fmt.Errorf("tensor shapes must match: %v vs %v", a, b)
}

// Unary applies fn to every element of t, producing a tensor of dtype out.
func Unary(t *Tensor, out DType, fn func(float64) float64) (*Tensor, error) {
	result, err := Zeros(t.shape, out)
	if err != nil {
		return nil, err
	}
	for i := 0; i < t.NumElems(); i++ {
		result.set(i, fn(t.At(i)))
	}
	return result, nil
}

// Binary applies fn element-wise over a and b, producing a tensor of dtype out.
func Binary(a, b *Tensor, out DType, fn func(x, y float64) float64) (*Tensor, error) {
	shape, err := BroadcastShape(a.shape, b.shape)
	if err != nil {
		return nil, err
	}
	result, err := Zeros(shape, out)
	if err != nil {
		return nil, err
	}
	na, nb := a.NumElems(), b.NumElems()
	for i := 0; i < result.NumElems(); i++ {
		result.set(i, fn(a.At(i%na), b.At(i%nb)))
	}
	return result, nil
}

// Equal reports whether a and b have the same shape, dtype and elements.
func Equal(a, b *Tensor) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.dtype != b.dtype || !SameShape(a.shape, b.shape) {
		return false
	}
	for i := 0; i < a.NumElems(); i++ {
		if a.At(i) != b.At(i) {
			return false
		}
	}
	return true
}

// AllClose reports whether a and b have the same shape and every pair of
// elements satisfies |x-y| <= atol + rtol*|y|. Dtypes may differ. NaNs in the
// same position compare equal.
func AllClose(a, b *Tensor, rtol, atol float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !SameShape(a.shape, b.shape) {
		return false
	}
	for i := 0; i < a.NumElems(); i++ {
		x, y := a.At(i), b.At(i)
		if math.IsNaN(x) && math.IsNaN(y) {
			continue
		}
		if math.Abs(x-y) > atol+rtol*math.Abs(y) {
			return false
		}
	}
	return true
}
