package tensor

import "fmt"

// New creates a tensor from a typed slice or a single fill value.
//
// data may be []float32, []int32, []bool, []float64 (converted to dtype), a
// scalar fill value of the matching Go type, or nil for zeros.
func New(shape []int, dtype DType, data any) (*Tensor, error) {
	t, err := Zeros(shape, dtype)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return t, nil
	}
	if err := t.setData(data); err != nil {
		return nil, err
	}
	return t, nil
}

// Zeros allocates a zero-filled tensor.
func Zeros(shape []int, dtype DType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	n := numElements(shape)
	t := &Tensor{shape: append([]int(nil), shape...), dtype: dtype}
	switch dtype {
	case Float32:
		t.f32 = make([]float32, n)
	case Int32:
		t.i32 = make([]int32, n)
	case Bool:
		t.b = make([]bool, n)
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}
	return t, nil
}

// Full allocates a tensor with every element set to v.
func Full(shape []int, dtype DType, v float64) (*Tensor, error) {
	t, err := Zeros(shape, dtype)
	if err != nil {
		return nil, err
	}
	for i := 0; i < t.NumElems(); i++ {
		t.set(i, v)
	}
	return t, nil
}

// Scalar creates a rank-0 tensor.
func Scalar(v float64, dtype DType) *Tensor {
	t, _ := Full(nil, dtype, v)
	return t
}

// FromFloat32 wraps a copy of data in a float32 tensor.
func FromFloat32(shape []int, data []float32) (*Tensor, error) {
	return New(shape, Float32, append([]float32(nil), data...))
}

// FromInt32 wraps a copy of data in an int32 tensor.
func FromInt32(shape []int, data []int32) (*Tensor, error) {
	return New(shape, Int32, append([]int32(nil), data...))
}

// FromBool wraps a copy of data in a bool tensor.
func FromBool(shape []int, data []bool) (*Tensor, error) {
	return New(shape, Bool, append([]bool(nil), data...))
}

// FromValues converts float64 values into a tensor of the given dtype.
func FromValues(shape []int, dtype DType, values []float64) (*Tensor, error) {
	t, err := Zeros(shape, dtype)
	if err != nil {
		return nil, err
	}
	if len(values) != t.NumElems() {
		return nil, fmt.Errorf("data length %d does not match tensor size %d", len(values), t.NumElems())
	}
	for i, v := range values {
		t.set(i, v)
	}
	return t, nil
}

func (t *Tensor) setData(data any) error {
	n := t.NumElems()
	switch d := data.(type) {
	case []float32:
		if t.dtype != Float32 {
			return fmt.Errorf("cannot use []float32 data for %s tensor", t.dtype)
		}
		if len(d) != n {
			return fmt.Errorf("data length %d does not match tensor size %d", len(d), n)
		}
		t.f32 = d
	case []int32:
		if t.dtype != Int32 {
			return fmt.Errorf("cannot use []int32 data for %s tensor", t.dtype)
		}
		if len(d) != n {
			return fmt.Errorf("data length %d does not match tensor size %d", len(d), n)
		}
		t.i32 = d
	case []bool:
		if t.dtype != Bool {
			return fmt.Errorf("cannot use []bool data for %s tensor", t.dtype)
		}
		if len(d) != n {
			return fmt.Errorf("data length %d does not match tensor size %d", len(d), n)
		}
		t.b = d
	case []float64:
		if len(d) != n {
			return fmt.Errorf("data length %d does not match tensor size %d", len(d), n)
		}
		for i, v := range d {
			t.set(i, v)
		}
	case float32:
		for i := 0; i < n; i++ {
			t.set(i, float64(d))
		}
	case float64:
		for i := 0; i < n; i++ {
			t.set(i, d)
		}
	case int32:
		for i := 0; i < n; i++ {
			t.set(i, float64(d))
		}
	case int:
		for i := 0; i < n; i++ {
			t.set(i, float64(d))
		}
	case bool:
		v := 0.0
		if d {
			v = 1
		}
		for i := 0; i < n; i++ {
			t.set(i, v)
		}
	default:
		return fmt.Errorf("unsupported data type for %s tensor: %T", t.dtype, data)
	}
	return nil
}
