package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDType(t *testing.T) {
	tests := []struct {
		in   string
		want DType
	}{
		{"", Float32},
		{"float32", Float32},
		{"INT32", Int32},
		{"bool", Bool},
	}
	for _, tt := range tests {
		got, err := ParseDType(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseDType("complex128")
	assert.Error(t, err)
}

func TestParseDevice(t *testing.T) {
	d, err := ParseDevice("lazy")
	require.NoError(t, err)
	assert.Equal(t, Lazy, d)

	d, err = ParseDevice("")
	require.NoError(t, err)
	assert.Equal(t, CPU, d)

	_, err = ParseDevice("tpu")
	assert.Error(t, err)
}

func TestNew_ValidatesShapeAndData(t *testing.T) {
	_, err := New([]int{2, 0}, Float32, nil)
	assert.Error(t, err, "zero dimension must be rejected")

	_, err = New([]int{3}, Float32, []float32{1, 2})
	assert.Error(t, err, "length mismatch must be rejected")

	_, err = New([]int{2}, Int32, []float32{1, 2})
	assert.Error(t, err, "slice type must match dtype")

	tt, err := New([]int{2, 2}, Int32, int32(7))
	require.NoError(t, err)
	assert.Equal(t, []int32{7, 7, 7, 7}, tt.Int32s())
}

func TestScalar_IsRankZero(t *testing.T) {
	s := Scalar(2.5, Float32)
	assert.Equal(t, 0, s.Rank())
	assert.Equal(t, 1, s.NumElems())
	assert.Equal(t, 2.5, s.At(0))
}

func TestShape_ReturnsCopy(t *testing.T) {
	tt, err := Zeros([]int{2, 3}, Float32)
	require.NoError(t, err)

	shape := tt.Shape()
	shape[0] = 99
	assert.Equal(t, []int{2, 3}, tt.Shape())
}

func TestClone_IsDeep(t *testing.T) {
	a, err := FromFloat32([]int{2}, []float32{1, 2})
	require.NoError(t, err)

	b := a.Clone()
	b.Float32s()[0] = 42
	assert.Equal(t, float32(1), a.Float32s()[0])
}

func TestReshape(t *testing.T) {
	a, err := FromInt32([]int{2, 3}, []int32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	b, err := a.Reshape([]int{3, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, b.Shape())
	assert.Equal(t, a.Int32s(), b.Int32s())

	_, err = a.Reshape([]int{4})
	assert.Error(t, err)
}

func TestBinary_Broadcasting(t *testing.T) {
	a, _ := FromFloat32([]int{3}, []float32{1, 2, 3})
	one := Scalar(10, Float32)

	out, err := Binary(a, one, Float32, func(x, y float64) float64 { return x + y })
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 12, 13}, out.Float32s())

	out, err = Binary(one, a, Float32, func(x, y float64) float64 { return x - y })
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 8, 7}, out.Float32s())

	b, _ := FromFloat32([]int{2}, []float32{1, 2})
	_, err = Binary(a, b, Float32, func(x, y float64) float64 { return x + y })
	assert.Error(t, err)
}

func TestResultType(t *testing.T) {
	assert.Equal(t, Float32, ResultType(Int32, Float32))
	assert.Equal(t, Int32, ResultType(Int32, Int32))
	assert.Equal(t, Int32, ResultType(Bool, Int32))
}

func TestEqualAndAllClose(t *testing.T) {
	a, _ := FromFloat32([]int{2}, []float32{1, 2})
	b, _ := FromFloat32([]int{2}, []float32{1, 2})
	c, _ := FromFloat32([]int{2}, []float32{1, 2.0001})
	i, _ := FromInt32([]int{2}, []int32{1, 2})

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
	assert.False(t, Equal(a, i), "dtype participates in equality")
	assert.True(t, AllClose(a, c, 1e-3, 0))
	assert.True(t, AllClose(a, i, 0, 0), "AllClose compares values across dtypes")

	nan, _ := FromFloat32([]int{1}, []float32{float32(math.NaN())})
	assert.True(t, AllClose(nan, nan.Clone(), 0, 0))
}
