package reference

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ltc/internal/ir"
	"github.com/roach88/ltc/internal/tensor"
)

// fakeDeviceTensor is a tensor that does not live on the host.
type fakeDeviceTensor struct{}

func (fakeDeviceTensor) Shape() []int          { return []int{1} }
func (fakeDeviceTensor) DType() tensor.DType   { return tensor.Float32 }
func (fakeDeviceTensor) Device() tensor.Device { return tensor.Lazy }

func f32(t *testing.T, shape []int, data ...float32) ir.Value {
	t.Helper()
	x, err := tensor.FromFloat32(shape, data)
	require.NoError(t, err)
	return ir.NewTensor(x)
}

func i32(t *testing.T, shape []int, data ...int32) ir.Value {
	t.Helper()
	x, err := tensor.FromInt32(shape, data)
	require.NoError(t, err)
	return ir.NewTensor(x)
}

func run(t *testing.T, e *Engine, name string, args ...ir.Value) (*tensor.Tensor, error) {
	t.Helper()
	op, ok := ir.DefaultRegistry().Lookup(ir.Intern(name))
	require.True(t, ok, "operator %s", name)
	full, err := op.WithDefaults(args)
	if err != nil {
		return nil, err
	}
	out, err := e.Execute(context.Background(), op, full)
	if err != nil {
		return nil, err
	}
	require.Len(t, out, 1)
	res, ok := ir.TensorOf(out[0])
	require.True(t, ok)
	return res.(*tensor.Tensor), nil
}

func TestEngine_SupportsEveryBuiltin(t *testing.T) {
	e := New()
	for _, s := range ir.Builtins() {
		assert.True(t, e.Supports(ir.Intern(string(s.Name))), "missing kernel for %s", s.Name)
	}
	assert.Len(t, e.Symbols(), len(ir.Builtins()))
}

func TestEngine_Add(t *testing.T) {
	e := New()
	out, err := run(t, e, "add", f32(t, []int{2}, 1, 2), f32(t, []int{2}, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 6}, out.Float32s())

	out, err = run(t, e, "add", f32(t, []int{2}, 1, 2), f32(t, []int{2}, 3, 4), ir.Float(0.5))
	require.NoError(t, err)
	assert.Equal(t, []float32{2.5, 4}, out.Float32s())
}

func TestEngine_SubWithAlphaAndPromotion(t *testing.T) {
	out, err := run(t, New(), "sub", i32(t, []int{2}, 10, 20), f32(t, nil, 1), ir.Int(2))
	require.NoError(t, err)
	assert.Equal(t, tensor.Float32, out.DType())
	assert.Equal(t, []float32{8, 18}, out.Float32s())
}

func TestEngine_IntegerAlphaMustBeIntegral(t *testing.T) {
	_, err := run(t, New(), "add", i32(t, []int{1}, 1), i32(t, []int{1}, 1), ir.Float(0.5))
	assert.True(t, ir.IsInvalidInvocation(err))
}

func TestEngine_DivAlwaysFloats(t *testing.T) {
	out, err := run(t, New(), "div", i32(t, []int{2}, 1, 3), i32(t, []int{2}, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 1.5}, out.Float32s())
}

func TestEngine_UnaryKernels(t *testing.T) {
	e := New()

	out, err := run(t, e, "relu", f32(t, []int{3}, -1, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 2}, out.Float32s())

	out, err = run(t, e, "neg", i32(t, []int{2}, 1, -2))
	require.NoError(t, err)
	assert.Equal(t, []int32{-1, 2}, out.Int32s())

	out, err = run(t, e, "sigmoid", f32(t, []int{1}, 0))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, out.Float32s())

	out, err = run(t, e, "sqrt", i32(t, []int{2}, 4, 9))
	require.NoError(t, err)
	assert.Equal(t, tensor.Float32, out.DType())
	assert.Equal(t, []float32{2, 3}, out.Float32s())
}

func TestEngine_MatMul(t *testing.T) {
	e := New()
	a := f32(t, []int{2, 3}, 1, 2, 3, 4, 5, 6)
	b := f32(t, []int{3, 2}, 7, 8, 9, 10, 11, 12)

	out, err := run(t, e, "mm", a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, out.Shape())
	assert.Equal(t, []float32{58, 64, 139, 154}, out.Float32s())

	_, err = run(t, e, "mm", a, a)
	assert.True(t, ir.IsInvalidInvocation(err))
}

func TestEngine_Transpose(t *testing.T) {
	out, err := run(t, New(), "t", f32(t, []int{2, 3}, 1, 2, 3, 4, 5, 6))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, out.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, out.Float32s())
}

func TestEngine_Reductions(t *testing.T) {
	e := New()

	out, err := run(t, e, "sum", i32(t, []int{3}, 1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, 0, out.Rank())
	assert.Equal(t, []int32{6}, out.Int32s())

	out, err = run(t, e, "mean", f32(t, []int{4}, 1, 2, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, []float32{2.5}, out.Float32s())

	_, err = run(t, e, "mean", i32(t, []int{1}, 1))
	assert.True(t, ir.IsInvalidInvocation(err))
}

func TestEngine_Reshape(t *testing.T) {
	e := New()
	x := f32(t, []int{2, 3}, 1, 2, 3, 4, 5, 6)

	out, err := run(t, e, "reshape", x, ir.IntList{3, -1})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, out.Shape())

	_, err = run(t, e, "reshape", x, ir.IntList{4, -1})
	assert.True(t, ir.IsInvalidInvocation(err))

	_, err = run(t, e, "reshape", x, ir.IntList{-1, -1})
	assert.True(t, ir.IsInvalidInvocation(err))
}

func TestEngine_ClampCompareWhere(t *testing.T) {
	e := New()

	out, err := run(t, e, "clamp", f32(t, []int{3}, -5, 0.5, 5), ir.Int(0), ir.Int(1))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0.5, 1}, out.Float32s())

	_, err = run(t, e, "clamp", f32(t, []int{1}, 1), ir.Int(2), ir.Int(1))
	assert.True(t, ir.IsInvalidInvocation(err))

	cond, err := run(t, e, "gt", f32(t, []int{3}, 1, 5, 3), f32(t, nil, 2))
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true}, cond.Bools())

	eq, err := run(t, e, "eq", i32(t, []int{2}, 1, 2), i32(t, []int{2}, 1, 3))
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, eq.Bools())

	out, err = run(t, e, "where", ir.NewTensor(cond), f32(t, []int{3}, 1, 2, 3), f32(t, nil, 0))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 2, 3}, out.Float32s())

	_, err = run(t, e, "where", f32(t, []int{3}, 1, 0, 1), f32(t, []int{3}, 1, 2, 3), f32(t, nil, 0))
	assert.True(t, ir.IsInvalidInvocation(err), "condition must be bool")
}

func TestEngine_ShapeMismatchIsInvalidInvocation(t *testing.T) {
	_, err := run(t, New(), "mul", f32(t, []int{2}, 1, 2), f32(t, []int{3}, 1, 2, 3))
	require.Error(t, err)
	assert.True(t, ir.IsInvalidInvocation(err))
}

func TestEngine_RejectsDeviceTensors(t *testing.T) {
	_, err := run(t, New(), "relu", ir.NewTensor(fakeDeviceTensor{}))
	require.Error(t, err)
	assert.True(t, ir.IsInvalidInvocation(err))
	assert.Contains(t, err.Error(), "host tensors")
}

func TestEngine_UnsupportedOperator(t *testing.T) {
	e := New()
	e.Unregister(ir.Intern("tanh"))
	assert.False(t, e.Supports(ir.Intern("tanh")))

	_, err := run(t, e, "tanh", f32(t, []int{1}, 0))
	assert.True(t, ir.IsUnsupported(err))
}

func TestEngine_RegisterCustomKernel(t *testing.T) {
	e := New(WithoutBuiltins())
	assert.Empty(t, e.Symbols())

	called := false
	e.Register(ir.Intern("relu"), func(_ context.Context, _ ir.Symbol, args []ir.Value) ([]ir.Value, error) {
		called = true
		return args[:1], nil
	})

	_, err := run(t, e, "relu", f32(t, []int{1}, -1))
	require.NoError(t, err)
	assert.True(t, called)
}
