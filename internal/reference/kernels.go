package reference

import (
	"context"
	"fmt"
	"math"

	"github.com/roach88/ltc/internal/ir"
	"github.com/roach88/ltc/internal/tensor"
)

func builtinKernels() map[ir.Symbol]Kernel {
	k := map[ir.Symbol]Kernel{
		"aten::add": addKernel(1),
		"aten::sub": addKernel(-1),
		"aten::mul": binaryKernel(func(x, y float64) float64 { return x * y }, false),
		"aten::div": binaryKernel(func(x, y float64) float64 { return x / y }, true),

		"aten::neg":  unaryKernel(func(x float64) float64 { return -x }, false),
		"aten::abs":  unaryKernel(math.Abs, false),
		"aten::relu": unaryKernel(func(x float64) float64 { return math.Max(x, 0) }, false),

		"aten::exp":     unaryKernel(math.Exp, true),
		"aten::log":     unaryKernel(math.Log, true),
		"aten::sqrt":    unaryKernel(math.Sqrt, true),
		"aten::tanh":    unaryKernel(math.Tanh, true),
		"aten::sigmoid": unaryKernel(func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }, true),

		"aten::mm":      mmKernel,
		"aten::t":       transposeKernel,
		"aten::sum":     sumKernel,
		"aten::mean":    meanKernel,
		"aten::reshape": reshapeKernel,
		"aten::clamp":   clampKernel,
		"aten::where":   whereKernel,

		"aten::eq": compareKernel(func(x, y float64) bool { return x == y }),
		"aten::gt": compareKernel(func(x, y float64) bool { return x > y }),
	}
	return k
}

// hostArg returns argument i as a host tensor. Execute has already verified
// the kinds and devices.
func hostArg(args []ir.Value, i int) *tensor.Tensor {
	t, _ := ir.TensorOf(args[i])
	return t.(*tensor.Tensor)
}

func single(t *tensor.Tensor) []ir.Value {
	return []ir.Value{ir.NewTensor(t)}
}

func kernelError(op ir.Symbol, err error) error {
	e := ir.NewInvalidInvocationError(op, err.Error())
	e.Err = err
	return e
}

// arithType maps bool operands to int32, as arithmetic on bool promotes.
func arithType(d tensor.DType) tensor.DType {
	if d == tensor.Bool {
		return tensor.Int32
	}
	return d
}

func addKernel(sign float64) Kernel {
	return func(_ context.Context, op ir.Symbol, args []ir.Value) ([]ir.Value, error) {
		a, b := hostArg(args, 0), hostArg(args, 1)
		alpha, _ := ir.ScalarOf(args[2])
		out := tensor.ResultType(a.DType(), b.DType())
		if _, isFloat := args[2].(ir.Float); isFloat && out != tensor.Float32 && alpha != math.Trunc(alpha) {
			return nil, ir.NewInvalidInvocationError(op, fmt.Sprintf("alpha %v is not representable in %s", alpha, out))
		}
		r, err := tensor.Binary(a, b, out, func(x, y float64) float64 { return x + sign*alpha*y })
		if err != nil {
			return nil, kernelError(op, err)
		}
		return single(r), nil
	}
}

func binaryKernel(fn func(x, y float64) float64, floating bool) Kernel {
	return func(_ context.Context, op ir.Symbol, args []ir.Value) ([]ir.Value, error) {
		a, b := hostArg(args, 0), hostArg(args, 1)
		out := tensor.ResultType(a.DType(), b.DType())
		if floating {
			out = tensor.Float32
		}
		r, err := tensor.Binary(a, b, out, fn)
		if err != nil {
			return nil, kernelError(op, err)
		}
		return single(r), nil
	}
}

func unaryKernel(fn func(float64) float64, floating bool) Kernel {
	return func(_ context.Context, op ir.Symbol, args []ir.Value) ([]ir.Value, error) {
		a := hostArg(args, 0)
		out := arithType(a.DType())
		if floating {
			out = tensor.Float32
		}
		r, err := tensor.Unary(a, out, fn)
		if err != nil {
			return nil, kernelError(op, err)
		}
		return single(r), nil
	}
}

func compareKernel(fn func(x, y float64) bool) Kernel {
	return func(_ context.Context, op ir.Symbol, args []ir.Value) ([]ir.Value, error) {
		a, b := hostArg(args, 0), hostArg(args, 1)
		r, err := tensor.Binary(a, b, tensor.Bool, func(x, y float64) float64 {
			if fn(x, y) {
				return 1
			}
			return 0
		})
		if err != nil {
			return nil, kernelError(op, err)
		}
		return single(r), nil
	}
}

func mmKernel(_ context.Context, op ir.Symbol, args []ir.Value) ([]ir.Value, error) {
	a, b := hostArg(args, 0), hostArg(args, 1)
	if a.Rank() != 2 || b.Rank() != 2 {
		return nil, ir.NewInvalidInvocationError(op, fmt.Sprintf("mm expects 2-D tensors, got %v and %v", a.Shape(), b.Shape()))
	}
	as, bs := a.Shape(), b.Shape()
	m, k, n := as[0], as[1], bs[1]
	if bs[0] != k {
		return nil, ir.NewInvalidInvocationError(op, fmt.Sprintf("mm shapes cannot be multiplied (%dx%d and %dx%d)", m, k, bs[0], n))
	}

	values := make([]float64, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var acc float64
			for p := 0; p < k; p++ {
				acc += a.At(i*k+p) * b.At(p*n+j)
			}
			values[i*n+j] = acc
		}
	}
	r, err := tensor.FromValues([]int{m, n}, tensor.ResultType(a.DType(), b.DType()), values)
	if err != nil {
		return nil, kernelError(op, err)
	}
	return single(r), nil
}

func transposeKernel(_ context.Context, op ir.Symbol, args []ir.Value) ([]ir.Value, error) {
	a := hostArg(args, 0)
	switch a.Rank() {
	case 0, 1:
		return single(a.Clone()), nil
	case 2:
	default:
		return nil, ir.NewInvalidInvocationError(op, fmt.Sprintf("t expects a tensor with <= 2 dimensions, got %d", a.Rank()))
	}
	s := a.Shape()
	rows, cols := s[0], s[1]
	values := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			values[j*rows+i] = a.At(i*cols + j)
		}
	}
	r, err := tensor.FromValues([]int{cols, rows}, a.DType(), values)
	if err != nil {
		return nil, kernelError(op, err)
	}
	return single(r), nil
}

func total(t *tensor.Tensor) float64 {
	var acc float64
	for i := 0; i < t.NumElems(); i++ {
		acc += t.At(i)
	}
	return acc
}

func sumKernel(_ context.Context, _ ir.Symbol, args []ir.Value) ([]ir.Value, error) {
	a := hostArg(args, 0)
	return single(tensor.Scalar(total(a), arithType(a.DType()))), nil
}

func meanKernel(_ context.Context, op ir.Symbol, args []ir.Value) ([]ir.Value, error) {
	a := hostArg(args, 0)
	if a.DType() != tensor.Float32 {
		return nil, ir.NewInvalidInvocationError(op, fmt.Sprintf("mean requires a floating point input, got %s", a.DType()))
	}
	return single(tensor.Scalar(total(a)/float64(a.NumElems()), tensor.Float32)), nil
}

func reshapeKernel(_ context.Context, op ir.Symbol, args []ir.Value) ([]ir.Value, error) {
	a := hostArg(args, 0)
	shape, err := inferShape(args[1].(ir.IntList), a.NumElems())
	if err != nil {
		return nil, kernelError(op, err)
	}
	r, err := a.Reshape(shape)
	if err != nil {
		return nil, kernelError(op, err)
	}
	return single(r), nil
}

// inferShape resolves at most one -1 dimension against n elements.
func inferShape(dims ir.IntList, n int) ([]int, error) {
	shape := dims.Ints()
	infer := -1
	known := 1
	for i, d := range shape {
		switch {
		case d == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("only one dimension can be inferred")
			}
			infer = i
		case d <= 0:
			return nil, fmt.Errorf("invalid shape dimension %d", d)
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || n%known != 0 {
			return nil, fmt.Errorf("shape %v is invalid for input of size %d", []int64(dims), n)
		}
		shape[infer] = n / known
	}
	return shape, nil
}

func clampKernel(_ context.Context, op ir.Symbol, args []ir.Value) ([]ir.Value, error) {
	a := hostArg(args, 0)
	lo, _ := ir.ScalarOf(args[1])
	hi, _ := ir.ScalarOf(args[2])
	if lo > hi {
		return nil, ir.NewInvalidInvocationError(op, fmt.Sprintf("clamp min %v is greater than max %v", lo, hi))
	}
	r, err := tensor.Unary(a, arithType(a.DType()), func(x float64) float64 {
		return math.Min(math.Max(x, lo), hi)
	})
	if err != nil {
		return nil, kernelError(op, err)
	}
	return single(r), nil
}

func whereKernel(_ context.Context, op ir.Symbol, args []ir.Value) ([]ir.Value, error) {
	cond, a, b := hostArg(args, 0), hostArg(args, 1), hostArg(args, 2)
	if cond.DType() != tensor.Bool {
		return nil, ir.NewInvalidInvocationError(op, fmt.Sprintf("where condition must be bool, got %s", cond.DType()))
	}
	shape, err := tensor.BroadcastShape(a.Shape(), b.Shape())
	if err != nil {
		return nil, kernelError(op, err)
	}
	shape, err = tensor.BroadcastShape(shape, cond.Shape())
	if err != nil {
		return nil, kernelError(op, err)
	}

	n := 1
	for _, d := range shape {
		n *= d
	}
	nc, na, nb := cond.NumElems(), a.NumElems(), b.NumElems()
	values := make([]float64, n)
	for i := range values {
		if cond.At(i%nc) != 0 {
			values[i] = a.At(i % na)
		} else {
			values[i] = b.At(i % nb)
		}
	}
	r, err := tensor.FromValues(shape, tensor.ResultType(arithType(a.DType()), arithType(b.DType())), values)
	if err != nil {
		return nil, kernelError(op, err)
	}
	return single(r), nil
}
