package lazy

import (
	"fmt"
	"math"

	"github.com/roach88/ltc/internal/ir"
	"github.com/roach88/ltc/internal/tensor"
)

// kernel describes one natively supported operator: how the output dtype is
// derived when tracing, and how the node is computed when evaluated.
type kernel struct {
	binary bool
	alpha  bool
	dtype  func(a, b tensor.DType) tensor.DType
	eval   func(x, y, alpha float64) float64
}

func promote(a, b tensor.DType) tensor.DType { return tensor.ResultType(a, b) }
func floating(_, _ tensor.DType) tensor.DType { return tensor.Float32 }
func same(a, _ tensor.DType) tensor.DType     { return a }

var kernels = map[ir.Symbol]kernel{
	"aten::add":  {binary: true, alpha: true, dtype: promote, eval: func(x, y, a float64) float64 { return x + a*y }},
	"aten::sub":  {binary: true, alpha: true, dtype: promote, eval: func(x, y, a float64) float64 { return x - a*y }},
	"aten::mul":  {binary: true, dtype: promote, eval: func(x, y, _ float64) float64 { return x * y }},
	"aten::div":  {binary: true, dtype: floating, eval: func(x, y, _ float64) float64 { return x / y }},
	"aten::neg":  {dtype: same, eval: func(x, _, _ float64) float64 { return -x }},
	"aten::relu": {dtype: same, eval: func(x, _, _ float64) float64 { return math.Max(x, 0) }},
}

// Kernels lists every operator the backend can run natively.
func Kernels() []ir.Symbol {
	out := make([]ir.Symbol, 0, len(kernels))
	for s := range kernels {
		out = append(out, s)
	}
	return out
}

// DefaultNative is the default native coverage.
func DefaultNative() []string {
	return []string{"aten::add", "aten::sub", "aten::mul", "aten::div", "aten::neg", "aten::relu"}
}

func evaluate(n *node, inputs []*tensor.Tensor, out tensor.DType) (*tensor.Tensor, error) {
	k, ok := kernels[n.op]
	if !ok {
		return nil, fmt.Errorf("no device kernel for %s", n.op)
	}
	if k.binary {
		return tensor.Binary(inputs[0], inputs[1], out, func(x, y float64) float64 {
			return k.eval(x, y, n.alpha)
		})
	}
	return tensor.Unary(inputs[0], out, func(x float64) float64 {
		return k.eval(x, 0, 0)
	})
}
