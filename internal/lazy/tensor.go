package lazy

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/ltc/internal/ir"
	"github.com/roach88/ltc/internal/tensor"
)

// node is a traced operation whose result has not been computed.
type node struct {
	op     ir.Symbol
	inputs []*Tensor
	// owned are inputs uploaded from host operands while tracing. Nothing
	// else refers to them, so they are freed with the node.
	owned []*Tensor
	alpha float64
}

// Tensor is a backend-resident tensor. It holds either a device buffer or a
// pending node; the node is evaluated on first materialization.
//
// Shape and dtype are known without evaluation.
type Tensor struct {
	backend *Backend
	shape   []int
	dtype   tensor.DType

	mu       sync.Mutex
	buf      *tensor.Tensor
	node     *node
	released bool
}

func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

func (t *Tensor) DType() tensor.DType {
	return t.dtype
}

func (t *Tensor) Device() tensor.Device {
	return tensor.Lazy
}

// Pending reports whether t still holds an unevaluated node.
func (t *Tensor) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.node != nil
}

// Released reports whether the device memory of t has been freed.
func (t *Tensor) Released() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, device=%s)", t.shape, t.dtype, tensor.Lazy)
}

func (t *Tensor) sizeBytes() int64 {
	n := 1
	for _, d := range t.shape {
		n *= d
	}
	return int64(n * t.dtype.Size())
}

// materialize returns the device buffer of t, evaluating its pending node if
// needed. The returned buffer must not be mutated.
func (t *Tensor) materialize(ctx context.Context) (*tensor.Tensor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.released {
		return nil, ir.NewMaterializationError("", "tensor has been released", nil)
	}
	if t.buf != nil {
		return t.buf, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, ir.NewMaterializationError(t.node.op, "evaluation cancelled", err)
	}

	inputs := make([]*tensor.Tensor, len(t.node.inputs))
	for i, in := range t.node.inputs {
		buf, err := in.materialize(ctx)
		if err != nil {
			return nil, err
		}
		inputs[i] = buf
	}

	out, err := evaluate(t.node, inputs, t.dtype)
	if err != nil {
		return nil, ir.NewMaterializationError(t.node.op, "evaluation failed", err)
	}
	if err := t.backend.reserve(t.node.op, t.sizeBytes()); err != nil {
		return nil, err
	}
	t.backend.evaluated.Add(1)
	owned := t.node.owned
	t.buf = out
	t.node = nil
	for _, o := range owned {
		t.backend.Release(o)
	}
	return t.buf, nil
}

// release frees the device buffer of t. It reports the bytes returned to the
// backend budget and the uploaded inputs of a node that was never evaluated.
func (t *Tensor) release() (int64, []*Tensor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return 0, nil
	}
	t.released = true
	var owned []*Tensor
	if t.node != nil {
		owned = t.node.owned
		t.node = nil
	}
	if t.buf == nil {
		return 0, owned
	}
	t.buf = nil
	return t.sizeBytes(), owned
}
