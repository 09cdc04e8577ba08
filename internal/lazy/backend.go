// Package lazy implements the custom tensor backend: device-resident tensors
// that record natively supported operators as a pending graph and compute it
// only when a value is materialized.
//
// The backend covers a configurable subset of the operator set. Everything
// else is routed elsewhere by the dispatcher; the backend only provides the
// Export/Import conversions the fallback path needs.
package lazy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/roach88/ltc/internal/ir"
	"github.com/roach88/ltc/internal/tensor"
)

// EngineName identifies the backend in errors and logs.
const EngineName = "lazy"

// Config selects native coverage and the device memory budget.
type Config struct {
	// Native lists the operators run on the device. nil means
	// DefaultNative; an empty non-nil list runs nothing natively. Every
	// entry must have a device kernel.
	Native []string

	// MaxDeviceBytes bounds the bytes held by live device buffers.
	// 0 means unlimited.
	MaxDeviceBytes int64
}

// Stats counts backend activity.
type Stats struct {
	Imports   int64 `json:"imports"`
	Exports   int64 `json:"exports"`
	Traced    int64 `json:"traced"`
	Evaluated int64 `json:"evaluated"`
	Allocated int64 `json:"allocated_bytes"`
}

// Backend is the lazy device.
//
// Thread-safety: all methods may be called concurrently. Individual tensors
// guard their own materialization.
type Backend struct {
	native   map[ir.Symbol]struct{}
	maxBytes int64
	logger   *zap.Logger

	allocated atomic.Int64
	imports   atomic.Int64
	exports   atomic.Int64
	traced    atomic.Int64
	evaluated atomic.Int64
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the backend logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// New creates a backend.
func New(cfg Config, opts ...Option) (*Backend, error) {
	names := cfg.Native
	if names == nil {
		names = DefaultNative()
	}
	if cfg.MaxDeviceBytes < 0 {
		return nil, fmt.Errorf("max device bytes must be >= 0, got %d", cfg.MaxDeviceBytes)
	}

	b := &Backend{
		native:   make(map[ir.Symbol]struct{}, len(names)),
		maxBytes: cfg.MaxDeviceBytes,
		logger:   zap.NewNop(),
	}
	for _, sym := range ir.InternAll(names) {
		if _, ok := kernels[sym]; !ok {
			return nil, fmt.Errorf("no device kernel for native operator %s", sym)
		}
		b.native[sym] = struct{}{}
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Device returns the device this backend's tensors report.
func (b *Backend) Device() tensor.Device {
	return tensor.Lazy
}

// Supports reports whether sym runs natively.
func (b *Backend) Supports(sym ir.Symbol) bool {
	_, ok := b.native[sym]
	return ok
}

// Native returns the natively supported operators, sorted.
func (b *Backend) Native() []ir.Symbol {
	out := make([]ir.Symbol, 0, len(b.native))
	for s := range b.native {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Execute traces op over the top of stack without computing it. The
// consumed arguments are replaced by one pending tensor.
//
// Host tensor operands are uploaded first. Errors leave the stack untouched.
func (b *Backend) Execute(ctx context.Context, op *ir.Operator, stack *ir.Stack) error {
	sym := op.Symbol()
	k, ok := kernels[sym]
	if !ok || !b.Supports(sym) {
		return ir.NewUnsupportedError(sym, EngineName)
	}

	args, err := stack.Peek(op.NumArgs())
	if err != nil {
		return ir.NewInvalidInvocationError(sym, err.Error())
	}
	if err := op.CheckArgs(args); err != nil {
		return err
	}

	arity := 1
	if k.binary {
		arity = 2
	}
	operands := make([]ir.Tensor, arity)
	for i := range operands {
		operands[i], _ = ir.TensorOf(args[i])
	}

	shape := operands[0].Shape()
	dtype := k.dtype(operands[0].DType(), operands[0].DType())
	if k.binary {
		shape, err = tensor.BroadcastShape(operands[0].Shape(), operands[1].Shape())
		if err != nil {
			return ir.NewInvalidInvocationError(sym, err.Error())
		}
		dtype = k.dtype(operands[0].DType(), operands[1].DType())
	}

	var alpha float64
	if k.alpha {
		alpha, _ = ir.ScalarOf(args[2])
		if _, isFloat := args[2].(ir.Float); isFloat && dtype != tensor.Float32 && alpha != math.Trunc(alpha) {
			return ir.NewInvalidInvocationError(sym, fmt.Sprintf("alpha %v is not representable in %s", alpha, dtype))
		}
	}

	inputs := make([]*Tensor, arity)
	var owned []*Tensor
	for i, t := range operands {
		in, uploaded, err := b.adopt(ctx, sym, t)
		if err != nil {
			for _, u := range owned {
				b.Release(u)
			}
			return err
		}
		inputs[i] = in
		if uploaded {
			owned = append(owned, in)
		}
	}

	out := &Tensor{
		backend: b,
		shape:   shape,
		dtype:   dtype,
		node:    &node{op: sym, inputs: inputs, owned: owned, alpha: alpha},
	}
	b.traced.Add(1)
	b.logger.Debug("traced", zap.Stringer("op", sym), zap.Ints("shape", shape))
	return stack.Replace(op.NumArgs(), []ir.Value{ir.NewTensor(out)})
}

// adopt returns t as a tensor of this backend, uploading host tensors.
// uploaded reports whether a new device buffer was created.
func (b *Backend) adopt(ctx context.Context, sym ir.Symbol, t ir.Tensor) (in *Tensor, uploaded bool, err error) {
	switch x := t.(type) {
	case *Tensor:
		if x.backend != b {
			return nil, false, ir.NewMaterializationError(sym, "tensor belongs to another backend", nil)
		}
		return x, false, nil
	case *tensor.Tensor:
		imported, err := b.Import(ctx, x)
		if err != nil {
			return nil, false, err
		}
		return imported.(*Tensor), true, nil
	default:
		return nil, false, ir.NewMaterializationError(sym, fmt.Sprintf("cannot adopt %T", t), nil)
	}
}

// Import uploads a host tensor into a new device buffer.
//
// Errors: MATERIALIZATION_FAILED when the dtype has no device representation
// or the device budget is exhausted.
func (b *Backend) Import(ctx context.Context, host *tensor.Tensor) (ir.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, ir.NewMaterializationError("", "import cancelled", err)
	}
	if host == nil {
		return nil, ir.NewMaterializationError("", "cannot import nil tensor", nil)
	}
	if host.DType() == tensor.Bool {
		return nil, ir.NewMaterializationError("", "dtype bool has no device representation", nil)
	}
	size := int64(host.SizeBytes())
	if err := b.reserve("", size); err != nil {
		return nil, err
	}
	b.imports.Add(1)
	return &Tensor{
		backend: b,
		shape:   host.Shape(),
		dtype:   host.DType(),
		buf:     host.Clone(),
	}, nil
}

// Export materializes t and copies it into a fresh host tensor.
//
// Errors: MATERIALIZATION_FAILED when t is not a tensor of this backend, has
// been released, or its pending graph cannot be evaluated.
func (b *Backend) Export(ctx context.Context, t ir.Tensor) (*tensor.Tensor, error) {
	lt, ok := t.(*Tensor)
	if !ok || lt.backend != b {
		return nil, ir.NewMaterializationError("", fmt.Sprintf("cannot export %s tensor from %s backend", t.Device(), EngineName), nil)
	}
	buf, err := lt.materialize(ctx)
	if err != nil {
		return nil, err
	}
	b.exports.Add(1)
	return buf.Clone(), nil
}

// Release frees the device memory of t, along with host operands uploaded
// for its pending node. Releasing twice is a no-op.
func (b *Backend) Release(t ir.Tensor) {
	lt, ok := t.(*Tensor)
	if !ok || lt.backend != b {
		return
	}
	n, owned := lt.release()
	if n > 0 {
		b.allocated.Add(-n)
	}
	for _, o := range owned {
		b.Release(o)
	}
}

// Allocated returns the bytes held by live device buffers.
func (b *Backend) Allocated() int64 {
	return b.allocated.Load()
}

// Stats returns a snapshot of backend counters.
func (b *Backend) Stats() Stats {
	return Stats{
		Imports:   b.imports.Load(),
		Exports:   b.exports.Load(),
		Traced:    b.traced.Load(),
		Evaluated: b.evaluated.Load(),
		Allocated: b.allocated.Load(),
	}
}

// reserve charges size bytes to the device budget.
func (b *Backend) reserve(op ir.Symbol, size int64) error {
	for {
		cur := b.allocated.Load()
		next := cur + size
		if b.maxBytes > 0 && next > b.maxBytes {
			return ir.NewMaterializationError(op,
				fmt.Sprintf("device allocation of %d bytes exceeds budget (%d of %d in use)", size, cur, b.maxBytes), nil)
		}
		if b.allocated.CompareAndSwap(cur, next) {
			return nil
		}
	}
}
