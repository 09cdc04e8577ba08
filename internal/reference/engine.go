// Package reference implements the reference execution engine: plain CPU
// kernels for the full built-in operator set.
//
// The engine is the fallback target of the lazy backend. It only accepts host
// tensors; callers materialize backend-resident operands first.
package reference

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/ltc/internal/ir"
	"github.com/roach88/ltc/internal/tensor"
)

// EngineName identifies this engine in errors and logs.
const EngineName = "reference"

// Kernel computes one operator on host values. args has already been checked
// against the operator schema.
type Kernel func(ctx context.Context, op ir.Symbol, args []ir.Value) ([]ir.Value, error)

// Engine dispatches operator handles to CPU kernels.
//
// Thread-safety: Execute may be called concurrently. Register is safe at any
// time but is expected during setup.
type Engine struct {
	mu      sync.RWMutex
	kernels map[ir.Symbol]Kernel
	logger  *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithoutBuiltins starts the engine with no kernels registered.
func WithoutBuiltins() Option {
	return func(e *Engine) { e.kernels = make(map[ir.Symbol]Kernel) }
}

// New creates an engine holding the built-in kernels.
func New(opts ...Option) *Engine {
	e := &Engine{
		kernels: builtinKernels(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register installs or replaces the kernel for sym.
func (e *Engine) Register(sym ir.Symbol, k Kernel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kernels[sym] = k
}

// Unregister removes the kernel for sym.
func (e *Engine) Unregister(sym ir.Symbol) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.kernels, sym)
}

// Supports reports whether a kernel exists for sym.
func (e *Engine) Supports(sym ir.Symbol) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.kernels[sym]
	return ok
}

// Symbols returns every implemented operator, sorted.
func (e *Engine) Symbols() []ir.Symbol {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ir.Symbol, 0, len(e.kernels))
	for s := range e.kernels {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Execute runs the kernel for op on host arguments and returns its outputs.
//
// Errors:
//   - UNSUPPORTED_OPERATOR if no kernel exists for op
//   - INVALID_INVOCATION if args do not match the schema, contain a
//     non-host tensor, or are rejected by the kernel
func (e *Engine) Execute(ctx context.Context, op *ir.Operator, args []ir.Value) ([]ir.Value, error) {
	sym := op.Symbol()

	e.mu.RLock()
	k, ok := e.kernels[sym]
	e.mu.RUnlock()
	if !ok {
		return nil, ir.NewUnsupportedError(sym, EngineName)
	}

	if err := op.CheckArgs(args); err != nil {
		return nil, err
	}
	for i, a := range args {
		if err := requireHost(sym, i, a); err != nil {
			return nil, err
		}
	}

	e.logger.Debug("reference kernel", zap.Stringer("op", sym), zap.Int("args", len(args)))
	return k(ctx, sym, args)
}

func requireHost(sym ir.Symbol, i int, v ir.Value) error {
	check := func(t ir.Tensor) error {
		if _, ok := t.(*tensor.Tensor); !ok {
			return ir.NewInvalidInvocationError(sym,
				fmt.Sprintf("argument %d: %s engine needs host tensors, got %s", i, EngineName, t.Device()))
		}
		return nil
	}
	switch x := v.(type) {
	case ir.TensorValue:
		return check(x.Tensor)
	case ir.TensorList:
		for _, t := range x {
			if err := check(t); err != nil {
				return err
			}
		}
	}
	return nil
}
