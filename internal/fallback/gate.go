package fallback

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/ltc/internal/ir"
	"github.com/roach88/ltc/internal/tensor"
)

// Reference is the engine fallback execution is redirected to. It consumes
// host tensors only.
type Reference interface {
	Execute(ctx context.Context, op *ir.Operator, args []ir.Value) ([]ir.Value, error)
}

// Materializer converts between the custom backend's representation and
// host tensors.
type Materializer interface {
	// Device is the device reported by backend-resident tensors.
	Device() tensor.Device
	ir.Exporter
	ir.Importer
	// Release frees a tensor returned by Import.
	Release(t ir.Tensor)
}

// Gate redirects operator calls from the custom backend to the reference
// engine.
//
// Thread-safety: Run may be called concurrently with distinct stacks. When
// the policy pins fallback to the designated thread, calls are serialized
// there in handoff order.
type Gate struct {
	policy  *Policy
	ref     Reference
	mat     Materializer
	thread  *MainThread
	owned   bool
	metrics *Metrics
	logger  *zap.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithMainThread shares an existing designated thread. Without it, a gate
// whose policy pins fallback starts its own.
func WithMainThread(m *MainThread) GateOption {
	return func(g *Gate) { g.thread = m }
}

// WithMetrics sets the gate collectors.
func WithMetrics(m *Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// WithLogger sets the gate logger.
func WithLogger(l *zap.Logger) GateOption {
	return func(g *Gate) { g.logger = l }
}

// NewGate creates a gate over the reference engine ref and the backend mat.
func NewGate(policy *Policy, ref Reference, mat Materializer, opts ...GateOption) *Gate {
	g := &Gate{
		policy: policy,
		ref:    ref,
		mat:    mat,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = NewMetrics(nil)
	}
	if g.policy.FallbackMainThread() && g.thread == nil {
		g.thread = NewMainThread(WithThreadLogger(g.logger))
		g.owned = true
	}
	return g
}

// Policy returns the gate's policy.
func (g *Gate) Policy() *Policy {
	return g.policy
}

// FallbackMainThread reports whether Run executes on the designated thread.
func (g *Gate) FallbackMainThread() bool {
	return g.policy.FallbackMainThread()
}

// ForceEagerFallback reports whether sym is always routed to fallback.
func (g *Gate) ForceEagerFallback(sym ir.Symbol) bool {
	return g.policy.ForceEagerFallback(sym)
}

// Close stops the designated thread if the gate started it.
func (g *Gate) Close() {
	if g.owned {
		g.thread.Close()
	}
}

// Run executes op through the reference engine, replacing the top
// op.NumArgs() entries of stack with the results.
//
// Backend-resident operands are exported to host tensors first. If any
// operand was backend-resident, the outputs are imported back; otherwise
// they stay on the host. On error the stack is left untouched and the
// error from the engine or the backend is returned unchanged.
//
// When the policy pins fallback, the work runs on the designated thread
// and Run blocks until it is done.
func (g *Gate) Run(ctx context.Context, op *ir.Operator, stack *ir.Stack) error {
	start := time.Now()
	pinned := g.policy.FallbackMainThread()

	var err error
	if pinned {
		err = g.thread.Do(ctx, op.Symbol(), func(ctx context.Context) error {
			return g.run(ctx, op, stack)
		})
	} else {
		err = g.run(ctx, op, stack)
	}

	elapsed := time.Since(start)
	g.metrics.observeCall(op.Symbol(), pinned, elapsed, err)
	if err != nil {
		g.logger.Debug("eager fallback failed",
			zap.Stringer("op", op.Symbol()),
			zap.Bool("pinned", pinned),
			zap.String("code", string(ir.CodeOf(err))),
			zap.Error(err))
		return err
	}
	g.logger.Debug("eager fallback",
		zap.Stringer("op", op.Symbol()),
		zap.Bool("pinned", pinned),
		zap.Duration("elapsed", elapsed))
	return nil
}

func (g *Gate) run(ctx context.Context, op *ir.Operator, stack *ir.Stack) error {
	sym := op.Symbol()
	args, err := stack.Peek(op.NumArgs())
	if err != nil {
		return ir.NewInvalidInvocationError(sym, err.Error())
	}

	host := make([]ir.Value, len(args))
	resident := false
	for i, a := range args {
		v, moved, err := g.toHost(ctx, a)
		if err != nil {
			return err
		}
		host[i] = v
		resident = resident || moved
	}

	outs, err := g.ref.Execute(ctx, op, host)
	if err != nil {
		return err
	}

	if resident {
		var imported []ir.Tensor
		for i, o := range outs {
			v, err := g.toDevice(ctx, o, &imported)
			if err != nil {
				g.release(imported)
				return err
			}
			outs[i] = v
		}
		if err := stack.Replace(op.NumArgs(), outs); err != nil {
			g.release(imported)
			return err
		}
		return nil
	}
	return stack.Replace(op.NumArgs(), outs)
}

// release frees tensors imported by a call that did not complete.
func (g *Gate) release(imported []ir.Tensor) {
	for _, t := range imported {
		g.mat.Release(t)
	}
}

// resident reports whether t lives on the backend.
func (g *Gate) resident(t ir.Tensor) bool {
	return t != nil && t.Device() != tensor.CPU && t.Device() == g.mat.Device()
}

// toHost exports backend-resident tensors in v. moved reports whether any
// tensor was exported.
func (g *Gate) toHost(ctx context.Context, v ir.Value) (out ir.Value, moved bool, err error) {
	switch x := v.(type) {
	case ir.TensorValue:
		if !g.resident(x.Tensor) {
			return v, false, nil
		}
		h, err := g.export(ctx, x.Tensor)
		if err != nil {
			return nil, false, err
		}
		return ir.NewTensor(h), true, nil
	case ir.TensorList:
		list := make(ir.TensorList, len(x))
		for i, t := range x {
			if !g.resident(t) {
				list[i] = t
				continue
			}
			h, err := g.export(ctx, t)
			if err != nil {
				return nil, false, err
			}
			list[i] = h
			moved = true
		}
		return list, moved, nil
	default:
		return v, false, nil
	}
}

func (g *Gate) export(ctx context.Context, t ir.Tensor) (*tensor.Tensor, error) {
	h, err := g.mat.Export(ctx, t)
	if err != nil {
		return nil, err
	}
	g.metrics.observeTransfer(DirectionExport, h.SizeBytes())
	return h, nil
}

// toDevice imports host tensors in v, appending each import to imported.
func (g *Gate) toDevice(ctx context.Context, v ir.Value, imported *[]ir.Tensor) (ir.Value, error) {
	switch x := v.(type) {
	case ir.TensorValue:
		h, ok := x.Tensor.(*tensor.Tensor)
		if !ok {
			return v, nil
		}
		t, err := g.importTensor(ctx, h)
		if err != nil {
			return nil, err
		}
		*imported = append(*imported, t)
		return ir.NewTensor(t), nil
	case ir.TensorList:
		list := make(ir.TensorList, len(x))
		for i, t := range x {
			h, ok := t.(*tensor.Tensor)
			if !ok {
				list[i] = t
				continue
			}
			d, err := g.importTensor(ctx, h)
			if err != nil {
				return nil, err
			}
			*imported = append(*imported, d)
			list[i] = d
		}
		return list, nil
	default:
		return v, nil
	}
}

func (g *Gate) importTensor(ctx context.Context, h *tensor.Tensor) (ir.Tensor, error) {
	t, err := g.mat.Import(ctx, h)
	if err != nil {
		return nil, err
	}
	g.metrics.observeTransfer(DirectionImport, h.SizeBytes())
	return t, nil
}
