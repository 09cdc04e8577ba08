// Package dispatch routes operator calls between the custom backend and the
// eager fallback gate.
//
// For each call the dispatcher asks the gate whether the operator is forced
// to fallback, then whether the backend supports it natively, and runs it on
// the chosen path. Every call produces one ir.DispatchRecord.
package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/ltc/internal/ir"
)

// Backend is the custom backend as seen by the dispatcher.
type Backend interface {
	Supports(sym ir.Symbol) bool
	Execute(ctx context.Context, op *ir.Operator, stack *ir.Stack) error
}

// Fallback is the eager fallback gate as seen by the dispatcher.
type Fallback interface {
	ForceEagerFallback(sym ir.Symbol) bool
	FallbackMainThread() bool
	Run(ctx context.Context, op *ir.Operator, stack *ir.Stack) error
}

// Recorder receives a record of every dispatched call.
type Recorder interface {
	RecordDispatch(ctx context.Context, rec ir.DispatchRecord) error
}

// Dispatcher routes calls to the backend or the fallback gate.
//
// Thread-safety: Call may be used concurrently with distinct stacks.
type Dispatcher struct {
	registry *ir.Registry
	backend  Backend
	gate     Fallback
	recorder Recorder
	ids      IDGenerator
	clock    Sequencer
	logger   *zap.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder sets where dispatch records are sent.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithIDGenerator overrides record ID generation, e.g. with fixed IDs in
// tests.
func WithIDGenerator(g IDGenerator) Option {
	return func(d *Dispatcher) { d.ids = g }
}

// WithClock overrides the logical clock.
func WithClock(c Sequencer) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a dispatcher over reg.
func New(reg *ir.Registry, backend Backend, gate Fallback, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		backend:  backend,
		gate:     gate,
		ids:      UUIDv7Generator{},
		clock:    NewClock(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the operator registry.
func (d *Dispatcher) Registry() *ir.Registry {
	return d.registry
}

// Route reports the path a call to sym would take.
//
// Errors: INVALID_INVOCATION if sym is not registered.
func (d *Dispatcher) Route(sym ir.Symbol) (ir.Route, ir.Reason, error) {
	if _, ok := d.registry.Lookup(sym); !ok {
		return "", ir.ReasonNone, ir.NewInvalidInvocationError(sym, "operator is not registered")
	}
	route, reason := d.route(sym)
	return route, reason, nil
}

func (d *Dispatcher) route(sym ir.Symbol) (ir.Route, ir.Reason) {
	switch {
	case d.gate.ForceEagerFallback(sym):
		return ir.RouteFallback, ir.ReasonForced
	case d.backend.Supports(sym):
		return ir.RouteNative, ir.ReasonNone
	default:
		return ir.RouteFallback, ir.ReasonUnsupported
	}
}

// Call dispatches sym over the top of stack. Results replace the consumed
// arguments. Errors from the chosen path are returned unchanged.
func (d *Dispatcher) Call(ctx context.Context, sym ir.Symbol, stack *ir.Stack) error {
	op, ok := d.registry.Lookup(sym)
	if !ok {
		err := ir.NewInvalidInvocationError(sym, "operator is not registered")
		d.record(ctx, ir.DispatchRecord{Op: sym, Route: ir.RouteRejected}, nil, 0, err)
		return err
	}

	route, reason := d.route(sym)
	rec := ir.DispatchRecord{Op: sym, Route: route, Reason: reason}
	if route == ir.RouteFallback {
		rec.Pinned = d.gate.FallbackMainThread()
	}

	args, _ := stack.Peek(op.NumArgs())

	start := time.Now()
	var err error
	if route == ir.RouteNative {
		err = d.backend.Execute(ctx, op, stack)
	} else {
		err = d.gate.Run(ctx, op, stack)
	}
	d.record(ctx, rec, args, time.Since(start), err)
	return err
}

// Invoke looks up name, fills schema defaults for trailing arguments,
// dispatches the call on a fresh stack and returns the results. Calls
// rejected before routing are still recorded.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args ...ir.Value) ([]ir.Value, error) {
	sym := ir.Intern(name)
	op, ok := d.registry.Lookup(sym)
	if !ok {
		return nil, d.Call(ctx, sym, ir.NewStack(args...))
	}
	full, err := op.WithDefaults(args)
	if err != nil {
		d.record(ctx, ir.DispatchRecord{Op: sym, Route: ir.RouteRejected}, nil, 0, err)
		return nil, err
	}
	stack := ir.NewStack(full...)
	if err := d.Call(ctx, sym, stack); err != nil {
		return nil, err
	}
	return stack.Values(), nil
}

func (d *Dispatcher) record(ctx context.Context, rec ir.DispatchRecord, args []ir.Value, elapsed time.Duration, callErr error) {
	rec.ID = d.ids.Generate()
	rec.Seq = d.clock.Next()
	rec.DurationMicros = elapsed.Microseconds()
	if args != nil {
		digest, err := ir.ArgsDigest(rec.Op, args)
		if err != nil {
			d.logger.Warn("args digest failed", zap.Stringer("op", rec.Op), zap.Error(err))
		}
		rec.ArgsDigest = digest
	}
	if callErr != nil {
		rec.ErrorCode = ir.CodeOf(callErr)
		rec.Error = callErr.Error()
	}

	d.logger.Debug("dispatch",
		zap.String("id", rec.ID),
		zap.Int64("seq", rec.Seq),
		zap.Stringer("op", rec.Op),
		zap.String("route", string(rec.Route)),
		zap.String("reason", string(rec.Reason)),
		zap.Bool("pinned", rec.Pinned),
		zap.Bool("failed", rec.Failed()))

	if d.recorder == nil {
		return
	}
	// The call has happened; cancellation must not lose its record.
	if err := d.recorder.RecordDispatch(context.WithoutCancel(ctx), rec); err != nil {
		d.logger.Warn("failed to record dispatch", zap.String("id", rec.ID), zap.Error(err))
	}
}
