// Package session assembles a working runtime: the lazy backend, the
// reference engine, the fallback gate and the dispatcher in front of them.
package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/ltc/internal/dispatch"
	"github.com/roach88/ltc/internal/fallback"
	"github.com/roach88/ltc/internal/ir"
	"github.com/roach88/ltc/internal/lazy"
	"github.com/roach88/ltc/internal/reference"
)

// Options configures New. Zero values select defaults.
type Options struct {
	Policy   fallback.Config
	Backend  lazy.Config
	Registry *ir.Registry

	Recorder dispatch.Recorder
	IDs      dispatch.IDGenerator
	Clock    dispatch.Sequencer
	Metrics  *fallback.Metrics
	Logger   *zap.Logger
}

// Session owns one runtime. Close it to stop the designated fallback
// thread.
type Session struct {
	Backend    *lazy.Backend
	Reference  *reference.Engine
	Gate       *fallback.Gate
	Dispatcher *dispatch.Dispatcher
}

// New builds a session from opts.
func New(opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = ir.DefaultRegistry()
	}

	backend, err := lazy.New(opts.Backend, lazy.WithLogger(logger.Named("lazy")))
	if err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}
	ref := reference.New(reference.WithLogger(logger.Named("reference")))

	gateOpts := []fallback.GateOption{fallback.WithLogger(logger.Named("fallback"))}
	if opts.Metrics != nil {
		gateOpts = append(gateOpts, fallback.WithMetrics(opts.Metrics))
	}
	gate := fallback.NewGate(fallback.NewPolicy(opts.Policy), ref, backend, gateOpts...)

	dispOpts := []dispatch.Option{dispatch.WithLogger(logger.Named("dispatch"))}
	if opts.Recorder != nil {
		dispOpts = append(dispOpts, dispatch.WithRecorder(opts.Recorder))
	}
	if opts.IDs != nil {
		dispOpts = append(dispOpts, dispatch.WithIDGenerator(opts.IDs))
	}
	if opts.Clock != nil {
		dispOpts = append(dispOpts, dispatch.WithClock(opts.Clock))
	}

	return &Session{
		Backend:    backend,
		Reference:  ref,
		Gate:       gate,
		Dispatcher: dispatch.New(reg, backend, gate, dispOpts...),
	}, nil
}

// Close releases the session.
func (s *Session) Close() {
	s.Gate.Close()
}

// Invoke builds args from their serialized form, dispatches name and
// serializes the results. Lazy outputs are exported, which materializes
// them.
//
// Device tensors created for the call, arguments and results alike, are
// released before Invoke returns.
func (s *Session) Invoke(ctx context.Context, name string, args []ir.ValueSpec) ([]ir.ValueSpec, error) {
	values := make([]ir.Value, 0, len(args))
	defer func() { s.release(values...) }()
	for i, spec := range args {
		v, err := spec.Build(ctx, s.Backend)
		if err != nil {
			return nil, ir.NewInvalidInvocationError(ir.Intern(name), fmt.Sprintf("argument %d: %v", i, err))
		}
		values = append(values, v)
	}

	results, err := s.Dispatcher.Invoke(ctx, name, values...)
	defer func() { s.release(results...) }()
	if err != nil {
		return nil, err
	}

	out := make([]ir.ValueSpec, len(results))
	for i, v := range results {
		spec, err := ir.SpecOf(ctx, v, s.Backend)
		if err != nil {
			return nil, ir.NewMaterializationError(ir.Intern(name), fmt.Sprintf("result %d", i), err)
		}
		out[i] = spec
	}
	return out, nil
}

// release frees the device memory of every backend tensor in values.
func (s *Session) release(values ...ir.Value) {
	for _, v := range values {
		switch x := v.(type) {
		case ir.TensorValue:
			s.Backend.Release(x.Tensor)
		case ir.TensorList:
			for _, t := range x {
				s.Backend.Release(t)
			}
		}
	}
}
