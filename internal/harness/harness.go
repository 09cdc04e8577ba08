package harness

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/ltc/internal/dispatch"
	"github.com/roach88/ltc/internal/ir"
	"github.com/roach88/ltc/internal/lazy"
	"github.com/roach88/ltc/internal/session"
	"github.com/roach88/ltc/internal/store"
	"github.com/roach88/ltc/internal/tensor"
	"github.com/roach88/ltc/internal/testutil"
)

// Float tolerance for expected outputs.
const (
	outputRTol = 1e-5
	outputATol = 1e-6
)

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger *zap.Logger
}

// WithLogger sets the logger handed to the session.
func WithLogger(l *zap.Logger) Option {
	return func(c *runConfig) { c.logger = l }
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
// 1. Create fresh in-memory database and session
// 2. Execute steps, checking each expect clause
// 3. Read the recorded trace back from the store
// 4. Evaluate assertions against the trace
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := store.Open(store.InMemory, store.WithLogger(cfg.logger.Named("store")))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	sess, err := session.New(session.Options{
		Policy: scenario.Policy,
		Backend: lazy.Config{
			Native:         scenario.Backend.Native,
			MaxDeviceBytes: scenario.Backend.MaxDeviceBytes,
		},
		Recorder: st,
		IDs:      testutil.NewSequentialIDGenerator(""),
		Clock:    dispatch.NewClock(),
		Logger:   cfg.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer sess.Close()

	ctx := context.Background()
	result := NewResult()

	outputs := make([][]ir.ValueSpec, len(scenario.Steps))
	errs := make([]error, len(scenario.Steps))
	for i, step := range scenario.Steps {
		outputs[i], errs[i] = sess.Invoke(ctx, step.Invoke, step.Args)
		cfg.logger.Debug("step completed",
			zap.Int("step", i),
			zap.String("op", step.Invoke),
			zap.Error(errs[i]))
	}

	records, err := st.ReadRecords(ctx, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	if len(records) != len(scenario.Steps) {
		return nil, fmt.Errorf("expected %d dispatch records, got %d", len(scenario.Steps), len(records))
	}

	for i, step := range scenario.Steps {
		rec := records[i]
		event := TraceEvent{
			ID:        rec.ID,
			Seq:       rec.Seq,
			Op:        rec.Op.String(),
			Route:     string(rec.Route),
			Reason:    string(rec.Reason),
			Pinned:    rec.Pinned,
			ErrorCode: string(rec.ErrorCode),
		}
		for _, out := range outputs[i] {
			event.Outputs = append(event.Outputs, FormatValue(out))
		}
		result.Trace = append(result.Trace, event)

		for _, msg := range checkStep(step, rec, outputs[i], errs[i]) {
			result.AddError(fmt.Sprintf("steps[%d] (%s): %s", i, step.Invoke, msg))
		}
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// checkStep compares one call against its expect clause.
func checkStep(step Step, rec ir.DispatchRecord, outputs []ir.ValueSpec, err error) []string {
	var msgs []string
	want := step.Expect
	if want == nil {
		want = &Expect{}
	}

	if want.Error != "" {
		if err == nil {
			msgs = append(msgs, fmt.Sprintf("expected error %s, call succeeded", want.Error))
		} else if code := ir.CodeOf(err); code != want.Error {
			msgs = append(msgs, fmt.Sprintf("expected error %s, got %s: %v", want.Error, code, err))
		}
	} else if err != nil {
		msgs = append(msgs, fmt.Sprintf("unexpected error: %v", err))
	}

	if want.Route != "" && rec.Route != want.Route {
		msgs = append(msgs, fmt.Sprintf("expected route %s, got %s", want.Route, rec.Route))
	}
	if want.Reason != "" && rec.Reason != want.Reason {
		msgs = append(msgs, fmt.Sprintf("expected reason %s, got %q", want.Reason, rec.Reason))
	}

	if len(want.Outputs) > 0 && err == nil {
		if len(outputs) != len(want.Outputs) {
			msgs = append(msgs, fmt.Sprintf("expected %d outputs, got %d", len(want.Outputs), len(outputs)))
			return msgs
		}
		for i := range want.Outputs {
			if mismatch := matchValue(want.Outputs[i], outputs[i]); mismatch != "" {
				msgs = append(msgs, fmt.Sprintf("output %d: %s", i, mismatch))
			}
		}
	}
	return msgs
}

// matchValue compares an expected value with an actual one. Tensor data is
// compared with a tolerance; an expected tensor without dtype means float32
// and without device matches any device.
func matchValue(want, got ir.ValueSpec) string {
	if want.Tensor == nil {
		if w, g := FormatValue(want), FormatValue(got); w != g {
			return fmt.Sprintf("expected %s, got %s", w, g)
		}
		return ""
	}
	if got.Tensor == nil {
		return fmt.Sprintf("expected tensor, got %s", FormatValue(got))
	}
	return matchTensor(*want.Tensor, *got.Tensor)
}

func matchTensor(want, got ir.TensorSpec) string {
	dtype, err := tensor.ParseDType(want.DType)
	if err != nil {
		return err.Error()
	}
	if dtype.String() != got.DType {
		return fmt.Sprintf("expected dtype %s, got %s", dtype, got.DType)
	}
	if want.Device != "" && want.Device != got.Device {
		return fmt.Sprintf("expected device %s, got %s", want.Device, got.Device)
	}
	if !sameInts(want.Shape, got.Shape) {
		return fmt.Sprintf("expected shape %v, got %v", want.Shape, got.Shape)
	}
	if len(want.Data) != len(got.Data) {
		return fmt.Sprintf("expected %d elements, got %d", len(want.Data), len(got.Data))
	}
	for i := range want.Data {
		w, g := want.Data[i], got.Data[i]
		if math.Abs(w-g) > outputATol+outputRTol*math.Abs(w) {
			return fmt.Sprintf("element %d: expected %s, got %s", i, ir.FormatFloat(w), ir.FormatFloat(g))
		}
	}
	return ""
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FormatValue renders a value compactly for traces and messages, e.g.
// "float32[2,2]@lazy:1,2,3,4".
func FormatValue(v ir.ValueSpec) string {
	switch {
	case v.Tensor != nil:
		return formatTensor(*v.Tensor)
	case v.Tensors != nil:
		parts := make([]string, len(v.Tensors))
		for i, t := range v.Tensors {
			parts[i] = formatTensor(t)
		}
		return "[" + strings.Join(parts, ";") + "]"
	case v.Int != nil:
		return fmt.Sprintf("int:%d", *v.Int)
	case v.Float != nil:
		return "float:" + ir.FormatFloat(*v.Float)
	case v.Bool != nil:
		return fmt.Sprintf("bool:%t", *v.Bool)
	case v.Str != nil:
		return fmt.Sprintf("str:%q", *v.Str)
	case v.Ints != nil:
		return "ints:" + joinInts(v.Ints)
	default:
		return "None"
	}
}

func formatTensor(t ir.TensorSpec) string {
	dims := make([]int64, len(t.Shape))
	for i, d := range t.Shape {
		dims[i] = int64(d)
	}
	data := make([]string, len(t.Data))
	for i, f := range t.Data {
		data[i] = ir.FormatFloat(f)
	}
	device := t.Device
	if device == "" {
		device = tensor.CPU.String()
	}
	dtype := t.DType
	if dtype == "" {
		dtype = tensor.Float32.String()
	}
	return fmt.Sprintf("%s[%s]@%s:%s", dtype, joinInts(dims), device, strings.Join(data, ","))
}

func joinInts(xs []int64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ",")
}
