package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/roach88/ltc/internal/fallback"
	"github.com/roach88/ltc/internal/ir"
	"github.com/roach88/ltc/internal/lazy"
	"github.com/roach88/ltc/internal/reference"
	"github.com/roach88/ltc/internal/tensor"
	"github.com/roach88/ltc/internal/testutil"
)

// liveContextRecorder refuses records whose context is already done, as a
// database-backed recorder would.
type liveContextRecorder struct {
	testutil.MemoryRecorder
}

func (r *liveContextRecorder) RecordDispatch(ctx context.Context, rec ir.DispatchRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.MemoryRecorder.RecordDispatch(ctx, rec)
}

type failingRecorder struct{}

func (failingRecorder) RecordDispatch(context.Context, ir.DispatchRecord) error {
	return errors.New("disk full")
}

type fixture struct {
	backend  *lazy.Backend
	gate     *fallback.Gate
	recorder *testutil.MemoryRecorder
	d        *Dispatcher
}

func newFixture(t *testing.T, policy fallback.Config, native []string, opts ...Option) *fixture {
	t.Helper()
	b, err := lazy.New(lazy.Config{Native: native})
	require.NoError(t, err)
	gate := fallback.NewGate(fallback.NewPolicy(policy), reference.New(), b)
	t.Cleanup(gate.Close)

	rec := &testutil.MemoryRecorder{}
	opts = append([]Option{
		WithRecorder(rec),
		WithIDGenerator(testutil.NewSequentialIDGenerator("")),
		WithClock(NewClock()),
	}, opts...)
	return &fixture{
		backend:  b,
		gate:     gate,
		recorder: rec,
		d:        New(ir.DefaultRegistry(), b, gate, opts...),
	}
}

func (f *fixture) upload(t *testing.T, data ...float32) ir.Value {
	t.Helper()
	h, err := tensor.FromFloat32([]int{len(data)}, data)
	require.NoError(t, err)
	lt, err := f.backend.Import(context.Background(), h)
	require.NoError(t, err)
	return ir.NewTensor(lt)
}

func (f *fixture) host(t *testing.T, v ir.Value) []float32 {
	t.Helper()
	tt, ok := ir.TensorOf(v)
	require.True(t, ok)
	if h, ok := tt.(*tensor.Tensor); ok {
		return h.Float32s()
	}
	h, err := f.backend.Export(context.Background(), tt)
	require.NoError(t, err)
	return h.Float32s()
}

var ignoreVolatile = cmpopts.IgnoreFields(ir.DispatchRecord{}, "DurationMicros", "ArgsDigest", "Error")

func TestDispatcher_Route(t *testing.T) {
	f := newFixture(t, fallback.Config{Force: []string{"mul"}}, nil)

	tests := []struct {
		op     string
		route  ir.Route
		reason ir.Reason
	}{
		{"add", ir.RouteNative, ir.ReasonNone},
		{"mul", ir.RouteFallback, ir.ReasonForced},
		{"mm", ir.RouteFallback, ir.ReasonUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			route, reason, err := f.d.Route(ir.Intern(tt.op))
			require.NoError(t, err)
			assert.Equal(t, tt.route, route)
			assert.Equal(t, tt.reason, reason)
		})
	}

	_, _, err := f.d.Route(ir.Intern("custom::unknown"))
	assert.True(t, ir.IsInvalidInvocation(err))
}

func TestDispatcher_NativeAndFallbackAgree(t *testing.T) {
	ctx := context.Background()
	native := newFixture(t, fallback.Config{}, nil)
	forced := newFixture(t, fallback.Config{Force: []string{"add"}}, nil)

	got1, err := native.d.Invoke(ctx, "add", native.upload(t, 1, 2), native.upload(t, 3, 4))
	require.NoError(t, err)
	got2, err := forced.d.Invoke(ctx, "add", forced.upload(t, 1, 2), forced.upload(t, 3, 4))
	require.NoError(t, err)

	assert.Equal(t, native.host(t, got1[0]), forced.host(t, got2[0]))
	assert.Equal(t, ir.RouteNative, native.recorder.Records()[0].Route)
	assert.Equal(t, ir.ReasonForced, forced.recorder.Records()[0].Reason)
}

func TestDispatcher_RecordsEveryCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fallback.Config{Force: []string{"relu"}}, nil)

	x := f.upload(t, -1, 2)
	_, err := f.d.Invoke(ctx, "neg", x)
	require.NoError(t, err)
	_, err = f.d.Invoke(ctx, "relu", x)
	require.NoError(t, err)
	_, err = f.d.Invoke(ctx, "sigmoid", x)
	require.NoError(t, err)
	_, err = f.d.Invoke(ctx, "custom::missing", x)
	require.Error(t, err)

	want := []ir.DispatchRecord{
		{ID: "rec-0001", Seq: 1, Op: "aten::neg", Route: ir.RouteNative},
		{ID: "rec-0002", Seq: 2, Op: "aten::relu", Route: ir.RouteFallback, Reason: ir.ReasonForced},
		{ID: "rec-0003", Seq: 3, Op: "aten::sigmoid", Route: ir.RouteFallback, Reason: ir.ReasonUnsupported},
		{ID: "rec-0004", Seq: 4, Op: "custom::missing", Route: ir.RouteRejected, ErrorCode: ir.ErrCodeInvalidInvocation},
	}
	if diff := cmp.Diff(want, f.recorder.Records(), ignoreVolatile); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, f.recorder.Records()[0].ArgsDigest, 64)
	assert.Empty(t, f.recorder.Records()[3].ArgsDigest)
}

func TestDispatcher_PinnedFlagRecorded(t *testing.T) {
	f := newFixture(t, fallback.Config{MainThread: true}, nil)

	_, err := f.d.Invoke(context.Background(), "exp", f.upload(t, 0))
	require.NoError(t, err)
	_, err = f.d.Invoke(context.Background(), "add", f.upload(t, 0), f.upload(t, 1))
	require.NoError(t, err)

	require.Len(t, f.recorder.Records(), 2)
	assert.True(t, f.recorder.Records()[0].Pinned)
	assert.False(t, f.recorder.Records()[1].Pinned, "native calls are never pinned")
}

func TestDispatcher_ErrorsPropagateUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fallback.Config{}, nil)

	x := f.upload(t, 1, 2)
	f.backend.Release(x.(ir.TensorValue).Tensor)

	stack := ir.NewStack(x)
	err := f.d.Call(ctx, ir.Intern("exp"), stack)
	require.Error(t, err)
	assert.True(t, ir.IsMaterialization(err))
	assert.Equal(t, 1, stack.Len())

	require.Len(t, f.recorder.Records(), 1)
	assert.Equal(t, ir.ErrCodeMaterialization, f.recorder.Records()[0].ErrorCode)
	assert.True(t, f.recorder.Records()[0].Failed())
}

func TestDispatcher_InvokeFillsDefaults(t *testing.T) {
	f := newFixture(t, fallback.Config{}, nil)

	out, err := f.d.Invoke(context.Background(), "sub", f.upload(t, 5), f.upload(t, 2))
	require.NoError(t, err)
	assert.Equal(t, []float32{3}, f.host(t, out[0]))

	_, err = f.d.Invoke(context.Background(), "sub", f.upload(t, 5))
	assert.True(t, ir.IsInvalidInvocation(err))

	require.Len(t, f.recorder.Records(), 2)
	assert.Equal(t, ir.RouteRejected, f.recorder.Records()[1].Route)
	assert.Equal(t, ir.ErrCodeInvalidInvocation, f.recorder.Records()[1].ErrorCode)
}

func TestDispatcher_RestrictedBackendFallsBack(t *testing.T) {
	f := newFixture(t, fallback.Config{}, []string{"add"})

	out, err := f.d.Invoke(context.Background(), "relu", f.upload(t, -3, 3))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 3}, f.host(t, out[0]))
	assert.Equal(t, ir.ReasonUnsupported, f.recorder.Records()[0].Reason)
}

func TestDispatcher_RecorderFailureIsLoggedOnly(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	b, err := lazy.New(lazy.Config{})
	require.NoError(t, err)
	gate := fallback.NewGate(fallback.NewPolicy(fallback.Config{}), reference.New(), b)
	d := New(ir.DefaultRegistry(), b, gate, WithRecorder(failingRecorder{}), WithLogger(zap.New(core)))

	x, _ := tensor.FromFloat32([]int{1}, []float32{1})
	_, err = d.Invoke(context.Background(), "abs", ir.NewTensor(x))
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("failed to record dispatch").Len())
}

func TestDispatcher_DefaultIDsAreUUIDv7(t *testing.T) {
	b, err := lazy.New(lazy.Config{})
	require.NoError(t, err)
	gate := fallback.NewGate(fallback.NewPolicy(fallback.Config{}), reference.New(), b)
	rec := &testutil.MemoryRecorder{}
	d := New(ir.DefaultRegistry(), b, gate, WithRecorder(rec))

	x, _ := tensor.FromFloat32([]int{1}, []float32{1})
	_, err = d.Invoke(context.Background(), "abs", ir.NewTensor(x))
	require.NoError(t, err)

	require.Len(t, rec.Records(), 1)
	assert.Len(t, rec.Records()[0].ID, 36)
	assert.Equal(t, int64(1), rec.Records()[0].Seq)
}

func TestClock_Monotonic(t *testing.T) {
	c := NewClockAt(41)
	assert.Equal(t, int64(42), c.Next())
	assert.Equal(t, int64(42), c.Current())
	assert.Equal(t, int64(1), NewClock().Next())
}

func TestDispatcher_RecordsCancelledCalls(t *testing.T) {
	rec := &liveContextRecorder{}
	f := newFixture(t, fallback.Config{}, nil, WithRecorder(rec))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	x, _ := tensor.FromFloat32([]int{1}, []float32{-2})
	_, _ = f.d.Invoke(ctx, "abs", ir.NewTensor(x))
	_, _ = f.d.Invoke(ctx, "nope")

	assert.Equal(t, []ir.Route{ir.RouteFallback, ir.RouteRejected}, rec.Routes())
}
