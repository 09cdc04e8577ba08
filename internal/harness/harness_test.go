package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ltc/internal/fallback"
	"github.com/roach88/ltc/internal/ir"
)

func lazyTensor(shape []int, data ...float64) ir.ValueSpec {
	return ir.ValueSpec{Tensor: &ir.TensorSpec{Shape: shape, Device: "lazy", Data: data}}
}

func addStep(expect *Expect) Step {
	return Step{
		Invoke: "add",
		Args:   []ir.ValueSpec{lazyTensor([]int{2}, 1, 2), lazyTensor([]int{2}, 3, 4)},
		Expect: expect,
	}
}

func TestRun_PassingScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "passing",
		Description: "add natively",
		Steps: []Step{addStep(&Expect{
			Route:   ir.RouteNative,
			Outputs: []ir.ValueSpec{lazyTensor([]int{2}, 4, 6)},
		})},
		Assertions: []Assertion{{Type: AssertNoFallback}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 1)

	event := result.Trace[0]
	assert.Equal(t, "rec-0001", event.ID)
	assert.Equal(t, int64(1), event.Seq)
	assert.Equal(t, "aten::add", event.Op)
	assert.Equal(t, []string{"float32[2]@lazy:4,6"}, event.Outputs)
}

func TestRun_ForcedMatchesNative(t *testing.T) {
	want := []ir.ValueSpec{lazyTensor([]int{2}, 4, 6)}

	native, err := Run(&Scenario{Name: "n", Description: "d", Steps: []Step{addStep(&Expect{Outputs: want})}})
	require.NoError(t, err)
	forced, err := Run(&Scenario{
		Name:        "f",
		Description: "d",
		Policy:      fallback.Config{Force: []string{"add"}},
		Steps:       []Step{addStep(&Expect{Route: ir.RouteFallback, Reason: ir.ReasonForced, Outputs: want})},
	})
	require.NoError(t, err)

	assert.True(t, native.Pass, "errors: %v", native.Errors)
	assert.True(t, forced.Pass, "errors: %v", forced.Errors)
	assert.Equal(t, native.Trace[0].Outputs, forced.Trace[0].Outputs)
}

func TestRun_ExpectationMismatches(t *testing.T) {
	tests := []struct {
		name    string
		expect  *Expect
		wantErr string
	}{
		{"route", &Expect{Route: ir.RouteFallback}, "expected route fallback, got native"},
		{"reason", &Expect{Reason: ir.ReasonForced}, `expected reason forced, got ""`},
		{"error expected", &Expect{Error: ir.ErrCodeHandoff}, "expected error HANDOFF_FAILED, call succeeded"},
		{"output data", &Expect{Outputs: []ir.ValueSpec{lazyTensor([]int{2}, 4, 7)}}, "element 1: expected 7, got 6"},
		{"output shape", &Expect{Outputs: []ir.ValueSpec{lazyTensor([]int{1, 2}, 4, 6)}}, "expected shape"},
		{"output device", &Expect{Outputs: []ir.ValueSpec{{Tensor: &ir.TensorSpec{Shape: []int{2}, Device: "cpu", Data: []float64{4, 6}}}}}, "expected device cpu, got lazy"},
		{"output count", &Expect{Outputs: []ir.ValueSpec{lazyTensor([]int{2}, 4, 6), lazyTensor([]int{2}, 4, 6)}}, "expected 2 outputs, got 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Run(&Scenario{Name: "m", Description: "d", Steps: []Step{addStep(tt.expect)}})
			require.NoError(t, err)
			assert.False(t, result.Pass)
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], "steps[0] (add)")
			assert.Contains(t, result.Errors[0], tt.wantErr)
		})
	}
}

func TestRun_UnexpectedError(t *testing.T) {
	result, err := Run(&Scenario{
		Name:        "err",
		Description: "d",
		Steps: []Step{{
			Invoke: "mm",
			Args:   []ir.ValueSpec{lazyTensor([]int{2}, 1, 2), lazyTensor([]int{2}, 3, 4)},
		}},
	})
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "unexpected error")
	assert.Equal(t, string(ir.ErrCodeInvalidInvocation), result.Trace[0].ErrorCode)
}

func TestRun_FailedAssertion(t *testing.T) {
	result, err := Run(&Scenario{
		Name:        "assert",
		Description: "d",
		Steps:       []Step{addStep(nil)},
		Assertions:  []Assertion{{Type: AssertRouteCount, Route: ir.RouteFallback, Count: 1}},
	})
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: route_count")
}

func TestRun_BadArgumentIsScenarioError(t *testing.T) {
	_, err := Run(&Scenario{
		Name:        "bad",
		Description: "d",
		Steps:       []Step{{Invoke: "add", Args: []ir.ValueSpec{{}}}},
	})
	assert.Error(t, err)
}

func TestRun_InvalidBackend(t *testing.T) {
	_, err := Run(&Scenario{
		Name:        "bad",
		Description: "d",
		Backend:     BackendSpec{Native: []string{"mm"}},
		Steps:       []Step{addStep(nil)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create session")
}

func TestRun_Deterministic(t *testing.T) {
	scenario := &Scenario{
		Name:        "det",
		Description: "d",
		Policy:      fallback.Config{MainThread: true},
		Steps: []Step{
			addStep(nil),
			{Invoke: "exp", Args: []ir.ValueSpec{lazyTensor([]int{1}, 0)}},
		},
	}

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := MarshalTrace(scenario.Name, first)
	require.NoError(t, err)
	b, err := MarshalTrace(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.True(t, first.Trace[1].Pinned)
}

func TestFormatValue(t *testing.T) {
	n := int64(3)
	f := 0.5
	b := true
	s := "x"
	tests := []struct {
		v    ir.ValueSpec
		want string
	}{
		{lazyTensor([]int{2, 1}, 1.5, -2), "float32[2,1]@lazy:1.5,-2"},
		{ir.ValueSpec{Tensor: &ir.TensorSpec{Shape: []int{}, Data: []float64{6}}}, "float32[]@cpu:6"},
		{ir.ValueSpec{Tensors: []ir.TensorSpec{{Shape: []int{1}, DType: "int32", Data: []float64{1}}}}, "[int32[1]@cpu:1]"},
		{ir.ValueSpec{Int: &n}, "int:3"},
		{ir.ValueSpec{Float: &f}, "float:0.5"},
		{ir.ValueSpec{Bool: &b}, "bool:true"},
		{ir.ValueSpec{Str: &s}, `str:"x"`},
		{ir.ValueSpec{Ints: []int64{2, -1}}, "ints:2,-1"},
		{ir.ValueSpec{None: true}, "None"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatValue(tt.v))
	}
}
