package fallback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/roach88/ltc/internal/ir"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPolicy_UnforcedOperatorsReturnFalse(t *testing.T) {
	p := NewPolicy(Config{Force: []string{"mm"}})

	for _, name := range []string{"add", "relu", "custom::never_registered", ""} {
		assert.False(t, p.ForceEagerFallback(ir.Intern(name)), name)
	}
}

func TestPolicy_ForcedOperatorsReturnTrue(t *testing.T) {
	p := NewPolicy(Config{Force: []string{"mm", "aten::relu", " sigmoid "}})

	assert.True(t, p.ForceEagerFallback(ir.Intern("aten::mm")))
	assert.True(t, p.ForceEagerFallback(ir.Intern("relu")))
	assert.True(t, p.ForceEagerFallback(ir.Intern("sigmoid")))
	assert.Equal(t, ir.InternAll([]string{"mm", "relu", "sigmoid"}), p.Forced())
}

func TestPolicy_MainThreadStable(t *testing.T) {
	pinned := NewPolicy(Config{MainThread: true})
	free := NewPolicy(Config{})

	for i := 0; i < 3; i++ {
		assert.True(t, pinned.FallbackMainThread())
		assert.False(t, free.FallbackMainThread())
	}
}

func TestPolicy_ConfigRoundTrip(t *testing.T) {
	cfg := Config{MainThread: true, Force: []string{"relu", "add", ""}}
	got := NewPolicy(cfg).Config()
	assert.Equal(t, Config{MainThread: true, Force: []string{"aten::add", "aten::relu"}}, got)
}

func TestPolicy_IndependentInstances(t *testing.T) {
	a := NewPolicy(Config{Force: []string{"add"}})
	b := NewPolicy(Config{Force: []string{"mul"}})

	assert.True(t, a.ForceEagerFallback(ir.Intern("add")))
	assert.False(t, b.ForceEagerFallback(ir.Intern("add")))
	assert.True(t, b.ForceEagerFallback(ir.Intern("mul")))
}
