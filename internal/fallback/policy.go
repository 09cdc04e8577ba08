package fallback

import (
	"sort"

	"github.com/roach88/ltc/internal/ir"
)

// Config is the policy configuration as loaded at startup.
type Config struct {
	// MainThread pins all fallback execution to the designated thread.
	MainThread bool `json:"main_thread" yaml:"main_thread"`

	// Force lists operators always routed to fallback, even when the
	// backend supports them natively.
	Force []string `json:"force" yaml:"force"`
}

// Policy answers fallback routing questions. It is immutable after
// NewPolicy returns and needs no locking.
type Policy struct {
	mainThread bool
	forced     map[ir.Symbol]struct{}
}

// NewPolicy builds a policy from cfg. Operator names are interned; empty
// names are ignored.
func NewPolicy(cfg Config) *Policy {
	p := &Policy{
		mainThread: cfg.MainThread,
		forced:     make(map[ir.Symbol]struct{}, len(cfg.Force)),
	}
	for _, sym := range ir.InternAll(cfg.Force) {
		p.forced[sym] = struct{}{}
	}
	return p
}

// FallbackMainThread reports whether fallback execution must run on the
// designated thread.
func (p *Policy) FallbackMainThread() bool {
	return p.mainThread
}

// ForceEagerFallback reports whether sym is always routed to fallback.
// Identifiers the policy does not name return false.
func (p *Policy) ForceEagerFallback(sym ir.Symbol) bool {
	_, ok := p.forced[sym]
	return ok
}

// Forced returns the forced operators, sorted.
func (p *Policy) Forced() []ir.Symbol {
	out := make([]ir.Symbol, 0, len(p.forced))
	for s := range p.forced {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Config returns the configuration equivalent to p.
func (p *Policy) Config() Config {
	forced := p.Forced()
	names := make([]string, len(forced))
	for i, s := range forced {
		names[i] = s.String()
	}
	return Config{MainThread: p.mainThread, Force: names}
}
