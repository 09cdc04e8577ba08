package session

import "github.com/roach88/ltc/internal/ir"

// PolicyInfo is the active fallback configuration.
type PolicyInfo struct {
	FallbackMainThread bool     `json:"fallback_main_thread"`
	Force              []string `json:"force"`
	Native             []string `json:"native"`
}

// OpInfo describes one registered operator and the route a call to it takes.
type OpInfo struct {
	Op        string    `json:"op"`
	Signature string    `json:"signature"`
	Native    bool      `json:"native"`
	Forced    bool      `json:"forced"`
	Route     ir.Route  `json:"route"`
	Reason    ir.Reason `json:"reason,omitempty"`
}

// Policy reports the active fallback configuration.
func (s *Session) Policy() PolicyInfo {
	cfg := s.Gate.Policy().Config()
	info := PolicyInfo{
		FallbackMainThread: cfg.MainThread,
		Force:              cfg.Force,
	}
	for _, sym := range s.Backend.Native() {
		info.Native = append(info.Native, sym.String())
	}
	return info
}

// Ops describes every registered operator, in registration order.
func (s *Session) Ops() []OpInfo {
	ops := s.Dispatcher.Registry().Operators()
	out := make([]OpInfo, 0, len(ops))
	for _, op := range ops {
		sym := op.Symbol()
		route, reason, _ := s.Dispatcher.Route(sym)
		out = append(out, OpInfo{
			Op:        sym.String(),
			Signature: op.String(),
			Native:    s.Backend.Supports(sym),
			Forced:    s.Gate.ForceEagerFallback(sym),
			Route:     route,
			Reason:    reason,
		})
	}
	return out
}

// Op describes the operator registered under name.
func (s *Session) Op(name string) (OpInfo, bool) {
	sym := ir.Intern(name)
	for _, info := range s.Ops() {
		if info.Op == sym.String() {
			return info, true
		}
	}
	return OpInfo{}, false
}
