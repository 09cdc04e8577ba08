package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/ltc/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s", event.Seq, event.Op, event.Route)
		if event.Reason != "" {
			fmt.Fprintf(&buf, " (%s)", event.Reason)
		}
		if event.ErrorCode != "" {
			fmt.Fprintf(&buf, " %s", event.ErrorCode)
		}
		buf.WriteString("\n")
	}

	return buf.String()
}

// assertRouteCount checks that exactly Count calls took the route, narrowed
// by reason and operator when given.
func assertRouteCount(trace []TraceEvent, a Assertion) error {
	op := ""
	if a.Op != "" {
		op = ir.Intern(a.Op).String()
	}

	count := 0
	for _, event := range trace {
		if event.Route != string(a.Route) {
			continue
		}
		if a.Reason != "" && event.Reason != string(a.Reason) {
			continue
		}
		if op != "" && event.Op != op {
			continue
		}
		count++
	}

	if count != a.Count {
		what := string(a.Route)
		if a.Reason != "" {
			what += "/" + string(a.Reason)
		}
		if op != "" {
			what += " " + op
		}
		return &AssertionError{
			Type:     AssertRouteCount,
			Expected: fmt.Sprintf("%d calls routed %s", a.Count, what),
			Actual:   fmt.Sprintf("%d calls", count),
			Trace:    trace,
		}
	}
	return nil
}

// fallbackOps returns the distinct operators that took the fallback route,
// sorted.
func fallbackOps(trace []TraceEvent) []string {
	seen := make(map[string]struct{})
	for _, event := range trace {
		if event.Route == string(ir.RouteFallback) {
			seen[event.Op] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for op := range seen {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}

// assertFallbackOps checks that the operators that fell back are exactly
// a.Ops.
func assertFallbackOps(trace []TraceEvent, a Assertion) error {
	want := make([]string, 0, len(a.Ops))
	for _, sym := range ir.InternAll(a.Ops) {
		want = append(want, sym.String())
	}
	sort.Strings(want)
	got := fallbackOps(trace)

	if strings.Join(want, ",") != strings.Join(got, ",") {
		return &AssertionError{
			Type:     AssertFallbackOps,
			Expected: fmt.Sprintf("fallback ops %v", want),
			Actual:   fmt.Sprintf("fallback ops %v", got),
			Trace:    trace,
		}
	}
	return nil
}

// assertNoFallback checks that none of a.Ops fell back. With no ops, no
// call may have fallen back.
func assertNoFallback(trace []TraceEvent, a Assertion) error {
	got := fallbackOps(trace)
	if len(a.Ops) == 0 {
		if len(got) > 0 {
			return &AssertionError{
				Type:     AssertNoFallback,
				Expected: "no fallback calls",
				Actual:   fmt.Sprintf("fallback ops %v", got),
				Trace:    trace,
			}
		}
		return nil
	}

	fell := make(map[string]bool, len(got))
	for _, op := range got {
		fell[op] = true
	}
	for _, sym := range ir.InternAll(a.Ops) {
		if fell[sym.String()] {
			return &AssertionError{
				Type:     AssertNoFallback,
				Expected: fmt.Sprintf("%s never falls back", sym),
				Actual:   fmt.Sprintf("%s took the fallback route", sym),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceOrder checks that the operators were first called in the given
// order. Intervening calls are allowed.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	ops := ir.InternAll(a.Ops)

	positions := make(map[string]int)
	for i, event := range trace {
		if _, ok := positions[event.Op]; !ok {
			positions[event.Op] = i + 1
		}
	}

	for _, sym := range ops {
		if positions[sym.String()] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", ops),
				Actual:   fmt.Sprintf("missing op: %s", sym),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(ops); i++ {
		prev, curr := ops[i-1].String(), ops[i].String()
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertRouteCount:
			err = assertRouteCount(result.Trace, assertion)
		case AssertFallbackOps:
			err = assertFallbackOps(result.Trace, assertion)
		case AssertNoFallback:
			err = assertNoFallback(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
